// Package commands implements the gitinspect CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Sumatoshi-tech/gitinspect/pkg/blame"
	"github.com/Sumatoshi-tech/gitinspect/pkg/config"
	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/gitlib"
	"github.com/Sumatoshi-tech/gitinspect/pkg/history"
	"github.com/Sumatoshi-tech/gitinspect/pkg/observability"
	"github.com/Sumatoshi-tech/gitinspect/pkg/report"
	"github.com/Sumatoshi-tech/gitinspect/pkg/version"
)

// BlameCommand holds the flags of the blame command.
type BlameCommand struct {
	configPath string
	noColor    bool
	allBranch  bool

	branch     string
	since      string
	weeks      bool
	hard       bool
	workers    int
	fileTypes  string
	exclude    []string
	glob       bool
	format     string
	topFiles   int
	progress   bool
	logLevel   string
	jsonLogs   bool
	otlp       string
	metricsOut string
}

// NewBlameCommand creates the blame command.
func NewBlameCommand() *cobra.Command {
	bc := &BlameCommand{}

	cmd := &cobra.Command{
		Use:   "blame [repository...]",
		Short: "Attribute surviving lines to their authors",
		Long: `Blame every tracked file of each repository and report, per author, the
number of surviving rows, their stability against the author's insertions, their
average age and the share of comment lines.

Several repositories are combined into one report.`,
		RunE: bc.run,
	}

	cmd.Flags().StringVar(&bc.configPath, "config", "", "Config file (default: .gitinspect.yaml in the working or home directory)")
	cmd.Flags().BoolVar(&bc.noColor, "no-color", false, "Disable colored text output")
	cmd.Flags().BoolVar(&bc.allBranch, "all-branches", false, "Count commits of every local branch (skips blame)")

	cmd.Flags().StringVarP(&bc.branch, "branch", "b", config.DefaultBranch, "Branch or revision to analyze")
	cmd.Flags().StringVar(&bc.since, "since", "", "Only count commits after this time (e.g., '720h', '2024-01-01', RFC3339)")
	cmd.Flags().BoolVarP(&bc.weeks, "weeks", "w", false, "Measure age in weeks instead of months")
	cmd.Flags().BoolVar(&bc.hard, "hard", false, "Detect moved and copied lines (slower)")
	cmd.Flags().IntVar(&bc.workers, "workers", 0, "Number of files blamed in parallel (0 = use CPU count)")
	cmd.Flags().StringVarP(&bc.fileTypes, "file-types", "f", config.DefaultFileTypes,
		"Comma separated extensions to include ('**' = all files, '*' = files without extension)")
	cmd.Flags().StringArrayVarP(&bc.exclude, "exclude", "x", nil,
		"Exclusion rules 'category:pattern' with category file_in, file_out, author, email, revision or message (repeatable)")
	cmd.Flags().BoolVar(&bc.glob, "glob", false, "Treat file_in and file_out patterns as shell globs")
	cmd.Flags().StringVarP(&bc.format, "format", "F", config.DefaultFormat, "Output format: text, json, yaml")
	cmd.Flags().IntVar(&bc.topFiles, "top-files", config.DefaultTopFiles, "Files listed per author (-1 = none)")
	cmd.Flags().BoolVar(&bc.progress, "progress", true, "Show a progress bar on interactive terminals")
	cmd.Flags().StringVar(&bc.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&bc.jsonLogs, "json-logs", false, "Write logs as JSON")
	cmd.Flags().StringVar(&bc.otlp, "otlp-endpoint", "", "OTLP gRPC collector address for traces and metrics")
	cmd.Flags().StringVar(&bc.metricsOut, "metrics-out", "", "Write a Prometheus text metrics snapshot to this file")

	return cmd
}

// loadConfig reads the config file and environment, then applies every flag the
// user set explicitly.
func (bc *BlameCommand) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(bc.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	overrides := []struct {
		name  string
		apply func()
	}{
		{"branch", func() { cfg.Blame.Branch = bc.branch }},
		{"since", func() { cfg.Blame.Since = bc.since }},
		{"weeks", func() { cfg.Blame.Weeks = bc.weeks }},
		{"hard", func() { cfg.Blame.Hard = bc.hard }},
		{"workers", func() { cfg.Blame.Workers = bc.workers }},
		{"file-types", func() { cfg.Blame.FileTypes = bc.fileTypes }},
		{"exclude", func() { cfg.Filters.Exclude = append(cfg.Filters.Exclude, bc.exclude...) }},
		{"glob", func() { cfg.Filters.Glob = bc.glob }},
		{"format", func() { cfg.Output.Format = bc.format }},
		{"top-files", func() { cfg.Output.TopFiles = bc.topFiles }},
		{"progress", func() { cfg.Output.Progress = bc.progress }},
		{"log-level", func() { cfg.Logging.Level = bc.logLevel }},
		{"json-logs", func() { cfg.Logging.JSON = bc.jsonLogs }},
		{"otlp-endpoint", func() { cfg.Telemetry.OTLPEndpoint = bc.otlp }},
		{"metrics-out", func() { cfg.Telemetry.MetricsOut = bc.metricsOut }},
	}

	for _, o := range overrides {
		if flags.Changed(o.name) {
			o.apply()
		}
	}

	if bc.allBranch {
		cfg.Blame.Branch = gitlib.AllBranches
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	return cfg, nil
}

func (bc *BlameCommand) run(cmd *cobra.Command, args []string) (err error) {
	cfg, err := bc.loadConfig(cmd)
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	providers, err := initObservability(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, providers.Shutdown(context.WithoutCancel(cmd.Context())))
	}()

	ctx, span := providers.Tracer.Start(cmd.Context(), "gitinspect.blame")
	defer span.End()

	sess, err := newSession(cfg, providers, cmd.ErrOrStderr())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}

	span.SetAttributes(attribute.Int("report.repositories", len(paths)))

	rep, err := sess.inspectAll(ctx, paths)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	color := format == report.FormatText && !bc.noColor && isTerminal(cmd.OutOrStdout())

	err = report.Render(cmd.OutOrStdout(), rep, format, report.RenderOptions{Color: color})
	if err != nil {
		return err
	}

	if cfg.Telemetry.MetricsOut != "" {
		return observability.WriteMetricsFile(cfg.Telemetry.MetricsOut, providers.Gatherer)
	}

	return nil
}

func initObservability(cfg *config.Config, logOutput io.Writer) (observability.Providers, error) {
	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return observability.Providers{}, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	obsCfg.CollectMetrics = cfg.Telemetry.MetricsOut != ""
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON
	obsCfg.LogOutput = logOutput

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	return providers, nil
}

// session carries what every repository of one run shares.
type session struct {
	cfg            *config.Config
	logger         *slog.Logger
	filters        *filter.Registry
	blameMetrics   *observability.BlameMetrics
	historyMetrics *observability.HistoryMetrics
	progressOut    io.Writer
	showProgress   bool

	since    *time.Time
	sinceArg string
}

func newSession(cfg *config.Config, providers observability.Providers, progressOut io.Writer) (*session, error) {
	filters, err := buildFilters(cfg)
	if err != nil {
		return nil, err
	}

	blameMetrics, err := observability.NewBlameMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("blame metrics: %w", err)
	}

	historyMetrics, err := observability.NewHistoryMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("history metrics: %w", err)
	}

	s := &session{
		cfg:            cfg,
		logger:         providers.Logger,
		filters:        filters,
		blameMetrics:   blameMetrics,
		historyMetrics: historyMetrics,
		progressOut:    progressOut,
		showProgress:   cfg.Output.Progress && isTerminal(progressOut),
	}

	if cfg.Blame.Since != "" {
		since, parseErr := gitlib.ParseTime(cfg.Blame.Since)
		if parseErr != nil {
			return nil, parseErr
		}

		s.since = &since
		s.sinceArg = since.Format(time.RFC3339)
	}

	return s, nil
}

func buildFilters(cfg *config.Config) (*filter.Registry, error) {
	filters := filter.NewRegistry()

	err := filters.IncludeExtensions(cfg.Blame.FileTypeList())
	if err != nil {
		return nil, err
	}

	configure := filters.Configure
	if cfg.Filters.Glob {
		configure = filters.ConfigureGlob
	}

	for _, rule := range cfg.Filters.Exclude {
		err = configure(rule)
		if err != nil {
			return nil, err
		}
	}

	return filters, nil
}

// inspectAll blames every repository and merges the results. Blames are
// combined key by key, so the same file path in two repositories keeps the
// entry of the later one.
func (s *session) inspectAll(ctx context.Context, paths []string) (report.Report, error) {
	combined := blame.Empty()
	merged := history.New()
	names := make([]string, 0, len(paths))

	var failed []string

	for _, path := range paths {
		res, err := s.inspect(ctx, path)
		if err != nil {
			return report.Report{}, fmt.Errorf("%s: %w", path, err)
		}

		names = append(names, res.name)
		combined.Combine(res.blame)
		merged.Merge(res.history)

		for _, file := range res.failed {
			if len(paths) > 1 {
				file = filepath.ToSlash(filepath.Join(res.name, file))
			}

			failed = append(failed, file)
		}
	}

	return report.Build(combined, merged, s.filters, report.Options{
		Repositories: names,
		UseWeeks:     s.cfg.Blame.Weeks,
		TopFiles:     s.cfg.Output.TopFiles,
		Failed:       failed,
	}), nil
}

type inspection struct {
	name    string
	blame   *blame.Blame
	history *history.History
	failed  []string
}

func (s *session) inspect(ctx context.Context, path string) (inspection, error) {
	repo, err := gitlib.LoadRepository(path)
	if err != nil {
		return inspection{}, err
	}

	defer repo.Free()

	s.filters.SetMessageLookup(repo)

	logger := s.logger.With("repository", repo.Name())

	h, err := history.Build(ctx, repo, s.filters, history.Options{
		Branch:       s.cfg.Blame.Branch,
		Since:        s.since,
		DetectCopies: s.cfg.Blame.Hard,
		Logger:       logger,
		Metrics:      s.historyMetrics,
	})
	if err != nil {
		return inspection{}, err
	}

	progress := &fileProgress{out: s.progressOut, show: s.showProgress, description: repo.Name()}

	b, err := blame.New(ctx, repo, h, s.filters, blame.Options{
		Branch:        s.cfg.Blame.Branch,
		Since:         s.sinceArg,
		UseWeeks:      s.cfg.Blame.Weeks,
		DetectCopies:  s.cfg.Blame.Hard,
		Workers:       s.cfg.Blame.Workers,
		Logger:        logger,
		Metrics:       s.blameMetrics,
		OnFilesListed: progress.listed,
		OnFileDone:    progress.done,
	})

	progress.finish()

	if err != nil {
		return inspection{}, err
	}

	if len(progress.failed) > 0 {
		logger.WarnContext(ctx, "some files could not be blamed", "files.failed", len(progress.failed))
	}

	return inspection{name: repo.Name(), blame: b, history: h, failed: progress.failed}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
