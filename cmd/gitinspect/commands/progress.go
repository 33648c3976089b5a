package commands

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

const progressWidth = 20

// fileProgress counts finished files of one blame run and draws a bar when
// show is set. done is called from worker goroutines.
type fileProgress struct {
	out         io.Writer
	show        bool
	description string

	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	failed []string
}

func (p *fileProgress) listed(total int) {
	if !p.show || total == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.bar = progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(progressWidth),
		progressbar.OptionSetDescription("[cyan]Blaming "+p.description+"[reset]"),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]#[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func (p *fileProgress) done(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failed = append(p.failed, path)
	}

	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *fileProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
