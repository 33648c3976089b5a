package gitlib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// gitBinary is the git executable looked up on PATH.
const gitBinary = "git"

// BlameStream runs "git blame --line-porcelain" for path at branch and
// returns its standard output. Whitespace changes are ignored. With
// detectCopies, moved and copied lines keep their original author. A
// non-empty since is passed on as --since.
//
// Close waits for the process and reports a non-zero exit with its stderr.
func (r *Repository) BlameStream(
	ctx context.Context, branch, since string, detectCopies bool, path string,
) (io.ReadCloser, error) {
	dir := r.repo.Workdir()
	if dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrBareRepository, r.path)
	}

	if branch == "" {
		branch = "HEAD"
	}

	cmd := exec.CommandContext(ctx, gitBinary, blameArgs(branch, since, detectCopies, path)...)
	cmd.Dir = dir

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: blame %s: %w", ErrGitCommand, path, err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: blame %s: %w", ErrGitCommand, path, err)
	}

	return &commandStream{ReadCloser: stdout, cmd: cmd, stderr: stderr, path: path}, nil
}

func blameArgs(branch, since string, detectCopies bool, path string) []string {
	args := []string{"blame", "--line-porcelain", "-w"}

	if detectCopies {
		args = append(args, "-C", "-C", "-M")
	}

	if since != "" {
		args = append(args, "--since="+since)
	}

	return append(args, branch, "--", path)
}

type commandStream struct {
	io.ReadCloser

	cmd    *exec.Cmd
	stderr *bytes.Buffer
	path   string
}

// Close drains unread output so the process can exit, then waits for it.
func (s *commandStream) Close() error {
	_, _ = io.Copy(io.Discard, s.ReadCloser)

	err := s.cmd.Wait()
	if err != nil {
		msg := strings.TrimSpace(s.stderr.String())

		return fmt.Errorf("%w: blame %s: %w: %s", ErrGitCommand, s.path, err, msg)
	}

	return nil
}
