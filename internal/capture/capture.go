// Package capture takes desktop screenshots by running an external command.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

// PathPlaceholder in a command argument is replaced by the output file path.
const PathPlaceholder = "{path}"

var (
	ErrNoCommand   = errors.New("no screenshot command configured for this platform")
	ErrEmptyOutput = errors.New("screenshot command wrote no data")
)

// DefaultCommand returns the screenshot command for goos, or nil.
func DefaultCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"screencapture", "-x", PathPlaceholder}
	case "linux":
		return []string{"import", "-window", "root", PathPlaceholder}
	}
	return nil
}

type CommandProvider struct {
	argv    []string
	timeout time.Duration
	log     logx.Logger
}

// NewCommandProvider falls back to DefaultCommand(runtime.GOOS) when argv is empty.
func NewCommandProvider(argv []string, timeout time.Duration, log logx.Logger) *CommandProvider {
	if len(argv) == 0 {
		argv = DefaultCommand(runtime.GOOS)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &CommandProvider{argv: append([]string(nil), argv...), timeout: timeout, log: log}
}

var _ reminder.CaptureProvider = (*CommandProvider)(nil)

func (p *CommandProvider) Capture(ctx context.Context, path string) error {
	if len(p.argv) == 0 {
		return &reminder.CaptureError{Path: path, Err: ErrNoCommand}
	}
	args := make([]string, len(p.argv))
	for i, a := range p.argv {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			err = fmt.Errorf("%w: %s", err, truncate(msg, 200))
		}
		return &reminder.CaptureError{Path: path, Err: err}
	}

	st, err := os.Stat(path)
	if err != nil {
		return &reminder.CaptureError{Path: path, Err: fmt.Errorf("no output file: %w", err)}
	}
	// The caller pre-creates path, so a command that exits 0 without
	// writing leaves an empty file behind.
	if st.Size() == 0 {
		return &reminder.CaptureError{Path: path, Err: ErrEmptyOutput}
	}
	p.log.Debug("screenshot written", logx.String("path", path), logx.Int64("bytes", st.Size()))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
