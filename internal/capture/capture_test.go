package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/reminder"
	logx "deskmate/pkg/logx"
)

func TestDefaultCommand(t *testing.T) {
	assert.Equal(t, []string{"screencapture", "-x", "{path}"}, DefaultCommand("darwin"))
	assert.Equal(t, []string{"import", "-window", "root", "{path}"}, DefaultCommand("linux"))
	assert.Nil(t, DefaultCommand("plan9"))
}

func TestNoCommand(t *testing.T) {
	p := &CommandProvider{log: logx.Nop()}
	err := p.Capture(context.Background(), "/tmp/x.png")
	var ce *reminder.CaptureError
	require.ErrorAs(t, err, &ce)
	assert.True(t, errors.Is(err, ErrNoCommand))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCaptureWritesFile(t *testing.T) {
	requireShell(t)
	path := filepath.Join(t.TempDir(), "shot.png")
	p := NewCommandProvider([]string{"sh", "-c", "printf png > {path}"}, 0, logx.Nop())
	require.NoError(t, p.Capture(context.Background(), path))
	assert.FileExists(t, path)
}

func TestCaptureMissingOutput(t *testing.T) {
	requireShell(t)
	path := filepath.Join(t.TempDir(), "never.png")
	p := NewCommandProvider([]string{"sh", "-c", "true"}, 0, logx.Nop())
	err := p.Capture(context.Background(), path)
	var ce *reminder.CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, path, ce.Path)
}

func TestCaptureEmptyPlaceholder(t *testing.T) {
	requireShell(t)
	path := filepath.Join(t.TempDir(), "screenshot-1.png")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	p := NewCommandProvider([]string{"sh", "-c", "true"}, 0, logx.Nop())

	err := p.Capture(context.Background(), path)
	var ce *reminder.CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, path, ce.Path)
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestCaptureCommandFailure(t *testing.T) {
	requireShell(t)
	p := NewCommandProvider([]string{"sh", "-c", "echo denied >&2; exit 3"}, 0, logx.Nop())
	err := p.Capture(context.Background(), filepath.Join(t.TempDir(), "x.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
