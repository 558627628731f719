package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	r := NewRunner()

	res, err := r.Run(context.Background(), "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(WithWorkingDir(dir))

	res, err := r.Run(context.Background(), "pwd -P")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.Stdout)
}

func TestRun_Timeout(t *testing.T) {
	r := NewRunner(WithTimeout(50 * time.Millisecond))

	res, err := r.Run(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, -1, res.ExitCode)
}

func TestRun_MissingShell(t *testing.T) {
	r := NewRunner(WithShell("/nonexistent/shell"))
	_, err := r.Run(context.Background(), "true")
	assert.Error(t, err)
}
