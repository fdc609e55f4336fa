package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cedar/internal/config"
)

func TestNewServerCmdBindsFlagsIntoOptions(t *testing.T) {
	var captured Options
	cmd := NewServerCmd(func(opts Options) error {
		captured = opts
		return nil
	})
	cmd.SetArgs([]string{"--camera_interface", "test", "--binning", "2", "--star_count_goal", "15"})

	require.NoError(t, cmd.Execute())
	require.NotNil(t, captured.Cfg)
	assert.Equal(t, "test", captured.Cfg.Camera.Interface)
	assert.Equal(t, 2, captured.Cfg.Camera.Binning)
	assert.Equal(t, 15, captured.Cfg.Detect.StarCountGoal)
}

func TestNewServerCmdPropagatesRunError(t *testing.T) {
	wantErr := assertErr("boom")
	cmd := NewServerCmd(func(Options) error { return wantErr })
	cmd.SetArgs(nil)

	err := cmd.Execute()
	assert.Equal(t, wantErr, err)
}

func TestNewCalibrateOnlyCmdOverridesSolveTimeoutWhenSet(t *testing.T) {
	var captured Options
	cmd := NewCalibrateOnlyCmd(func(opts Options) error {
		captured = opts
		return nil
	})
	cmd.SetArgs([]string{"--solve_timeout", "3s"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, 3*time.Second, captured.Cfg.Solve.SolveTimeout)
}

func TestNewCalibrateOnlyCmdLeavesSolveTimeoutWhenUnset(t *testing.T) {
	var captured Options
	cmd := NewCalibrateOnlyCmd(func(opts Options) error {
		captured = opts
		return nil
	})
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	require.NotNil(t, captured.Cfg)

	want := config.DefaultConfig().Solve.SolveTimeout
	if loaded, err := config.Load(); err == nil {
		want = loaded.Solve.SolveTimeout
	}
	assert.Equal(t, want, captured.Cfg.Solve.SolveTimeout)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
