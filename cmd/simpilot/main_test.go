package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simpilot/internal/app"
)

// execute runs the root command with args and returns the configuration
// handed to the application, if it was started.
func execute(t *testing.T, args ...string) (*app.Config, string, error) {
	t.Helper()
	var got *app.Config
	cmd := newRootCommand(func(ctx context.Context, cfg app.Config) error {
		got = &cfg
		return nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return got, out.String(), err
}

// TestRootCommand_Defaults tests that no flags give the default configuration
func TestRootCommand_Defaults(t *testing.T) {
	cfg, _, err := execute(t)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, app.DefaultConfig(), *cfg)
}

// TestRootCommand_Flags tests flag binding
func TestRootCommand_Flags(t *testing.T) {
	cfg, _, err := execute(t,
		"--listen", "0.0.0.0:5000",
		"--command", "10.1.1.1:5001",
		"--poll", "20ms",
		"--controllers", "attitude,recorder",
		"--metrics-addr", ":9100",
		"--record=false",
		"-v",
	)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0:5000", cfg.Listen)
	assert.Equal(t, "10.1.1.1:5001", cfg.Command)
	assert.Equal(t, 20*time.Millisecond, cfg.Poll)
	assert.Equal(t, []string{"attitude", "recorder"}, cfg.Controllers)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.False(t, cfg.Record)
	assert.True(t, cfg.Verbose)
}

// TestRootCommand_ConfigFile tests that explicit flags override the file
func TestRootCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 0.0.0.0:6000
metrics_addr: :9200
retention_days: 7
climb:
  climb_speed: 50
`), 0644))

	cfg, _, err := execute(t, "--config", path, "--metrics-addr", ":9300")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0:6000", cfg.Listen)
	assert.Equal(t, ":9300", cfg.MetricsAddr)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 50.0, cfg.Climb.ClimbSpeed)
	assert.Equal(t, app.DefaultPoll, cfg.Poll)
}

// TestRootCommand_Errors tests rejected invocations
func TestRootCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"Missing config file", []string{"--config", filepath.Join(t.TempDir(), "none.yaml")}},
		{"Unknown flag", []string{"--frequency", "1090"}},
		{"Bad duration", []string{"--poll", "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, err := execute(t, tt.args...)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

// TestRootCommand_Version tests that --version prints and does not start
func TestRootCommand_Version(t *testing.T) {
	cfg, out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, out, "Version: "+app.Version)
}

// TestOverrides tests that every override names a real flag
func TestOverrides(t *testing.T) {
	cmd := newRootCommand(nil)
	for name := range overrides {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
