package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/eventsock/pkg/eventsock/config"
	"github.com/tsarna/eventsock/pkg/eventsock/greeter"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"DEBUG":   zap.DebugLevel,
		"info":    zap.InfoLevel,
		"warn":    zap.WarnLevel,
		"warning": zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"bogus":   zap.InfoLevel,
		"":        zap.InfoLevel,
	}

	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), "level %q", input)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		debug   bool
		want    zapcore.Level
	}{
		{"default", "info", false, false, zap.InfoLevel},
		{"explicit warn", "warn", false, false, zap.WarnLevel},
		{"verbose raises info", "info", true, false, zap.DebugLevel},
		{"verbose keeps explicit level", "error", true, false, zap.ErrorLevel},
		{"debug wins", "error", false, true, zap.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.level, tt.verbose, tt.debug)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zap.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("no paths gives defaults", func(t *testing.T) {
		cfg, err := loadConfig(zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("reads files", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`client { url = "ws://cfg/ws" }`), 0o644))

		cfg, err := loadConfig(zap.NewNop(), []string{path})
		require.NoError(t, err)
		assert.Equal(t, "ws://cfg/ws", cfg.Client.URL)
	})

	t.Run("reports diagnostics", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.hcl")
		require.NoError(t, os.WriteFile(path, []byte("client {\n  dial_timeout = 0\n}\n"), 0o644))

		_, err := loadConfig(zap.NewNop(), []string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid dial_timeout")
	})
}

func TestConnectCommand(t *testing.T) {
	listener, err := greeter.AttachResponder(server.NewListenerConfig().WithLogger(zap.NewNop())).Build()
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewRouter("/ws", listener, nil))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		listener.Shutdown(ctx)
		ts.Close()
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"connect", "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		"--duration", "500ms",
		"--log-level", "error",
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Equal(t, `{"data":"I'm connected!"}`+"\n", out.String())
}

func TestConnectCommandRequiresURL(t *testing.T) {
	rootCmd.SetArgs([]string{"connect", "--log-level", "error"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a WebSocket URL is required")
}

func TestConnectCommandAuthorization(t *testing.T) {
	listener, err := greeter.AttachResponder(server.NewListenerConfig().
		WithLogger(zap.NewNop()).
		WithAuthorizer(server.RequireBearerToken("s3cret"))).
		Build()
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewRouter("/ws", listener, nil))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		listener.Shutdown(ctx)
		ts.Close()
	})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		connectAuthorization = ""
	})

	rootCmd.SetArgs([]string{"connect", url, "--duration", "200ms", "--log-level", "error"})
	err = Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.Empty(t, out.String())

	rootCmd.SetArgs([]string{
		"connect", url,
		"--authorization", "Bearer s3cret",
		"--duration", "500ms",
		"--log-level", "error",
	})
	require.NoError(t, Execute())
	assert.Equal(t, `{"data":"I'm connected!"}`+"\n", out.String())
}
