package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coachsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Server.Listen, cfg.Server.Listen)
	require.Equal(t, 10*time.Second, cfg.Client.RemoteTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  memory: true
client:
  user_id: user42
  remote_timeout: 3s
  token_ttl: 1h
log:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Listen)
	require.True(t, cfg.Server.Memory)
	require.Equal(t, "coachsync", cfg.Server.AppName)
	require.Equal(t, "user42", cfg.Client.UserID)
	require.Equal(t, 3*time.Second, cfg.Client.RemoteTimeout)
	require.Equal(t, time.Hour, cfg.Client.TokenTTL)
	require.Equal(t, "http://localhost:8080", cfg.Client.ServerURL)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "server:\n  jwt_secret: from-file\n")
	t.Setenv("COACHSYNC_JWT_SECRET", "from-env")
	t.Setenv("COACHSYNC_USER_ID", "user7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Server.JWTSecret)
	require.Equal(t, "user7", cfg.Client.UserID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "server: [unterminated"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"negative timeout", "client:\n  remote_timeout: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "owner_id", "user42")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"owner_id":"user42"`)

	buf.Reset()
	cfg.Log.Format = "text"
	cfg.NewLogger(&buf).Warn("plain", "k", "v")
	require.Contains(t, buf.String(), "k=v")
}
