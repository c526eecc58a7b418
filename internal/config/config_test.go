// ABOUTME: Tests for config loading in YAML and TOML with env expansion.
// ABOUTME: Validation failures must name the offending field.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/auth"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validYAML = `
server:
  http_addr: "localhost:8484"
database:
  path: ":memory:"
auth:
  mode: "token"
  token: "sekrit"
policy:
  dm_mode: "allowlist"
  allowed_users:
    - "alice"
routes:
  default_agent: "echo"
  channels:
    telegram: "tg-agent"
channels:
  webchat:
    enabled: true
gateway:
  tick_interval: "10s"
logging:
  level: "debug"
  format: "json"
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "relay.yaml", validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8484", cfg.Server.HTTPAddr)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, auth.ModeToken, cfg.Auth.Mode)
	assert.Equal(t, "sekrit", cfg.Auth.Token)
	assert.Equal(t, "allowlist", cfg.Policy.DMMode)
	assert.Equal(t, []string{"alice"}, cfg.Policy.AllowedUsers)
	assert.Equal(t, "echo", cfg.Routes.DefaultAgent)
	assert.Equal(t, "tg-agent", cfg.Routes.Channels["telegram"])
	assert.True(t, cfg.Channels.Webchat.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Gateway.TickInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "relay.toml", `
[server]
http_addr = "localhost:9000"

[database]
path = ":memory:"

[auth]
mode = "password"
password = "hunter2"

[routes]
default_agent = "echo"

[gateway]
tick_interval = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, auth.ModePassword, cfg.Auth.Mode)
	assert.Equal(t, "hunter2", cfg.Auth.Password)
	assert.Equal(t, 45*time.Second, cfg.Gateway.TickInterval)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "from-env")

	path := writeConfig(t, "relay.yaml", `
server:
  http_addr: "localhost:8484"
database:
  path: ":memory:"
auth:
  mode: "token"
  token: "${RELAY_TEST_TOKEN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Token)
}

func TestUnsetEnvVarExpandsEmpty(t *testing.T) {
	assert.Equal(t, "token: ", expandEnvVars("token: ${DEFINITELY_NOT_SET_VAR_XYZ}"))
}

func TestTickIntervalDefault(t *testing.T) {
	path := writeConfig(t, "relay.yaml", `
server:
  http_addr: "localhost:8484"
database:
  path: ":memory:"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Gateway.TickInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http addr",
			content: "database:\n  path: \":memory:\"\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			content: "server:\n  http_addr: \"localhost:1\"\n",
			wantErr: "database.path",
		},
		{
			name: "token mode without token",
			content: `
server:
  http_addr: "localhost:1"
database:
  path: ":memory:"
auth:
  mode: "token"
`,
			wantErr: "auth.token",
		},
		{
			name: "password mode without credential",
			content: `
server:
  http_addr: "localhost:1"
database:
  path: ":memory:"
auth:
  mode: "password"
`,
			wantErr: "auth.password",
		},
		{
			name: "unknown auth mode",
			content: `
server:
  http_addr: "localhost:1"
database:
  path: ":memory:"
auth:
  mode: "keycard"
`,
			wantErr: "auth.mode",
		},
		{
			name: "telegram without token",
			content: `
server:
  http_addr: "localhost:1"
database:
  path: ":memory:"
channels:
  telegram:
    enabled: true
`,
			wantErr: "channels.telegram.bot_token",
		},
		{
			name: "matrix incomplete",
			content: `
server:
  http_addr: "localhost:1"
database:
  path: ":memory:"
channels:
  matrix:
    enabled: true
    homeserver: "https://matrix.example.org"
`,
			wantErr: "channels.matrix",
		},
		{
			name: "tailscale without hostname",
			content: `
tailscale:
  enabled: true
database:
  path: ":memory:"
`,
			wantErr: "tailscale.hostname",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "relay.yaml", tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBadTickInterval(t *testing.T) {
	path := writeConfig(t, "relay.yaml", `
server:
  http_addr: "localhost:1"
database:
  path: ":memory:"
gateway:
  tick_interval: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_interval")
}
