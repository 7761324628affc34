package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
jobs:
  result_scope: jobs
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.WSURL != "wss://api.marketpulse.io/realtime" {
		t.Errorf("Server.WSURL = %q, want %q", cfg.Server.WSURL, "wss://api.marketpulse.io/realtime")
	}
	if cfg.Server.RestURL != "https://api.marketpulse.io" {
		t.Errorf("Server.RestURL = %q, want %q", cfg.Server.RestURL, "https://api.marketpulse.io")
	}
	if cfg.Jobs.ResultScope != "jobs" {
		t.Errorf("Jobs.ResultScope = %q, want %q", cfg.Jobs.ResultScope, "jobs")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_MP_TOKEN", "secret123")

	yaml := `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
  auth_token: ${TEST_MP_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.AuthToken != "secret123" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Channel.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Channel.MaxAttempts = %d, want %d", cfg.Channel.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Channel.RetryBaseDelay != DefaultRetryBaseDelay {
		t.Errorf("Channel.RetryBaseDelay = %v, want %v", cfg.Channel.RetryBaseDelay, DefaultRetryBaseDelay)
	}
	if cfg.Jobs.PollInterval != 2*time.Second {
		t.Errorf("Jobs.PollInterval = %v, want 2s", cfg.Jobs.PollInterval)
	}
	if cfg.Cache.DebounceWindow != 500*time.Millisecond {
		t.Errorf("Cache.DebounceWindow = %v, want 500ms", cfg.Cache.DebounceWindow)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid minimal",
			yaml: `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
`,
			wantErr: false,
		},
		{
			name:    "missing ws_url",
			yaml:    "server:\n  rest_url: https://api.marketpulse.io\n",
			wantErr: true,
		},
		{
			name: "wrong ws scheme",
			yaml: `
server:
  ws_url: https://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
`,
			wantErr: true,
		},
		{
			name: "bad log level",
			yaml: `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
log:
  level: loud
`,
			wantErr: true,
		},
		{
			name: "empty scope prefix list",
			yaml: `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
cache:
  scopes:
    pricing: []
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, tt.yaml)
			_, err := LoadAndValidate(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadAndValidate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManagerConfigMapping(t *testing.T) {
	yaml := `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
  auth_token: tok-1
channel:
  max_attempts: 5
  retry_base_delay: 2s
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	mc := cfg.ManagerConfig()
	if mc.URL != cfg.Server.WSURL {
		t.Errorf("ManagerConfig.URL = %q, want %q", mc.URL, cfg.Server.WSURL)
	}
	if mc.AuthToken != "tok-1" {
		t.Errorf("ManagerConfig.AuthToken = %q, want tok-1", mc.AuthToken)
	}
	if mc.MaxAttempts != 5 {
		t.Errorf("ManagerConfig.MaxAttempts = %d, want 5", mc.MaxAttempts)
	}
	if mc.RetryBaseDelay != 2*time.Second {
		t.Errorf("ManagerConfig.RetryBaseDelay = %v, want 2s", mc.RetryBaseDelay)
	}
}

func TestCacheSyncConfigOverride(t *testing.T) {
	yaml := `
server:
  ws_url: wss://api.marketpulse.io/realtime
  rest_url: https://api.marketpulse.io
cache:
  debounce_window: 250ms
  scopes:
    forecasts: ["forecasts:"]
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	cc := cfg.CacheSyncConfig()
	if cc.DebounceWindow != 250*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 250ms", cc.DebounceWindow)
	}
	if _, ok := cc.Scopes["forecasts"]; !ok {
		t.Error("custom scope taxonomy not applied")
	}
	if _, ok := cc.Scopes["pricing"]; ok {
		t.Error("custom taxonomy must replace the built-in one")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
