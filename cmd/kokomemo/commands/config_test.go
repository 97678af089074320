package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/kokomemo/internal/app"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil, environ("KOKOMEMO_CREDENTIALS__STORAGE=memory"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.API.BaseURL != app.DefaultConfigAPIBaseURL {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.Credentials.Storage != app.StorageTypeMemory {
		t.Errorf("Credentials.Storage = %q", cfg.Credentials.Storage)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	configPath := writeFile(t, "config.toml", `
log_level = "debug"
log_format = "json"

[api]
base_url = "https://file.example/api/v1"
timeout = "10s"
renew_ahead = true

[credentials]
storage = "memory"
`)

	cfg, err := loadConfig(configPath, nil, environ(
		"KOKOMEMO_API__BASE_URL=https://env.example/api/v1",
		"UNRELATED=1",
	))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != app.LogFormatJSON {
		t.Errorf("log settings = %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.API.BaseURL != "https://env.example/api/v1" {
		t.Errorf("API.BaseURL = %q, want env override", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 10*time.Second || !cfg.API.RenewAhead {
		t.Errorf("API = %+v", cfg.API)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
	}{
		{"bad storage", []string{"KOKOMEMO_CREDENTIALS__STORAGE=floppy"}},
		{"bad base url", []string{"KOKOMEMO_CREDENTIALS__STORAGE=memory", "KOKOMEMO_API__BASE_URL=::"}},
		{"bad log format", []string{"KOKOMEMO_CREDENTIALS__STORAGE=memory", "KOKOMEMO_LOG_FORMAT=xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig("", nil, environ(tt.environ...)); err == nil {
				t.Error("loadConfig accepted invalid config")
			}
		})
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, environ()); err == nil {
		t.Error("loadConfig accepted a missing config file")
	}
}

func TestEnvironWithDotenv(t *testing.T) {
	envFile := writeFile(t, ".env", "KOKOMEMO_API__BASE_URL=https://dotenv.example/api/v1\nKOKOMEMO_CREDENTIALS__STORAGE=memory\n")

	environFunc, err := environWithDotenv(envFile, environ("KOKOMEMO_API__BASE_URL=https://real.example/api/v1"))
	if err != nil {
		t.Fatalf("environWithDotenv: %v", err)
	}

	cfg, err := loadConfig("", nil, environFunc)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.API.BaseURL != "https://real.example/api/v1" {
		t.Errorf("API.BaseURL = %q, want real environment to win", cfg.API.BaseURL)
	}
	if cfg.Credentials.Storage != app.StorageTypeMemory {
		t.Errorf("Credentials.Storage = %q, want value from env file", cfg.Credentials.Storage)
	}

	if _, err := environWithDotenv(filepath.Join(t.TempDir(), "missing.env"), os.Environ); err == nil {
		t.Error("environWithDotenv accepted a missing file")
	}
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	var cfg *app.Config
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level"},
			&cli.StringFlag{Name: "api--base-url"},
			&cli.StringFlag{Name: "server--host", Value: "ignored.example"},
			&cli.IntFlag{Name: "server--port"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig("", cmd, environ(
				"KOKOMEMO_CREDENTIALS__STORAGE=memory",
				"KOKOMEMO_API__BASE_URL=https://env.example/api/v1",
				"KOKOMEMO_SERVER__HOST=10.0.0.1",
			))
			return err
		},
	}

	args := []string{"test", "--log-level", "warn", "--api--base-url", "https://flag.example/api/v1", "--server--port", "9999"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.API.BaseURL != "https://flag.example/api/v1" {
		t.Errorf("API.BaseURL = %q, want flag override", cfg.API.BaseURL)
	}
	if cfg.Server.Host != "10.0.0.1" {
		t.Errorf("Server.Host = %q, want env value (flag unset)", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
}
