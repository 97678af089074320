package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/kokomemo/internal/credstore"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Credentials: CredentialsConfig{Storage: StorageTypeMemory}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.API.BaseURL != DefaultConfigAPIBaseURL {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, DefaultConfigAPIBaseURL)
	}
	if cfg.API.Timeout != DefaultConfigAPITimeout || cfg.API.RenewalTimeout != DefaultConfigAPIRenewalTimeout {
		t.Errorf("API timeouts = %v/%v", cfg.API.Timeout, cfg.API.RenewalTimeout)
	}
	if cfg.API.RenewAhead {
		t.Error("RenewAhead enabled by default")
	}
	if cfg.Server.Host != DefaultConfigServerHost || cfg.Server.Port != DefaultConfigServerPort {
		t.Errorf("Server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Shutdown.Timeout != DefaultConfigShutdownTimeout {
		t.Errorf("Shutdown.Timeout = %v", cfg.Shutdown.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate after defaults: %v", err)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		LogFormat: LogFormatJSON,
		API:       APIConfig{BaseURL: "https://memo.example/api/v1", Timeout: time.Second},
		Server:    ServerConfig{Host: "0.0.0.0", Port: 9000},
		Credentials: CredentialsConfig{
			Storage:     StorageTypeRedis,
			RedisAddr:   "cache:6380",
			RedisPrefix: "tenant-a",
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	if cfg.LogFormat != LogFormatJSON || cfg.API.BaseURL != "https://memo.example/api/v1" || cfg.API.Timeout != time.Second {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("Server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Credentials.RedisAddr != "cache:6380" || cfg.Credentials.RedisPrefix != "tenant-a" {
		t.Errorf("Credentials = %+v", cfg.Credentials)
	}
}

func TestApplyDefaultsStorageSpecific(t *testing.T) {
	tests := []struct {
		storage StorageType
		check   func(CredentialsConfig) bool
	}{
		{StorageTypeFile, func(c CredentialsConfig) bool { return strings.HasSuffix(c.File, filepath.Join("kokomemo", "credentials.json")) }},
		{StorageTypeKeyring, func(c CredentialsConfig) bool { return c.KeyringUser != "" }},
		{StorageTypeRedis, func(c CredentialsConfig) bool {
			return c.RedisAddr == DefaultConfigRedisAddr && c.RedisPrefix == DefaultConfigRedisPrefix
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.storage), func(t *testing.T) {
			cfg := &Config{Credentials: CredentialsConfig{Storage: tt.storage}}
			if err := cfg.ApplyDefaults(); err != nil {
				t.Skipf("auto-detect unavailable here: %v", err)
			}
			if !tt.check(cfg.Credentials) {
				t.Errorf("unexpected credentials defaults: %+v", cfg.Credentials)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Credentials: CredentialsConfig{Storage: StorageTypeMemory}}
		if err := cfg.ApplyDefaults(); err != nil {
			t.Fatalf("ApplyDefaults: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown telemetry protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
		{"bad telemetry endpoint", func(c *Config) { c.Telemetry.Endpoint = "not a url" }},
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }},
		{"negative timeout", func(c *Config) { c.API.Timeout = -time.Second }},
		{"bad host", func(c *Config) { c.Server.Host = "bad host!" }},
		{"unknown storage", func(c *Config) { c.Credentials.Storage = "env" }},
		{"file without path", func(c *Config) { c.Credentials.Storage = StorageTypeFile }},
		{"keyring without user", func(c *Config) { c.Credentials.Storage = StorageTypeKeyring }},
		{"redis without prefix", func(c *Config) {
			c.Credentials.Storage = StorageTypeRedis
			c.Credentials.RedisAddr = "localhost:6379"
		}},
		{"redis with bad addr", func(c *Config) {
			c.Credentials.Storage = StorageTypeRedis
			c.Credentials.RedisAddr = "no-port"
			c.Credentials.RedisPrefix = "p"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate accepted invalid config: %+v", cfg)
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	keyring.MockInit()

	tests := []struct {
		name string
		cfg  CredentialsConfig
		want credstore.Store
	}{
		{"memory", CredentialsConfig{Storage: StorageTypeMemory}, &credstore.MemoryStore{}},
		{"file", CredentialsConfig{Storage: StorageTypeFile, File: filepath.Join(t.TempDir(), "creds.json")}, &credstore.FileStore{}},
		{"keyring", CredentialsConfig{Storage: StorageTypeKeyring, KeyringUser: "alice"}, &credstore.KeyringStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := tt.cfg.NewStore()
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			if got, want := typeName(store), typeName(tt.want); got != want {
				t.Errorf("NewStore type = %s, want %s", got, want)
			}
		})
	}

	if _, err := (&CredentialsConfig{Storage: "env"}).NewStore(); err == nil {
		t.Error("NewStore accepted unsupported storage")
	}
}
