package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/kokomemo/internal/apiclient"
	"github.com/florianilch/kokomemo/internal/credstore"
	"github.com/florianilch/kokomemo/internal/observability"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = observability.FormatText
	LogFormatJSON LogFormat = observability.FormatJSON
	LogFormatOTel LogFormat = observability.FormatOTel
	LogFormatOTLP LogFormat = observability.FormatOTLP
)

// StorageType represents the backends supported for stored credentials.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeRedis   StorageType = "redis"
	StorageTypeMemory  StorageType = "memory"
)

// keyringService names the OS keyring entry holding the credential pair.
const keyringService = "kokomemo-credentials"

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigTelemetryProtocol  = observability.ProtocolHTTP
	DefaultConfigAPIBaseURL         = apiclient.DefaultBaseURL
	DefaultConfigAPITimeout         = apiclient.DefaultTimeout
	DefaultConfigAPIRenewalTimeout  = apiclient.DefaultRenewalTimeout
	DefaultConfigServerHost         = "127.0.0.1"
	DefaultConfigServerPort         = 4100
	DefaultConfigShutdownTimeout    = 5 * time.Second
	DefaultConfigCredentialsStorage = StorageTypeFile
	DefaultConfigRedisAddr          = "localhost:6379"
	DefaultConfigRedisPrefix        = "kokomemo"
)

// TelemetryConfig holds the OTLP export settings used by the otlp log format.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
	Protocol string `json:"protocol" validate:"oneof=http grpc"`
}

// APIConfig holds backend API configuration.
type APIConfig struct {
	BaseURL        string        `json:"base_url" validate:"required,url"`
	Timeout        time.Duration `json:"timeout" validate:"gte=0"`
	RenewalTimeout time.Duration `json:"renewal_timeout" validate:"gte=0"`
	// RenewAhead renews credentials whose access token has already expired
	// before sending, instead of waiting for the 401.
	RenewAhead bool `json:"renew_ahead"`
}

// ServerConfig holds gateway-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// CredentialsConfig describes where the credential pair lives.
type CredentialsConfig struct {
	Storage StorageType `json:"storage" validate:"required,oneof=file keyring redis memory"`

	// Storage-specific settings (only the one matching Storage is used)
	File        string `json:"file,omitempty"`
	KeyringUser string `json:"keyring_user,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty" validate:"omitempty,hostname_port"`
	RedisPrefix string `json:"redis_prefix,omitempty"`
}

// NewStore creates the credential store described by the configuration.
func (c *CredentialsConfig) NewStore() (credstore.Store, error) {
	switch c.Storage {
	case StorageTypeFile:
		return credstore.NewFileStore(c.File)
	case StorageTypeKeyring:
		return credstore.NewKeyringStore(keyringService, c.KeyringUser)
	case StorageTypeRedis:
		return credstore.DialRedisStore(c.RedisAddr, c.RedisPrefix)
	case StorageTypeMemory:
		return credstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level        `json:"log_level"`
	LogFormat   LogFormat         `json:"log_format" validate:"oneof=text json otel otlp"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	API         APIConfig         `json:"api"`
	Server      ServerConfig      `json:"server"`
	Shutdown    ShutdownConfig    `json:"shutdown"`
	Credentials CredentialsConfig `json:"credentials"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = DefaultConfigTelemetryProtocol
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultConfigAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if c.API.RenewalTimeout == 0 {
		c.API.RenewalTimeout = DefaultConfigAPIRenewalTimeout
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Credentials.Storage == "" {
		c.Credentials.Storage = DefaultConfigCredentialsStorage
	}

	// Dynamic defaults based on storage type
	switch c.Credentials.Storage {
	case StorageTypeFile:
		if c.Credentials.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("credentials.file required (auto-detect failed: %w)", err)
			}
			c.Credentials.File = filepath.Join(configDir, "kokomemo", "credentials.json")
		}
	case StorageTypeKeyring:
		if c.Credentials.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("credentials.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Credentials.KeyringUser = currentUser.Username
		}
	case StorageTypeRedis:
		if c.Credentials.RedisAddr == "" {
			c.Credentials.RedisAddr = DefaultConfigRedisAddr
		}
		if c.Credentials.RedisPrefix == "" {
			c.Credentials.RedisPrefix = DefaultConfigRedisPrefix
		}
	case StorageTypeMemory:
		// nothing to configure
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Credentials.Storage {
	case StorageTypeFile:
		if c.Credentials.File == "" {
			return errors.New("file path required for file storage")
		}
	case StorageTypeKeyring:
		if c.Credentials.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case StorageTypeRedis:
		if c.Credentials.RedisAddr == "" {
			return errors.New("redis_addr required for redis storage")
		}
		if c.Credentials.RedisPrefix == "" {
			return errors.New("redis_prefix required for redis storage")
		}
	}

	return nil
}

// ClientOptions translates the API section into apiclient options.
func (c *Config) ClientOptions() []apiclient.Option {
	return []apiclient.Option{
		apiclient.WithBaseURL(c.API.BaseURL),
		apiclient.WithTimeout(c.API.Timeout),
		apiclient.WithRenewalTimeout(c.API.RenewalTimeout),
		apiclient.WithRenewAhead(c.API.RenewAhead),
	}
}
