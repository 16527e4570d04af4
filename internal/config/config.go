package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Detector DetectorConfig `mapstructure:"detector"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig locates the on-device record store.
type StorageConfig struct {
	StateDir string `mapstructure:"state_dir"`
}

type DetectorConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// RemoteConfig points at the remote record database. When Enabled is false
// the service runs local-only and all sync operations are no-ops.
type RemoteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type BlobConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file (optional) and PLATESYNC_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("storage.state_dir", "./data")
	v.SetDefault("detector.base_url", "http://localhost:8080")
	v.SetDefault("detector.timeout", "120s")
	v.SetDefault("detector.max_retries", 2)
	v.SetDefault("detector.retry_delay", "1s")
	v.SetDefault("remote.enabled", false)
	v.SetDefault("blob.enabled", false)
	v.SetDefault("blob.bucket", "plate-images")
	v.SetDefault("blob.use_ssl", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("PLATESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Remote.Enabled && cfg.Remote.DSN == "" {
		return nil, fmt.Errorf("remote.dsn is required when remote sync is enabled")
	}
	if cfg.Blob.Enabled && cfg.Blob.Endpoint == "" {
		return nil, fmt.Errorf("blob.endpoint is required when blob storage is enabled")
	}

	return &cfg, nil
}
