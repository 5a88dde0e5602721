package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ORDERLYFLOW"

// Config holds all configuration for orderlyflow.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Email    EmailConfig    `mapstructure:"email"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Client   ClientConfig   `mapstructure:"client"`
	Backup   BackupConfig   `mapstructure:"backup"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// BaseURL is the public URL of the app, used in invitation links.
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	SignInLimit int           `mapstructure:"sign_in_limit"`
}

type StorageConfig struct {
	// Driver is "memory" or "s3".
	Driver         string   `mapstructure:"driver"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	S3             S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type EmailConfig struct {
	PostmarkToken string `mapstructure:"postmark_token"`
	From          string `mapstructure:"from"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BackupConfig struct {
	Passphrase string `mapstructure:"passphrase"`
}

// ClientConfig is used by the watch command to reach a running backend.
type ClientConfig struct {
	URL      string `mapstructure:"url"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// Load reads configuration from defaults, an optional YAML file and
// ORDERLYFLOW_* environment variables, in increasing priority. An empty
// path searches the working directory for orderlyflow.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("database.path", "orderlyflow.db")
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.sign_in_limit", 10)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.max_upload_bytes", 5<<20)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("email.postmark_token", "")
	v.SetDefault("email.from", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("client.url", "http://localhost:8080")
	v.SetDefault("client.email", "")
	v.SetDefault("client.password", "")
	v.SetDefault("backup.passphrase", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orderlyflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is consistent. Secrets needed only
// by the server are checked by ValidateServer.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must be set for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or s3, got %q", c.Storage.Driver)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be greater than 0")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be greater than 0")
	}
	if c.Auth.SignInLimit <= 0 {
		return fmt.Errorf("auth.sign_in_limit must be greater than 0")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}

// ValidateServer checks the settings only serve needs.
func (c *Config) ValidateServer() error {
	if len(c.Auth.TokenSecret) < 16 {
		return fmt.Errorf("auth.token_secret must be at least 16 characters")
	}
	return nil
}

// String renders the configuration with secrets masked.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Server:%+v Database:%+v Auth:{TokenSecret:%s TokenTTL:%s SignInLimit:%d} Storage:{Driver:%s MaxUploadBytes:%d S3:{Endpoint:%s Region:%s Bucket:%s AccessKey:%s SecretKey:%s Prefix:%s}} Email:{PostmarkToken:%s From:%s} Logging:%+v Client:{URL:%s Email:%s Password:%s} Backup:{Passphrase:%s}}",
		c.Server, c.Database,
		mask(c.Auth.TokenSecret), c.Auth.TokenTTL, c.Auth.SignInLimit,
		c.Storage.Driver, c.Storage.MaxUploadBytes,
		c.Storage.S3.Endpoint, c.Storage.S3.Region, c.Storage.S3.Bucket, mask(c.Storage.S3.AccessKey), mask(c.Storage.S3.SecretKey), c.Storage.S3.Prefix,
		mask(c.Email.PostmarkToken), c.Email.From,
		c.Logging,
		c.Client.URL, c.Client.Email, mask(c.Client.Password),
		mask(c.Backup.Passphrase),
	)
}

// mask shows the first and last 4 characters of long secrets.
func mask(secret string) string {
	const visible = 4
	if secret == "" {
		return ""
	}
	if len(secret) <= visible*2 {
		return "***"
	}
	return secret[:visible] + "****" + secret[len(secret)-visible:]
}
