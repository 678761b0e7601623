// Package config loads the taskauth server configuration from defaults, an
// optional YAML file, a .env file and TASKAUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	auth "github.com/goliatone/go-taskauth"
)

const EnvPrefix = "TASKAUTH"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
}

type AuthConfig struct {
	SigningKey         string        `mapstructure:"signing_key"`
	SigningMethod      string        `mapstructure:"signing_method"`
	PrivateKeyFile     string        `mapstructure:"private_key_file"`
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret"`
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	Issuer             string        `mapstructure:"issuer"`
	Audience           []string      `mapstructure:"audience"`
	ContextKey         string        `mapstructure:"context_key"`
	TokenLookup        string        `mapstructure:"token_lookup"`
	AuthScheme         string        `mapstructure:"auth_scheme"`
	RefreshCookieName  string        `mapstructure:"refresh_cookie_name"`
	CookieSecure       bool          `mapstructure:"cookie_secure"`
	HashidUserIDs      bool          `mapstructure:"hashid_user_ids"`

	privateKeyPEM string
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Debug    bool   `mapstructure:"debug"`
	AutoInit bool   `mapstructure:"auto_init"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var _ auth.Config = (*Config)(nil)

// Load reads configuration. cfgFile may be empty, in which case
// taskauth.yaml is looked up in the working directory.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("taskauth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Auth.PrivateKeyFile != "" {
		raw, err := os.ReadFile(cfg.Auth.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		cfg.Auth.privateKeyPEM = string(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.janitor_interval", time.Hour)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.debug", false)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.signing_method", "HS256")
	v.SetDefault("auth.private_key_file", "")
	v.SetDefault("auth.refresh_token_secret", "")
	v.SetDefault("auth.access_token_ttl", auth.DefaultAccessTokenTTL)
	v.SetDefault("auth.refresh_token_ttl", auth.DefaultRefreshTokenTTL)
	v.SetDefault("auth.issuer", "taskauth")
	v.SetDefault("auth.audience", []string{"taskauth"})
	v.SetDefault("auth.context_key", "user")
	v.SetDefault("auth.token_lookup", "header:Authorization")
	v.SetDefault("auth.auth_scheme", "Bearer")
	v.SetDefault("auth.refresh_cookie_name", auth.DefaultRefreshCookieName)
	v.SetDefault("auth.cookie_secure", true)
	v.SetDefault("auth.hashid_user_ids", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:taskauth.db?cache=shared")
	v.SetDefault("database.debug", false)
	v.SetDefault("database.auto_init", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "taskauth:")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.SigningMethod, validation.Required, validation.In("HS256", "RS256")),
		validation.Field(&c.Auth.SigningKey, validation.By(c.requireFor("HS256")), validation.Length(32, 0)),
		validation.Field(&c.Auth.PrivateKeyFile, validation.By(c.requireFor("RS256"))),
		validation.Field(&c.Auth.RefreshTokenSecret, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Auth.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Auth.RefreshTokenTTL, validation.Required, validation.Min(time.Minute)),
	)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	err = validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.Database.DSN, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	err = validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Addr, validation.Required),
		validation.Field(&c.Server.RateBurst, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	return validation.ValidateStruct(&c.Logging,
		validation.Field(&c.Logging.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Logging.Format, validation.In("text", "json")),
	)
}

func (c *Config) requireFor(method string) validation.RuleFunc {
	return func(value any) error {
		if c.Auth.SigningMethod != method {
			return nil
		}
		if s, _ := value.(string); strings.TrimSpace(s) == "" {
			return errors.New("required for " + method)
		}
		return nil
	}
}

func (c *Config) GetSigningKey() string {
	return c.Auth.SigningKey
}

func (c *Config) GetSigningMethod() string {
	return c.Auth.SigningMethod
}

func (c *Config) GetPrivateKeyPEM() string {
	return c.Auth.privateKeyPEM
}

func (c *Config) GetRefreshTokenSecret() string {
	return c.Auth.RefreshTokenSecret
}

func (c *Config) GetAccessTokenTTL() time.Duration {
	return c.Auth.AccessTokenTTL
}

func (c *Config) GetRefreshTokenTTL() time.Duration {
	return c.Auth.RefreshTokenTTL
}

func (c *Config) GetIssuer() string {
	return c.Auth.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Auth.Audience
}

func (c *Config) GetContextKey() string {
	return c.Auth.ContextKey
}

func (c *Config) GetTokenLookup() string {
	return c.Auth.TokenLookup
}

func (c *Config) GetAuthScheme() string {
	return c.Auth.AuthScheme
}

func (c *Config) GetRefreshCookieName() string {
	return c.Auth.RefreshCookieName
}

func (c *Config) GetCookieSecure() bool {
	return c.Auth.CookieSecure
}
