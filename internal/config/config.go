package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Auth     AuthConfig     `mapstructure:"auth" json:"auth"`
	LLM      LLMConfig      `mapstructure:"llm" json:"llm"`
	Memory   MemoryConfig   `mapstructure:"memory" json:"memory"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	AllowedOrigins  string        `mapstructure:"allowed_origins" json:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	AuthRateLimit   int           `mapstructure:"auth_rate_limit" json:"auth_rate_limit"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is "postgres" (lib/pq), "pgx" (pgx stdlib) or "memory"
	Driver       string `mapstructure:"driver" json:"driver"`
	URL          string `mapstructure:"url" json:"url,omitempty"`
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	User         string `mapstructure:"user" json:"user"`
	Password     string `mapstructure:"password" json:"-"`
	Database     string `mapstructure:"database" json:"database"`
	SSLMode      string `mapstructure:"sslmode" json:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// DSN returns the connection URL. An explicit URL wins over the discrete fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type AuthConfig struct {
	SecretKey       string        `mapstructure:"secret_key" json:"-"`
	Algorithm       string        `mapstructure:"algorithm" json:"algorithm"`
	Issuer          string        `mapstructure:"issuer" json:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" json:"refresh_token_ttl"`
}

type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key" json:"-"`
	BaseURL        string        `mapstructure:"base_url" json:"base_url"`
	Model          string        `mapstructure:"model" json:"model"`
	Temperature    float32       `mapstructure:"temperature" json:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" json:"max_tokens"`
	SystemPrompt   string        `mapstructure:"system_prompt" json:"system_prompt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
}

type MemoryConfig struct {
	MaxTokenLimit int    `mapstructure:"max_token_limit" json:"max_token_limit"`
	SummaryPrompt string `mapstructure:"summary_prompt" json:"summary_prompt,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Load reads config.{json,yaml} from the usual places, then applies
// environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".chatbot"))
	}

	return load(v)
}

// LoadFile reads an explicit config file
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.auth_rate_limit", 10)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chatbot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "chatbot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.issuer", "chatbot-backend")
	v.SetDefault("auth.access_token_ttl", 30*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 24*time.Hour)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.request_timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("memory.max_token_limit", 100)
	v.SetDefault("memory.summary_prompt", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnv maps CHATBOT_SECTION_KEY variables onto every key and keeps the
// variable names older deployments already use.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CHATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	legacy := map[string]string{
		"database.url":      "DATABASE_URL",
		"database.host":     "POSTGRES_HOST",
		"database.port":     "POSTGRES_PORT",
		"database.user":     "POSTGRES_USER",
		"database.password": "POSTGRES_PASSWORD",
		"database.database": "POSTGRES_DB",
		"auth.secret_key":   "SECRET_KEY",
		"auth.algorithm":    "ALGORITHM",
		"llm.api_key":       "GEMINI_API_KEY",
	}
	for key, name := range legacy {
		prefixed := "CHATBOT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, name)
	}
}

// Validate checks settings the service cannot run without
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.SecretKey == "" {
		return errors.New("auth secret key is required (SECRET_KEY)")
	}
	if c.Auth.Algorithm != "HS256" {
		return fmt.Errorf("unsupported signing algorithm %q", c.Auth.Algorithm)
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Memory.MaxTokenLimit <= 0 {
		return errors.New("memory max_token_limit must be positive")
	}
	return nil
}
