// ABOUTME: Configuration loading and parsing for bella-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bella-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	WeChat   WeChatConfig   `yaml:"wechat"`
	Model    ModelConfig    `yaml:"model"`
	Voice    VoiceConfig    `yaml:"voice"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	WebhookPath string `yaml:"webhook_path"`
}

// DatabaseConfig holds the message ledger database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the session/history cache configuration. When Addr is
// empty the gateway falls back to an in-process store (single instance only).
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WeChatConfig holds the official-account credentials
type WeChatConfig struct {
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	// BotToken is the webhook verification token configured in the account console
	BotToken string `yaml:"bot_token"`
	// BaseURL overrides the platform API endpoint, mainly for tests
	BaseURL string `yaml:"base_url"`
}

// ModelConfig holds the chat completion model configuration
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// VoiceConfig holds text-to-speech and speech-to-text configuration
type VoiceConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	UserID  string `yaml:"user_id"`
	VoiceID string `yaml:"voice_id"`
	BaseURL string `yaml:"base_url"`

	STTBaseURL string `yaml:"stt_base_url"`
	STTAPIKey  string `yaml:"stt_api_key"`

	MaxWait time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	MaxWaitRaw string `yaml:"max_wait"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/wechat"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.WeChat.AppID == "" {
		return fmt.Errorf("wechat.app_id is required")
	}
	if c.WeChat.AppSecret == "" {
		return fmt.Errorf("wechat.app_secret is required")
	}
	if c.WeChat.BotToken == "" {
		return fmt.Errorf("wechat.bot_token is required")
	}

	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}

	if c.Voice.Enabled {
		if c.Voice.APIKey == "" {
			return fmt.Errorf("voice.api_key is required when voice is enabled")
		}
		if c.Voice.UserID == "" {
			return fmt.Errorf("voice.user_id is required when voice is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Voice.MaxWaitRaw != "" {
		cfg.Voice.MaxWait, err = time.ParseDuration(cfg.Voice.MaxWaitRaw)
		if err != nil {
			return fmt.Errorf("parsing voice.max_wait %q: %w", cfg.Voice.MaxWaitRaw, err)
		}
	}

	return nil
}
