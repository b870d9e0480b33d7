package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the proxy configuration loaded from settings.yaml.
type Settings struct {
	Server          ServerSettings          `mapstructure:"server"`
	CredentialsFile string                  `mapstructure:"credentials_file"`
	CircuitBreaker  CircuitBreakerSettings  `mapstructure:"circuit_breaker"`
	Upstream        UpstreamSettings        `mapstructure:"upstream"`
	ValidateOnStart bool                    `mapstructure:"validate_on_start"`
	PingInterval    time.Duration           `mapstructure:"ping_interval"`
	Log             LogSettings             `mapstructure:"log"`
	ConversationLog ConversationLogSettings `mapstructure:"conversation_log"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CircuitBreakerSettings configures per-credential failure handling.
type CircuitBreakerSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	GenericCooldown   time.Duration `mapstructure:"generic_cooldown"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	UsageStaleness    time.Duration `mapstructure:"usage_staleness"`
}

// UpstreamSettings configures the upstream HTTP client.
type UpstreamSettings struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
	// KeepConversations creates persistent upstream conversations instead
	// of temporary ones.
	KeepConversations bool   `mapstructure:"keep_conversations"`
	UserAgent         string `mapstructure:"user_agent"`
}

// LogSettings configures zap output.
type LogSettings struct {
	Level  string          `mapstructure:"level"`
	Format string          `mapstructure:"format"` // console | json
	File   LogFileSettings `mapstructure:"file"`
}

// LogFileSettings configures the rotating log file sink.
type LogFileSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ConversationLogSettings configures per-transaction dump files.
type ConversationLogSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// DefaultUserAgent impersonates a desktop browser. The upstream endpoint
// serves browser sessions and rejects obviously non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load reads settings from the given path, or from the default locations
// when path is empty. Missing files fall back to defaults; an explicitly
// given path must exist.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(HomeDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read settings: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CCAPIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	applyDerivedDefaults(&s)
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 3)
	v.SetDefault("circuit_breaker.generic_cooldown", "5m")
	v.SetDefault("circuit_breaker.rate_limit_cooldown", "15m")
	v.SetDefault("circuit_breaker.usage_staleness", "2m")

	v.SetDefault("upstream.request_timeout", "30s")
	v.SetDefault("upstream.stream_timeout", "5m")
	v.SetDefault("upstream.keep_conversations", false)

	v.SetDefault("validate_on_start", true)
	v.SetDefault("ping_interval", "0s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.max_size_mb", 50)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 14)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("conversation_log.enabled", true)
}

// applyDerivedDefaults fills path-valued fields that depend on the home
// directory, which SetDefault cannot express portably.
func applyDerivedDefaults(s *Settings) {
	if s.CredentialsFile == "" {
		s.CredentialsFile = filepath.Join(HomeDir(), "accounts.yaml")
	}
	if s.Log.File.Path == "" {
		s.Log.File.Path = filepath.Join(HomeDir(), "logs", "ccapis.log")
	}
	if s.ConversationLog.Dir == "" {
		s.ConversationLog.Dir = filepath.Join(HomeDir(), "conversations-logs")
	}
	if s.Upstream.UserAgent == "" {
		s.Upstream.UserAgent = DefaultUserAgent
	}
}
