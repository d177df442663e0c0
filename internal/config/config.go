package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/i18n"
)

const (
	envProduction = "production"
	envStaging    = "staging"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TELEGRAM_BOT_TOKEN,required"`
		DefaultLanguage  string `env:"BOT_LANG,default=en"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		DotPath          string `env:"DOT_PATH,default=~/.ngwarden"`
		DatabasePath     string `env:"DATABASE_PATH,default=bot.db"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`

		// ExecutableCheckInterval is how often the binary is checked for
		// replacement; zero disables the check.
		ExecutableCheckInterval time.Duration `env:"EXECUTABLE_CHECK_INTERVAL,default=5s"`

		Group      Group
		Compliance Compliance
		Challenge  Challenge
	}

	Group struct {
		ID                   int64         `env:"GROUP_ID,required"`
		WarningTopicID       int           `env:"WARNING_TOPIC_ID,required"`
		RulesLink            string        `env:"RULES_LINK,default=https://t.me/pythonID/290029/321799"`
		AdminRefreshInterval time.Duration `env:"ADMIN_REFRESH_INTERVAL,default=1h"`
	}

	Compliance struct {
		RestrictFailedUsers         bool          `env:"RESTRICT_FAILED_USERS,default=false"`
		WarningThreshold            int           `env:"WARNING_THRESHOLD,default=3"`
		WarningTimeThresholdMinutes int           `env:"WARNING_TIME_THRESHOLD_MINUTES,default=180"`
		SweepInterval               time.Duration `env:"SWEEP_INTERVAL,default=5m"`
	}

	Challenge struct {
		Enabled        bool `env:"CAPTCHA_ENABLED,default=false"`
		TimeoutSeconds int  `env:"CAPTCHA_TIMEOUT_SECONDS,default=120"`
	}
)

// Timeout returns the challenge timeout as a duration.
func (c Challenge) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TimeThreshold returns the time-based restriction threshold as a duration.
func (c Compliance) TimeThreshold() time.Duration {
	return time.Duration(c.WarningTimeThresholdMinutes) * time.Minute
}

// FromEnv loads the dotenv file selected by BOT_ENV, then the process environment.
func FromEnv(ctx context.Context) (Config, error) {
	if envFile := dotenvFile(os.Getenv("BOT_ENV")); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
			log.WithField("file", envFile).Debug("loaded dotenv file")
		}
	}
	return Load(ctx, envconfig.OsLookuper())
}

func Load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	cfg := Config{}
	envcfg := envconfig.Config{
		Lookuper: lookuper,
		Target:   &cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return Config{}, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	cfg.DefaultLanguage = normalizeLanguage(cfg.DefaultLanguage)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Group.ID == 0:
		return fmt.Errorf("GROUP_ID must be set")
	case c.Compliance.WarningThreshold < 1:
		return fmt.Errorf("WARNING_THRESHOLD must be at least 1, got %d", c.Compliance.WarningThreshold)
	case c.Compliance.WarningTimeThresholdMinutes < 1:
		return fmt.Errorf("WARNING_TIME_THRESHOLD_MINUTES must be at least 1, got %d", c.Compliance.WarningTimeThresholdMinutes)
	case c.Challenge.TimeoutSeconds < 1:
		return fmt.Errorf("CAPTCHA_TIMEOUT_SECONDS must be at least 1, got %d", c.Challenge.TimeoutSeconds)
	case c.Compliance.SweepInterval <= 0:
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	case c.ExecutableCheckInterval < 0:
		return fmt.Errorf("EXECUTABLE_CHECK_INTERVAL must not be negative")
	}
	return nil
}

// LogFields returns the non-sensitive part of the configuration for logging.
func (c Config) LogFields() log.Fields {
	return log.Fields{
		"group_id":                       c.Group.ID,
		"warning_topic_id":               c.Group.WarningTopicID,
		"restrict_failed_users":          c.Compliance.RestrictFailedUsers,
		"warning_threshold":              c.Compliance.WarningThreshold,
		"warning_time_threshold_minutes": c.Compliance.WarningTimeThresholdMinutes,
		"captcha_enabled":                c.Challenge.Enabled,
		"captcha_timeout_seconds":        c.Challenge.TimeoutSeconds,
		"database_path":                  c.DatabasePath,
		"lang":                           i18n.GetLanguageName(c.DefaultLanguage),
		"telegram_bot_token":             maskToken(c.TelegramAPIToken),
	}
}

func dotenvFile(env string) string {
	switch env {
	case envStaging:
		return ".env.staging"
	case envProduction, "":
		return ".env"
	default:
		return ".env"
	}
}

func maskToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return "***" + token[len(token)-4:]
}

// normalizeLanguage reduces locale strings like "id_ID.UTF-8" to a catalog code.
func normalizeLanguage(lang string) string {
	code := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(code, "_.-"); i >= 0 {
		code = code[:i]
	}
	if !i18n.IsSupported(code) {
		return i18n.DefaultLanguage
	}
	return code
}
