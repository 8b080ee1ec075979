package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	MailAPIURL   string `env:"MAIL_API_URL,required=true"`
	MailAPIToken string `env:"MAIL_API_TOKEN"`

	// Pacing. SenderTier selects the provider daily cap: personal or
	// business.
	SenderTier       string `env:"SENDER_TIER,default=personal"`
	DailyCapPersonal int    `env:"DAILY_CAP_PERSONAL,default=400"`
	DailyCapBusiness int    `env:"DAILY_CAP_BUSINESS,default=1500"`
	SendWindowOpen   int    `env:"SEND_WINDOW_OPEN_HOUR,default=8"`
	SendWindowClose  int    `env:"SEND_WINDOW_CLOSE_HOUR,default=23"`
	Timezone         string `env:"TIMEZONE,default=Europe/Istanbul"`
	MinSendDelaySec  int    `env:"MIN_SEND_DELAY_SEC,default=15"`
	MaxSendDelaySec  int    `env:"MAX_SEND_DELAY_SEC,default=55"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.SenderTier)) {
	case "personal", "business":
	default:
		return fmt.Errorf("invalid sender tier %q, must be personal or business", c.SenderTier)
	}

	if c.MinSendDelaySec <= 0 || c.MaxSendDelaySec < c.MinSendDelaySec {
		return fmt.Errorf("invalid send delay range %d-%d seconds", c.MinSendDelaySec, c.MaxSendDelaySec)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// DailyCap returns the cap for the configured sender tier.
func (c *Config) DailyCap() int {
	if strings.EqualFold(strings.TrimSpace(c.SenderTier), "business") {
		return c.DailyCapBusiness
	}
	return c.DailyCapPersonal
}

// Location resolves the reference timezone. Validated at load time.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) MinSendDelay() time.Duration {
	return time.Duration(c.MinSendDelaySec) * time.Second
}

func (c *Config) MaxSendDelay() time.Duration {
	return time.Duration(c.MaxSendDelaySec) * time.Second
}
