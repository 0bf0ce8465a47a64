package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-driver/internal/errors"
	"github.com/unclebandit/outreach-driver/internal/model"
	"github.com/unclebandit/outreach-driver/internal/quota"
)

// ChannelConfig holds the sender pool and ramp of one channel.
type ChannelConfig struct {
	SenderCount  int    `env:"SENDER_COUNT"`
	SenderDomain string `env:"SENDER_DOMAIN"`
	RampStart    int    `env:"RAMP_START"`
	RampEnd      int    `env:"RAMP_END"`
	RampDays     int    `env:"RAMP_DAYS"`
}

func (c ChannelConfig) Ramp() model.RampConfig {
	return model.RampConfig{StartQuota: c.RampStart, EndQuota: c.RampEnd, RampDays: c.RampDays}
}

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	ResendAPIKey   string `env:"RESEND_API_KEY"`
	TrackingDomain string `env:"TRACKING_DOMAIN"`

	SendingEnabled bool          `env:"SENDING_ENABLED" envDefault:"false"`
	Timezone       string        `env:"CAMPAIGN_TIMEZONE" envDefault:"America/Chicago"`
	WindowStart    int           `env:"WINDOW_START_HOUR" envDefault:"7"`
	WindowEnd      int           `env:"WINDOW_END_HOUR" envDefault:"24"`
	SendDelay      time.Duration `env:"SEND_DELAY" envDefault:"600ms"`

	FromName        string `env:"FROM_NAME" envDefault:"Fabrizio"`
	SenderLocalPart string `env:"SENDER_LOCAL_PART" envDefault:"fabri"`
	MarketingDomain string `env:"MARKETING_DOMAIN" envDefault:"clura.dev"`
	UTMCampaign     string `env:"UTM_CAMPAIGN" envDefault:"cold_outreach_v1"`

	GlobalCapEnabled bool    `env:"GLOBAL_CAP_ENABLED" envDefault:"false"`
	GlobalCapBase    float64 `env:"GLOBAL_CAP_BASE" envDefault:"250"`
	GlobalCapMax     float64 `env:"GLOBAL_CAP_MAX" envDefault:"1000"`

	// 0 leaves failed leads eligible forever.
	MaxSendAttempts int  `env:"MAX_SEND_ATTEMPTS" envDefault:"0"`
	ValidateSMTP    bool `env:"VALIDATE_SMTP" envDefault:"true"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"outreach"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Kickstarter ChannelConfig `envPrefix:"KICKSTARTER_"`
	Instagram   ChannelConfig `envPrefix:"INSTAGRAM_"`
}

// Defaults mirror the production campaign: 40 kickstarter senders ramping
// 25 -> 40 and 100 instagram senders ramping 25 -> 100, both over six days.
func defaults() Config {
	return Config{
		Kickstarter: ChannelConfig{SenderCount: 40, SenderDomain: "ks.clura.dev", RampStart: 25, RampEnd: 40, RampDays: 6},
		Instagram:   ChannelConfig{SenderCount: 100, SenderDomain: "launch.clura.dev", RampStart: 25, RampEnd: 100, RampDays: 6},
	}
}

// Load reads .env (if present) and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, relying on OS environment variables")
	}
	return Parse()
}

// Parse builds a Config from the process environment without touching .env.
func Parse() (*Config, error) {
	cfg := defaults()
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	return &cfg, nil
}

// Channel returns the settings for ch.
func (c *Config) Channel(ch model.Channel) (ChannelConfig, error) {
	switch ch {
	case model.ChannelKickstarter:
		return c.Kickstarter, nil
	case model.ChannelInstagram:
		return c.Instagram, nil
	}
	return ChannelConfig{}, appErrors.NewUnknownChannel(ch)
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, appErrors.NewConfigError("CAMPAIGN_TIMEZONE", err.Error())
	}
	return loc, nil
}

func (c *Config) Window() (quota.Window, error) {
	loc, err := c.Location()
	if err != nil {
		return quota.Window{}, err
	}
	return quota.Window{Start: c.WindowStart, End: c.WindowEnd, Location: loc}, nil
}

func (c *Config) GlobalCap() quota.PowerLawRamp {
	return quota.PowerLawRamp{Base: c.GlobalCapBase, Cap: c.GlobalCapMax, Exponent: quota.DefaultPowerLawExponent}
}

// ValidateDatabase checks the settings every command needs.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseURL == "" {
		return appErrors.NewConfigError("DATABASE_URL", "required")
	}
	return nil
}

// ValidateSending checks the settings a sending run needs, before any I/O.
func (c *Config) ValidateSending() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.ResendAPIKey == "" {
		return appErrors.NewConfigError("RESEND_API_KEY", "required")
	}
	if c.TrackingDomain == "" {
		return appErrors.NewConfigError("TRACKING_DOMAIN", "required")
	}
	if c.WindowStart < 0 || c.WindowEnd > 24 || c.WindowStart >= c.WindowEnd {
		return appErrors.NewConfigError("WINDOW_START_HOUR/WINDOW_END_HOUR", "window must satisfy 0 <= start < end <= 24")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for _, ch := range model.Channels {
		cc, _ := c.Channel(ch)
		if cc.SenderCount < 0 || cc.SenderDomain == "" {
			return appErrors.NewConfigError(string(ch), "sender count and domain required")
		}
		if cc.RampStart < 0 || cc.RampEnd < 0 || cc.RampDays < 0 {
			return appErrors.NewConfigError(string(ch), "ramp values must be non-negative")
		}
	}
	return nil
}
