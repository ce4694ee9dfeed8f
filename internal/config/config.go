package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM,required=true"`

	SMTPFallbackHost     string `env:"SMTP_FALLBACK_HOST"`
	SMTPFallbackPort     int    `env:"SMTP_FALLBACK_PORT,default=587"`
	SMTPFallbackUsername string `env:"SMTP_FALLBACK_USERNAME"`
	SMTPFallbackPassword string `env:"SMTP_FALLBACK_PASSWORD"`

	// RerouteEmail is the final-approval recipient an approved purchase
	// order document is forwarded to.
	RerouteEmail string `env:"REROUTE_EMAIL,required=true"`

	// PDFRenderURL is the base URL of the document render service used when
	// a tracking record has no cached PDF bytes at reroute time.
	PDFRenderURL string `env:"PDF_RENDER_URL"`

	EmailRateLimitPerSec int    `env:"EMAIL_RATE_LIMIT_PER_SEC,default=10"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// HasFallbackSMTP reports whether a secondary SMTP transport is configured.
func (c *Config) HasFallbackSMTP() bool {
	return strings.TrimSpace(c.SMTPFallbackHost) != ""
}
