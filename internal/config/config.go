// Package config resolves the process configuration once at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/storage/artifact"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTP      HTTPConfig
	DB        db.Config
	Render    RenderConfig
	Promo     PromoConfig
	Storage   artifact.Config
	Telemetry TelemetryConfig
}

type HTTPConfig struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// MaxBodyBytes bounds request bodies, which carry base64 photos.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"52428800"`
	// AdminToken guards /admin; an empty token disables the admin routes.
	AdminToken string `env:"ADMIN_TOKEN"`
}

type RenderConfig struct {
	FontPaths        []string      `env:"FONT_PATHS" envSeparator:":"`
	LogoPath         string        `env:"LOGO_PATH"`
	JPEGQuality      int           `env:"JPEG_QUALITY" envDefault:"95"`
	MaxArtifactBytes int           `env:"MAX_ARTIFACT_BYTES" envDefault:"20971520"`
	MaxCanvasPixels  int           `env:"MAX_CANVAS_PIXELS" envDefault:"67108864"`
	FetchTimeout     time.Duration `env:"FRONT_FETCH_TIMEOUT" envDefault:"15s"`
	// FetchHosts limits remote front images to these hosts. A leading dot
	// also admits subdomains. Empty admits any public host.
	FetchHosts []string `env:"FRONT_FETCH_ALLOWED_HOSTS" envSeparator:","`
}

type PromoConfig struct {
	Enabled         bool   `env:"PROMO_ENABLED" envDefault:"true"`
	CodePrefix      string `env:"PROMO_CODE_PREFIX" envDefault:"XLWelcome"`
	AppURL          string `env:"PROMO_APP_URL" envDefault:"https://xlpostcards.com/app"`
	MaxRedemptions  int    `env:"PROMO_MAX_REDEMPTIONS" envDefault:"500"`
	DiscountPercent int    `env:"PROMO_DISCOUNT_PERCENT" envDefault:"100"`
	FirstTimeOnly   bool   `env:"PROMO_FIRST_TIME_ONLY" envDefault:"true"`
	// FreeValueCents is recorded as the redemption value of a free postcard.
	FreeValueCents int64 `env:"PROMO_FREE_VALUE_CENTS" envDefault:"299"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"postcard-service"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the full service configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case db.DialectSQLite, db.DialectPostgres:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.HTTP.Port)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("config: JPEG_QUALITY %d must be within 1-100", c.Render.JPEGQuality)
	}
	if c.Promo.Enabled && strings.TrimSpace(c.Promo.CodePrefix) == "" {
		return fmt.Errorf("config: PROMO_CODE_PREFIX is required when promos are enabled")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return nil
}

// Development reports whether human-readable console logs are wanted.
func (c Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
