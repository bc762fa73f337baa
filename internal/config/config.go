package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Log formats accepted by LOG_FORMAT.
const (
	LogFormatAuto    = "auto"
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config holds everything the serving layer reads from the environment.
type Config struct {
	TLSCertFile string `env:"TLS_CERT_FILE" envDefault:"/app/tls.crt"`
	TLSKeyFile  string `env:"TLS_PRIVATE_KEY_FILE" envDefault:"/app/tls.key"`

	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:":8443"`
	ProbeAddress  string `env:"PROBE_ADDRESS" envDefault:":8081"`
	EnableHTTP2   bool   `env:"ENABLE_HTTP2" envDefault:"false"`

	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`
	MaxRequestBodyBytes int64         `env:"MAX_REQUEST_BODY_BYTES" envDefault:"16777216"`

	// Group restricts the desired API group; empty accepts any.
	Group string `env:"CONVERSION_GROUP"`

	Logging LoggingConfig
	OTLP    OTLPConfig
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"auto"`
}

// OTLPConfig controls OTLP export of spans and HTTP metrics. Nothing is
// exported when Endpoint is empty.
type OTLPConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"aivenapp-conversion-webhook"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.TLSCertFile == "" {
		errs = append(errs, errors.New("TLS_CERT_FILE must not be empty"))
	}
	if c.TLSKeyFile == "" {
		errs = append(errs, errors.New("TLS_PRIVATE_KEY_FILE must not be empty"))
	}
	if c.ListenAddress == "" {
		errs = append(errs, errors.New("LISTEN_ADDRESS must not be empty"))
	}
	if c.ProbeAddress == "" {
		errs = append(errs, errors.New("PROBE_ADDRESS must not be empty"))
	}
	if c.ShutdownGracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be positive, got %s", c.ShutdownGracePeriod))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_REQUEST_BODY_BYTES must be positive, got %d", c.MaxRequestBodyBytes))
	}
	switch c.Logging.Format {
	case LogFormatAuto, LogFormatJSON, LogFormatConsole:
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be one of auto, json, console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
