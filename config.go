// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mrest holds the daemon configuration shared by the commands.
package mrest

import (
	"errors"
	"fmt"
	"net"
	"time"

	mrerrors "github.com/absmach/mrest/pkg/errors"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every environment variable read by the daemon.
const EnvPrefix = "MREST_"

// Sink names accepted by Config.Sink.
const (
	SinkLog  = "log"
	SinkMQTT = "mqtt"
)

var (
	errInvalidSink      = errors.New("invalid sink")
	errInvalidLogLevel  = errors.New("invalid log level")
	errInvalidLogFormat = errors.New("invalid log format")
	errInvalidSize      = errors.New("invalid size")
)

// Config is the daemon configuration.
type Config struct {
	Host string `env:"HOST"`
	Port string `env:"PORT" envDefault:"8080"`

	// Basic auth credentials every request must carry.
	Username string `env:"USERNAME,required"`
	Password string `env:"PASSWORD,required"`

	// Zero disables the corresponding deadline.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"     envDefault:"60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"    envDefault:"60s"`
	HandlerTimeout  time.Duration `env:"HANDLER_TIMEOUT"  envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	MaxRequestSize int `env:"MAX_REQUEST_SIZE" envDefault:"1048576"`
	ReadBufferSize int `env:"READ_BUFFER_SIZE" envDefault:"65536"`

	// Observability. A zero port disables the server.
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8081"`

	// Rate limiting of dispatches. A zero capacity disables the limiter.
	RateLimitCapacity  int64 `env:"RATE_LIMIT_CAPACITY"  envDefault:"0"`
	RateLimitRefill    int64 `env:"RATE_LIMIT_REFILL"    envDefault:"10"`
	GlobalRateCapacity int64 `env:"GLOBAL_RATE_CAPACITY" envDefault:"0"`
	GlobalRateRefill   int64 `env:"GLOBAL_RATE_REFILL"   envDefault:"1000"`

	// Sink receives every dispatched body: "log" or "mqtt".
	Sink string     `env:"SINK" envDefault:"log"`
	MQTT MQTTConfig `envPrefix:"MQTT_"`
}

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker         string        `env:"BROKER"          envDefault:"tcp://localhost:1883"`
	ClientID       string        `env:"CLIENT_ID"       envDefault:"mrest"`
	Topic          string        `env:"TOPIC"           envDefault:"mrest/requests"`
	QoS            uint8         `env:"QOS"             envDefault:"1"`
	Retained       bool          `env:"RETAINED"        envDefault:"false"`
	Username       string        `env:"USERNAME"`
	Password       string        `env:"PASSWORD"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`

	// Circuit breaker around publishes.
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, mrerrors.Wrap(err, "failed to parse environment")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.Sink {
	case SinkLog, SinkMQTT:
	default:
		return fmt.Errorf("%w: %q", errInvalidSink, c.Sink)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", errInvalidLogLevel, c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %q", errInvalidLogFormat, c.LogFormat)
	}
	if c.MaxRequestSize < 0 || c.ReadBufferSize < 0 {
		return fmt.Errorf("%w: sizes must not be negative", errInvalidSize)
	}
	return nil
}

// Address is the TCP listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}
