// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt forwards dispatched request bodies to an MQTT broker.
//
// Publisher implements handler.Handler, so it can be passed straight to the
// TCP server. Every authenticated body becomes one message on the configured
// topic. Publish failures are logged and counted; the client still receives
// 200 because handlers cannot signal failure.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/absmach/mrest/pkg/breaker"
	"github.com/absmach/mrest/pkg/handler"
	"github.com/absmach/mrest/pkg/metrics"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	sinkName = "mqtt"

	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	disconnectQuiesce     = 250 // milliseconds

	maxQoS = 2
)

var (
	// ErrNotConnected is returned when publishing without a broker connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic or one with wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid publish topic")

	// ErrMissingBroker is returned when no broker URL is configured.
	ErrMissingBroker = errors.New("mqtt: broker URL is required")
)

// Config holds the sink configuration.
type Config struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883 or ssl://host:8883.
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Retained bool

	Username string
	Password string

	// ConnectTimeout bounds the initial connection. Defaults to 10s.
	ConnectTimeout time.Duration

	// PublishTimeout bounds waiting for a publish acknowledgement.
	// Defaults to 5s.
	PublishTimeout time.Duration

	// Breaker, when set, guards every publish so a dead broker fails fast.
	Breaker *breaker.CircuitBreaker

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	if c.Broker == "" {
		return ErrMissingBroker
	}
	if c.Topic == "" || strings.ContainsAny(c.Topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, c.Topic)
	}
	if c.QoS > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher publishes request bodies to a broker.
type Publisher struct {
	cfg    Config
	client client
	logger *slog.Logger
}

var _ handler.Handler = (*Publisher)(nil)

// New validates cfg and builds a publisher. It does not connect; call
// Connect before serving traffic.
func New(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &Publisher{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("sink", sinkName)),
	}
	p.client = paho.NewClient(p.clientOptions())
	return p, nil
}

func (p *Publisher) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(p.cfg.ConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		p.logger.Info("connected to broker", slog.String("broker", p.cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Warn("broker connection lost", slog.String("error", err.Error()))
	})

	return opts
}

// Connect establishes the broker connection, bounded by ConnectTimeout and
// ctx.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	if err := p.wait(ctx, token, p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Publish sends payload to the configured topic and waits for the broker
// acknowledgement required by the QoS level.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	if p.cfg.Breaker == nil {
		return p.publish(ctx, payload)
	}
	err := p.cfg.Breaker.Call(func() error {
		return p.publish(ctx, payload)
	})
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	if err := p.wait(ctx, token, p.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Handle implements handler.Handler.
func (p *Publisher) Handle(ctx context.Context, hctx *handler.Context, body []byte) {
	err := p.Publish(ctx, body)
	p.cfg.Metrics.ObservePublish(sinkName, err)

	if err != nil {
		p.logger.Warn("failed to forward request body",
			slog.String("session", hctx.SessionID),
			slog.String("topic", p.cfg.Topic),
			slog.String("error", err.Error()))
		return
	}

	p.logger.Debug("request body forwarded",
		slog.String("session", hctx.SessionID),
		slog.String("topic", p.cfg.Topic),
		slog.Int("payload_size", len(body)))
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker, letting in-flight work settle briefly.
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}

func (p *Publisher) wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", timeout)
	}
}
