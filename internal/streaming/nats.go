// Package streaming wraps the NATS JetStream client used by the
// broker-publish target (C11) to mirror chat payloads onto message-broker
// subjects.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSClient wraps a NATS connection with JetStream support for publishing
// chat-relay event mirrors.
type NATSClient struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSClient connects to a NATS server and enables JetStream.
func NewNATSClient(url string) (*NATSClient, error) {
	logger := slog.Default().With("component", "nats")

	opts := []nats.Option{
		nats.Name("chatrelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &NATSClient{conn: nc, js: js, logger: logger}, nil
}

// Close drains the connection (flushes pending messages) and disconnects.
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}

// EnsureStream creates the chat-events JetStream stream if it does not
// already exist.
func (c *NATSClient) EnsureStream(ctx context.Context, subjectPrefix string) error {
	cfg := jetstream.StreamConfig{
		Name:        "CHAT_EVENTS",
		Description: "Mirrored chat payloads for broker-publish targets",
		Subjects:    []string{subjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		MaxBytes:    1 * 1024 * 1024 * 1024,
	}

	_, err := c.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	c.logger.Info("JetStream stream ready", "stream", cfg.Name)
	return nil
}

// Publish publishes raw bytes to subject and waits for the broker's ack.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	c.logger.Debug("published message", "subject", subject, "bytes", len(data))
	return nil
}

// Ping verifies the NATS connection is alive and JetStream is available.
func (c *NATSClient) Ping() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.js.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("nats jetstream ping: %w", err)
	}
	return nil
}
