package target

import (
	"context"
	"fmt"
	"time"

	"github.com/relaydev/chatrelay/internal/message"
)

// broker is the subset of streaming.NATSClient a NATSPublish target needs.
type broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublish mirrors payloads onto a JetStream subject. Success is a
// broker acknowledgement with no error reply.
type NATSPublish struct {
	baseTarget
	client  broker
	subject string
	timeout time.Duration
}

// NewNATSPublish constructs a broker-publish target. timeout defaults to
// 10s to match the other targets' per-send default.
func NewNATSPublish(client broker, subject string, timeout time.Duration) *NATSPublish {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &NATSPublish{client: client, subject: subject, timeout: timeout}
	switch {
	case client == nil:
		t.errMsg = "target: nats publish requires a client"
	case subject == "":
		t.errMsg = "target: nats publish requires a subject"
	default:
		t.valid = true
	}
	return t
}

func (t *NATSPublish) Type() string { return "broker" }

func (t *NATSPublish) Send(payload *message.Payload) (bool, string) {
	wire, err := payload.ToWire()
	if err != nil {
		return false, fmt.Sprintf("target: serialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	if err := t.client.Publish(ctx, t.subject, wire); err != nil {
		return false, fmt.Sprintf("target: publish: %v", err)
	}
	return true, ""
}
