package streaming

import "context"

// Publisher is the subset of NATSClient the broker-publish target depends
// on, narrowed for testability.
type Publisher interface {
	EnsureStream(ctx context.Context, subjectPrefix string) error
	Publish(ctx context.Context, subject string, data []byte) error
	Ping() error
	Close()
}
