// Package offload implements the payload-offload sidecar (C14): oversized
// data fields are uploaded to an S3-compatible object store and replaced
// in-place with a small reference shape.
package offload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/relaydev/chatrelay/internal/message"
)

// Uploader is the subset of storage.S3Client the offloader depends on.
type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64) error
	GenerateKey(digestHex string) string
	Bucket() string
}

// reference is the shape that replaces data when offload fires (§3).
type reference struct {
	Offload     bool   `json:"offload"`
	Key         string `json:"key"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType"`
}

// Offloader implements chat.Offloader. A nil Offloader (or one constructed
// with threshold <= 0) disables the sidecar entirely.
type Offloader struct {
	uploader  Uploader
	threshold int
	timeout   time.Duration
	logger    *slog.Logger
}

// New constructs an Offloader. threshold is compared against the marshaled
// size in bytes of the payload's data field; thresholds <= 0 disable the
// sidecar (MaybeOffload becomes a no-op).
func New(uploader Uploader, threshold int, timeout time.Duration, logger *slog.Logger) *Offloader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Offloader{uploader: uploader, threshold: threshold, timeout: timeout, logger: logger.With("component", "offload")}
}

// MaybeOffload uploads payload's data field to the object store and
// rewrites it to a reference shape when it exceeds the configured
// threshold. A failed upload is a resource error (§7): the original
// oversized payload passes through unmodified rather than being dropped.
func (o *Offloader) MaybeOffload(p *message.Payload) *message.Payload {
	if o == nil || o.uploader == nil || o.threshold <= 0 {
		return p
	}

	data := p.Data()
	if len(data) <= o.threshold {
		return p
	}

	digest := sha256.Sum256(data)
	digestHex := hex.EncodeToString(digest[:])
	key := o.uploader.GenerateKey(digestHex)

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := o.uploader.Upload(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		o.logger.Warn("offload upload failed, sending oversized payload unmodified", "error", err, "bytes", len(data))
		return p
	}

	ref := reference{Offload: true, Key: key, Size: len(data), ContentType: "application/json"}
	raw, err := json.Marshal(ref)
	if err != nil {
		o.logger.Warn("offload reference marshal failed, sending oversized payload unmodified", "error", err)
		return p
	}

	p.SetData(raw)
	o.logger.Info("offloaded oversized payload data", "key", key, "bytes", len(data))
	return p
}
