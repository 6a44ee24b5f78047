package offload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/relaydev/chatrelay/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	uploadErr   error
	lastKey     string
	lastSize    int64
	uploadCalls int
}

func (f *fakeUploader) Upload(_ context.Context, key string, r io.Reader, size int64) error {
	f.uploadCalls++
	f.lastKey = key
	f.lastSize = size
	_, _ = io.Copy(io.Discard, r)
	return f.uploadErr
}

func (f *fakeUploader) GenerateKey(digestHex string) string { return "chat-offload/" + digestHex }
func (f *fakeUploader) Bucket() string                      { return "test-bucket" }

func bigPayload(t *testing.T, size int) *message.Payload {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = 'a'
	}
	raw, err := json.Marshal(string(data))
	require.NoError(t, err)
	p := message.New(message.TypeText, 1, []uint64{2}, "hi", raw)
	p.AssignID(message.NewGenerator())
	return p
}

func TestMaybeOffload_NoOpBelowThreshold(t *testing.T) {
	fu := &fakeUploader{}
	o := New(fu, 1000, 0, nil)
	p := bigPayload(t, 10)

	result := o.MaybeOffload(p)
	assert.Same(t, p, result)
	assert.Equal(t, 0, fu.uploadCalls)
}

func TestMaybeOffload_RewritesDataAboveThreshold(t *testing.T) {
	fu := &fakeUploader{}
	o := New(fu, 10, 0, nil)
	p := bigPayload(t, 500)

	result := o.MaybeOffload(p)
	assert.Equal(t, 1, fu.uploadCalls)

	var ref reference
	require.NoError(t, json.Unmarshal(result.Data(), &ref))
	assert.True(t, ref.Offload)
	assert.NotEmpty(t, ref.Key)
	assert.Greater(t, ref.Size, 0)
}

func TestMaybeOffload_PassesThroughUnmodifiedOnUploadFailure(t *testing.T) {
	fu := &fakeUploader{uploadErr: errors.New("bucket unreachable")}
	o := New(fu, 10, 0, nil)
	p := bigPayload(t, 500)
	originalData := append([]byte(nil), p.Data()...)

	result := o.MaybeOffload(p)
	assert.Equal(t, originalData, []byte(result.Data()))
}

func TestMaybeOffload_DisabledWhenThresholdNonPositive(t *testing.T) {
	fu := &fakeUploader{}
	o := New(fu, 0, 0, nil)
	p := bigPayload(t, 500)

	result := o.MaybeOffload(p)
	assert.Same(t, p, result)
	assert.Equal(t, 0, fu.uploadCalls)
}

func TestMaybeOffload_NilOffloaderIsNoOp(t *testing.T) {
	var o *Offloader
	p := bigPayload(t, 500)
	assert.Same(t, p, o.MaybeOffload(p))
}
