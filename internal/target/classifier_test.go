package target

import (
	"context"
	"testing"

	"github.com/relaydev/chatrelay/internal/ai"
	"github.com/relaydev/chatrelay/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	available bool
	content   string
	err       error
}

func (f fakeQuerier) IsAvailable() bool { return f.available }

func (f fakeQuerier) Query(_ context.Context, _ string, _ []ai.Message, _ int) (*ai.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Response{Content: f.content}, nil
}

func TestNewClassifier_InvalidWithoutDependencies(t *testing.T) {
	assert.False(t, NewClassifier(nil, message.NewGenerator(), func(*message.Payload) {}, 0).IsValid())
	assert.False(t, NewClassifier(fakeQuerier{available: true}, nil, func(*message.Payload) {}, 0).IsValid())
	assert.False(t, NewClassifier(fakeQuerier{available: true}, message.NewGenerator(), nil, 0).IsValid())
}

func TestClassifier_Send_SkipsNonTextPayloads(t *testing.T) {
	gen := message.NewGenerator()
	var published []*message.Payload
	tgt := NewClassifier(fakeQuerier{available: true}, gen, func(p *message.Payload) { published = append(published, p) }, 0)

	p := message.New(message.TypeBinary, 1, []uint64{2}, "", nil)
	p.AssignID(gen)

	ok, errMsg := tgt.Send(p)
	assert.True(t, ok)
	assert.Empty(t, errMsg)
	assert.Empty(t, published)
}

func TestClassifier_Send_PublishesFlagOnVerdict(t *testing.T) {
	gen := message.NewGenerator()
	var published []*message.Payload
	q := fakeQuerier{available: true, content: `{"flagged": true, "reason": "harassment"}`}
	tgt := NewClassifier(q, gen, func(p *message.Payload) { published = append(published, p) }, 0)

	ok, _ := tgt.Send(textPayload(t, gen))
	assert.True(t, ok)
	require.Len(t, published, 1)
	assert.Equal(t, ContentFlagType, published[0].Type())
	assert.Equal(t, []uint64{1}, published[0].Recipients())
}

func TestClassifier_Send_NoPublishWhenNotFlagged(t *testing.T) {
	gen := message.NewGenerator()
	var published []*message.Payload
	q := fakeQuerier{available: true, content: `{"flagged": false, "reason": ""}`}
	tgt := NewClassifier(q, gen, func(p *message.Payload) { published = append(published, p) }, 0)

	ok, errMsg := tgt.Send(textPayload(t, gen))
	assert.True(t, ok)
	assert.Empty(t, errMsg)
	assert.Empty(t, published)
}

func TestClassifier_Send_FailsWhenBackendUnavailable(t *testing.T) {
	gen := message.NewGenerator()
	tgt := NewClassifier(fakeQuerier{available: false}, gen, func(*message.Payload) {}, 0)

	ok, errMsg := tgt.Send(textPayload(t, gen))
	assert.False(t, ok)
	assert.NotEmpty(t, errMsg)
}

func TestParseVerdict_ToleratesSurroundingProse(t *testing.T) {
	v, err := parseVerdict("Sure, here you go:\n```json\n{\"flagged\": true, \"reason\": \"spam\"}\n```")
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.Equal(t, "spam", v.Reason)
}

func TestParseVerdict_ErrorsWithoutJSON(t *testing.T) {
	_, err := parseVerdict("no object here")
	assert.Error(t, err)
}
