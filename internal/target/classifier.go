package target

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaydev/chatrelay/internal/ai"
	"github.com/relaydev/chatrelay/internal/message"
)

// ContentFlagType is the event type synthesized by Classifier on a positive
// verdict. The notifier's default ignore list must include this type so a
// flag event can never itself be classified again.
const ContentFlagType = "content_flag"

const moderationSystemPrompt = `You are a content moderation classifier for a chat relay.
Given a single user message, decide whether it violates a basic safety policy
(harassment, hate speech, sexual content involving minors, credible threats of
violence, or doxxing). Respond with ONLY a JSON object of the form
{"flagged": bool, "reason": string}. The reason must be empty when not flagged.`

type verdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason"`
}

// ingress is how Classifier republishes a content-flag event onto the
// notifier's own queue, kept as a narrow function type rather than a direct
// dependency on the notifier package to avoid an import cycle.
type ingress func(*message.Payload)

// Classifier is the C15 target: it submits text payloads to an AIQuerier
// backend for a moderation verdict and republishes flagged ones as
// content_flag events through the notifier.
type Classifier struct {
	baseTarget
	querier   ai.AIQuerier
	generator *message.Generator
	publish   ingress
	timeout   time.Duration
}

// NewClassifier constructs a content classifier target. publish is called
// with the synthesized content_flag payload when the querier flags a
// message; it is expected to hand the payload to the same notifier ingress
// used for ordinary payloads.
func NewClassifier(querier ai.AIQuerier, generator *message.Generator, publish ingress, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &Classifier{querier: querier, generator: generator, publish: publish, timeout: timeout}
	switch {
	case querier == nil:
		t.errMsg = "target: classifier requires an AIQuerier"
	case generator == nil:
		t.errMsg = "target: classifier requires a message generator"
	case publish == nil:
		t.errMsg = "target: classifier requires a publish callback"
	default:
		t.valid = true
	}
	return t
}

func (t *Classifier) Type() string { return "content_classifier" }

// Send classifies text payloads only; non-text payloads and payloads
// already synthesized by this target are out of scope and succeed
// immediately without invoking the querier.
func (t *Classifier) Send(payload *message.Payload) (bool, string) {
	if !payload.TypeIs("text") {
		return true, ""
	}
	if !t.querier.IsAvailable() {
		return false, "target: classifier backend unavailable"
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	resp, err := t.querier.Query(ctx, moderationSystemPrompt, []ai.Message{
		{Role: "user", Content: payload.Text()},
	}, 256)
	if err != nil {
		return false, fmt.Sprintf("target: classify: %v", err)
	}

	v, err := parseVerdict(resp.Content)
	if err != nil {
		return false, fmt.Sprintf("target: parse verdict: %v", err)
	}
	if !v.Flagged {
		return true, ""
	}

	data, _ := json.Marshal(map[string]any{
		"verdict":         true,
		"reason":          v.Reason,
		"sourceMessageID": payload.ID().String(),
	})
	flag := message.New(ContentFlagType, 0, []uint64{payload.Sender()}, "", data)
	flag.AssignID(t.generator)
	t.publish(flag)

	return true, ""
}

// parseVerdict tolerates a model wrapping the JSON object in prose or code
// fences by scanning for the first '{' and last '}'.
func parseVerdict(raw string) (verdict, error) {
	start := -1
	end := -1
	for i, c := range raw {
		if c == '{' && start == -1 {
			start = i
		}
		if c == '}' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return verdict{}, fmt.Errorf("no JSON object found in response")
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return verdict{}, err
	}
	return v, nil
}
