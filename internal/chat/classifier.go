package chat

import (
	"context"
	"maps"

	"github.com/ferro-labs/verifygw/internal/logging"
)

const systemPrompt = `You are the assistant of an insurance verification service.
Classify the user's message into exactly one intent:
greeting, get_policy_number, check_coverage, check_expiry, fallback.
Reply with one line "intent: <intent>" followed by any entities you find, one per line,
as "policy_number: ...", "member_id: ...", "dob: YYYY-MM-DD", "last_name: ...".`

// Classifier classifies messages with a language model when one is
// configured and with keyword rules otherwise. Model failures fall back to
// the rules.
type Classifier struct {
	completer Completer
}

// NewClassifier returns a Classifier. completer may be nil.
func NewClassifier(completer Completer) *Classifier {
	return &Classifier{completer: completer}
}

// Classify returns the intent and entities of text.
func (c *Classifier) Classify(ctx context.Context, text string) Classification {
	rules := ClassifyRules(text)
	if c == nil || c.completer == nil {
		return rules
	}

	reply, err := c.completer.Complete(ctx, systemPrompt, text)
	if err != nil {
		logging.FromContext(ctx).Warn("intent classification failed, using rules",
			"classifier", c.completer.Name(), "error", err)
		return rules
	}

	parsed := ClassifyRules(reply)
	intent, ok := intentFromLabel(reply)
	if !ok {
		intent = parsed.Intent
	}
	// Entities found in the user's own words win over the model's.
	entities := parsed.Entities
	maps.Copy(entities, rules.Entities)
	return Classification{
		Intent:     intent,
		Confidence: 0.9,
		Entities:   entities,
		Classifier: c.completer.Name(),
	}
}
