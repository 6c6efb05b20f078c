// Package chat implements the policy assistant: intent classification,
// entity extraction, per-session context kept in the KV store, and answers
// resolved through the policy service.
package chat

import (
	"regexp"
	"strings"
)

// Intent is a classified user intent.
type Intent string

// Supported intents.
const (
	IntentGreeting        Intent = "greeting"
	IntentGetPolicyNumber Intent = "get_policy_number"
	IntentCheckCoverage   Intent = "check_coverage"
	IntentCheckExpiry     Intent = "check_expiry"
	IntentFallback        Intent = "fallback"
)

// Intents lists every intent, most specific first.
var Intents = []Intent{IntentGetPolicyNumber, IntentCheckCoverage, IntentCheckExpiry, IntentGreeting, IntentFallback}

// PolicyRelated reports whether answering i needs policy data.
func (i Intent) PolicyRelated() bool {
	switch i {
	case IntentGetPolicyNumber, IntentCheckCoverage, IntentCheckExpiry:
		return true
	}
	return false
}

// Entity names.
const (
	EntityPolicyNumber = "policy_number"
	EntityMemberID     = "member_id"
	EntityDOB          = "dob"
	EntityLastName     = "last_name"
)

// Classification is the outcome of classifying one message.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Classifier string            `json:"classifier"`
}

var intentRules = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentGetPolicyNumber, regexp.MustCompile(`(?i)\bpolicy[\s_-]*(?:number\b|no\b|#)`)},
	{IntentCheckExpiry, regexp.MustCompile(`(?i)\b(expir\w*|valid until|renewal|end date)\b`)},
	{IntentCheckCoverage, regexp.MustCompile(`(?i)\b(coverage|covered|cover|insured|active|valid)\b`)},
	{IntentGreeting, regexp.MustCompile(`(?i)\b(hello|hi|hey|greetings?|good (morning|afternoon|evening))\b`)},
}

// ClassifyRules classifies text with keyword rules and extracts entities
// from it.
func ClassifyRules(text string) Classification {
	c := Classification{
		Intent:     IntentFallback,
		Confidence: 0.3,
		Entities:   ExtractEntities(text),
		Classifier: "rules",
	}
	for _, rule := range intentRules {
		if rule.re.MatchString(text) {
			c.Intent = rule.intent
			c.Confidence = 0.8
			break
		}
	}
	return c
}

// intentFromLabel finds an intent name in model output such as
// "intent: check_coverage".
func intentFromLabel(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, i := range Intents {
		if strings.Contains(lower, string(i)) {
			return i, true
		}
	}
	return "", false
}

var (
	digitsRe         = regexp.MustCompile(`\b\d{6,}\b`)
	prefixedRe       = regexp.MustCompile(`(?i)\bPOL(?:-[A-Z0-9]+)+\b`)
	alnumRe          = regexp.MustCompile(`\b[A-Z0-9]{6,}\b`)
	hasDigitRe       = regexp.MustCompile(`\d`)
	memberIDRe       = regexp.MustCompile(`(?i)\bmember(?:[\s_-]*id)?\s*(?:is\s+|[:#=]\s*)?([A-Z0-9][A-Z0-9-]{2,})\b`)
	dobRe            = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	lastNameRe       = regexp.MustCompile(`(?i)\b(?:last[\s_-]*name|surname)\s*(?:is\s+|[:=]\s*)?([A-Za-z][A-Za-z'-]*)`)
	policyMentionRe  = regexp.MustCompile(`(?i)policy`)
	// "ABC123, 1990-01-01, Doe" answers the identity follow-up question.
	identityTripleRe = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9-]*)\s*,\s*(\d{4}-\d{2}-\d{2})\s*,\s*([A-Za-z][A-Za-z'-]*)\s*\.?\s*$`)
)

// ExtractEntities pulls policy number, member id, date of birth and last
// name out of free text. Missing entities are absent from the map.
func ExtractEntities(text string) map[string]string {
	out := make(map[string]string)
	if m := memberIDRe.FindStringSubmatch(text); m != nil {
		out[EntityMemberID] = m[1]
	}
	if m := dobRe.FindStringSubmatch(text); m != nil {
		out[EntityDOB] = m[1]
	}
	if m := lastNameRe.FindStringSubmatch(text); m != nil {
		out[EntityLastName] = m[1]
	}
	if m := identityTripleRe.FindStringSubmatch(text); m != nil {
		out[EntityMemberID] = m[1]
		out[EntityDOB] = m[2]
		out[EntityLastName] = m[3]
	}
	if n := policyNumber(text, out[EntityMemberID]); n != "" {
		out[EntityPolicyNumber] = n
	}
	return out
}

// policyNumber prefers a run of six or more digits, then a POL-prefixed
// number, then any upper-case alphanumeric token with a digit when the text
// mentions a policy. The member id never counts as a policy number.
func policyNumber(text, memberID string) string {
	notMember := func(n string) bool { return !strings.EqualFold(n, memberID) }
	for _, n := range digitsRe.FindAllString(text, -1) {
		if notMember(n) {
			return n
		}
	}
	if n := prefixedRe.FindString(text); n != "" && notMember(n) {
		return strings.ToUpper(n)
	}
	if !policyMentionRe.MatchString(text) {
		return ""
	}
	for _, n := range alnumRe.FindAllString(text, -1) {
		if hasDigitRe.MatchString(n) && notMember(n) {
			return n
		}
	}
	return ""
}
