package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/metrics"
	"github.com/ferro-labs/verifygw/internal/policy"
	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/ferro-labs/verifygw/internal/store"
)

// PolicyLookup is the part of the policy service the assistant needs.
type PolicyLookup interface {
	Info(ctx context.Context, id provider.Identity, force bool) (*policy.Info, error)
	ByNumber(ctx context.Context, number string, force bool) (*store.Policy, coordinator.Source, error)
}

// Message is one user turn.
type Message struct {
	Text      string
	SessionID string
	UserID    string
	IP        string
	UserAgent string
}

// Reply is the assistant's answer to a Message.
type Reply struct {
	Response         string            `json:"response"`
	Intent           Intent            `json:"intent"`
	Entities         map[string]string `json:"entities"`
	SessionID        string            `json:"session_id"`
	RequiresFollowup bool              `json:"requires_followup"`
	FollowupQuestion string            `json:"followup_question,omitempty"`
	Source           string            `json:"source,omitempty"`
}

const (
	askIdentity     = "Please provide: Member ID, Date of Birth (YYYY-MM-DD), and Last Name"
	askPolicyNumber = "Please provide your policy number"

	greetingText = "Hello! I'm your insurance verification assistant. How can I help you today?"
	fallbackText = "I'm not sure I understand. Could you please rephrase your question or provide your policy number?"
	notFoundText = "I couldn't find your policy information. Please verify your details and try again."
	troubleText  = "I'm having trouble reaching the insurance provider right now. Please try again shortly."
)

// Service runs the assistant.
type Service struct {
	classifier *Classifier
	sessions   *Sessions
	policies   PolicyLookup
	audit      store.AuditLog
}

// NewService creates a Service. audit may be nil.
func NewService(classifier *Classifier, sessions *Sessions, policies PolicyLookup, audit store.AuditLog) *Service {
	return &Service{classifier: classifier, sessions: sessions, policies: policies, audit: audit}
}

// Handle answers one message, updating the session context.
func (s *Service) Handle(ctx context.Context, msg Message) (*Reply, error) {
	log := logging.FromContext(ctx)
	sess, err := s.session(ctx, msg)
	if err != nil {
		return nil, err
	}

	c := s.classifier.Classify(ctx, msg.Text)
	maps.Copy(sess.Entities, c.Entities)

	intent := c.Intent
	// A bare answer to a follow-up question continues the previous intent.
	if intent == IntentFallback && len(c.Entities) > 0 && sess.LastIntent.PolicyRelated() {
		intent = sess.LastIntent
	}

	reply := s.respond(ctx, intent, sess.Entities)
	reply.Intent = intent
	reply.SessionID = sess.ID
	reply.Entities = maps.Clone(sess.Entities)

	sess.LastIntent = intent
	sess.Messages++
	if err := s.sessions.Save(ctx, sess); err != nil {
		log.Warn("chat session not saved", "session_id", sess.ID, "error", err)
	}

	metrics.ChatMessages.WithLabelValues(string(intent), c.Classifier).Inc()
	s.writeAudit(ctx, msg, reply, c.Classifier)
	return reply, nil
}

// Session returns a stored session owned by userID.
func (s *Service) Session(ctx context.Context, id, userID string) (*Session, error) {
	return s.sessions.Get(ctx, id, userID)
}

// StartSession creates and stores an empty session for userID.
func (s *Service) StartSession(ctx context.Context, userID string) (*Session, error) {
	sess := s.sessions.New("", userID)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// session loads the message's session, starting a new one under the given
// id when it does not exist. A store failure starts a fresh session rather
// than failing the turn.
func (s *Service) session(ctx context.Context, msg Message) (*Session, error) {
	if msg.SessionID == "" {
		return s.sessions.New("", msg.UserID), nil
	}
	sess, err := s.sessions.load(ctx, msg.SessionID)
	switch {
	case err == nil:
		if !sess.ownedBy(msg.UserID) {
			return nil, ErrSessionNotFound
		}
		return sess, nil
	case errors.Is(err, ErrSessionNotFound):
		return s.sessions.New(msg.SessionID, msg.UserID), nil
	default:
		logging.FromContext(ctx).Warn("chat session unavailable, starting fresh",
			"session_id", msg.SessionID, "error", err)
		return s.sessions.New(msg.SessionID, msg.UserID), nil
	}
}

func (s *Service) respond(ctx context.Context, intent Intent, entities map[string]string) *Reply {
	switch intent {
	case IntentGreeting:
		return &Reply{Response: greetingText}
	case IntentFallback:
		return &Reply{Response: fallbackText}
	}

	if number := entities[EntityPolicyNumber]; number != "" {
		r, found := s.answerByNumber(ctx, intent, number)
		if found {
			return r
		}
		delete(entities, EntityPolicyNumber)
		if _, ok := identity(entities); !ok {
			return r
		}
	}
	if id, ok := identity(entities); ok {
		return s.answerByIdentity(ctx, intent, id)
	}
	return followup(intent)
}

// answerByNumber reports found=false only when the number is unknown.
func (s *Service) answerByNumber(ctx context.Context, intent Intent, number string) (_ *Reply, found bool) {
	p, source, err := s.policies.ByNumber(ctx, number, false)
	if errors.Is(err, policy.ErrNotFound) {
		return &Reply{
			Response:         fmt.Sprintf("I couldn't find policy %s. I can look it up with your member details instead.", number),
			RequiresFollowup: true,
			FollowupQuestion: askIdentity,
		}, false
	}
	if err != nil {
		return s.trouble(ctx, err), true
	}
	r := &Reply{Source: string(source)}
	switch intent {
	case IntentCheckCoverage:
		r.Response = coverageAnswer(p.CoverageStatus)
	case IntentCheckExpiry:
		r.Response = expiryAnswer(p.ExpiryDate)
	default:
		r.Response = fmt.Sprintf("Policy %s is %s.", p.PolicyNumber, strings.ToUpper(p.CoverageStatus))
		if p.ExpiryDate != "" {
			r.Response += " It expires on " + p.ExpiryDate + "."
		}
	}
	return r, true
}

func (s *Service) answerByIdentity(ctx context.Context, intent Intent, id provider.Identity) *Reply {
	info, err := s.policies.Info(ctx, id, false)
	switch {
	case errors.Is(err, provider.ErrInvalidIdentity):
		return &Reply{
			Response:         "Those details don't look right: " + strings.TrimPrefix(err.Error(), provider.ErrInvalidIdentity.Error()+": "),
			RequiresFollowup: true,
			FollowupQuestion: askIdentity,
		}
	case errors.Is(err, policy.ErrNotFound):
		return &Reply{Response: notFoundText, RequiresFollowup: true, FollowupQuestion: askIdentity}
	case err != nil:
		return s.trouble(ctx, err)
	}
	r := &Reply{Source: string(info.Source)}
	switch intent {
	case IntentCheckCoverage:
		r.Response = coverageAnswer(info.CoverageStatus)
	case IntentCheckExpiry:
		r.Response = expiryAnswer(info.ExpiryDate)
	default:
		r.Response = "Your policy number is: " + info.PolicyNumber
	}
	return r
}

func (s *Service) trouble(ctx context.Context, err error) *Reply {
	logging.FromContext(ctx).Error("chat policy lookup failed", "error", err)
	return &Reply{Response: troubleText}
}

func followup(intent Intent) *Reply {
	switch intent {
	case IntentCheckCoverage:
		return &Reply{
			Response:         "I can check your coverage status. Could you please provide your member ID, date of birth, and last name?",
			RequiresFollowup: true,
			FollowupQuestion: askIdentity,
		}
	case IntentCheckExpiry:
		return &Reply{
			Response:         "I can check your policy expiry date. Could you please provide your member ID, date of birth, and last name?",
			RequiresFollowup: true,
			FollowupQuestion: askIdentity,
		}
	default:
		return &Reply{
			Response:         "I'd be happy to help you with your policy. Could you please provide your policy number, or your member ID, date of birth, and last name?",
			RequiresFollowup: true,
			FollowupQuestion: askPolicyNumber,
		}
	}
}

func coverageAnswer(status string) string {
	switch status {
	case store.CoverageActive:
		return "Yes, your insurance coverage is currently active."
	case store.CoverageInactive:
		return "Your insurance coverage is currently inactive."
	default:
		return "Your coverage status is: " + status
	}
}

func expiryAnswer(date string) string {
	if date == "" {
		return "Expiry date information is not available."
	}
	return "Your policy expires on: " + date
}

func identity(entities map[string]string) (provider.Identity, bool) {
	id := provider.Identity{
		MemberID: entities[EntityMemberID],
		DOB:      entities[EntityDOB],
		LastName: entities[EntityLastName],
	}
	return id, id.MemberID != "" && id.DOB != "" && id.LastName != ""
}

// writeAudit records the turn. Entity values are left out of the log.
func (s *Service) writeAudit(ctx context.Context, msg Message, reply *Reply, classifier string) {
	if s.audit == nil {
		return
	}
	names := slices.Sorted(maps.Keys(reply.Entities))
	details, _ := json.Marshal(map[string]any{
		"session_id":        reply.SessionID,
		"intent":            reply.Intent,
		"classifier":        classifier,
		"entities":          names,
		"requires_followup": reply.RequiresFollowup,
	})
	err := s.audit.WriteAudit(ctx, store.AuditEntry{
		Action:    "chat",
		UserID:    msg.UserID,
		TraceID:   logging.TraceIDFromContext(ctx),
		Details:   details,
		IP:        msg.IP,
		UserAgent: msg.UserAgent,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("chat audit write failed", "error", err)
	}
}
