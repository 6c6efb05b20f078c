package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/google/uuid"
)

// SessionPrefix prefixes chat session keys in the KV store.
const SessionPrefix = "chat_session:"

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = time.Hour

// ErrSessionNotFound is returned for unknown or expired sessions and for
// sessions owned by another user.
var ErrSessionNotFound = errors.New("chat session not found")

// Session is the accumulated context of one conversation.
type Session struct {
	ID           string            `json:"session_id"`
	UserID       string            `json:"user_id,omitempty"`
	Entities     map[string]string `json:"context"`
	LastIntent   Intent            `json:"last_intent,omitempty"`
	Messages     int               `json:"message_count"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
}

// Sessions keeps sessions in a KV store. Every save renews the TTL.
type Sessions struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewSessions creates a session store. ttl <= 0 uses DefaultSessionTTL.
func NewSessions(store kv.Store, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{store: store, ttl: ttl, now: time.Now}
}

// New returns an unsaved session for userID. An empty id gets a fresh uuid.
func (s *Sessions) New(id, userID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	return &Session{
		ID:           id,
		UserID:       userID,
		Entities:     map[string]string{},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Get loads the session id on behalf of userID.
func (s *Sessions) Get(ctx context.Context, id, userID string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.ownedBy(userID) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Sessions) load(ctx context.Context, id string) (*Session, error) {
	raw, ok, err := s.store.Get(ctx, SessionPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode chat session: %w", err)
	}
	if sess.Entities == nil {
		sess.Entities = map[string]string{}
	}
	return &sess, nil
}

func (sess *Session) ownedBy(userID string) bool {
	return sess.UserID == "" || sess.UserID == userID
}

// Save stores sess and stamps its last activity.
func (s *Sessions) Save(ctx context.Context, sess *Session) error {
	sess.LastActivity = s.now().UTC()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode chat session: %w", err)
	}
	if err := s.store.Set(ctx, SessionPrefix+sess.ID, raw, s.ttl); err != nil {
		return fmt.Errorf("save chat session: %w", err)
	}
	return nil
}
