package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/ferro-labs/verifygw/internal/policy"
	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/ferro-labs/verifygw/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolicies struct {
	byNumber   map[string]*store.Policy
	info       *policy.Info
	infoErr    error
	infoCalls  []provider.Identity
	numberErr  error
	numberSeen []string
}

func (f *fakePolicies) Info(_ context.Context, id provider.Identity, _ bool) (*policy.Info, error) {
	f.infoCalls = append(f.infoCalls, id)
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if f.info == nil {
		return nil, policy.ErrNotFound
	}
	info := *f.info
	return &info, nil
}

func (f *fakePolicies) ByNumber(_ context.Context, number string, _ bool) (*store.Policy, coordinator.Source, error) {
	f.numberSeen = append(f.numberSeen, number)
	if f.numberErr != nil {
		return nil, "", f.numberErr
	}
	p, ok := f.byNumber[strings.ToUpper(number)]
	if !ok {
		return nil, "", policy.ErrNotFound
	}
	return p, coordinator.SourceCache, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []store.AuditEntry
	err     error
}

func (m *memAudit) WriteAudit(_ context.Context, e store.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func newChat(t *testing.T, policies *fakePolicies) (*Service, *memAudit, kv.Store) {
	t.Helper()
	mem := kv.NewMemory(100)
	audit := &memAudit{}
	return NewService(NewClassifier(nil), NewSessions(mem, time.Hour), policies, audit), audit, mem
}

func TestHandle_Greeting(t *testing.T) {
	svc, audit, _ := newChat(t, &fakePolicies{})
	reply, err := svc.Handle(context.Background(), Message{Text: "hello", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, IntentGreeting, reply.Intent)
	assert.Equal(t, greetingText, reply.Response)
	assert.NotEmpty(t, reply.SessionID)
	assert.False(t, reply.RequiresFollowup)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "chat", audit.entries[0].Action)
	assert.Equal(t, "u1", audit.entries[0].UserID)
	var details map[string]any
	require.NoError(t, json.Unmarshal(audit.entries[0].Details, &details))
	assert.Equal(t, "greeting", details["intent"])
	assert.Equal(t, reply.SessionID, details["session_id"])
}

func TestHandle_PolicyNumberUsesStoredRecord(t *testing.T) {
	policies := &fakePolicies{byNumber: map[string]*store.Policy{
		"123456789": {PolicyNumber: "123456789", CoverageStatus: store.CoverageExpired, ExpiryDate: "2025-01-31"},
	}}
	svc, _, _ := newChat(t, policies)

	reply, err := svc.Handle(context.Background(), Message{Text: "what's my policy number? it might be 123456789"})
	require.NoError(t, err)
	assert.Equal(t, IntentGetPolicyNumber, reply.Intent)
	assert.Equal(t, "Policy 123456789 is EXPIRED. It expires on 2025-01-31.", reply.Response)
	assert.Equal(t, "cache", reply.Source)
	assert.Equal(t, "123456789", reply.Entities[EntityPolicyNumber])
}

func TestHandle_UnknownPolicyNumberAsksForIdentity(t *testing.T) {
	policies := &fakePolicies{}
	svc, _, _ := newChat(t, policies)
	ctx := context.Background()

	reply, err := svc.Handle(ctx, Message{Text: "is policy 999999 active?"})
	require.NoError(t, err)
	assert.Equal(t, IntentCheckCoverage, reply.Intent)
	assert.True(t, reply.RequiresFollowup)
	assert.Equal(t, askIdentity, reply.FollowupQuestion)
	assert.NotContains(t, reply.Entities, EntityPolicyNumber)

	policies.info = &policy.Info{PolicyNumber: "POL-1", CoverageStatus: store.CoverageActive, Source: coordinator.SourceProvider}
	reply, err = svc.Handle(ctx, Message{Text: "ABC123, 1990-01-01, Doe", SessionID: reply.SessionID})
	require.NoError(t, err)
	assert.Equal(t, IntentCheckCoverage, reply.Intent, "follow-up continues the previous intent")
	assert.Equal(t, "Yes, your insurance coverage is currently active.", reply.Response)
	assert.Equal(t, []string{"999999"}, policies.numberSeen)
	require.Len(t, policies.infoCalls, 1)
	assert.Equal(t, provider.Identity{MemberID: "ABC123", DOB: "1990-01-01", LastName: "Doe"}, policies.infoCalls[0])
}

func TestHandle_EntitiesAccumulateAcrossMessages(t *testing.T) {
	policies := &fakePolicies{info: &policy.Info{PolicyNumber: "POL-ABC1-001", ExpiryDate: "2027-03-01", Source: coordinator.SourceCache}}
	svc, _, _ := newChat(t, policies)
	ctx := context.Background()

	first, err := svc.Handle(ctx, Message{Text: "when does my policy expire? member id ABC1", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, first.RequiresFollowup)
	assert.Empty(t, policies.infoCalls)

	second, err := svc.Handle(ctx, Message{Text: "expiry please, dob 1990-01-01 and last name Doe", UserID: "u1", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, IntentCheckExpiry, second.Intent)
	assert.Equal(t, "Your policy expires on: 2027-03-01", second.Response)
	assert.Equal(t, first.SessionID, second.SessionID)

	sess, err := svc.Session(ctx, first.SessionID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Messages)
	assert.Equal(t, "ABC1", sess.Entities[EntityMemberID])
	assert.Equal(t, IntentCheckExpiry, sess.LastIntent)
}

func TestHandle_IdentityNotFound(t *testing.T) {
	svc, _, _ := newChat(t, &fakePolicies{})
	reply, err := svc.Handle(context.Background(), Message{Text: "what's my policy number? member id ZZ9, dob 1980-05-05, last name Roe"})
	require.NoError(t, err)
	assert.Equal(t, notFoundText, reply.Response)
	assert.True(t, reply.RequiresFollowup)
}

func TestHandle_InvalidIdentity(t *testing.T) {
	svc, _, _ := newChat(t, &fakePolicies{})
	reply, err := svc.Handle(context.Background(), Message{Text: "am I covered? member id ZZ9, dob 1940-05-05, last name Roe"})
	require.NoError(t, err)
	assert.Contains(t, reply.Response, "1950-01-01")
	assert.True(t, reply.RequiresFollowup)
}

func TestHandle_ProviderTrouble(t *testing.T) {
	svc, _, _ := newChat(t, &fakePolicies{infoErr: errors.New("upstream down")})
	reply, err := svc.Handle(context.Background(), Message{Text: "am I covered? member id ZZ9, dob 1980-05-05, last name Roe"})
	require.NoError(t, err)
	assert.Equal(t, troubleText, reply.Response)
}

func TestHandle_SessionOwnedByOtherUser(t *testing.T) {
	svc, _, _ := newChat(t, &fakePolicies{})
	ctx := context.Background()
	first, err := svc.Handle(ctx, Message{Text: "hi", UserID: "alice"})
	require.NoError(t, err)

	_, err = svc.Handle(ctx, Message{Text: "hi", UserID: "mallory", SessionID: first.SessionID})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Session(ctx, first.SessionID, "mallory")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandle_ClientChosenSessionID(t *testing.T) {
	svc, _, _ := newChat(t, &fakePolicies{})
	reply, err := svc.Handle(context.Background(), Message{Text: "hello", SessionID: "my-session"})
	require.NoError(t, err)
	assert.Equal(t, "my-session", reply.SessionID)
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (failingKV) Delete(context.Context, string) error { return nil }

func TestHandle_SessionStoreDownStillAnswers(t *testing.T) {
	svc := NewService(NewClassifier(nil), NewSessions(failingKV{}, 0), &fakePolicies{}, nil)
	reply, err := svc.Handle(context.Background(), Message{Text: "hello", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, greetingText, reply.Response)
}

func TestSessions_StartAndExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mem := kv.NewMemory(10, kv.WithClock(clock))
	sessions := NewSessions(mem, time.Minute)
	sessions.now = clock
	svc := NewService(NewClassifier(nil), sessions, &fakePolicies{}, nil)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	got, err := svc.Session(ctx, sess.ID, "u1")
	require.NoError(t, err)
	assert.True(t, now.Equal(got.CreatedAt))

	now = now.Add(2 * time.Minute)
	_, err = svc.Session(ctx, sess.ID, "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
