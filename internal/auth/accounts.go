package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/verifygw/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// AccessTokenTTL is the lifetime of tokens issued by Login.
const AccessTokenTTL = 30 * time.Minute

// Password length bounds. bcrypt ignores bytes past 72.
const (
	MinPasswordLen = 8
	MaxPasswordLen = 72
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email, a
	// wrong password or an inactive account.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned by Register for an email already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword is returned by Register for a password outside the
	// allowed length.
	ErrWeakPassword = fmt.Errorf("password must be %d to %d bytes", MinPasswordLen, MaxPasswordLen)
	// ErrTokensDisabled is returned by Login when no signing secret is set.
	ErrTokensDisabled = errors.New("token issuing is disabled: no auth secret configured")
)

// Token is the response of a successful login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Accounts registers users and logs them in with email and password.
type Accounts struct {
	users  store.Users
	secret string
	ttl    time.Duration
	cost   int
}

// NewAccounts creates an Accounts service signing tokens with secret.
func NewAccounts(users store.Users, secret string) *Accounts {
	return &Accounts{users: users, secret: secret, ttl: AccessTokenTTL, cost: bcrypt.DefaultCost}
}

// Register creates an active account.
func (a *Accounts) Register(ctx context.Context, email, password, fullName string) (*store.User, error) {
	if n := len(password); n < MinPasswordLen || n > MaxPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &store.User{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: string(hash),
		Active:       true,
	}
	if err := a.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// Login checks the password of email and issues a bearer token whose sub
// claim is the user id.
func (a *Accounts) Login(ctx context.Context, email, password string) (*Token, error) {
	if a.secret == "" {
		return nil, ErrTokensDisabled
	}
	u, err := a.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil || !u.Active {
		return nil, ErrInvalidCredentials
	}
	tok, err := Mint(a.secret, u.ID, a.ttl)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: tok, TokenType: "bearer", ExpiresIn: int(a.ttl.Seconds())}, nil
}

// Me returns the account of userID. The service user has no account.
func (a *Accounts) Me(ctx context.Context, userID string) (*store.User, error) {
	if userID == "" || userID == SecretUser {
		return nil, fmt.Errorf("user %q: %w", userID, store.ErrNotFound)
	}
	return a.users.GetUser(ctx, userID)
}
