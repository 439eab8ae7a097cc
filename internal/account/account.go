// Package account implements signup/login and session-token issuance for
// the human (or agent-owner) principal that a tenant namespace belongs
// to. It is deliberately thin: OAuth2/PKCE issuance against third-party
// identity providers is not reimplemented here — this package only
// verifies a bearer session that it itself minted at login time.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDuplicateEmail is returned by Signup when the email is already registered.
	ErrDuplicateEmail = errors.New("ACCOUNT_DUPLICATE_EMAIL")
	// ErrNotFound is returned when a lookup names an unknown account or session.
	ErrNotFound = errors.New("ACCOUNT_NOT_FOUND")
	// ErrInvalidCredentials is returned by Login on a bad email/password pair.
	ErrInvalidCredentials = errors.New("ACCOUNT_INVALID_CREDENTIALS")
	// ErrSessionExpired is returned when a session cookie's expiry has passed.
	ErrSessionExpired = errors.New("ACCOUNT_SESSION_EXPIRED")
)

// Account is one registered principal. Its ID is the opaque userID that
// tenant.Manager.CreateTenant keys a namespace on.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	DisplayName   string
	EmailVerified bool
	CreatedAt     time.Time
}

// Session is one active login, stored by the SHA-256 hash of its cookie
// value rather than the value itself — the same pattern
// agentprincipal.Registry uses for API keys, so a database read never
// discloses a usable secret.
type Session struct {
	TokenHash string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the persistence boundary Manager depends on.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	SetEmailVerified(ctx context.Context, id string) error
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// Manager implements signup, login, and session issuance/verification.
type Manager struct {
	store      Store
	sessionTTL time.Duration
	now        func() time.Time
}

// NewManager creates a Manager. sessionTTL defaults to 30 days.
func NewManager(store Store, sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = 30 * 24 * time.Hour
	}
	return &Manager{store: store, sessionTTL: sessionTTL, now: func() time.Time { return time.Now().UTC() }}
}

// Signup creates a new account with email/password authentication.
func (m *Manager) Signup(ctx context.Context, email, password, displayName string) (*Account, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if displayName == "" {
		displayName = email
	}

	a := &Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		CreatedAt:    m.now(),
	}
	if err := m.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// Login verifies email/password credentials and mints a new session.
// The returned token is the raw cookie value; only its hash is persisted.
func (m *Manager) Login(ctx context.Context, email, password string) (*Account, string, error) {
	a, err := m.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := m.issueSession(ctx, a.ID)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

// issueSession mints a random session token, persists only its hash, and
// returns the raw value for the caller to set as a cookie.
func (m *Manager) issueSession(ctx context.Context, accountID string) (string, error) {
	token := uuid.New().String() + uuid.New().String()
	now := m.now()
	s := &Session{
		TokenHash: HashToken(token),
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Authenticate resolves a raw session cookie value to its account, the
// same bearer-auth step the transport layer runs on every request. A
// session past its ExpiresAt is rejected even though the row itself may
// not yet have been cleaned up.
func (m *Manager) Authenticate(ctx context.Context, rawToken string) (*Account, error) {
	s, err := m.store.GetSession(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if m.now().After(s.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return m.store.GetAccountByID(ctx, s.AccountID)
}

// Logout deletes the session identified by rawToken.
func (m *Manager) Logout(ctx context.Context, rawToken string) error {
	return m.store.DeleteSession(ctx, HashToken(rawToken))
}

// GetByID retrieves an account by id.
func (m *Manager) GetByID(ctx context.Context, id string) (*Account, error) {
	return m.store.GetAccountByID(ctx, id)
}

// HashToken returns the hex-encoded SHA-256 digest of a raw session or API
// key value, the form every Store implementation persists at rest.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
