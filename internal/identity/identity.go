// Package identity defines the contract the console expects from its
// identity provider, plus the event and error types shared by providers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is an identity record as reported by the provider.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
}

// ProviderSession is the provider's view of an authenticated session.
type ProviderSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// EventKind tags an AuthEvent.
type EventKind int

const (
	EventUnknown EventKind = iota
	SignedIn
	SignedOut
	TokenRefreshed
	PasswordRecovery
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	case TokenRefreshed:
		return "token_refreshed"
	case PasswordRecovery:
		return "password_recovery"
	default:
		return "unknown"
	}
}

// AuthEvent is a session change pushed by the provider. Session may be nil.
type AuthEvent struct {
	Kind    EventKind
	Session *ProviderSession
}

var (
	// ErrNetwork wraps transport failures and timeouts.
	ErrNetwork = errors.New("identity: provider unreachable")
	// ErrUserNotFound is returned when the provider has no such identity.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrInvalidToken is returned for unknown, expired or consumed tokens.
	ErrInvalidToken = errors.New("identity: invalid or expired token")
	// ErrNoSession is returned when an operation needs a current session.
	ErrNoSession = errors.New("identity: no active session")
)

// AuthError is a rejection reported by the provider.
type AuthError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("identity provider error (status %d)", e.Status)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message returns the text to show a user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) && strings.TrimSpace(ae.Message) != "" {
		return ae.Message
	}
	if errors.Is(err, ErrNetwork) {
		return "Unable to reach the authentication service. Please try again."
	}
	return err.Error()
}

// EventSource pushes AuthEvents. The returned cancel func is idempotent and
// closes the channel.
type EventSource interface {
	OnSessionEvent(ctx context.Context) (<-chan AuthEvent, func())
}

// Provider is the client-side identity capability.
type Provider interface {
	EventSource
	SignInWithPassword(ctx context.Context, email, password string) (*ProviderSession, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error
	// UpdateCurrentUserPassword acts on the session adopted by the last
	// successful GetUserByToken or SignInWithPassword.
	UpdateCurrentUserPassword(ctx context.Context, newPassword string) error
	GetUserByToken(ctx context.Context, token string) (*User, error)
}

// Admin is the privileged, server-side identity capability.
type Admin interface {
	GetUserByToken(ctx context.Context, token string) (*User, error)
	AdminSetPassword(ctx context.Context, userID, newPassword string) error
}
