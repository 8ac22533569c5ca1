package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMessagePrefersProviderText(t *testing.T) {
	err := fmt.Errorf("recover: %w", &AuthError{Status: 429, Message: "rate limited"})
	if got := Message(err); got != "rate limited" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(fmt.Errorf("x: %w", ErrNetwork)); got == "" || got == ErrNetwork.Error() {
		t.Fatalf("network errors need a user-facing message, got %q", got)
	}
	if Message(nil) != "" {
		t.Fatal("nil error must have empty message")
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	err := &AuthError{Status: 404, Err: ErrUserNotFound}
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatal("expected AuthError to unwrap")
	}
	if err.Error() != ErrUserNotFound.Error() {
		t.Fatalf("unexpected text %q", err.Error())
	}
}

func TestBroadcasterDeliversAndUnsubscribes(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.OnSessionEvent(context.Background())
	b.Emit(AuthEvent{Kind: SignedOut})
	select {
	case evt := <-ch:
		if evt.Kind != SignedOut {
			t.Fatalf("unexpected kind %v", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	cancel()
	cancel()
	b.Emit(AuthEvent{Kind: SignedIn})
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
}

func TestEventKindString(t *testing.T) {
	if PasswordRecovery.String() != "password_recovery" || EventKind(99).String() != "unknown" {
		t.Fatal("unexpected kind names")
	}
}
