// Package signin is the console's single password sign-in path.
package signin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zippytrip.org/internal/credential"
	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/nav"
	"zippytrip.org/internal/obs"
	"zippytrip.org/internal/session"
)

var (
	// ErrInvalidCredentials hides the provider's reason for a failed sign-in.
	ErrInvalidCredentials = errors.New("Invalid credentials")
	// ErrNotPermitted is returned for identities without a console role.
	ErrNotPermitted = errors.New("This account does not have access to the admin console")
	// ErrUnavailable is returned when the provider cannot be reached.
	ErrUnavailable = errors.New("Unable to reach the authentication service. Please try again.")
)

type Controller struct {
	provider identity.Provider
	store    *session.Store
	nav      nav.Navigator
	roles    session.RolePolicy
	now      func() time.Time
}

type Option func(*Controller)

func WithNavigator(n nav.Navigator) Option {
	return func(c *Controller) {
		if n != nil {
			c.nav = n
		}
	}
}

func WithRoles(p session.RolePolicy) Option {
	return func(c *Controller) {
		if len(p) > 0 {
			c.roles = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func New(provider identity.Provider, store *session.Store, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		store:    store,
		nav:      nav.Discard,
		roles:    session.NewRolePolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignIn authenticates and stores the console session.
func (c *Controller) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	if err := credential.ValidateSignIn(email, password); err != nil {
		return session.Session{}, err
	}
	ps, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrNetwork) {
			obs.Warn("sign-in provider unreachable", map[string]any{"error": err.Error()})
			return session.Session{}, ErrUnavailable
		}
		obs.Info("sign-in rejected", map[string]any{"reason": identity.Message(err)})
		return session.Session{}, ErrInvalidCredentials
	}
	u := ps.User
	if !c.roles.Permits(u.Role) {
		if err := c.provider.SignOut(ctx); err != nil {
			obs.Warn("provider sign-out failed", map[string]any{"error": err.Error()})
		}
		return session.Session{}, ErrNotPermitted
	}
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	sess := session.New(u.ID, name, u.Email, u.Role, c.now())
	if err := c.store.Save(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	c.nav.Navigate(ctx, nav.Intent{Path: nav.PathHome, Reason: "signed in"})
	return sess, nil
}

// SignOut ends the session locally even if the provider call fails.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.provider.SignOut(ctx); err != nil {
		obs.Warn("provider sign-out failed", map[string]any{"error": err.Error()})
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.nav.Navigate(ctx, nav.Intent{Path: nav.PathSignIn, Reason: "signed out"})
	return nil
}

// Current returns the stored session.
func (c *Controller) Current(ctx context.Context) (session.Session, bool) {
	return c.store.Restore(ctx)
}
