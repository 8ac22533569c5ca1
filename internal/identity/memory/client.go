package memory

import (
	"context"
	"sync"

	"zippytrip.org/internal/auth"
	"zippytrip.org/internal/identity"
)

// Client is one end-user's view of a Directory.
type Client struct {
	*identity.Broadcaster
	dir *Directory

	mu      sync.Mutex
	current *identity.ProviderSession
}

var _ identity.Provider = (*Client)(nil)

func (d *Directory) NewClient() *Client {
	return &Client{Broadcaster: identity.NewBroadcaster(), dir: d}
}

func (c *Client) set(s *identity.ProviderSession) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

// Current returns the client's session, if any.
func (c *Client) Current() (*identity.ProviderSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, false
	}
	cp := *c.current
	return &cp, true
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.ProviderSession, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	sess, err := c.dir.authenticate(email, password)
	if err != nil {
		return nil, err
	}
	c.set(sess)
	c.Emit(identity.AuthEvent{Kind: identity.SignedIn, Session: sess})
	return sess, nil
}

// Resume adopts a session obtained by an earlier client, without events.
func (c *Client) Resume(s *identity.ProviderSession) {
	if s == nil {
		c.set(nil)
		return
	}
	cp := *s
	c.set(&cp)
}

// Refresh trades the current refresh token for a new session and emits
// TokenRefreshed. Each refresh token works once.
func (c *Client) Refresh(ctx context.Context) (*identity.ProviderSession, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	cur, ok := c.Current()
	if !ok || cur.RefreshToken == "" {
		return nil, identity.ErrNoSession
	}
	sess, err := c.dir.exchange(cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	if cur.AccessToken != "" {
		c.dir.revoke(cur.AccessToken)
	}
	c.set(sess)
	c.Emit(identity.AuthEvent{Kind: identity.TokenRefreshed, Session: sess})
	return sess, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if tok := c.token(); tok != "" {
		c.dir.revoke(tok)
	}
	c.set(nil)
	c.Emit(identity.AuthEvent{Kind: identity.SignedOut})
	return live(ctx)
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	if err := live(ctx); err != nil {
		return err
	}
	return c.dir.sendRecovery(email, redirectURL)
}

func (c *Client) UpdateCurrentUserPassword(ctx context.Context, newPassword string) error {
	if err := live(ctx); err != nil {
		return err
	}
	tok := c.token()
	if tok == "" {
		return identity.ErrNoSession
	}
	return c.dir.updateWithToken(tok, newPassword)
}

func (c *Client) GetUserByToken(ctx context.Context, token string) (*identity.User, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	u, claims, err := c.dir.resolve(token)
	if err != nil {
		return nil, err
	}
	sess := &identity.ProviderSession{AccessToken: token, User: u}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	c.set(sess)
	if claims.HasMethod(auth.MethodRecovery) {
		c.Emit(identity.AuthEvent{Kind: identity.PasswordRecovery, Session: sess})
	}
	return &u, nil
}
