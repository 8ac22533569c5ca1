// Package gotrue talks to a hosted GoTrue-compatible auth service.
package gotrue

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"zippytrip.org/internal/auth"
	"zippytrip.org/internal/identity"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 10 * time.Second

// Config locates the auth service.
type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func newBase(cfg Config) (*baseClient, error) {
	u := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if u == "" {
		return nil, errors.New("gotrue: url is required")
	}
	if _, err := url.ParseRequestURI(u); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &baseClient{url: u, apiKey: cfg.APIKey, timeout: timeout, http: hc}, nil
}

// Client is a stateful end-user client. It holds at most one current session.
type Client struct {
	*identity.Broadcaster
	base *baseClient
	now  func() time.Time

	mu      sync.Mutex
	current *identity.ProviderSession
}

var _ identity.Provider = (*Client)(nil)

// New creates a client using the public (anon) key.
func New(cfg Config) (*Client, error) {
	base, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{Broadcaster: identity.NewBroadcaster(), base: base, now: time.Now}, nil
}

type wireUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

func (u wireUser) toUser() identity.User {
	return identity.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: firstString(u.UserMetadata, "name", "full_name", "display_name"),
		Role:        firstString(u.AppMetadata, "role"),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         wireUser `json:"user"`
}

func (c *Client) toSession(tr tokenResponse) *identity.ProviderSession {
	var exp time.Time
	switch {
	case tr.ExpiresAt > 0:
		exp = time.Unix(tr.ExpiresAt, 0).UTC()
	case tr.ExpiresIn > 0:
		exp = c.now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return &identity.ProviderSession{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    exp,
		User:         tr.User.toUser(),
	}
}

func (c *Client) setCurrent(s *identity.ProviderSession) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

// Current returns a copy of the current session, if any.
func (c *Client) Current() (*identity.ProviderSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, false
	}
	cp := *c.current
	return &cp, true
}

// Resume adopts a session obtained by an earlier client, without events.
func (c *Client) Resume(s *identity.ProviderSession) {
	if s == nil {
		c.setCurrent(nil)
		return
	}
	cp := *s
	c.setCurrent(&cp)
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.ProviderSession, error) {
	var tr tokenResponse
	err := c.base.execute(ctx, outboundRequest{
		Method:      http.MethodPost,
		Path:        "token",
		QueryParams: map[string]string{"grant_type": "password"},
		ReqBodyObj:  map[string]string{"email": email, "password": password},
		RespObj:     &tr,
	})
	if err != nil {
		return nil, err
	}
	sess := c.toSession(tr)
	c.setCurrent(sess)
	c.Emit(identity.AuthEvent{Kind: identity.SignedIn, Session: sess})
	return sess, nil
}

// Refresh exchanges the current refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (*identity.ProviderSession, error) {
	cur, ok := c.Current()
	if !ok || cur.RefreshToken == "" {
		return nil, identity.ErrNoSession
	}
	var tr tokenResponse
	err := c.base.execute(ctx, outboundRequest{
		Method:      http.MethodPost,
		Path:        "token",
		QueryParams: map[string]string{"grant_type": "refresh_token"},
		ReqBodyObj:  map[string]string{"refresh_token": cur.RefreshToken},
		RespObj:     &tr,
	})
	if err != nil {
		return nil, err
	}
	sess := c.toSession(tr)
	c.setCurrent(sess)
	c.Emit(identity.AuthEvent{Kind: identity.TokenRefreshed, Session: sess})
	return sess, nil
}

// SignOut revokes the current session. Local state is dropped even when the
// revoke call fails.
func (c *Client) SignOut(ctx context.Context) error {
	cur, ok := c.Current()
	c.setCurrent(nil)
	var err error
	if ok && cur.AccessToken != "" {
		err = c.base.execute(ctx, outboundRequest{
			Method: http.MethodPost,
			Path:   "logout",
			Bearer: cur.AccessToken,
		})
	}
	c.Emit(identity.AuthEvent{Kind: identity.SignedOut})
	return err
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	q := map[string]string{}
	if redirectURL != "" {
		q["redirect_to"] = redirectURL
	}
	return c.base.execute(ctx, outboundRequest{
		Method:      http.MethodPost,
		Path:        "recover",
		QueryParams: q,
		ReqBodyObj:  map[string]string{"email": email},
		NotFound:    identity.ErrUserNotFound,
	})
}

func (c *Client) UpdateCurrentUserPassword(ctx context.Context, newPassword string) error {
	cur, ok := c.Current()
	if !ok || cur.AccessToken == "" {
		return identity.ErrNoSession
	}
	return c.base.execute(ctx, outboundRequest{
		Method:     http.MethodPut,
		Path:       "user",
		Bearer:     cur.AccessToken,
		ReqBodyObj: map[string]string{"password": newPassword},
	})
}

// GetUserByToken resolves token and adopts it as the current session.
// A recovery token additionally emits PasswordRecovery.
func (c *Client) GetUserByToken(ctx context.Context, token string) (*identity.User, error) {
	u, err := fetchUser(ctx, c.base, token)
	if err != nil {
		return nil, err
	}
	sess := &identity.ProviderSession{AccessToken: token, User: *u}
	claims, cerr := auth.ParseUnverified(token)
	if cerr == nil && claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	c.setCurrent(sess)
	if cerr == nil && claims.HasMethod(auth.MethodRecovery) {
		c.Emit(identity.AuthEvent{Kind: identity.PasswordRecovery, Session: sess})
	}
	return u, nil
}

func fetchUser(ctx context.Context, base *baseClient, token string) (*identity.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, identity.ErrInvalidToken
	}
	var wu wireUser
	err := base.execute(ctx, outboundRequest{
		Method:   http.MethodGet,
		Path:     "user",
		Bearer:   token,
		RespObj:  &wu,
		NotFound: identity.ErrUserNotFound,
	})
	if err != nil {
		return nil, err
	}
	u := wu.toUser()
	return &u, nil
}

// AdminClient uses the service key. It keeps no session state.
type AdminClient struct {
	base *baseClient
}

var _ identity.Admin = (*AdminClient)(nil)

// NewAdmin creates an admin client; cfg.APIKey must be the service key.
func NewAdmin(cfg Config) (*AdminClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gotrue: service key is required")
	}
	base, err := newBase(cfg)
	if err != nil {
		return nil, err
	}
	return &AdminClient{base: base}, nil
}

func (a *AdminClient) GetUserByToken(ctx context.Context, token string) (*identity.User, error) {
	return fetchUser(ctx, a.base, token)
}

func (a *AdminClient) AdminSetPassword(ctx context.Context, userID, newPassword string) error {
	return a.base.execute(ctx, outboundRequest{
		Method:     http.MethodPut,
		Path:       "admin/users/" + url.PathEscape(userID),
		Bearer:     a.base.apiKey,
		ReqBodyObj: map[string]string{"password": newPassword},
		NotFound:   identity.ErrUserNotFound,
	})
}
