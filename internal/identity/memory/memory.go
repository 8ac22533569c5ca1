// Package memory is an in-process identity provider. It backs local
// development, the demo accounts and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zippytrip.org/internal/auth"
	"zippytrip.org/internal/identity"
)

const (
	defaultSessionTTL  = time.Hour
	defaultRecoveryTTL = time.Hour
	minPasswordLength  = 6
)

// Seed describes an identity created at startup.
type Seed struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	Password    string
}

// Mail is a recovery message that would have been e-mailed.
type Mail struct {
	To     string
	Link   string
	SentAt time.Time
}

type record struct {
	user identity.User
	hash string
}

// Directory is the shared identity database. It implements identity.Admin;
// end-user clients are created with NewClient.
type Directory struct {
	signer      *auth.Signer
	sessionTTL  time.Duration
	recoveryTTL time.Duration
	now         func() time.Time

	mu       sync.Mutex
	users    map[string]*record
	byEmail  map[string]string
	consumed map[string]struct{}
	revoked  map[string]struct{}
	// refresh maps unused refresh tokens to user ids.
	refresh map[string]string
	outbox  []Mail
}

var _ identity.Admin = (*Directory)(nil)

// Option configures a Directory.
type Option func(*Directory)

func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.sessionTTL = ttl
		}
	}
}

func WithRecoveryTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.recoveryTTL = ttl
		}
	}
}

// New creates a directory signing tokens with secret and loads seeds.
func New(secret []byte, seeds []Seed, opts ...Option) (*Directory, error) {
	d := &Directory{
		sessionTTL:  defaultSessionTTL,
		recoveryTTL: defaultRecoveryTTL,
		now:         time.Now,
		users:       make(map[string]*record),
		byEmail:     make(map[string]string),
		consumed:    make(map[string]struct{}),
		revoked:     make(map[string]struct{}),
		refresh:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	signer, err := auth.NewSigner(secret, auth.WithClock(func() time.Time { return d.now() }))
	if err != nil {
		return nil, err
	}
	d.signer = signer
	for _, s := range seeds {
		if _, err := d.AddUser(s); err != nil {
			return nil, fmt.Errorf("seed %s: %w", s.Email, err)
		}
	}
	return d, nil
}

func normEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddUser registers an identity. An empty ID gets a random UUID.
func (d *Directory) AddUser(s Seed) (identity.User, error) {
	email := normEmail(s.Email)
	if email == "" {
		return identity.User{}, errors.New("email is required")
	}
	hash, err := auth.HashPassword(s.Password)
	if err != nil {
		return identity.User{}, err
	}
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = uuid.NewString()
	}
	u := identity.User{ID: id, Email: email, DisplayName: s.DisplayName, Role: s.Role}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[email]; ok {
		return identity.User{}, fmt.Errorf("email %s already registered", email)
	}
	if _, ok := d.users[id]; ok {
		return identity.User{}, fmt.Errorf("user %s already exists", id)
	}
	d.users[id] = &record{user: u, hash: hash}
	d.byEmail[email] = id
	return u, nil
}

// RoleOf returns the role stored on the identity record, or "" for an unknown user.
func (d *Directory) RoleOf(ctx context.Context, userID string) (string, error) {
	if err := live(ctx); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.users[userID]
	if !ok {
		return "", nil
	}
	return rec.user.Role, nil
}

// Outbox returns a copy of all recovery messages sent so far.
func (d *Directory) Outbox() []Mail {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Mail(nil), d.outbox...)
}

// LastLink returns the newest recovery link sent to email.
func (d *Directory) LastLink(email string) (string, bool) {
	email = normEmail(email)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.outbox) - 1; i >= 0; i-- {
		if d.outbox[i].To == email {
			return d.outbox[i].Link, true
		}
	}
	return "", false
}

func (d *Directory) GetUserByToken(ctx context.Context, token string) (*identity.User, error) {
	if err := live(ctx); err != nil {
		return nil, err
	}
	u, _, err := d.resolve(token)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Directory) AdminSetPassword(ctx context.Context, userID, newPassword string) error {
	if err := live(ctx); err != nil {
		return err
	}
	return d.setPassword(userID, newPassword)
}

func (d *Directory) authenticate(email, password string) (*identity.ProviderSession, error) {
	d.mu.Lock()
	id, ok := d.byEmail[normEmail(email)]
	var rec record
	if ok {
		rec = *d.users[id]
	}
	d.mu.Unlock()

	if !ok || auth.VerifyPassword(rec.hash, password) != nil {
		return nil, &identity.AuthError{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	return d.issue(rec.user, auth.MethodPassword, d.sessionTTL)
}

func (d *Directory) issue(u identity.User, method string, ttl time.Duration) (*identity.ProviderSession, error) {
	tok, _, exp, err := d.signer.GenerateToken(auth.Issue{
		UserID: u.ID, Email: u.Email, Role: u.Role, Method: method, TTL: ttl,
	})
	if err != nil {
		return nil, err
	}
	rt := uuid.NewString()
	d.mu.Lock()
	d.refresh[rt] = u.ID
	d.mu.Unlock()
	return &identity.ProviderSession{AccessToken: tok, RefreshToken: rt, ExpiresAt: exp, User: u}, nil
}

// exchange consumes a refresh token and issues a new session for its owner.
func (d *Directory) exchange(refreshToken string) (*identity.ProviderSession, error) {
	d.mu.Lock()
	id, ok := d.refresh[refreshToken]
	delete(d.refresh, refreshToken)
	var u identity.User
	if rec, found := d.users[id]; ok && found {
		u = rec.user
	} else {
		ok = false
	}
	d.mu.Unlock()
	if !ok {
		return nil, invalidToken("Invalid Refresh Token: Refresh Token Not Found")
	}
	return d.issue(u, auth.MethodPassword, d.sessionTTL)
}

func invalidToken(msg string) error {
	return &identity.AuthError{Status: http.StatusUnauthorized, Code: "bad_jwt", Message: msg, Err: identity.ErrInvalidToken}
}

func (d *Directory) resolve(token string) (identity.User, *auth.Claims, error) {
	claims, err := d.signer.ParseAndValidate(token)
	if err != nil {
		return identity.User{}, nil, invalidToken("Token has expired or is invalid")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, gone := d.revoked[claims.ID]; gone {
		return identity.User{}, nil, invalidToken("Session has been revoked")
	}
	if _, used := d.consumed[claims.ID]; used {
		return identity.User{}, nil, invalidToken("Token has already been used")
	}
	rec, ok := d.users[claims.Subject]
	if !ok {
		return identity.User{}, nil, &identity.AuthError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found", Err: identity.ErrUserNotFound}
	}
	return rec.user, claims, nil
}

func (d *Directory) sendRecovery(email, redirectURL string) error {
	email = normEmail(email)
	d.mu.Lock()
	id, ok := d.byEmail[email]
	var u identity.User
	if ok {
		u = d.users[id].user
	}
	d.mu.Unlock()
	if !ok {
		// unknown addresses are accepted silently
		return nil
	}
	sess, err := d.issue(u, auth.MethodRecovery, d.recoveryTTL)
	if err != nil {
		return err
	}
	frag := url.Values{}
	frag.Set("access_token", sess.AccessToken)
	frag.Set("expires_in", fmt.Sprint(int(d.recoveryTTL.Seconds())))
	frag.Set("token_type", "bearer")
	frag.Set("type", "recovery")
	link := strings.SplitN(redirectURL, "#", 2)[0] + "#" + frag.Encode()

	d.mu.Lock()
	d.outbox = append(d.outbox, Mail{To: email, Link: link, SentAt: d.now().UTC()})
	d.mu.Unlock()
	return nil
}

// updateWithToken sets the password of the token's subject. A recovery token
// is consumed by the first successful update.
func (d *Directory) updateWithToken(token, newPassword string) error {
	u, claims, err := d.resolve(token)
	if err != nil {
		return err
	}
	if claims.HasMethod(auth.MethodRecovery) {
		d.mu.Lock()
		if _, used := d.consumed[claims.ID]; used {
			d.mu.Unlock()
			return invalidToken("Token has already been used")
		}
		d.consumed[claims.ID] = struct{}{}
		d.mu.Unlock()
	}
	if err := d.setPassword(u.ID, newPassword); err != nil {
		if claims.HasMethod(auth.MethodRecovery) {
			d.mu.Lock()
			delete(d.consumed, claims.ID)
			d.mu.Unlock()
		}
		return err
	}
	return nil
}

func (d *Directory) setPassword(userID, newPassword string) error {
	if len([]rune(newPassword)) < minPasswordLength {
		return &identity.AuthError{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: "Password should be at least 6 characters."}
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return &identity.AuthError{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: err.Error()}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.users[userID]
	if !ok {
		return &identity.AuthError{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found", Err: identity.ErrUserNotFound}
	}
	rec.hash = hash
	return nil
}

func (d *Directory) revoke(token string) {
	claims, err := auth.ParseUnverified(token)
	if err != nil || claims.ID == "" {
		return
	}
	d.mu.Lock()
	d.revoked[claims.ID] = struct{}{}
	d.mu.Unlock()
}

func live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", identity.ErrNetwork, err)
	}
	return nil
}
