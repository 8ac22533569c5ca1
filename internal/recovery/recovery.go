// Package recovery drives self-service password recovery: requesting a
// reset e-mail and redeeming the emailed link.
package recovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"zippytrip.org/internal/credential"
	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/nav"
	"zippytrip.org/internal/obs"
	"zippytrip.org/internal/session"
)

// State of one of the two recovery sequences.
type State int

const (
	Idle State = iota
	RequestSent
	RequestFailed
	TokenError
	AwaitingNewPassword
	ResetFailed
	ResetSucceeded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestSent:
		return "request_sent"
	case RequestFailed:
		return "request_failed"
	case TokenError:
		return "token_error"
	case AwaitingNewPassword:
		return "awaiting_new_password"
	case ResetFailed:
		return "reset_failed"
	case ResetSucceeded:
		return "reset_succeeded"
	default:
		return "unknown"
	}
}

// MsgInvalidLink is shown for every unusable recovery link.
const MsgInvalidLink = "Invalid or expired reset link. Please request a new password reset."

const (
	DefaultResetPath     = nav.PathResetPassword
	DefaultRedirectDelay = 3 * time.Second
	DefaultCallTimeout   = 10 * time.Second
)

var (
	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("recovery: a reset is already in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recovery: controller closed")
)

// FlowError reports a transition into a failure state.
type FlowError struct {
	State   State
	Message string
	Err     error
}

func (e *FlowError) Error() string { return e.Message }

func (e *FlowError) Unwrap() error { return e.Err }

// Location is the page the redemption sequence runs on.
type Location interface {
	Fragment() string
	ClearFragment()
}

// Config controls callback URLs and post-reset behaviour.
type Config struct {
	// Origin of the running console, e.g. https://admin.zippytrip.org.
	Origin    string
	ResetPath string
	// RedirectDelay defaults to DefaultRedirectDelay; negative means immediate.
	RedirectDelay time.Duration
	// AutoSignIn signs the user in with the new password after a reset.
	// Otherwise the recovery session is signed out.
	AutoSignIn  bool
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResetPath == "" {
		c.ResetPath = DefaultResetPath
	}
	if !strings.HasPrefix(c.ResetPath, "/") {
		c.ResetPath = "/" + c.ResetPath
	}
	switch {
	case c.RedirectDelay == 0:
		c.RedirectDelay = DefaultRedirectDelay
	case c.RedirectDelay < 0:
		c.RedirectDelay = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	c.Origin = strings.TrimRight(strings.TrimSpace(c.Origin), "/")
	return c
}

// Timer is a pending redirect.
type Timer interface{ Stop() bool }

// Controller holds the state of both sequences for one client.
type Controller struct {
	provider  identity.Provider
	store     *session.Store
	nav       nav.Navigator
	roles     session.RolePolicy
	cfg       Config
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	mu       sync.Mutex
	reqState State
	reqMsg   string
	redState State
	redMsg   string
	email    string
	loc      Location
	busy     bool
	closed   bool
	pending  Timer
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

// WithAfterFunc replaces time.AfterFunc for the post-reset redirect.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(c *Controller) {
		if fn != nil {
			c.afterFunc = fn
		}
	}
}

// New creates a controller. store may be nil when AutoSignIn is off.
func New(provider identity.Provider, store *session.Store, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		store:     store,
		nav:       nav.Discard,
		roles:     session.NewRolePolicy(),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallbackURL is the reset landing page of this deployment.
func (c *Controller) CallbackURL() string {
	u, err := url.Parse(c.cfg.Origin)
	if err != nil || c.cfg.Origin == "" {
		return c.cfg.ResetPath
	}
	return u.JoinPath(c.cfg.ResetPath).String()
}

func (c *Controller) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// RequestReset asks the provider to e-mail a recovery link. Repeated calls resend.
func (c *Controller) RequestReset(ctx context.Context, email string) error {
	email, err := credential.RequireEmail(email)
	if err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	err = c.provider.ResetPasswordForEmail(cctx, email, c.CallbackURL())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		msg := identity.Message(err)
		c.reqState, c.reqMsg = RequestFailed, msg
		obs.RecordRecovery("request", RequestFailed.String())
		obs.Info("recovery request failed", map[string]any{"reason": msg})
		return &FlowError{State: RequestFailed, Message: msg, Err: err}
	}
	// unknown addresses look exactly like known ones
	c.reqState, c.reqMsg = RequestSent, ""
	obs.RecordRecovery("request", RequestSent.String())
	return nil
}

// Load starts the redemption sequence from the page's fragment.
func (c *Controller) Load(ctx context.Context, loc Location) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.loc = loc
	c.email = ""
	c.redState, c.redMsg = Idle, ""
	c.mu.Unlock()

	frag := ""
	if loc != nil {
		frag = loc.Fragment()
	}
	tok, err := ParseFragment(frag)
	if err != nil {
		return c.tokenError(err)
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	u, err := c.provider.GetUserByToken(cctx, tok.Raw)
	if err != nil {
		return c.tokenError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.email = u.Email
	c.redState, c.redMsg = AwaitingNewPassword, ""
	obs.RecordRecovery("redeem", AwaitingNewPassword.String())
	return nil
}

func (c *Controller) tokenError(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.redState, c.redMsg = TokenError, MsgInvalidLink
	obs.RecordRecovery("redeem", TokenError.String())
	obs.Info("recovery link rejected", map[string]any{"reason": identity.Message(err)})
	return &FlowError{State: TokenError, Message: MsgInvalidLink, Err: err}
}

// Submit sets the new password. It is accepted while awaiting a password and
// after a failed attempt.
func (c *Controller) Submit(ctx context.Context, password, confirm string) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.redState != AwaitingNewPassword && c.redState != ResetFailed:
		st := c.redState
		c.mu.Unlock()
		if st == ResetSucceeded {
			return &FlowError{State: st, Message: "Password has already been reset."}
		}
		return &FlowError{State: TokenError, Message: MsgInvalidLink}
	}
	if err := credential.ValidateNewPassword(password, confirm); err != nil {
		c.mu.Unlock()
		return err
	}
	c.busy = true
	email := c.email
	c.mu.Unlock()

	cctx, cancel := c.callCtx(ctx)
	err := c.provider.UpdateCurrentUserPassword(cctx, password)
	cancel()
	if err != nil {
		msg := identity.Message(err)
		c.mu.Lock()
		c.busy = false
		c.redState, c.redMsg = ResetFailed, msg
		c.mu.Unlock()
		obs.RecordRecovery("redeem", ResetFailed.String())
		obs.Info("password update failed", map[string]any{"reason": msg})
		return &FlowError{State: ResetFailed, Message: msg, Err: err}
	}

	target := c.afterReset(ctx, email, password)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.redState, c.redMsg = ResetSucceeded, ""
	if c.loc != nil {
		c.loc.ClearFragment()
	}
	obs.RecordRecovery("redeem", ResetSucceeded.String())
	if !c.closed {
		c.pending = c.afterFunc(c.cfg.RedirectDelay, func() {
			if c.isClosed() {
				return
			}
			c.nav.Navigate(context.Background(), nav.Intent{Path: target, Reason: "password reset"})
		})
	}
	return nil
}

// afterReset materializes a session or drops the recovery session and
// returns where to go next. Failures here never undo the reset.
func (c *Controller) afterReset(ctx context.Context, email, password string) string {
	if c.cfg.AutoSignIn && c.store != nil && email != "" {
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		ps, err := c.provider.SignInWithPassword(cctx, email, password)
		if err == nil && c.roles.Permits(ps.User.Role) {
			u := ps.User
			name := u.DisplayName
			if name == "" {
				name = u.Email
			}
			if err := c.store.Save(ctx, session.New(u.ID, name, u.Email, u.Role, c.now())); err == nil {
				return nav.PathHome
			}
		}
		if err != nil {
			obs.Info("sign-in after reset failed", map[string]any{"reason": identity.Message(err)})
		}
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.provider.SignOut(cctx); err != nil {
		obs.Warn("sign-out after reset failed", map[string]any{"error": err.Error()})
	}
	return nav.PathSignIn
}

// RequestState returns the request sequence state and its message.
func (c *Controller) RequestState() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqState, c.reqMsg
}

// RedemptionState returns the redemption sequence state and its message.
func (c *Controller) RedemptionState() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redState, c.redMsg
}

// Email is the address resolved from the recovery token.
func (c *Controller) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.email
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close cancels a pending redirect. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
