// Package adminreset lets an administrator set another user's password.
//
// Every call re-checks the caller: bearer credential, identity, then role
// record, all before the request body is looked at.
package adminreset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zippytrip.org/internal/audit"
	"zippytrip.org/internal/credential"
	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/ids"
	"zippytrip.org/internal/obs"
	"zippytrip.org/internal/session"
)

var (
	ErrUnauthorized    = errors.New("adminreset: unauthorized")
	ErrForbidden       = errors.New("adminreset: administrator role required")
	ErrValidation      = errors.New("adminreset: invalid request")
	ErrOperationFailed = errors.New("adminreset: operation failed")
)

// Error carries the client-facing message for one of the sentinel kinds.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func fail(kind error, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Client-facing messages.
const (
	MsgNoCredential   = "No authorization header"
	MsgUnauthorized   = "Unauthorized"
	MsgForbidden      = "Unauthorized: Admin privileges required"
	MsgMissingFields  = "Missing required fields"
	MsgUpdated        = "Password updated successfully"
	UnknownSourceAddr = "unknown"
)

// RoleLookup returns the caller's role record. An absent record is "" with a nil error.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

// RoleLookupFunc adapts a function to RoleLookup.
type RoleLookupFunc func(ctx context.Context, userID string) (string, error)

func (f RoleLookupFunc) RoleOf(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Request is one admin reset call.
type Request struct {
	Credential    string
	TargetUserID  string
	NewPassword   string
	SourceAddress string
}

// Result describes a completed reset.
type Result struct {
	Message     string
	PerformedBy string
	AuditID     string
}

type Service struct {
	idp     identity.Admin
	roles   RoleLookup
	sink    audit.Sink
	policy  session.RolePolicy
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Service)

// WithAdminRoles sets the roles allowed to reset passwords.
func WithAdminRoles(p session.RolePolicy) Option {
	return func(s *Service) {
		if len(p) > 0 {
			s.policy = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds each identity-provider and role-store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(idp identity.Admin, roles RoleLookup, sink audit.Sink, opts ...Option) *Service {
	if sink == nil {
		sink = audit.LogSink{}
	}
	s := &Service{
		idp:     idp,
		roles:   roles,
		sink:    sink,
		policy:  session.NewRolePolicy(),
		now:     time.Now,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset authorizes the caller and sets the target's password.
func (s *Service) Reset(ctx context.Context, req Request) (Result, error) {
	res, err := s.reset(ctx, req)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, ErrForbidden):
		outcome = "forbidden"
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case err != nil:
		outcome = "failed"
	}
	obs.RecordAdminReset(outcome)
	return res, err
}

func (s *Service) reset(ctx context.Context, req Request) (Result, error) {
	token := strings.TrimSpace(req.Credential)
	if token == "" {
		return Result{}, fail(ErrUnauthorized, MsgNoCredential, nil)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	caller, err := s.idp.GetUserByToken(cctx, token)
	cancel()
	if err != nil || caller == nil || strings.TrimSpace(caller.ID) == "" {
		return Result{}, fail(ErrUnauthorized, MsgUnauthorized, err)
	}

	cctx, cancel = context.WithTimeout(ctx, s.timeout)
	role, err := s.roles.RoleOf(cctx, caller.ID)
	cancel()
	if err != nil {
		obs.Error("role lookup failed", map[string]any{"caller": caller.ID, "error": err.Error()})
		return Result{}, fail(ErrOperationFailed, "Unable to verify privileges", err)
	}
	if !s.policy.Permits(role) {
		obs.Warn("admin reset denied", map[string]any{"caller": caller.ID, "role": role})
		return Result{}, fail(ErrForbidden, MsgForbidden, nil)
	}

	target := strings.TrimSpace(req.TargetUserID)
	if target == "" || req.NewPassword == "" {
		return Result{}, fail(ErrValidation, MsgMissingFields, nil)
	}
	if err := credential.ValidatePasswordLength(req.NewPassword); err != nil {
		return Result{}, fail(ErrValidation, err.Error(), err)
	}

	cctx, cancel = context.WithTimeout(ctx, s.timeout)
	err = s.idp.AdminSetPassword(cctx, target, req.NewPassword)
	cancel()
	if err != nil {
		obs.Error("admin password update failed", map[string]any{"caller": caller.ID, "target": target, "reason": identity.Message(err)})
		return Result{}, fail(ErrOperationFailed, identity.Message(err), err)
	}

	src := strings.TrimSpace(req.SourceAddress)
	if src == "" {
		src = UnknownSourceAddr
	}
	entry := audit.Entry{
		ID:            ids.NewAt(s.now()),
		TargetUserID:  target,
		PerformedBy:   caller.ID,
		SourceAddress: src,
		OccurredAt:    s.now().UTC(),
	}
	s.record(ctx, entry)

	return Result{Message: MsgUpdated, PerformedBy: caller.ID, AuditID: entry.ID}, nil
}

// record appends the audit entry. Failures, panics included, are only logged.
func (s *Service) record(ctx context.Context, e audit.Entry) {
	defer func() {
		if r := recover(); r != nil {
			obs.RecordAuditFailure()
			obs.Error("audit sink panicked", map[string]any{"entry_id": e.ID, "target": e.TargetUserID, "panic": fmt.Sprint(r)})
		}
	}()
	// the password is already changed; a cancelled request must not skip the entry
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.sink.Append(actx, e); err != nil {
		obs.RecordAuditFailure()
		obs.Error("audit append failed", map[string]any{"entry_id": e.ID, "target": e.TargetUserID, "error": err.Error()})
	}
}
