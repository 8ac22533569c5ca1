package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"zippytrip.org/internal/auth"
	"zippytrip.org/internal/config"
	"zippytrip.org/internal/dispatch"
	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/identity/gotrue"
	"zippytrip.org/internal/identity/memory"
	"zippytrip.org/internal/session"
	"zippytrip.org/internal/session/badgerkv"
	"zippytrip.org/internal/session/rediskv"
)

// Provider tokens kept next to the console session.
const (
	keyAccessToken  = "zippyctl.accessToken"
	keyRefreshToken = "zippyctl.refreshToken"
)

// refreshSkew treats a token this close to expiry as expired.
const refreshSkew = 30 * time.Second

// Provider is what the CLI needs from an identity provider client.
type Provider interface {
	identity.Provider
	Current() (*identity.ProviderSession, bool)
	Resume(s *identity.ProviderSession)
	Refresh(ctx context.Context) (*identity.ProviderSession, error)
}

// Env is the per-invocation runtime.
type Env struct {
	Config   config.Config
	Storage  session.Storage
	Store    *session.Store
	Provider Provider
	// Directory is set for the memory provider; it exposes sent recovery links.
	Directory  *memory.Directory
	HTTPClient *http.Client
	Out        io.Writer

	sub    *dispatch.Subscription
	closer func() error
	now    func() time.Time
}

// Start runs the event dispatcher for the lifetime of the command.
func (e *Env) Start(ctx context.Context) {
	if e.sub != nil || e.Provider == nil {
		return
	}
	d := dispatch.New(e.Store, e.Provider,
		dispatch.WithRoles(session.NewRolePolicy(e.Config.Console.AdminRoles...)))
	e.sub = d.Start(ctx)
}

func (e *Env) Close() error {
	if e.sub != nil {
		e.sub.Stop()
		select {
		case <-e.sub.Done():
		case <-time.After(2 * time.Second):
		}
		e.sub = nil
	}
	if e.closer != nil {
		return e.closer()
	}
	return nil
}

func (e *Env) accessToken(ctx context.Context) string {
	vals, err := e.Storage.Get(ctx, keyAccessToken)
	if err != nil {
		return ""
	}
	return vals[keyAccessToken]
}

func (e *Env) saveTokens(ctx context.Context, ps *identity.ProviderSession) error {
	if ps == nil || ps.AccessToken == "" {
		return nil
	}
	entries := map[string]string{keyAccessToken: ps.AccessToken}
	if ps.RefreshToken != "" {
		entries[keyRefreshToken] = ps.RefreshToken
	}
	if err := e.Storage.Set(ctx, entries); err != nil {
		return fmt.Errorf("store provider tokens: %w", err)
	}
	return nil
}

func (e *Env) forgetTokens(ctx context.Context) error {
	if err := e.Storage.Delete(ctx, keyAccessToken, keyRefreshToken); err != nil {
		return fmt.Errorf("forget provider tokens: %w", err)
	}
	return nil
}

func (e *Env) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// bearer returns the stored access token, refreshing it through the
// provider once it has expired.
func (e *Env) bearer(ctx context.Context) (string, error) {
	vals, err := e.Storage.Get(ctx, keyAccessToken, keyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read provider tokens: %w", err)
	}
	access, refresh := vals[keyAccessToken], vals[keyRefreshToken]
	if access == "" {
		return "", ErrNotSignedIn
	}
	if refresh == "" || !tokenExpired(access, e.clock()) {
		return access, nil
	}
	e.Provider.Resume(&identity.ProviderSession{AccessToken: access, RefreshToken: refresh})
	ps, err := e.Provider.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: session expired (%s), run zippyctl login", ErrNotSignedIn, identity.Message(err))
	}
	if err := e.saveTokens(ctx, ps); err != nil {
		return "", err
	}
	return ps.AccessToken, nil
}

// tokenExpired reads exp without verifying the token; undecodable tokens
// are left for the server to judge.
func tokenExpired(token string, now time.Time) bool {
	claims, err := auth.ParseUnverified(token)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !now.Add(refreshSkew).Before(claims.ExpiresAt.Time)
}

// buildEnv opens storage and the provider client described by cfg.
func buildEnv(ctx context.Context, cfg config.Config, out io.Writer) (*Env, error) {
	env := &Env{Config: cfg, Out: out, HTTPClient: &http.Client{Timeout: cfg.Provider.Timeout}}

	// the CLI always persists: the memory backend means the local badger dir
	switch cfg.Session.Backend {
	case config.SessionRedis:
		st, err := rediskv.Dial(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("session storage: %w", err)
		}
		env.Storage, env.closer = st, st.Close
	default:
		st, err := badgerkv.Open(cfg.Session.Dir)
		if err != nil {
			return nil, fmt.Errorf("session storage: %w", err)
		}
		env.Storage, env.closer = st, st.Close
	}
	env.Store = session.NewStore(env.Storage)

	switch cfg.Provider.Kind {
	case config.ProviderGoTrue:
		c, err := gotrue.New(gotrue.Config{URL: cfg.Provider.URL, APIKey: cfg.Provider.AnonKey, Timeout: cfg.Provider.Timeout})
		if err != nil {
			_ = env.closer()
			return nil, err
		}
		env.Provider = c
	case config.ProviderMemory:
		dir, err := memory.New([]byte(cfg.Provider.Secret), memory.DemoSeeds())
		if err != nil {
			_ = env.closer()
			return nil, err
		}
		env.Directory = dir
		env.Provider = dir.NewClient()
	default:
		_ = env.closer()
		return nil, errors.New("unknown provider kind " + cfg.Provider.Kind)
	}
	return env, nil
}
