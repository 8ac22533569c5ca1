// Package session keeps the console's locally held proof of authentication.
//
// A Store mirrors one Session into a Storage backend under two fixed keys:
// an "authenticated" flag and the JSON-encoded user record. Anything short of
// both keys parsing cleanly reads back as "signed out".
package session

import (
	"strings"
	"time"
)

// Session is the signed-in console user.
type Session struct {
	UserID        string    `json:"id"`
	DisplayName   string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	EstablishedAt time.Time `json:"establishedAt"`
}

// New builds a Session in its stored form.
func New(userID, displayName, email, role string, at time.Time) Session {
	return Session{
		UserID:        userID,
		DisplayName:   displayName,
		Email:         email,
		Role:          role,
		EstablishedAt: at,
	}.Canonical()
}

// Canonical returns s as it reads back from storage: trimmed id and role,
// valid UTF-8 text, and a UTC timestamp without a monotonic reading.
func (s Session) Canonical() Session {
	return Session{
		UserID:        strings.ToValidUTF8(strings.TrimSpace(s.UserID), "\uFFFD"),
		DisplayName:   strings.ToValidUTF8(s.DisplayName, "\uFFFD"),
		Email:         strings.ToValidUTF8(s.Email, "\uFFFD"),
		Role:          strings.ToValidUTF8(strings.TrimSpace(s.Role), "\uFFFD"),
		EstablishedAt: s.EstablishedAt.UTC().Round(0),
	}
}

// Valid reports whether the session identifies a user with a role.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != "" && strings.TrimSpace(s.Role) != ""
}

// RolePolicy is the set of roles allowed to hold a console session.
type RolePolicy map[string]struct{}

// DefaultConsoleRole is the role the console grants by default.
const DefaultConsoleRole = "Administrator"

// NewRolePolicy builds a policy from role names; empty input yields the default role.
func NewRolePolicy(roles ...string) RolePolicy {
	p := make(RolePolicy, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r != "" {
			p[r] = struct{}{}
		}
	}
	if len(p) == 0 {
		p[DefaultConsoleRole] = struct{}{}
	}
	return p
}

// Permits reports whether role may hold a console session.
func (p RolePolicy) Permits(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	_, ok := p[role]
	return ok
}
