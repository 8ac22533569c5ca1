package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultIssuer is stamped on tokens minted by the in-process identity provider.
const DefaultIssuer = "zippytrip"

// Authentication methods recorded in the amr claim.
const (
	MethodPassword = "password"
	MethodRecovery = "recovery"
)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken  = errors.New("invalid token")
	errMissingSecret = errors.New("auth secret is not configured")
)

// AMREntry is one authentication method reference.
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// Claims represents JWT claims shared with GoTrue-style access tokens.
type Claims struct {
	Email string     `json:"email,omitempty"`
	Role  string     `json:"user_role,omitempty"`
	AMR   []AMREntry `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// HasMethod reports whether the token was obtained via method.
func (c *Claims) HasMethod(method string) bool {
	for _, e := range c.AMR {
		if e.Method == method {
			return true
		}
	}
	return false
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

func WithIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(secret []byte, opts ...SignerOption) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errMissingSecret
	}
	s := &Signer{secret: append([]byte{}, secret...), issuer: DefaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue describes the subject of a new token.
type Issue struct {
	UserID string
	Email  string
	Role   string
	Method string
	TTL    time.Duration
}

// GenerateToken signs a JWT for the subject. The returned id is the jti claim.
func (s *Signer) GenerateToken(in Issue) (token, id string, expiresAt time.Time, err error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return "", "", time.Time{}, errors.New("userID is required")
	}
	if in.TTL <= 0 {
		return "", "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	method := in.Method
	if method == "" {
		method = MethodPassword
	}

	now := s.now().UTC()
	id = uuid.NewString()
	expiresAt = now.Add(in.TTL)
	claims := Claims{
		Email: in.Email,
		Role:  in.Role,
		AMR:   []AMREntry{{Method: method, Timestamp: now.Unix()}},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        id,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, id, expiresAt, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (s *Signer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseUnverified decodes claims without checking the signature. Only for
// tokens the caller already received from a trusted provider.
func ParseUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
