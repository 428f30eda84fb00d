package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "tauth"
	// DefaultProvider names the login provider of a session whose user_id carries no "provider:" prefix.
	DefaultProvider = "default"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionClaims mirrors the JWT payload emitted by TAuth.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// Principal names the login behind the session as a provider and a provider-local subject.
//
// A user_id of the form "github:42" splits into provider and subject. A plain user_id is used
// only when the registered subject is empty; the email is the last fallback. An empty subject
// means the session cannot back a registered voter.
func (c SessionClaims) Principal() (provider string, subject string) {
	provider = DefaultProvider
	subject = strings.TrimSpace(c.Subject)

	if raw := strings.TrimSpace(c.UserID); raw != "" {
		prefix, rest, found := strings.Cut(raw, ":")
		switch {
		case found && strings.TrimSpace(prefix) != "" && strings.TrimSpace(rest) != "":
			provider = strings.TrimSpace(prefix)
			subject = strings.TrimSpace(rest)
		case !found && subject == "":
			subject = raw
		}
	}

	if subject == "" {
		subject = strings.TrimSpace(c.UserEmail)
	}
	return provider, subject
}

// SessionValidatorConfig describes how to validate TAuth-issued JWTs.
// Issuer defaults to "tauth".
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator turns the session cookie on a vote request into claims for a registered voter.
type SessionValidator struct {
	parser        *jwt.Parser
	signingSecret []byte
	cookieName    string
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		parser: jwt.NewParser(
			jwt.WithTimeFunc(clock),
			jwt.WithIssuer(issuer),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		),
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		cookieName:    cookieName,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns claims that name a principal.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.signingKey)
	if err != nil {
		return SessionClaims{}, classifyParseError(err)
	}
	if !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if _, subject := claims.Principal(); subject == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// ValidateRequest extracts the configured cookie from the request and validates it.
// A request without the cookie yields ErrMissingSessionToken, which callers treat as an anonymous request.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(cookie.Value)
}

func (v *SessionValidator) signingKey(*jwt.Token) (interface{}, error) {
	return v.signingSecret, nil
}

// classifyParseError separates expiry, which callers log quietly, from every other rejection.
func classifyParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredSessionToken
	}
	return fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
}
