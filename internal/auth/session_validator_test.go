package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "app_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func signTestToken(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestValidator(t *testing.T, clockNow time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	signed := signTestToken(t, SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	}, testSessionSigningSecret)

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	clockNow := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)
	valid := jwt.RegisteredClaims{
		Issuer:    defaultSessionIssuer,
		Subject:   testSessionUserID,
		IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
	}

	expired := valid
	expired.IssuedAt = jwt.NewNumericDate(clockNow.Add(-2 * time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(clockNow.Add(-time.Hour))

	foreignIssuer := valid
	foreignIssuer.Issuer = "someone-else"

	noSubject := valid
	noSubject.Subject = ""

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrMissingSessionToken},
		{name: "expired", token: signTestToken(t, SessionClaims{UserID: testSessionUserID, RegisteredClaims: expired}, testSessionSigningSecret), want: ErrExpiredSessionToken},
		{name: "wrong-secret", token: signTestToken(t, SessionClaims{UserID: testSessionUserID, RegisteredClaims: valid}, "other"), want: ErrInvalidSessionToken},
		{name: "wrong-issuer", token: signTestToken(t, SessionClaims{UserID: testSessionUserID, RegisteredClaims: foreignIssuer}, testSessionSigningSecret), want: ErrInvalidSessionToken},
		{name: "no-subject", token: signTestToken(t, SessionClaims{RegisteredClaims: noSubject}, testSessionSigningSecret), want: ErrMissingSessionSubject},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidSessionToken},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := validator.ValidateToken(testCase.token)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestToken(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSessionSigningSecret)

	request := httptest.NewRequest(http.MethodPost, "/api/votes/post/p1", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signed,
	})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}

	bare := httptest.NewRequest(http.MethodPost, "/api/votes/post/p1", http.NoBody)
	if _, err := validator.ValidateRequest(bare); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresSecretAndCookie(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{CookieName: testSessionCookieName}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: " "}); !errors.Is(err, ErrMissingSessionCookieName) {
		t.Fatalf("expected missing cookie error, got %v", err)
	}
}

func TestSessionClaimsPrincipal(t *testing.T) {
	testCases := []struct {
		name     string
		claims   SessionClaims
		provider string
		subject  string
	}{
		{name: "prefixed", claims: SessionClaims{UserID: "github:99"}, provider: "github", subject: "99"},
		{name: "prefix-overrides-subject", claims: SessionClaims{UserID: "github:99", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}, provider: "github", subject: "99"},
		{name: "plain", claims: SessionClaims{UserID: " u1 "}, provider: DefaultProvider, subject: "u1"},
		{name: "subject-over-plain-user-id", claims: SessionClaims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}, provider: DefaultProvider, subject: "sub-1"},
		{name: "email-fallback", claims: SessionClaims{UserEmail: " a@b.c "}, provider: DefaultProvider, subject: "a@b.c"},
		{name: "dangling-prefix", claims: SessionClaims{UserID: "google:"}, provider: DefaultProvider, subject: ""},
		{name: "empty", claims: SessionClaims{}, provider: DefaultProvider, subject: ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			provider, subject := testCase.claims.Principal()
			if provider != testCase.provider || subject != testCase.subject {
				t.Fatalf("got %s/%s, want %s/%s", provider, subject, testCase.provider, testCase.subject)
			}
		})
	}
}

func TestSessionValidatorRejectsTokensWithoutPrincipal(t *testing.T) {
	clockNow := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)
	registered := jwt.RegisteredClaims{
		Issuer:    defaultSessionIssuer,
		IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
	}

	emailOnly := signTestToken(t, SessionClaims{UserEmail: testSessionUserEmail, RegisteredClaims: registered}, testSessionSigningSecret)
	claims, err := validator.ValidateToken(emailOnly)
	if err != nil {
		t.Fatalf("expected email-only session to validate, got %v", err)
	}
	if _, subject := claims.Principal(); subject != testSessionUserEmail {
		t.Fatalf("unexpected principal subject %q", subject)
	}

	danglingPrefix := signTestToken(t, SessionClaims{UserID: "google:", RegisteredClaims: registered}, testSessionSigningSecret)
	if _, err := validator.ValidateToken(danglingPrefix); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}
