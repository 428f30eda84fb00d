package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/database"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/voting"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
)

type testServer struct {
	handler    http.Handler
	db         *gorm.DB
	issuer     *auth.SessionIssuer
	dispatcher *RealtimeDispatcher
}

func newTestServer(t *testing.T, logger *zap.Logger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db, logger))

	scores, err := scoring.NewStore(scoring.StoreConfig{Database: db, Logger: logger})
	require.NoError(t, err)
	dispatcher := NewRealtimeDispatcher()
	registry := metrics.NewRegistry()
	votes, err := voting.NewService(voting.ServiceConfig{
		Database:   db,
		Scores:     scores,
		IDProvider: voting.NewUUIDProvider(),
		Publisher:  dispatcher,
		Metrics:    metrics.NewVoteMetrics(registry),
		Logger:     logger,
	})
	require.NoError(t, err)
	contentService, err := content.NewService(content.ServiceConfig{Database: db, IDProvider: voting.NewUUIDProvider(), Logger: logger})
	require.NoError(t, err)
	usersService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	require.NoError(t, err)
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		Votes:          votes,
		Scores:         scores,
		Content:        contentService,
		Users:          usersService,
		Sessions:       validator,
		Realtime:       dispatcher,
		HTTPMetrics:    metrics.NewHTTPMetrics(registry),
		MetricsHandler: metrics.Handler(registry),
		Heartbeat:      time.Hour,
		Logger:         logger,
	})
	require.NoError(t, err)

	return &testServer{
		handler:    handler,
		db:         db,
		issuer:     issuer,
		dispatcher: dispatcher,
	}
}

type requestOption func(*http.Request)

func withAnonymous(anonymousID string) requestOption {
	return func(r *http.Request) {
		r.Header.Set(anonymousIDHeader, anonymousID)
	}
}

func withCookie(cookie *http.Cookie) requestOption {
	return func(r *http.Request) {
		r.AddCookie(cookie)
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, options ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for _, option := range options {
		option(request)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) sessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	cookie, err := s.issuer.Cookie(userID, "")
	require.NoError(t, err)
	return cookie
}

func (s *testServer) createPost(t *testing.T, title string, options ...requestOption) string {
	t.Helper()
	if len(options) == 0 {
		options = []requestOption{withAnonymous("author-anon")}
	}
	recorder := s.do(t, http.MethodPost, "/api/posts", map[string]string{"title": title, "body": "body"}, options...)
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	var payload postPayload
	decodeBody(t, recorder, &payload)
	return payload.ID
}

func (s *testServer) createComment(t *testing.T, postID string, options ...requestOption) string {
	t.Helper()
	if len(options) == 0 {
		options = []requestOption{withAnonymous("author-anon")}
	}
	recorder := s.do(t, http.MethodPost, "/api/posts/"+postID+"/comments", map[string]string{"body": "reply"}, options...)
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	var payload commentPayload
	decodeBody(t, recorder, &payload)
	return payload.ID
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target), recorder.Body.String())
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func extractField(t *testing.T, body string, field string) string {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &fields))
	raw, ok := fields[field]
	require.True(t, ok, "field %s missing from %s", field, body)
	return string(raw)
}

func expiredToken(t *testing.T) string {
	t.Helper()
	issuedAt := time.Now().Add(-2 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tauth",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	require.NoError(t, err)
	return signed
}
