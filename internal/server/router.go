package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/voting"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	anonymousIDHeader = "X-Anonymous-ID"
	tenantHeader      = "X-TAuth-Tenant"

	errorInternal    = "internal_error"
	codeInternal     = "server.internal"
	messageBadValue  = "value must be 1 or -1"
	messageBadBody   = "request body must be a JSON object"
	messageBadLimit  = "limit must be an integer"
	defaultHeartbeat = 25 * time.Second
)

var (
	errMissingVotingService  = errors.New("voting service dependency required")
	errMissingScoreStore     = errors.New("score store dependency required")
	errMissingContentService = errors.New("content service dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingSessions       = errors.New("session validator dependency required")
)

// Dependencies wires the HTTP surface to the services it fronts.
type Dependencies struct {
	Votes          *voting.Service
	Scores         *scoring.Store
	Content        *content.Service
	Users          *users.Service
	Sessions       *auth.SessionValidator
	Realtime       *RealtimeDispatcher
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	Heartbeat      time.Duration
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Votes == nil {
		return nil, errMissingVotingService
	}
	if deps.Scores == nil {
		return nil, errMissingScoreStore
	}
	if deps.Content == nil {
		return nil, errMissingContentService
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.HTTPMetrics != nil {
		router.Use(deps.HTTPMetrics.Middleware())
	}

	handler := &httpHandler{
		votes:     deps.Votes,
		scores:    deps.Scores,
		content:   deps.Content,
		users:     deps.Users,
		sessions:  deps.Sessions,
		realtime:  realtime,
		metrics:   deps.HTTPMetrics,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	api := router.Group("/api")
	api.POST("/anonymous-ids", handler.handleIssueAnonymousID)

	api.POST("/votes/:targetType/:targetId", handler.handleCastVote)
	api.GET("/votes/:targetType/:targetId", handler.handleGetVote)

	api.GET("/posts", handler.handleListPosts)
	api.POST("/posts", handler.handleCreatePost)
	api.GET("/posts/:id", handler.handleGetPost)
	api.GET("/posts/:id/ranking", handler.handleRanking(scoring.EntityPost))
	api.GET("/posts/:id/comments", handler.handleListComments)
	api.POST("/posts/:id/comments", handler.handleCreateComment)
	api.GET("/comments/:id/ranking", handler.handleRanking(scoring.EntityComment))

	api.POST("/ranking/hot-score", handler.handleComputeHotScore)
	api.GET("/users/:id/karma", handler.handleKarma)

	api.GET("/events/:targetType/:targetId", handler.handleScoreStream)

	return router, nil
}

type httpHandler struct {
	votes     *voting.Service
	scores    *scoring.Store
	content   *content.Service
	users     *users.Service
	sessions  *auth.SessionValidator
	realtime  *RealtimeDispatcher
	metrics   *metrics.HTTPMetrics
	heartbeat time.Duration
	logger    *zap.Logger
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", anonymousIDHeader, tenantHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		// credentials require the request origin to be echoed rather than "*"
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

// resolveVoter prefers a valid session cookie and falls back to the anonymous header.
// An invalid or expired session is treated as absent.
func (h *httpHandler) resolveVoter(c *gin.Context) (identity.Identity, error) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	switch {
	case err == nil:
		voter, resolveErr := h.users.ResolveVoter(c.Request.Context(), claims)
		if resolveErr == nil {
			return voter, nil
		}
		if !errors.Is(resolveErr, users.ErrInvalidIdentity) {
			return identity.Identity{}, resolveErr
		}
		h.logger.Warn("session identity rejected", zap.Error(resolveErr))
	case errors.Is(err, auth.ErrMissingSessionToken):
	case errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Info("session validation failed", zap.Error(err))
	default:
		h.logger.Warn("session validation failed", zap.Error(err))
	}
	return voting.ResolveVoter("", c.GetHeader(anonymousIDHeader))
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	var (
		ledgerErr  *voting.ServiceError
		contentErr *content.ServiceError
		rankingErr *scoring.ValidationError
	)
	switch {
	case errors.As(err, &rankingErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": rankingErr.Message})
	case errors.As(err, &ledgerErr):
		switch ledgerErr.Kind() {
		case voting.KindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": ledgerErr.Message()})
		case voting.KindInvalidInput:
			c.JSON(http.StatusBadRequest, gin.H{"error": ledgerErr.Message()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal, "code": ledgerErr.Code()})
		}
	case errors.As(err, &contentErr):
		switch {
		case errors.Is(err, content.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": contentErr.Message()})
		case errors.Is(err, content.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": contentErr.Message()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal, "code": contentErr.Code()})
		}
	default:
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal, "code": codeInternal})
	}
}

func (h *httpHandler) writeRankingError(c *gin.Context, kind scoring.EntityKind, err error) {
	switch {
	case errors.Is(err, scoring.ErrEntityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": kind.Label() + " not found"})
	case errors.Is(err, scoring.ErrInvalidEntity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
	default:
		h.writeError(c, err)
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func trimmedParam(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
