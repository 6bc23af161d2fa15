package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/answers"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/questions"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/throttle"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "agora_user_id"
	claimsContextKey   = "agora_claims"
	defaultCookieName  = "token"
	throttleGroupAuth  = "auth"
	throttleGroupQA    = "questions"
	throttleGroupReply = "answers"
)

var (
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingQuestionsService = errors.New("questions service dependency required")
	errMissingAnswersService   = errors.New("answers service dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
)

// TokenManager issues and validates API access tokens.
type TokenManager interface {
	IssueToken(identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
	TTL() time.Duration
}

type Dependencies struct {
	Users     *users.Service
	Questions *questions.Service
	Answers   *answers.Service
	Tokens    TokenManager
	// Realtime serves GET /ws when set.
	Realtime http.Handler
	// Limiter throttles the auth, questions and answers routes when set.
	Limiter       throttle.Limiter
	HealthCheck   func(ctx context.Context) error
	APIPrefix     string
	CORSOrigins   []string
	CookieName    string
	SecureCookies bool
	Clock         func() time.Time
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Questions == nil {
		return nil, errMissingQuestionsService
	}
	if deps.Answers == nil {
		return nil, errMissingAnswersService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cookieName := deps.CookieName
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	registerValidators()

	handler := &httpHandler{
		users:         deps.Users,
		questions:     deps.Questions,
		answers:       deps.Answers,
		tokens:        deps.Tokens,
		limiter:       deps.Limiter,
		healthCheck:   deps.HealthCheck,
		cookieName:    cookieName,
		secureCookies: deps.SecureCookies,
		clock:         clock,
		logger:        logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware(deps.CORSOrigins))
	router.NoRoute(handler.handleNotFound)

	router.GET("/health", handler.handleHealth)
	if deps.Realtime != nil {
		router.GET("/ws", gin.WrapH(deps.Realtime))
	}

	api := router.Group(apiBasePath(deps.APIPrefix))

	authRoutes := api.Group("/auth", handler.throttle(throttleGroupAuth))
	authRoutes.POST("/register", handler.handleRegister)
	authRoutes.POST("/login", handler.handleLogin)
	authRoutes.POST("/logout", handler.handleLogout)
	authRoutes.GET("/me", handler.authorizeRequest, handler.handleMe)

	questionRoutes := api.Group("/questions", handler.throttle(throttleGroupQA))
	questionRoutes.GET("", handler.resolveUser, handler.handleListQuestions)
	questionRoutes.GET("/user", handler.authorizeRequest, handler.handleListOwnQuestions)
	questionRoutes.GET("/:id", handler.resolveUser, handler.handleGetQuestion)
	questionRoutes.POST("", handler.authorizeRequest, handler.handleCreateQuestion)
	questionRoutes.PATCH("/:id", handler.authorizeRequest, handler.handleUpdateQuestion)
	questionRoutes.PATCH("/:id/vote", handler.authorizeRequest, handler.handleVoteQuestion)
	questionRoutes.DELETE("/:id", handler.authorizeRequest, handler.handleDeleteQuestion)

	answerRoutes := api.Group("/answers", handler.throttle(throttleGroupReply))
	answerRoutes.POST("/question/:questionId", handler.authorizeRequest, handler.handleCreateAnswer)
	answerRoutes.GET("/question/:questionId", handler.handleListAnswers)
	answerRoutes.GET("/:id", handler.handleGetAnswer)
	answerRoutes.PATCH("/:id", handler.authorizeRequest, handler.handleUpdateAnswer)
	answerRoutes.PATCH("/:id/vote", handler.authorizeRequest, handler.handleVoteAnswer)
	answerRoutes.PATCH("/:id/accept", handler.authorizeRequest, handler.handleAcceptAnswer)
	answerRoutes.DELETE("/:id", handler.authorizeRequest, handler.handleDeleteAnswer)

	userRoutes := api.Group("/users")
	userRoutes.GET("", handler.handleListUsers)
	userRoutes.GET("/username/:username", handler.handleGetUserByUsername)
	userRoutes.GET("/:id", handler.handleGetUser)
	userRoutes.PATCH("/:id", handler.authorizeRequest, handler.handleUpdateUser)
	userRoutes.DELETE("/:id", handler.authorizeRequest, handler.handleDeleteUser)

	return router, nil
}

type httpHandler struct {
	users         *users.Service
	questions     *questions.Service
	answers       *answers.Service
	tokens        TokenManager
	limiter       throttle.Limiter
	healthCheck   func(ctx context.Context) error
	cookieName    string
	secureCookies bool
	clock         func() time.Time
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleNotFound(c *gin.Context) {
	h.writeEnvelope(c, http.StatusNotFound, "Cannot "+c.Request.Method+" "+c.Request.URL.Path)
}

func apiBasePath(prefix string) string {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + trimmed
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}
