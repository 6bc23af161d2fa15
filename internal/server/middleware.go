package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageUnauthorized = "Unauthorized"
	messageThrottled    = "ThrottlerException: Too Many Requests"
)

func accessLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := c.GetString(userIDContextKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if private := c.Errors.ByType(gin.ErrorTypePrivate).String(); private != "" {
			fields = append(fields, zap.String("errors", private))
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request handled", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request handled", fields...)
		default:
			logger.Info("request handled", fields...)
		}
	}
}

// authorizeRequest rejects requests without a valid access token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request, h.cookieName, false)
	if token == "" {
		h.abortWithEnvelope(c, http.StatusUnauthorized, messageUnauthorized)
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		h.abortWithEnvelope(c, http.StatusUnauthorized, messageUnauthorized)
		return
	}
	c.Set(userIDContextKey, claims.UserID())
	c.Set(claimsContextKey, claims)
	c.Next()
}

// resolveUser attaches the caller when a valid token is present and lets
// anonymous requests through.
func (h *httpHandler) resolveUser(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request, h.cookieName, false)
	if token != "" {
		if claims, err := h.tokens.ValidateToken(token); err == nil {
			c.Set(userIDContextKey, claims.UserID())
			c.Set(claimsContextKey, claims)
		}
	}
	c.Next()
}

func (h *httpHandler) throttle(group string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		allowed, err := h.limiter.Allow(c.Request.Context(), group+":"+c.ClientIP())
		if err != nil {
			h.logger.Error("throttle check failed", zap.String("group", group), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			h.abortWithEnvelope(c, http.StatusTooManyRequests, messageThrottled)
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
