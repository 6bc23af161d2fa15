package notifications

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const opGatewayNew = "notifications.gateway.new"

var (
	errMissingHub       = errors.New("hub is required")
	errMissingValidator = errors.New("token validator is required")
)

// TokenValidator verifies access tokens presented by sockets.
type TokenValidator interface {
	ValidateToken(token string) (auth.Claims, error)
}

// GatewayConfig describes the dependencies of the WebSocket endpoint.
type GatewayConfig struct {
	Hub            *Hub
	Tokens         TokenValidator
	CookieName     string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Gateway upgrades authenticated requests to sockets attached to the hub.
type Gateway struct {
	hub        *Hub
	tokens     TokenValidator
	cookieName string
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Hub == nil {
		return nil, apperr.Wrap(opGatewayNew, "missing_hub", errMissingHub)
	}
	if cfg.Tokens == nil {
		return nil, apperr.Wrap(opGatewayNew, "missing_validator", errMissingValidator)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return &Gateway{
		hub:        cfg.Hub,
		tokens:     cfg.Tokens,
		cookieName: cfg.CookieName,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		logger: logger,
	}, nil
}

// ServeHTTP accepts the socket first and then authenticates it. A missing or
// invalid token closes the connection without a reply.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	token := auth.TokenFromRequest(r, g.cookieName, true)
	if token == "" {
		g.logger.Warn("websocket connection without token", zap.String("remote_addr", r.RemoteAddr))
		_ = conn.Close()
		return
	}
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		g.logger.Warn("websocket authentication failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		_ = conn.Close()
		return
	}

	c := g.hub.attach(conn, claims.UserID())
	if c == nil {
		_ = conn.Close()
		return
	}
	c.run()
}

func originChecker(allowed map[string]struct{}) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}
