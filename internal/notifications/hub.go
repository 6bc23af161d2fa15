// Package notifications pushes domain events to connected WebSocket clients.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultSendBuffer = 32

	opHubNew = "notifications.hub.new"
)

var errMissingRegistry = errors.New("socket registry is required")

// HubConfig describes the dependencies of the hub.
type HubConfig struct {
	Registry   *Registry
	SendBuffer int
	Logger     *zap.Logger
}

// Hub fans events out to connected clients. It is the only consumer of the
// event stream handed to Run.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	closed     bool
	registry   *Registry
	sendBuffer int
	logger     *zap.Logger
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Registry == nil {
		return nil, apperr.Wrap(opHubNew, "missing_registry", errMissingRegistry)
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*client),
		registry:   cfg.Registry,
		sendBuffer: sendBuffer,
		logger:     logger,
	}, nil
}

// Run dispatches events until ctx is cancelled or source is closed, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, source <-chan events.Event) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-source:
			if !ok {
				return
			}
			h.dispatch(event)
		}
	}
}

// ClientCount reports the number of attached sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dispatch(event events.Event) {
	switch typed := event.(type) {
	case events.QuestionCreated:
		h.broadcast(newQuestionFrame(typed))
	case events.AnswerCreated:
		if typed.QuestionAuthorID != "" && typed.QuestionAuthorID != typed.Author.ID {
			h.sendTo(typed.QuestionAuthorID, answerNotificationFrame(typed))
		}
		h.broadcast(newAnswerFrame(typed))
	case events.AnswerVoted:
		h.broadcast(answerVoteUpdateFrame(typed))
	case events.AnswerAccepted:
		h.sendTo(typed.AuthorID, answerAcceptedNotificationFrame(typed))
		h.broadcast(answerAcceptedFrame(typed))
	default:
		h.logger.Warn("unhandled event", zap.String("event", events.Name(event)))
	}
}

func (h *Hub) broadcast(frame Frame) {
	payload, ok := h.encode(frame)
	if !ok {
		return
	}
	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.drop(c, frame.Event)
	}
}

// sendTo delivers frame to the socket bound to userID, if any.
func (h *Hub) sendTo(userID string, frame Frame) {
	socketID, bound := h.registry.SocketFor(userID)
	if !bound {
		return
	}
	payload, ok := h.encode(frame)
	if !ok {
		return
	}
	h.mu.RLock()
	c := h.clients[socketID]
	delivered := true
	if c != nil {
		select {
		case c.send <- payload:
		default:
			delivered = false
		}
	}
	h.mu.RUnlock()
	if !delivered {
		h.drop(c, frame.Event)
	}
}

func (h *Hub) encode(frame Frame) ([]byte, bool) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", frame.Event), zap.Error(err))
		return nil, false
	}
	return payload, true
}

// attach registers conn for userID and binds it in the registry. It returns
// nil once the hub has shut down.
func (h *Hub) attach(conn *websocket.Conn, userID string) *client {
	c := &client{
		hub:      h,
		conn:     conn,
		socketID: uuid.NewString(),
		userID:   userID,
		send:     make(chan []byte, h.sendBuffer),
	}
	c.logger = h.logger.With(zap.String("socket_id", c.socketID), zap.String("user_id", userID))

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.clients[c.socketID] = c
	h.registry.Bind(userID, c.socketID)
	c.logger.Info("client connected")
	return c
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) drop(c *client, event string) {
	c.logger.Warn("dropping slow client", zap.String("event", event))
	h.detach(c)
}

func (h *Hub) removeLocked(c *client) {
	if current, ok := h.clients[c.socketID]; !ok || current != c {
		return
	}
	delete(h.clients, c.socketID)
	close(c.send)
	h.registry.Unbind(c.socketID)
	c.logger.Info("client disconnected")
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}
