package notifications

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/events"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type harness struct {
	hub      *Hub
	registry *Registry
	bus      *events.Bus
	issuer   *auth.TokenIssuer
	server   *httptest.Server
}

func newHarness(t *testing.T) harness {
	t.Helper()
	registry := NewRegistry()
	hub, err := NewHub(HubConfig{Registry: registry, SendBuffer: 8})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("socket-secret"),
		Issuer:        "agora-test",
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)
	gateway, err := NewGateway(GatewayConfig{Hub: hub, Tokens: issuer, CookieName: "token"})
	require.NoError(t, err)

	bus := events.NewBus(16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, bus.Events())
		close(done)
	}()
	server := httptest.NewServer(gateway)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return harness{hub: hub, registry: registry, bus: bus, issuer: issuer, server: server}
}

func (h harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, _, err := h.issuer.IssueToken(auth.Identity{UserID: userID, Username: userID})
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		_, ok := h.registry.SocketFor(userID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(message, &frame))
	return frame
}

func TestNewHubRequiresRegistry(t *testing.T) {
	_, err := NewHub(HubConfig{})
	require.Error(t, err)
}

func TestGatewayRequiresDependencies(t *testing.T) {
	hub, err := NewHub(HubConfig{Registry: NewRegistry()})
	require.NoError(t, err)
	_, err = NewGateway(GatewayConfig{Hub: hub})
	require.Error(t, err)
	_, err = NewGateway(GatewayConfig{Tokens: &auth.TokenIssuer{}})
	require.Error(t, err)
}

func TestGatewayClosesUnauthenticatedSockets(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")

	for _, suffix := range []string{"/", "/?token=not-a-jwt"} {
		conn, _, err := websocket.DefaultDialer.Dial(url+suffix, nil)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		require.Error(t, err)
		_ = conn.Close()
	}
	require.Zero(t, h.registry.Len())
	require.Zero(t, h.hub.ClientCount())
}

func TestHubBroadcastsNewQuestion(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "user-1")
	second := h.dial(t, "user-2")

	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.bus.Publish(events.QuestionCreated{
		QuestionID: "q-1",
		Title:      "How do sockets work?",
		Author:     events.Author{ID: "user-1", Username: "alice"},
		CreatedAt:  createdAt,
	})

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		require.Equal(t, EventNewQuestion, frame["event"])
		data := frame["data"].(map[string]interface{})
		require.Equal(t, "A new question has been posted", data["message"])
		question := data["question"].(map[string]interface{})
		require.Equal(t, "q-1", question["id"])
		require.Equal(t, "alice", question["author"].(map[string]interface{})["username"])
	}
}

func TestHubNotifiesQuestionAuthorOfNewAnswer(t *testing.T) {
	h := newHarness(t)
	asker := h.dial(t, "asker")
	helper := h.dial(t, "helper")

	h.bus.Publish(events.AnswerCreated{
		AnswerID:         "a-1",
		QuestionID:       "q-1",
		QuestionAuthorID: "asker",
		Content:          strings.Repeat("x", 150),
		Author:           events.Author{ID: "helper", Username: "bob"},
	})

	targeted := readFrame(t, asker)
	require.Equal(t, EventAnswerNotification, targeted["event"])
	data := targeted["data"].(map[string]interface{})
	require.Equal(t, "bob answered your question", data["message"])
	answer := data["answer"].(map[string]interface{})
	require.Equal(t, strings.Repeat("x", 100)+"...", answer["content"])

	broadcast := readFrame(t, asker)
	require.Equal(t, EventNewAnswer, broadcast["event"])

	// The answerer only receives the broadcast.
	frame := readFrame(t, helper)
	require.Equal(t, EventNewAnswer, frame["event"])
	answer = frame["data"].(map[string]interface{})["answer"].(map[string]interface{})
	require.Equal(t, strings.Repeat("x", 150), answer["content"])
}

func TestHubNotifiesAcceptedAnswerAuthor(t *testing.T) {
	h := newHarness(t)
	helper := h.dial(t, "helper")
	viewer := h.dial(t, "viewer")

	h.bus.Publish(events.AnswerAccepted{AnswerID: "a-1", QuestionID: "q-1", AuthorID: "helper"})

	targeted := readFrame(t, helper)
	require.Equal(t, EventAnswerAcceptedNotification, targeted["event"])
	require.Equal(t, "Your answer was accepted!", targeted["data"].(map[string]interface{})["message"])
	require.Equal(t, EventAnswerAccepted, readFrame(t, helper)["event"])
	require.Equal(t, EventAnswerAccepted, readFrame(t, viewer)["event"])
}

func TestHubBroadcastsVoteUpdates(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "viewer")

	h.bus.Publish(events.AnswerVoted{AnswerID: "a-1", QuestionID: "q-1", Votes: 4})

	frame := readFrame(t, conn)
	require.Equal(t, EventAnswerVoteUpdate, frame["event"])
	data := frame["data"].(map[string]interface{})
	require.Equal(t, float64(4), data["votes"])
	require.Equal(t, "q-1", data["questionId"])
}

func TestHubDisconnectUnbindsRegistry(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "leaver")
	require.Equal(t, 1, h.hub.ClientCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return h.registry.Len() == 0 && h.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClients(t *testing.T) {
	registry := NewRegistry()
	hub, err := NewHub(HubConfig{Registry: registry, SendBuffer: 1})
	require.NoError(t, err)
	slow := hub.attach(nil, "slow")
	require.NotNil(t, slow)

	vote := events.AnswerVoted{AnswerID: "a", QuestionID: "q", Votes: 1}
	hub.dispatch(vote)
	require.Equal(t, 1, hub.ClientCount())
	hub.dispatch(vote)

	require.Zero(t, hub.ClientCount())
	require.Zero(t, registry.Len())
	_, open := <-slow.send
	require.True(t, open, "buffered frame stays readable")
	_, open = <-slow.send
	require.False(t, open, "send channel must be closed")
}

func TestHubRefusesClientsAfterShutdown(t *testing.T) {
	hub, err := NewHub(HubConfig{Registry: NewRegistry()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx, make(chan events.Event))
	require.Nil(t, hub.attach(nil, "late"))
}

func TestPreviewTruncatesByRune(t *testing.T) {
	require.Equal(t, "short", preview("short"))
	long := strings.Repeat("é", 120)
	require.Equal(t, strings.Repeat("é", 100)+"...", preview(long))
}
