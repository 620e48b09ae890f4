package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beer-chess/game-server/internal/auth"
	"github.com/beer-chess/game-server/pkg/events"
	"github.com/beer-chess/game-server/pkg/messages"
	"github.com/beer-chess/game-server/pkg/registry"
	"github.com/beer-chess/game-server/pkg/server"
)

var hubTestKey = []byte("fedcba9876543210fedcba9876543210")

type testEnv struct {
	srv  *httptest.Server
	hub  *server.Hub
	gate *auth.Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gate, err := auth.NewGate(hubTestKey)
	require.NoError(t, err)

	logger := zap.NewNop()
	publisher := events.NewPublisher()
	reg := registry.New(registry.Options{
		Gate:      gate,
		Publisher: publisher,
		Logger:    logger,
		Wall:      clockwork.NewRealClock(),
	})

	hub := server.NewHub(reg, gate, publisher, logger)
	go hub.Run()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := server.NewConnection(ws, hub, logger)
		hub.Register(conn)
		go conn.WritePump()
		go conn.ReadPump()
	}))

	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		reg.Stop()
	})

	return &testEnv{srv: srv, hub: hub, gate: gate}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return ws
}

func (e *testEnv) seal(t *testing.T, identity string) string {
	t.Helper()

	token, err := e.gate.Seal(identity)
	require.NoError(t, err)
	return token
}

func send(t *testing.T, ws *websocket.Conn, event string, payload interface{}) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	msg, err := json.Marshal(messages.InboundMessage{Event: event, Payload: raw})
	require.NoError(t, err)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, msg))
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func gamePayload(t *testing.T, env envelope) messages.GameMessage {
	t.Helper()

	var msg messages.GameMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	return msg
}

func errorText(t *testing.T, env envelope) string {
	t.Helper()

	require.Equal(t, "error", env.Event)
	var p messages.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Message
}

// barrier forces the hub to drain everything this connection sent so far:
// the run loop is serial, so once the reply to a throwaway join arrives, all
// earlier actions from the same connection have been processed.
func barrier(t *testing.T, ws *websocket.Conn, tag string) {
	t.Helper()

	send(t, ws, "join game", map[string]interface{}{"gameId": "barrier-" + tag})
	env := readEvent(t, ws)
	require.Equal(t, "game not found", env.Event)
}

func startGame(t *testing.T, e *testEnv, ws *websocket.Conn, gameID string) messages.GameMessage {
	t.Helper()

	send(t, ws, "start game", map[string]interface{}{
		"gameId":      gameID,
		"playerWhite": "alice",
		"playerBlack": "bob",
		"gameTitle":   "hub test",
		"timeRule":    "5/3",
		"secretName":  e.seal(t, "alice"),
	})

	env := readEvent(t, ws)
	require.Equal(t, gameID+" success", env.Event)
	return gamePayload(t, env)
}

func TestHubJoinUnknownGame(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, "join game", map[string]interface{}{"gameId": "nope"})

	env := readEvent(t, ws)
	assert.Equal(t, "game not found", env.Event)

	var p messages.GameNotFoundPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "nope", p.GameID)
}

func TestHubStartGameBroadcast(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	msg := startGame(t, e, ws, "g1")
	assert.Equal(t, "INITIALIZING", msg.GameStatus)
	assert.Equal(t, "PLAYABLE", msg.PositionStatus)
	assert.Len(t, msg.LegalMoves, 20)
	assert.Equal(t, "w", msg.Turn)
	assert.Equal(t, int64(300_000), msg.RemainingWhiteTime)
	assert.Equal(t, "alice", msg.PlayerWhite)
	assert.Equal(t, "bob", msg.PlayerBlack)
}

func TestHubDuplicateStart(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	startGame(t, e, ws, "g1")

	send(t, ws, "start game", map[string]interface{}{
		"gameId":      "g1",
		"playerWhite": "carol",
		"playerBlack": "dave",
		"timeRule":    "3/2",
		"secretName":  e.seal(t, "carol"),
	})

	env := readEvent(t, ws)
	assert.Equal(t, "game already exists", errorText(t, env))
}

func TestHubStartGameRejectsBadSchema(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, "start game", map[string]interface{}{
		"gameId":   "g1",
		"timeRule": "5/3",
	})

	env := readEvent(t, ws)
	assert.Equal(t, "invalid payload", errorText(t, env))
}

func TestHubJoinIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	first := startGame(t, e, ws, "g1")

	for i := 0; i < 2; i++ {
		send(t, ws, "join game", map[string]interface{}{"gameId": "g1"})
		env := readEvent(t, ws)
		require.Equal(t, "g1 success", env.Event)
		msg := gamePayload(t, env)
		assert.Equal(t, first.Position, msg.Position)
		assert.Equal(t, first.MoveCount, msg.MoveCount)
		assert.Equal(t, first.GameStatus, msg.GameStatus)
	}
}

func TestHubMoveWithAck(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	startGame(t, e, ws, "g1")

	send(t, ws, "move", map[string]interface{}{
		"gameId":     "g1",
		"moveIndex":  0,
		"secretName": e.seal(t, "alice"),
		"ack":        true,
	})

	// Broadcast and ack arrive in either order.
	got := map[string]envelope{}
	for i := 0; i < 2; i++ {
		env := readEvent(t, ws)
		got[env.Event] = env
	}

	update, ok := got["g1 success"]
	require.True(t, ok, "expected game broadcast, got %v", got)
	msg := gamePayload(t, update)
	assert.Equal(t, "FIRST_MOVE", msg.GameStatus)
	assert.Equal(t, 1, msg.MoveCount)
	assert.Equal(t, "b", msg.Turn)

	ackEnv, ok := got["move ack"]
	require.True(t, ok, "expected move ack, got %v", got)
	var ack messages.MoveAck
	require.NoError(t, json.Unmarshal(ackEnv.Payload, &ack))
	assert.Equal(t, "g1", ack.GameID)
	assert.Equal(t, msg.Position, ack.Position)
}

func TestHubMoveRejectsWrongIdentity(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	startGame(t, e, ws, "g1")

	// It is white's turn, so black's proof is not the expected mover's.
	send(t, ws, "move", map[string]interface{}{
		"gameId":     "g1",
		"moveIndex":  0,
		"secretName": e.seal(t, "bob"),
	})

	env := readEvent(t, ws)
	assert.Equal(t, "unauthorized", errorText(t, env))
}

func TestHubMoveRejectsBadIndex(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	startGame(t, e, ws, "g1")

	send(t, ws, "move", map[string]interface{}{
		"gameId":     "g1",
		"moveIndex":  9999,
		"secretName": e.seal(t, "alice"),
	})

	env := readEvent(t, ws)
	assert.Equal(t, "illegal move index", errorText(t, env))
}

func TestHubForfeitBroadcastsResult(t *testing.T) {
	e := newTestEnv(t)
	white := e.dial(t)
	black := e.dial(t)

	startGame(t, e, white, "g1")

	send(t, black, "join game", map[string]interface{}{"gameId": "g1"})
	env := readEvent(t, black)
	require.Equal(t, "g1 success", env.Event)

	send(t, black, "forfeit", map[string]interface{}{
		"gameId":     "g1",
		"secretName": e.seal(t, "bob"),
	})

	// Both channel members see the terminal broadcast.
	for _, ws := range []*websocket.Conn{white, black} {
		env := readEvent(t, ws)
		require.Equal(t, "g1 success", env.Event)
		msg := gamePayload(t, env)
		assert.Equal(t, "WHITE_WON", msg.GameStatus)
	}
}

func TestHubMoveOnFinishedGame(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	startGame(t, e, ws, "g1")

	send(t, ws, "forfeit", map[string]interface{}{
		"gameId":     "g1",
		"secretName": e.seal(t, "bob"),
	})
	env := readEvent(t, ws)
	require.Equal(t, "g1 success", env.Event)

	send(t, ws, "move", map[string]interface{}{
		"gameId":     "g1",
		"moveIndex":  0,
		"secretName": e.seal(t, "alice"),
	})

	env = readEvent(t, ws)
	assert.Equal(t, "g1 game ended", env.Event)
}

func TestHubSuggestTieReachesOpponent(t *testing.T) {
	e := newTestEnv(t)
	white := e.dial(t)
	black := e.dial(t)

	startGame(t, e, white, "g1")

	send(t, black, "sub to invites", map[string]interface{}{"uniqueName": "bob"})
	barrier(t, black, "sub")

	send(t, white, "suggest tie", map[string]interface{}{
		"gameId":     "g1",
		"secretName": e.seal(t, "alice"),
	})

	env := readEvent(t, black)
	require.Equal(t, "tie request", env.Event)

	var p messages.RequestPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "g1", p.GameID)
	assert.Equal(t, "alice", p.From)
}

func TestHubRoomInviteFlow(t *testing.T) {
	e := newTestEnv(t)
	host := e.dial(t)
	guest := e.dial(t)

	send(t, guest, "sub to invites", map[string]interface{}{"uniqueName": "bob"})
	barrier(t, guest, "guest")

	send(t, host, "join room", map[string]interface{}{"roomId": "room1"})
	barrier(t, host, "host")

	send(t, host, "send invite", map[string]interface{}{
		"roomId":     "room1",
		"uniqueName": "bob",
		"name":       "alice",
	})

	env := readEvent(t, guest)
	require.Equal(t, "invite", env.Event)

	var invite messages.InvitePayload
	require.NoError(t, json.Unmarshal(env.Payload, &invite))
	assert.Equal(t, "room1", invite.RoomID)
	assert.Equal(t, "alice", invite.From)

	// The room exists now, so a game-start announcement fans out to its
	// members.
	send(t, host, "room game start", map[string]interface{}{
		"roomId": "room1",
		"gameId": "g1",
	})

	env = readEvent(t, host)
	require.Equal(t, "game starting", env.Event)
	var starting messages.GameStartingPayload
	require.NoError(t, json.Unmarshal(env.Payload, &starting))
	assert.Equal(t, "g1", starting.GameID)
}

func TestHubSendInviteUnknownRoom(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, "send invite", map[string]interface{}{
		"roomId":     "ghost",
		"uniqueName": "bob",
		"name":       "alice",
	})

	env := readEvent(t, ws)
	assert.Equal(t, "room not found", errorText(t, env))
}

func TestHubUnknownEvent(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, "do the thing", map[string]interface{}{})

	env := readEvent(t, ws)
	assert.Equal(t, "unknown message type", errorText(t, env))
}

func TestHubRestoreGameRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, "restore game", map[string]interface{}{
		"gameId":         "g1",
		"timeRule":       "5/3",
		"history":        "1. e4 e5",
		"timeLeftWhite":  240000,
		"timeLeftBlack":  250000,
		"checkString":    "alice",
		"encCheckString": e.seal(t, "alice"),
		"playerWhite":    "alice",
		"playerBlack":    "bob",
	})

	env := readEvent(t, ws)
	require.Equal(t, "g1 success", env.Event)
	msg := gamePayload(t, env)
	assert.Equal(t, "STARTED", msg.GameStatus)
	assert.Equal(t, 2, msg.MoveCount)
	assert.Equal(t, "1. e4 e5", msg.History)

	// Replaying the identical restore must fail: the proof is spent.
	send(t, ws, "restore game", map[string]interface{}{
		"gameId":         "g2",
		"timeRule":       "5/3",
		"history":        "1. e4 e5",
		"timeLeftWhite":  240000,
		"timeLeftBlack":  250000,
		"checkString":    "alice",
		"encCheckString": e.seal(t, "alice"),
	})

	env = readEvent(t, ws)
	assert.Equal(t, "unauthorized", errorText(t, env))
}

func TestHubTwoClientsSeeMoves(t *testing.T) {
	e := newTestEnv(t)
	white := e.dial(t)
	black := e.dial(t)

	startGame(t, e, white, "g1")

	send(t, black, "join game", map[string]interface{}{"gameId": "g1"})
	env := readEvent(t, black)
	require.Equal(t, "g1 success", env.Event)

	send(t, white, "move", map[string]interface{}{
		"gameId":     "g1",
		"moveIndex":  0,
		"secretName": e.seal(t, "alice"),
	})

	for _, ws := range []*websocket.Conn{white, black} {
		env := readEvent(t, ws)
		require.Equal(t, "g1 success", env.Event)
		msg := gamePayload(t, env)
		assert.Equal(t, 1, msg.MoveCount)
	}
}

func TestHubErrorMessagesMatchTaxonomy(t *testing.T) {
	e := newTestEnv(t)
	ws := e.dial(t)

	send(t, ws, "move", map[string]interface{}{
		"gameId":     "missing",
		"moveIndex":  0,
		"secretName": e.seal(t, "alice"),
	})

	env := readEvent(t, ws)
	assert.Equal(t, "game not found", errorText(t, env))

	send(t, ws, "forfeit", map[string]interface{}{
		"gameId":     "missing",
		"secretName": e.seal(t, "alice"),
	})

	env = readEvent(t, ws)
	assert.Equal(t, "game not found", errorText(t, env))
}

