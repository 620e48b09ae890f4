package server

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/beer-chess/game-server/internal/auth"
	"github.com/beer-chess/game-server/pkg/events"
	"github.com/beer-chess/game-server/pkg/game"
	"github.com/beer-chess/game-server/pkg/messages"
	"github.com/beer-chess/game-server/pkg/registry"
)

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // envelope with event name and raw payload
}

// Hub keeps track of all active connections and their broadcast channels
// (game channels, personal channels and invite rooms). Inbound actions are
// drained from a single channel by Run, so each action runs to completion
// before the next one starts.
type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]bool
	channels    map[string]map[*Connection]bool
	inviteRooms map[string]bool

	register   chan *Connection
	unregister chan *Connection
	inbound    chan InboundHubMessage
	done       chan struct{}
	stopOnce   sync.Once

	registry  *registry.Registry
	gate      *auth.Gate
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a hub and wires it as the subscriber of the broadcast
// fabric: published game events fan out to the members of their channel.
func NewHub(reg *registry.Registry, gate *auth.Gate, publisher *events.Publisher, logger *zap.Logger) *Hub {
	h := &Hub{
		connections: make(map[*Connection]bool),
		channels:    make(map[string]map[*Connection]bool),
		inviteRooms: make(map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage),
		done:        make(chan struct{}),
		registry:    reg,
		gate:        gate,
		publisher:   publisher,
		logger:      logger,
	}

	publisher.Subscribe(events.EventGameUpdate, func(e events.Event) {
		h.broadcast(e.Channel, e.Channel+" success", e.Payload)
	})
	publisher.Subscribe(events.EventGameEnded, func(e events.Event) {
		h.broadcast(e.Channel, e.Channel+" game ended", nil)
	})
	publisher.Subscribe(events.EventNotify, func(e events.Event) {
		h.broadcast(e.Channel, e.Name, e.Payload)
	})

	return h
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)
		}
	}
}

// Shutdown stops the run loop.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn] = true
	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("total", len(h.connections)))
}

// unregisterConnection drops the connection from every broadcast channel.
// Sessions and their timers keep running; only forfeit, tie or flag-fall
// end a game.
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn]; !ok {
		return
	}

	delete(h.connections, conn)
	for name, members := range h.channels {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
	close(conn.send)

	h.logger.Info("connection unregistered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("total", len(h.connections)))
}

func (h *Hub) joinChannel(conn *Connection, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[name]
	if !ok {
		members = make(map[*Connection]bool)
		h.channels[name] = members
	}
	members[conn] = true
}

func (h *Hub) leaveChannel(conn *Connection, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.channels[name]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
}

func (h *Hub) broadcast(channel, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.channels[channel] {
		conn.SendEvent(event, payload)
	}
}

// handleInbound routes one client action. Every failure is answered to the
// originating caller only; an unclassified panic is logged and reported as
// a generic failure without touching other connections.
func (h *Hub) handleInbound(msg InboundHubMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling inbound event",
				zap.String("event", msg.Message.Event), zap.Any("panic", r))
			h.sendError(msg.Conn, "unknown error")
		}
	}()

	switch msg.Message.Event {
	case "start game":
		h.handleStartGame(msg.Conn, msg.Message.Payload)
	case "restore game":
		h.handleRestoreGame(msg.Conn, msg.Message.Payload)
	case "join game":
		h.handleJoinGame(msg.Conn, msg.Message.Payload)
	case "leave game":
		h.handleLeaveGame(msg.Conn, msg.Message.Payload)
	case "move":
		h.handleMove(msg.Conn, msg.Message.Payload)
	case "forfeit":
		h.handleForfeit(msg.Conn, msg.Message.Payload)
	case "suggest tie":
		h.handleRequest(msg.Conn, msg.Message.Payload, "tie request")
	case "rematch":
		h.handleRequest(msg.Conn, msg.Message.Payload, "rematch request")
	case "tie":
		h.handleTie(msg.Conn, msg.Message.Payload)
	case "sub to invites":
		h.handleSubInvites(msg.Conn, msg.Message.Payload, true)
	case "unsub from invites":
		h.handleSubInvites(msg.Conn, msg.Message.Payload, false)
	case "join room":
		h.handleJoinRoom(msg.Conn, msg.Message.Payload)
	case "leave room":
		h.handleLeaveRoom(msg.Conn, msg.Message.Payload)
	case "send invite":
		h.handleSendInvite(msg.Conn, msg.Message.Payload)
	case "room ready status":
		h.handleRoomReady(msg.Conn, msg.Message.Payload)
	case "room game start":
		h.handleRoomGameStart(msg.Conn, msg.Message.Payload)
	default:
		h.sendError(msg.Conn, "unknown message type")
	}
}

func (h *Hub) handleStartGame(conn *Connection, raw json.RawMessage) {
	var p messages.StartGamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	session, err := h.registry.Create(registry.CreateParams{
		GameID:      p.GameID,
		PlayerWhite: p.PlayerWhite,
		PlayerBlack: p.PlayerBlack,
		Title:       p.GameTitle,
		TimeRule:    p.TimeRule,
		Proof:       p.SecretName,
	})
	if err != nil {
		h.replyError(conn, err)
		return
	}

	h.joinChannel(conn, p.GameID)
	h.publisher.Publish(events.Event{
		Type:    events.EventGameUpdate,
		Channel: p.GameID,
		Payload: session.Message(),
	})
}

func (h *Hub) handleRestoreGame(conn *Connection, raw json.RawMessage) {
	var p messages.RestoreGamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	session, err := h.registry.Restore(registry.RestoreParams{
		GameID:        p.GameID,
		TimeRule:      p.TimeRule,
		History:       p.History,
		TimeLeftWhite: p.TimeLeftWhite,
		TimeLeftBlack: p.TimeLeftBlack,
		ProofPlain:    p.CheckString,
		ProofEnc:      p.EncCheckString,
		PlayerWhite:   p.PlayerWhite,
		PlayerBlack:   p.PlayerBlack,
	})
	if err != nil {
		h.replyError(conn, err)
		return
	}

	h.joinChannel(conn, p.GameID)
	h.publisher.Publish(events.Event{
		Type:    events.EventGameUpdate,
		Channel: p.GameID,
		Payload: session.Message(),
	})
}

// handleJoinGame is idempotent: joining twice just returns the same game
// message again and mutates nothing.
func (h *Hub) handleJoinGame(conn *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	h.joinChannel(conn, p.GameID)

	session, err := h.registry.Lookup(p.GameID)
	if err != nil {
		conn.SendEvent("game not found", messages.GameNotFoundPayload{GameID: p.GameID})
		return
	}

	conn.SendEvent(p.GameID+" success", session.Message())
}

func (h *Hub) handleLeaveGame(conn *Connection, raw json.RawMessage) {
	var p messages.GameRefPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	h.leaveChannel(conn, p.GameID)
}

func (h *Hub) handleMove(conn *Connection, raw json.RawMessage) {
	var p messages.MovePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	session, err := h.registry.Lookup(p.GameID)
	if err != nil {
		h.replyError(conn, err)
		return
	}

	if session.Status().Terminal() {
		h.publisher.Publish(events.Event{Type: events.EventGameEnded, Channel: p.GameID})
		return
	}

	if _, err := h.gate.Verify(p.SecretName, session.ExpectedMover()); err != nil {
		h.sendError(conn, game.ErrUnauthorized.Error())
		return
	}

	msg, err := session.Move(p.MoveIndex)
	if err != nil {
		if errors.Is(err, game.ErrTerminalGame) {
			h.publisher.Publish(events.Event{Type: events.EventGameEnded, Channel: p.GameID})
			return
		}
		h.replyError(conn, err)
		return
	}

	h.publisher.Publish(events.Event{
		Type:    events.EventGameUpdate,
		Channel: p.GameID,
		Payload: msg,
	})

	// Caller-only confirmation, exactly once, only on the success path.
	if p.Ack {
		conn.SendEvent("move ack", session.Ack())
	}
}

func (h *Hub) handleForfeit(conn *Connection, raw json.RawMessage) {
	var p messages.ActionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	session, err := h.registry.Lookup(p.GameID)
	if err != nil {
		h.replyError(conn, err)
		return
	}

	identity, err := h.gate.Verify(p.SecretName, session.PlayerWhite, session.PlayerBlack)
	if err != nil {
		h.sendError(conn, game.ErrUnauthorized.Error())
		return
	}

	msg, err := session.Forfeit(identity)
	if err != nil {
		h.replyError(conn, err)
		return
	}

	h.publisher.Publish(events.Event{
		Type:    events.EventGameUpdate,
		Channel: p.GameID,
		Payload: msg,
	})
}

func (h *Hub) handleTie(conn *Connection, raw json.RawMessage) {
	var p messages.ActionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	session, err := h.registry.Lookup(p.GameID)
	if err != nil {
		h.replyError(conn, err)
		return
	}

	if _, err := h.gate.Verify(p.SecretName, session.PlayerWhite, session.PlayerBlack); err != nil {
		h.sendError(conn, game.ErrUnauthorized.Error())
		return
	}

	msg, err := session.Tie()
	if err != nil {
		h.replyError(conn, err)
		return
	}

	h.publisher.Publish(events.Event{
		Type:    events.EventGameUpdate,
		Channel: p.GameID,
		Payload: msg,
	})
}

// handleRequest routes a tie or rematch request to the opponent's personal
// channel, keyed by stable identity rather than a transient connection.
func (h *Hub) handleRequest(conn *Connection, raw json.RawMessage, event string) {
	var p messages.ActionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	session, err := h.registry.Lookup(p.GameID)
	if err != nil {
		h.replyError(conn, err)
		return
	}

	if session.PlayerWhite == "" || session.PlayerBlack == "" {
		h.sendError(conn, "players not found")
		return
	}

	identity, err := h.gate.Verify(p.SecretName, session.PlayerWhite, session.PlayerBlack)
	if err != nil {
		h.sendError(conn, game.ErrUnauthorized.Error())
		return
	}

	h.publisher.Publish(events.Event{
		Type:    events.EventNotify,
		Channel: session.Opponent(identity),
		Name:    event,
		Payload: messages.RequestPayload{GameID: p.GameID, From: identity},
	})
}

func (h *Hub) handleSubInvites(conn *Connection, raw json.RawMessage, join bool) {
	var p messages.UniqueNamePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	if join {
		h.joinChannel(conn, p.UniqueName)
	} else {
		h.leaveChannel(conn, p.UniqueName)
	}
}

func (h *Hub) handleJoinRoom(conn *Connection, raw json.RawMessage) {
	var p messages.RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	h.mu.Lock()
	h.inviteRooms[p.RoomID] = true
	h.mu.Unlock()

	h.joinChannel(conn, p.RoomID)
}

func (h *Hub) handleLeaveRoom(conn *Connection, raw json.RawMessage) {
	var p messages.RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	if !h.roomExists(p.RoomID) {
		h.sendError(conn, "room not found")
		return
	}

	h.leaveChannel(conn, p.RoomID)
}

func (h *Hub) handleSendInvite(conn *Connection, raw json.RawMessage) {
	var p messages.RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil || p.UniqueName == "" {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	if !h.roomExists(p.RoomID) {
		h.sendError(conn, "room not found")
		return
	}

	h.publisher.Publish(events.Event{
		Type:    events.EventNotify,
		Channel: p.UniqueName,
		Name:    "invite",
		Payload: messages.InvitePayload{RoomID: p.RoomID, From: p.Name},
	})
}

func (h *Hub) handleRoomReady(conn *Connection, raw json.RawMessage) {
	var p messages.RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil || p.UniqueName == "" {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	if !h.roomExists(p.RoomID) {
		h.sendError(conn, "room not found")
		return
	}

	// An empty Name cancels a previously announced ready state.
	h.publisher.Publish(events.Event{
		Type:    events.EventNotify,
		Channel: p.UniqueName,
		Name:    "room ready",
		Payload: messages.RoomReadyPayload{RoomID: p.RoomID, From: p.Name},
	})
}

func (h *Hub) handleRoomGameStart(conn *Connection, raw json.RawMessage) {
	var p messages.RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Validate() != nil || p.GameID == "" {
		h.sendError(conn, game.ErrSchema.Error())
		return
	}

	if !h.roomExists(p.RoomID) {
		h.sendError(conn, "room not found")
		return
	}

	h.publisher.Publish(events.Event{
		Type:    events.EventNotify,
		Channel: p.RoomID,
		Name:    "game starting",
		Payload: messages.GameStartingPayload{GameID: p.GameID, RoomID: p.RoomID},
	})
}

func (h *Hub) roomExists(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.inviteRooms[roomID]
}

// replyError answers the caller with the taxonomy error behind err, or a
// generic failure for anything unclassified, never leaking internal detail.
func (h *Hub) replyError(conn *Connection, err error) {
	known := []error{
		game.ErrSchema,
		game.ErrDuplicateSession,
		game.ErrUnauthorized,
		game.ErrNotFound,
		game.ErrIllegalMoveIndex,
		game.ErrCorruptHistory,
		game.ErrTerminalGame,
		game.ErrIllegalPosition,
	}

	for _, k := range known {
		if errors.Is(err, k) {
			h.sendError(conn, k.Error())
			return
		}
	}

	h.logger.Error("unclassified error", zap.Error(err))
	h.sendError(conn, "unknown error")
}

func (h *Hub) sendError(conn *Connection, msg string) {
	conn.SendEvent("error", messages.ErrorPayload{Message: msg})
}
