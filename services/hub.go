package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"sketchparty/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Inbound message types.
const (
	MsgGameJoin     = "game:join"
	MsgGameLeave    = "game:leave"
	MsgCanvasStroke = "canvas:stroke"
)

// Outbound message types.
const (
	MsgAck           = "ack"
	MsgServerWelcome = "server:welcome"
	MsgPlayerJoined  = "game:player-joined"
	MsgPlayerLeft    = "game:player-left"
	MsgCanvasHistory = "canvas:history"
	MsgGameState     = "game:state"
)

type wsEnvelope struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsMessage struct {
	Type    string      `json:"type"`
	Seq     int64       `json:"seq,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type joinPayload struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
	PlayerID string `json:"playerId"`
	Token    string `json:"token"`
}

type leavePayload struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
}

type strokePayload struct {
	RoomCode string        `json:"roomCode"`
	Token    string        `json:"token"`
	Stroke   models.Stroke `json:"stroke"`
}

// Hub is the realtime fan-out gateway: it owns every websocket connection,
// maps connections to {room, player} memberships and broadcasts state deltas
// to all sockets joined to a room.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	store    *RoomStore
	presence *PresenceTracker
	game     *GameStateManager
	strokes  *StrokeHistory
	tokens   *TokenService
	events   EventQueue
}

// Client is one websocket connection. Room membership fields are owned by the
// connection's read goroutine; the hub only reads them through the broadcast
// group index.
type Client struct {
	hub    *Hub
	socket *websocket.Conn
	send   chan []byte

	roomCode string
	playerID string
	nickname string
}

func NewHub(store *RoomStore, presence *PresenceTracker, game *GameStateManager, strokes *StrokeHistory, tokens *TokenService, events EventQueue) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		store:      store,
		presence:   presence,
		game:       game,
		strokes:    strokes,
		tokens:     tokens,
		events:     events,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.removeFromRoomLocked(client)
				close(client.send)
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) joinRoomGroup(client *Client, roomCode string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeFromRoomLocked(client)
	group, ok := h.rooms[roomCode]
	if !ok {
		group = make(map[*Client]bool)
		h.rooms[roomCode] = group
	}
	group[client] = true
}

func (h *Hub) leaveRoomGroup(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeFromRoomLocked(client)
}

func (h *Hub) removeFromRoomLocked(client *Client) {
	for roomCode, group := range h.rooms {
		if group[client] {
			delete(group, client)
			if len(group) == 0 {
				delete(h.rooms, roomCode)
			}
		}
	}
}

// BroadcastToRoom sends a named message to every connection joined to a room,
// optionally excluding one connection.
func (h *Hub) BroadcastToRoom(roomCode, messageType string, payload interface{}, exclude *Client) {
	data, err := json.Marshal(wsMessage{Type: messageType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", messageType).Msg("failed to marshal broadcast")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.rooms[roomCode] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow consumer; the write pump will tear the connection down.
		}
	}
}

// BroadcastState pushes the public (role-filtered) state snapshot to every
// connection in the room. Both transports call this after broadcast-worthy
// mutations so all clients observe one authoritative state.
func (h *Hub) BroadcastState(roomCode string) {
	state, err := h.game.GetState(context.Background(), roomCode, false)
	if err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to load state for broadcast")
		return
	}
	h.BroadcastToRoom(roomCode, MsgGameState, state, nil)
}

// RoomStateChanged implements StateNotifier for timer-driven round ends.
func (h *Hub) RoomStateChanged(roomCode string) {
	h.BroadcastState(roomCode)
}

func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		socket: conn,
		send:   make(chan []byte, 256),
	}

	h.register <- client

	// Queue the greeting before the read pump starts: only the read pump can
	// trigger the unregister that closes the send channel, so the channel is
	// guaranteed open here.
	client.sendMessage(wsMessage{Type: MsgServerWelcome, Payload: map[string]interface{}{
		"message": "sketchparty server online",
	}})

	go client.writePump()
	go client.readPump()

	return client
}

// directReplyGrace bounds how long a direct reply may wait for buffer space
// before the connection is declared dead.
const directReplyGrace = time.Second

// sendMessage queues a direct reply (welcome, ack, history) for this
// connection. Unlike room broadcasts, direct replies are never dropped: a
// consumer that cannot drain its buffer within the grace period gets
// disconnected instead.
func (c *Client) sendMessage(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal message")
		return
	}
	select {
	case c.send <- data:
	case <-time.After(directReplyGrace):
		log.Warn().Str("type", msg.Type).Msg("client not draining direct replies, closing connection")
		c.socket.Close()
	}
}

func (c *Client) ack(seq int64, payload map[string]interface{}) {
	c.sendMessage(wsMessage{Type: MsgAck, Seq: seq, Payload: payload})
}

func (c *Client) ackError(seq int64, err error) {
	c.ack(seq, map[string]interface{}{"ok": false, "error": err.Error()})
}

func (c *Client) readPump() {
	defer func() {
		c.teardown()
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		var envelope wsEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			log.Debug().Err(err).Msg("discarding malformed websocket frame")
			continue
		}

		c.handleMessage(envelope)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(envelope wsEnvelope) {
	switch envelope.Type {
	case MsgGameJoin:
		var payload joinPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.ackError(envelope.Seq, errors.New("malformed payload"))
			return
		}
		c.handleJoin(envelope.Seq, payload)

	case MsgGameLeave:
		var payload leavePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.ackError(envelope.Seq, errors.New("malformed payload"))
			return
		}
		c.handleLeave(envelope.Seq, payload)

	case MsgCanvasStroke:
		var payload strokePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.ackError(envelope.Seq, errors.New("malformed payload"))
			return
		}
		c.handleStroke(envelope.Seq, payload)

	default:
		c.ackError(envelope.Seq, errors.New("unknown message type"))
	}
}

func (c *Client) handleJoin(seq int64, payload joinPayload) {
	ctx := context.Background()
	roomCode := NormalizeRoomCode(payload.RoomCode)
	nickname := payload.Nickname
	playerID := payload.PlayerID

	if payload.Token != "" {
		claims, err := c.hub.tokens.Verify(payload.Token)
		if err != nil {
			c.ackError(seq, err)
			return
		}
		if claims.RoomCode != roomCode {
			c.ackError(seq, ErrInvalidTokenRoom)
			return
		}
		if playerID != "" && claims.PlayerID != playerID {
			c.ackError(seq, ErrInvalidTokenPlayer)
			return
		}
		playerID = claims.PlayerID
		if nickname == "" {
			if existing, err := c.hub.store.GetPlayer(roomCode, claims.PlayerID); err == nil {
				nickname = existing.Nickname
			}
		}
	}

	if nickname == "" && payload.Token == "" {
		c.ackError(seq, ErrNicknameRequired)
		return
	}

	joinedID, err := c.hub.store.JoinRoom(roomCode, nickname, playerID)
	if err != nil {
		c.ackError(seq, err)
		return
	}

	if err := c.hub.game.EnsurePlayer(ctx, roomCode, joinedID); err != nil {
		c.ackError(seq, err)
		return
	}
	if err := c.hub.presence.Upsert(ctx, roomCode, joinedID, nickname, SourceSocket, time.Now()); err != nil {
		c.ackError(seq, err)
		return
	}

	c.roomCode = roomCode
	c.playerID = joinedID
	c.nickname = nickname
	c.hub.joinRoomGroup(c, roomCode)

	token, err := c.hub.tokens.Issue(roomCode, joinedID, RolePlayer)
	if err != nil {
		c.ackError(seq, err)
		return
	}

	c.hub.BroadcastToRoom(roomCode, MsgPlayerJoined, map[string]interface{}{
		"playerId": joinedID,
		"nickname": nickname,
	}, c)

	c.hub.events.Publish(GameEvent{
		Type:       EventRoomJoin,
		RoomCode:   roomCode,
		PlayerID:   joinedID,
		Nickname:   nickname,
		Source:     SourceSocket,
		OccurredAt: time.Now().UnixMilli(),
	})

	state, err := c.hub.game.GetState(ctx, roomCode, false)
	if err != nil {
		c.ackError(seq, err)
		return
	}

	c.ack(seq, map[string]interface{}{
		"ok":       true,
		"playerId": joinedID,
		"token":    token,
		"nickname": nickname,
		"state":    state,
	})

	// Replay the round so far to the new joiner.
	if strokes, err := c.hub.strokes.GetRecent(ctx, roomCode); err == nil {
		c.sendMessage(wsMessage{Type: MsgCanvasHistory, Payload: map[string]interface{}{"strokes": strokes}})
	}
}

func (c *Client) handleLeave(seq int64, payload leavePayload) {
	roomCode := NormalizeRoomCode(payload.RoomCode)

	if err := c.hub.store.LeaveRoom(roomCode, payload.PlayerID); err != nil {
		c.ackError(seq, err)
		return
	}
	if err := c.hub.presence.Remove(context.Background(), roomCode, payload.PlayerID); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to remove presence on leave")
	}

	c.hub.leaveRoomGroup(c)
	c.hub.BroadcastToRoom(roomCode, MsgPlayerLeft, map[string]interface{}{
		"playerId": payload.PlayerID,
	}, c)

	c.hub.events.Publish(GameEvent{
		Type:       EventRoomLeave,
		RoomCode:   roomCode,
		PlayerID:   payload.PlayerID,
		Source:     SourceSocket,
		OccurredAt: time.Now().UnixMilli(),
	})

	if c.playerID == payload.PlayerID {
		c.roomCode = ""
		c.playerID = ""
		c.nickname = ""
	}

	c.ack(seq, map[string]interface{}{"ok": true})
}

func (c *Client) handleStroke(seq int64, payload strokePayload) {
	ctx := context.Background()
	roomCode := NormalizeRoomCode(payload.RoomCode)

	claims, err := c.hub.tokens.Verify(payload.Token)
	if err != nil {
		c.ackError(seq, err)
		return
	}
	if claims.RoomCode != roomCode {
		c.ackError(seq, ErrInvalidTokenRoom)
		return
	}

	if err := c.hub.strokes.Append(ctx, roomCode, payload.Stroke); err != nil {
		c.ackError(seq, err)
		return
	}
	if err := c.hub.presence.Touch(ctx, roomCode, claims.PlayerID, time.Now()); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to touch presence on stroke")
	}

	// The sender already rendered its own stroke locally.
	c.hub.BroadcastToRoom(roomCode, MsgCanvasStroke, map[string]interface{}{
		"stroke":   payload.Stroke,
		"playerId": claims.PlayerID,
	}, c)

	c.ack(seq, map[string]interface{}{"ok": true})
}

// teardown reconciles an ungraceful disconnect into room state. This runs on
// the connection's read goroutine, the sole owner of membership fields, and
// requires no client cooperation.
func (c *Client) teardown() {
	if c.roomCode == "" || c.playerID == "" {
		return
	}
	roomCode, playerID := c.roomCode, c.playerID
	c.roomCode = ""
	c.playerID = ""
	c.nickname = ""

	if err := c.hub.store.LeaveRoom(roomCode, playerID); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to remove roster entry on disconnect")
	}
	if err := c.hub.presence.Remove(context.Background(), roomCode, playerID); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to remove presence on disconnect")
	}

	c.hub.BroadcastToRoom(roomCode, MsgPlayerLeft, map[string]interface{}{
		"playerId": playerID,
		"reason":   "disconnected",
	}, c)

	c.hub.events.Publish(GameEvent{
		Type:       EventRoomLeave,
		RoomCode:   roomCode,
		PlayerID:   playerID,
		Source:     SourceSocket,
		OccurredAt: time.Now().UnixMilli(),
	})
}
