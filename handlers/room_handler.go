package handlers

import (
	"errors"
	"net/http"
	"time"

	"sketchparty/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RoomHandler is the stateless request/response surface. It exercises the
// same game state manager and presence tracker as the realtime gateway, and
// pushes public snapshots through the hub so both transports observe one
// authoritative state.
type RoomHandler struct {
	store    *services.RoomStore
	game     *services.GameStateManager
	presence *services.PresenceTracker
	strokes  *services.StrokeHistory
	tokens   *services.TokenService
	events   services.EventQueue
	hub      *services.Hub
}

func NewRoomHandler(
	store *services.RoomStore,
	game *services.GameStateManager,
	presence *services.PresenceTracker,
	strokes *services.StrokeHistory,
	tokens *services.TokenService,
	events services.EventQueue,
	hub *services.Hub,
) *RoomHandler {
	return &RoomHandler{
		store:    store,
		game:     game,
		presence: presence,
		strokes:  strokes,
		tokens:   tokens,
		events:   events,
		hub:      hub,
	}
}

type CreateRoomRequest struct {
	HostNickname string `json:"hostNickname" binding:"required,min=1,max=32"`
}

type JoinRoomRequest struct {
	Nickname string `json:"nickname" binding:"required,min=1,max=32"`
	PlayerID string `json:"playerId" binding:"omitempty,uuid"`
}

type LeaveRoomRequest struct {
	PlayerID string `json:"playerId" binding:"required,uuid"`
}

type KickRequest struct {
	HostSecret     string `json:"hostSecret" binding:"required,uuid"`
	TargetPlayerID string `json:"targetPlayerId" binding:"required,uuid"`
}

type StartRoundRequest struct {
	HostSecret      string `json:"hostSecret" binding:"required,uuid"`
	HostPlayerID    string `json:"hostPlayerId" binding:"required,uuid"`
	DrawingPlayerID string `json:"drawingPlayerId" binding:"omitempty,uuid"`
}

type GuessRequest struct {
	Token string `json:"token" binding:"required"`
	Guess string `json:"guess" binding:"required,min=1"`
}

type ReadyRequest struct {
	Token string `json:"token" binding:"required"`
	Ready *bool  `json:"ready" binding:"required"`
}

type UpdateFiltersRequest struct {
	Token          string  `json:"token" binding:"required"`
	KidsMode       *bool   `json:"kidsMode"`
	ProfanityLevel *string `json:"profanityLevel" binding:"omitempty,oneof=low medium high"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.store.CreateRoom(req.HostNickname)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	ctx := c.Request.Context()
	if err := h.game.EnsureLobby(ctx, result.RoomCode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize room"})
		return
	}
	if err := h.game.EnsurePlayer(ctx, result.RoomCode, result.HostPlayer.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize room"})
		return
	}
	if err := h.presence.Upsert(ctx, result.RoomCode, result.HostPlayer.ID, result.HostPlayer.Nickname, services.SourceHTTP, time.Now()); err != nil {
		log.Error().Err(err).Str("room", result.RoomCode).Msg("failed to record host presence")
	}

	hostToken, err := h.tokens.Issue(result.RoomCode, result.HostPlayer.ID, services.RoleHost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credential"})
		return
	}

	h.events.Publish(services.GameEvent{
		Type:       services.EventRoomJoin,
		RoomCode:   result.RoomCode,
		PlayerID:   result.HostPlayer.ID,
		Nickname:   result.HostPlayer.Nickname,
		Source:     services.SourceHTTP,
		OccurredAt: time.Now().UnixMilli(),
	})

	c.JSON(http.StatusCreated, gin.H{
		"roomCode":   result.RoomCode,
		"hostSecret": result.HostSecret,
		"hostPlayer": gin.H{
			"id":       result.HostPlayer.ID,
			"nickname": result.HostPlayer.Nickname,
			"joinedAt": result.HostPlayer.JoinedAt,
			"token":    hostToken,
		},
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.store.GetRoom(c.Param("code"))
	if errors.Is(err, services.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	playerID, err := h.store.JoinRoom(roomCode, req.Nickname, req.PlayerID)
	if errors.Is(err, services.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}

	ctx := c.Request.Context()
	token, err := h.tokens.Issue(roomCode, playerID, services.RolePlayer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue credential"})
		return
	}
	if err := h.game.EnsurePlayer(ctx, roomCode, playerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seed scoreboard"})
		return
	}
	if err := h.presence.Upsert(ctx, roomCode, playerID, req.Nickname, services.SourceHTTP, time.Now()); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to record presence")
	}

	h.events.Publish(services.GameEvent{
		Type:       services.EventRoomJoin,
		RoomCode:   roomCode,
		PlayerID:   playerID,
		Nickname:   req.Nickname,
		Source:     services.SourceHTTP,
		OccurredAt: time.Now().UnixMilli(),
	})

	state, err := h.game.GetState(ctx, roomCode, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load state"})
		return
	}
	strokes, err := h.strokes.GetRecent(ctx, roomCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load strokes"})
		return
	}

	h.hub.BroadcastToRoom(roomCode, services.MsgPlayerJoined, gin.H{
		"playerId": playerID,
		"nickname": req.Nickname,
	}, nil)

	c.JSON(http.StatusOK, gin.H{
		"playerId":    playerID,
		"roomCode":    roomCode,
		"playerToken": token,
		"state":       state,
		"strokes":     strokes,
	})
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	var req LeaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	if err := h.store.LeaveRoom(roomCode, req.PlayerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave room"})
		return
	}
	if err := h.presence.Remove(c.Request.Context(), roomCode, req.PlayerID); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to remove presence")
	}

	h.events.Publish(services.GameEvent{
		Type:       services.EventRoomLeave,
		RoomCode:   roomCode,
		PlayerID:   req.PlayerID,
		Source:     services.SourceHTTP,
		OccurredAt: time.Now().UnixMilli(),
	})

	h.hub.BroadcastToRoom(roomCode, services.MsgPlayerLeft, gin.H{
		"playerId": req.PlayerID,
	}, nil)

	c.JSON(http.StatusOK, gin.H{"roomCode": roomCode, "playerId": req.PlayerID})
}

// requireHostSecret resolves the room's host secret and compares it to the
// supplied one. Both an unknown room and a wrong secret yield the same
// authorization failure so callers cannot probe room existence.
func (h *RoomHandler) requireHostSecret(c *gin.Context, roomCode, secret string) bool {
	expected, err := h.store.GetHostSecret(roomCode)
	if err != nil || expected == "" || expected != secret {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid host secret"})
		return false
	}
	return true
}

func (h *RoomHandler) KickPlayer(c *gin.Context) {
	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	if !h.requireHostSecret(c, roomCode, req.HostSecret) {
		return
	}

	if err := h.store.LeaveRoom(roomCode, req.TargetPlayerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to kick player"})
		return
	}
	if err := h.presence.Remove(c.Request.Context(), roomCode, req.TargetPlayerID); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to remove presence")
	}

	h.events.Publish(services.GameEvent{
		Type:       services.EventRoomLeave,
		RoomCode:   roomCode,
		PlayerID:   req.TargetPlayerID,
		Source:     services.SourceHTTP,
		OccurredAt: time.Now().UnixMilli(),
	})

	h.hub.BroadcastToRoom(roomCode, services.MsgPlayerLeft, gin.H{
		"playerId": req.TargetPlayerID,
		"reason":   "kicked",
	}, nil)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *RoomHandler) StartRound(c *gin.Context) {
	var req StartRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	if !h.requireHostSecret(c, roomCode, req.HostSecret) {
		return
	}

	drawingPlayerID := req.DrawingPlayerID
	if drawingPlayerID == "" {
		drawingPlayerID = req.HostPlayerID
	}

	ctx := c.Request.Context()
	if err := h.strokes.Clear(ctx, roomCode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear canvas"})
		return
	}
	state, err := h.game.StartRound(ctx, roomCode, drawingPlayerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start round"})
		return
	}

	h.hub.BroadcastState(roomCode)

	c.JSON(http.StatusOK, state)
}

func (h *RoomHandler) GetState(c *gin.Context) {
	roomCode := services.NormalizeRoomCode(c.Param("code"))
	includePrompt := false

	if hostSecret := c.Query("hostSecret"); hostSecret != "" {
		expected, err := h.store.GetHostSecret(roomCode)
		if err == nil && expected == hostSecret {
			includePrompt = true
		}
	} else if token := c.Query("token"); token != "" {
		claims, err := h.tokens.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		includePrompt = claims.Role == services.RoleHost
	}

	state, err := h.game.GetState(c.Request.Context(), roomCode, includePrompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// verifyRoomToken authenticates a player credential against the room in the
// path. 401 means the credential itself is bad; 403 means it belongs to a
// different room.
func (h *RoomHandler) verifyRoomToken(c *gin.Context, roomCode, token string) (*services.PlayerClaims, bool) {
	claims, err := h.tokens.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}
	if claims.RoomCode != roomCode {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not match room"})
		return nil, false
	}
	return claims, true
}

func (h *RoomHandler) SubmitGuess(c *gin.Context) {
	var req GuessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	claims, ok := h.verifyRoomToken(c, roomCode, req.Token)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.presence.Touch(ctx, roomCode, claims.PlayerID, time.Now()); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("failed to touch presence")
	}

	result, err := h.game.RecordGuess(ctx, roomCode, claims.PlayerID, req.Guess)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record guess"})
		return
	}

	if result.Correct {
		h.hub.BroadcastState(roomCode)
	}

	scoped, err := h.game.GetState(ctx, roomCode, claims.Role == services.RoleHost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"correct": result.Correct, "state": scoped})
}

func (h *RoomHandler) SetReady(c *gin.Context) {
	var req ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	claims, ok := h.verifyRoomToken(c, roomCode, req.Token)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.game.SetReady(ctx, roomCode, claims.PlayerID, *req.Ready); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update readiness"})
		return
	}

	h.hub.BroadcastState(roomCode)

	scoped, err := h.game.GetState(ctx, roomCode, claims.Role == services.RoleHost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": scoped})
}

func (h *RoomHandler) UpdateFilters(c *gin.Context) {
	var req UpdateFiltersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomCode := services.NormalizeRoomCode(c.Param("code"))
	claims, ok := h.verifyRoomToken(c, roomCode, req.Token)
	if !ok {
		return
	}
	if claims.Role != services.RoleHost {
		c.JSON(http.StatusForbidden, gin.H{"error": "only host can update settings"})
		return
	}

	update := services.FilterUpdate{KidsMode: req.KidsMode}
	if req.ProfanityLevel != nil {
		level := services.ProfanityLevel(*req.ProfanityLevel)
		update.ProfanityLevel = &level
	}

	state, err := h.game.UpdateFilters(c.Request.Context(), roomCode, update)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update filters"})
		return
	}

	h.hub.BroadcastState(roomCode)

	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *RoomHandler) GetPresence(c *gin.Context) {
	records, err := h.presence.List(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *RoomHandler) GetStrokes(c *gin.Context) {
	strokes, err := h.strokes.GetRecent(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load strokes"})
		return
	}
	c.JSON(http.StatusOK, strokes)
}
