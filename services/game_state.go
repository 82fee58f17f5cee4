package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type GamePhase string

const (
	PhaseLobby   GamePhase = "lobby"
	PhaseDrawing GamePhase = "drawing"
	PhaseResults GamePhase = "results"
)

type ProfanityLevel string

const (
	ProfanityLow    ProfanityLevel = "low"
	ProfanityMedium ProfanityLevel = "medium"
	ProfanityHigh   ProfanityLevel = "high"
)

type GameFilters struct {
	KidsMode       bool           `json:"kidsMode"`
	ProfanityLevel ProfanityLevel `json:"profanityLevel"`
}

// FilterUpdate carries only the fields the host wants to change; nil fields
// are left untouched.
type FilterUpdate struct {
	KidsMode       *bool           `json:"kidsMode,omitempty"`
	ProfanityLevel *ProfanityLevel `json:"profanityLevel,omitempty"`
}

// GameState is the authoritative per-room round state. The prompt is secret:
// it is nulled out of any view produced without includePrompt, while the
// masked prompt is always visible.
type GameState struct {
	RoomCode        string         `json:"roomCode"`
	Phase           GamePhase      `json:"phase"`
	Round           int64          `json:"round"`
	Prompt          *string        `json:"prompt"`
	PromptMasked    *string        `json:"promptMasked"`
	DrawingPlayerID *string        `json:"drawingPlayerId"`
	RoundEndsAt     *int64         `json:"roundEndsAt"`
	Scoreboard      map[string]int `json:"scoreboard"`
	CorrectGuessers []string       `json:"correctGuessers"`
	ReadyPlayers    []string       `json:"readyPlayers"`
	Filters         GameFilters    `json:"filters"`
}

func defaultState(roomCode string) *GameState {
	return &GameState{
		RoomCode:        roomCode,
		Phase:           PhaseLobby,
		Scoreboard:      map[string]int{},
		CorrectGuessers: []string{},
		ReadyPlayers:    []string{},
		Filters: GameFilters{
			KidsMode:       false,
			ProfanityLevel: ProfanityMedium,
		},
	}
}

func maskPrompt(prompt string) string {
	masked := []rune(prompt)
	for i, r := range masked {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			masked[i] = '_'
		}
	}
	return string(masked)
}

// StateNotifier receives a signal whenever a round ends on the server's own
// clock rather than through a client-triggered mutation.
type StateNotifier interface {
	RoomStateChanged(roomCode string)
}

// GameStateManager owns the per-room state machine (lobby -> drawing ->
// results), round timers and guess evaluation. Every read-modify-write on a
// room is serialized behind that room's mutex; distinct rooms never contend.
type GameStateManager struct {
	kv           KV
	drawDuration time.Duration
	prompts      []string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	notifier StateNotifier
}

func NewGameStateManager(kv KV, drawDuration time.Duration, prompts []string) *GameStateManager {
	if drawDuration <= 0 {
		drawDuration = 90 * time.Second
	}
	if len(prompts) == 0 {
		prompts = []string{"Sunset", "Rocket", "Pineapple", "Mountain", "Panda", "Spaceship", "Robot", "Rainbow"}
	}
	return &GameStateManager{
		kv:           kv,
		drawDuration: drawDuration,
		prompts:      prompts,
		locks:        map[string]*sync.Mutex{},
		timers:       map[string]*time.Timer{},
	}
}

// SetNotifier wires the realtime gateway in after construction; timer-fired
// round ends push the resulting state through it.
func (m *GameStateManager) SetNotifier(notifier StateNotifier) {
	m.notifier = notifier
}

func (m *GameStateManager) roomLock(roomCode string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[roomCode]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[roomCode] = lock
	}
	return lock
}

func stateKey(roomCode string) string {
	return fmt.Sprintf("room:%s:state", roomCode)
}

func scoreboardKey(roomCode string) string {
	return fmt.Sprintf("room:%s:scoreboard", roomCode)
}

func (m *GameStateManager) readScoreboard(ctx context.Context, roomCode string) (map[string]int, error) {
	data, err := m.kv.HGetAll(ctx, scoreboardKey(roomCode))
	if err != nil {
		return nil, err
	}
	scoreboard := make(map[string]int, len(data))
	for playerID, raw := range data {
		score, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		scoreboard[playerID] = score
	}
	return scoreboard, nil
}

func (m *GameStateManager) writeScoreboard(ctx context.Context, roomCode string, scoreboard map[string]int) error {
	if len(scoreboard) == 0 {
		return m.kv.Del(ctx, scoreboardKey(roomCode))
	}
	fields := make(map[string]string, len(scoreboard))
	for playerID, score := range scoreboard {
		fields[playerID] = strconv.Itoa(score)
	}
	return m.kv.HSet(ctx, scoreboardKey(roomCode), fields)
}

// readState loads the authoritative state with the prompt intact. Absence of
// the state key is indistinguishable from an explicit lobby reset: both yield
// lobby defaults. Callers must hold the room lock.
func (m *GameStateManager) readState(ctx context.Context, roomCode string) (*GameState, error) {
	scoreboard, err := m.readScoreboard(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	raw, found, err := m.kv.Get(ctx, stateKey(roomCode))
	if err != nil {
		return nil, err
	}
	if !found {
		state := defaultState(roomCode)
		state.Scoreboard = scoreboard
		return state, nil
	}

	var state GameState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("corrupt state for room %s: %w", roomCode, err)
	}
	state.Scoreboard = scoreboard
	if state.CorrectGuessers == nil {
		state.CorrectGuessers = []string{}
	}
	if state.ReadyPlayers == nil {
		state.ReadyPlayers = []string{}
	}
	return &state, nil
}

func (m *GameStateManager) writeState(ctx context.Context, state *GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, stateKey(state.RoomCode), string(data))
}

func sanitized(state *GameState, includePrompt bool) *GameState {
	if includePrompt {
		return state
	}
	view := *state
	view.Prompt = nil
	return &view
}

// GetState returns a read view of the room. The secret prompt is nulled out
// unless includePrompt is set; the masked prompt is visible either way.
func (m *GameStateManager) GetState(ctx context.Context, roomCode string, includePrompt bool) (*GameState, error) {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.readState(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return sanitized(state, includePrompt), nil
}

// EnsureLobby force-resets the room to empty lobby defaults and cancels any
// pending round timer. Used at room creation.
func (m *GameStateManager) EnsureLobby(ctx context.Context, roomCode string) error {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	if err := m.kv.Del(ctx, stateKey(normalized), scoreboardKey(normalized)); err != nil {
		return err
	}
	m.clearTimer(normalized)
	return nil
}

// EnsurePlayer guarantees a zero scoreboard entry exists for the player
// without touching an already-earned score.
func (m *GameStateManager) EnsurePlayer(ctx context.Context, roomCode, playerID string) error {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	scoreboard, err := m.readScoreboard(ctx, normalized)
	if err != nil {
		return err
	}
	if _, ok := scoreboard[playerID]; ok {
		return nil
	}
	scoreboard[playerID] = 0
	return m.writeScoreboard(ctx, normalized, scoreboard)
}

// StartRound moves the room into the drawing phase with a fresh random prompt
// and schedules the automatic round end. Allowed from any phase; scoreboard
// and filters carry over.
func (m *GameStateManager) StartRound(ctx context.Context, roomCode, drawingPlayerID string) (*GameState, error) {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	base, err := m.readState(ctx, normalized)
	if err != nil {
		return nil, err
	}

	prompt := m.prompts[rand.Intn(len(m.prompts))]
	masked := maskPrompt(prompt)
	now := time.Now()
	endsAt := now.Add(m.drawDuration).UnixMilli()

	state := &GameState{
		RoomCode:        normalized,
		Phase:           PhaseDrawing,
		Round:           now.UnixMilli(),
		Prompt:          &prompt,
		PromptMasked:    &masked,
		DrawingPlayerID: &drawingPlayerID,
		RoundEndsAt:     &endsAt,
		Scoreboard:      base.Scoreboard,
		CorrectGuessers: []string{},
		ReadyPlayers:    []string{},
		Filters:         base.Filters,
	}

	if err := m.writeState(ctx, state); err != nil {
		return nil, err
	}
	if err := m.writeScoreboard(ctx, normalized, state.Scoreboard); err != nil {
		return nil, err
	}

	m.scheduleEnd(normalized, state.Round, endsAt)

	return state, nil
}

// EndRound moves the room into the results phase, marking the deadline as
// elapsed and resetting readiness. Safe to call twice; the second call is a
// no-op transition from results to results.
func (m *GameStateManager) EndRound(ctx context.Context, roomCode string) (*GameState, error) {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	return m.endRoundLocked(ctx, normalized)
}

func (m *GameStateManager) endRoundLocked(ctx context.Context, roomCode string) (*GameState, error) {
	state, err := m.readState(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	state.Phase = PhaseResults
	state.RoundEndsAt = &now
	state.ReadyPlayers = []string{}

	if err := m.writeState(ctx, state); err != nil {
		return nil, err
	}
	if err := m.writeScoreboard(ctx, roomCode, state.Scoreboard); err != nil {
		return nil, err
	}
	m.clearTimer(roomCode)
	return state, nil
}

// GuessResult reports whether a guess scored, alongside the state view that
// came out of the attempt (prompt intact; callers sanitize per role).
type GuessResult struct {
	Correct bool
	State   *GameState
}

// RecordGuess evaluates a guess. Guessing outside the drawing phase, after
// already scoring this round, or getting the word wrong are all benign
// no-ops, not errors. A match awards a flat 100 points, at most once per
// player per round.
func (m *GameStateManager) RecordGuess(ctx context.Context, roomCode, playerID, guess string) (*GuessResult, error) {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.readState(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if state.Phase != PhaseDrawing || state.Prompt == nil {
		return &GuessResult{Correct: false, State: state}, nil
	}
	for _, id := range state.CorrectGuessers {
		if id == playerID {
			return &GuessResult{Correct: false, State: state}, nil
		}
	}

	if !promptMatches(*state.Prompt, guess) {
		return &GuessResult{Correct: false, State: state}, nil
	}

	state.Scoreboard[playerID] += 100
	state.CorrectGuessers = append(state.CorrectGuessers, playerID)

	if err := m.writeState(ctx, state); err != nil {
		return nil, err
	}
	if err := m.writeScoreboard(ctx, normalized, state.Scoreboard); err != nil {
		return nil, err
	}

	return &GuessResult{Correct: true, State: state}, nil
}

// promptMatches is a trimmed, case-insensitive exact comparison. No fuzzy
// matching, no partial credit.
func promptMatches(prompt, guess string) bool {
	return normalizeGuess(guess) == normalizeGuess(prompt)
}

func normalizeGuess(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SetReady toggles the player's membership in the ready set. Phase is not
// validated; only lobby readiness has product meaning and gating happens at
// the caller.
func (m *GameStateManager) SetReady(ctx context.Context, roomCode, playerID string, ready bool) (*GameState, error) {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.readState(ctx, normalized)
	if err != nil {
		return nil, err
	}

	readySet := make([]string, 0, len(state.ReadyPlayers)+1)
	for _, id := range state.ReadyPlayers {
		if id != playerID {
			readySet = append(readySet, id)
		}
	}
	if ready {
		readySet = append(readySet, playerID)
	}
	state.ReadyPlayers = readySet

	if err := m.writeState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// UpdateFilters merges only the provided fields onto the room's filters.
func (m *GameStateManager) UpdateFilters(ctx context.Context, roomCode string, update FilterUpdate) (*GameState, error) {
	normalized := NormalizeRoomCode(roomCode)
	lock := m.roomLock(normalized)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.readState(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if update.KidsMode != nil {
		state.Filters.KidsMode = *update.KidsMode
	}
	if update.ProfanityLevel != nil {
		state.Filters.ProfanityLevel = *update.ProfanityLevel
	}

	if err := m.writeState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// scheduleEnd arms the room's single automatic end-of-round timer, replacing
// any previously pending one. Stop cannot cancel a callback that has already
// fired and is waiting on the room lock, so the callback itself carries the
// round id and re-checks it before ending anything. Callers hold the room
// lock.
func (m *GameStateManager) scheduleEnd(roomCode string, round, endsAt int64) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()

	if timer, ok := m.timers[roomCode]; ok {
		timer.Stop()
		delete(m.timers, roomCode)
	}

	delay := time.Until(time.UnixMilli(endsAt))
	if delay <= 0 {
		return
	}

	m.timers[roomCode] = time.AfterFunc(delay, func() {
		ended, err := m.endRoundIfCurrent(context.Background(), roomCode, round)
		if err != nil {
			log.Error().Err(err).Str("room", roomCode).Msg("failed to end round on timer")
			return
		}
		if ended && m.notifier != nil {
			m.notifier.RoomStateChanged(roomCode)
		}
	})
}

// endRoundIfCurrent ends the round only if the room is still drawing the same
// round the deadline belongs to. A timer that outlived its round is a no-op.
func (m *GameStateManager) endRoundIfCurrent(ctx context.Context, roomCode string, round int64) (bool, error) {
	lock := m.roomLock(roomCode)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.readState(ctx, roomCode)
	if err != nil {
		return false, err
	}
	if state.Phase != PhaseDrawing || state.Round != round {
		return false, nil
	}
	if _, err := m.endRoundLocked(ctx, roomCode); err != nil {
		return false, err
	}
	return true, nil
}

func (m *GameStateManager) clearTimer(roomCode string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if timer, ok := m.timers[roomCode]; ok {
		timer.Stop()
		delete(m.timers, roomCode)
	}
}

// Close cancels every pending round timer. Used at shutdown.
func (m *GameStateManager) Close() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for roomCode, timer := range m.timers {
		timer.Stop()
		delete(m.timers, roomCode)
	}
}
