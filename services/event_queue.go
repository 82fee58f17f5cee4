package services

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const eventSubjectPrefix = "game.events."

type GameEventType string

const (
	EventRoomJoin  GameEventType = "room.join"
	EventRoomLeave GameEventType = "room.leave"
)

// GameEvent is best-effort audit telemetry, not part of the consistency path.
type GameEvent struct {
	Type       GameEventType  `json:"type"`
	RoomCode   string         `json:"roomCode"`
	PlayerID   string         `json:"playerId"`
	Nickname   string         `json:"nickname,omitempty"`
	Source     PresenceSource `json:"source"`
	OccurredAt int64          `json:"occurredAt"`
}

type EventQueue interface {
	Publish(event GameEvent)
	Close()
}

// NatsEventQueue publishes room join/leave events to NATS. Publish failures
// are logged and swallowed; the originating user-facing operation must never
// fail because telemetry did.
type NatsEventQueue struct {
	conn *nats.Conn
}

func NewNatsEventQueue(url string) (*NatsEventQueue, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NatsEventQueue{conn: conn}, nil
}

func (q *NatsEventQueue) Publish(event GameEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("room", event.RoomCode).Msg("failed to marshal game event")
		return
	}
	if err := q.conn.Publish(eventSubjectPrefix+string(event.Type), data); err != nil {
		log.Error().Err(err).Str("room", event.RoomCode).Str("type", string(event.Type)).
			Msg("failed to publish game event")
	}
}

func (q *NatsEventQueue) Close() {
	if err := q.conn.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}

// NoopEventQueue satisfies EventQueue when no broker is configured.
type NoopEventQueue struct{}

func (NoopEventQueue) Publish(GameEvent) {}
func (NoopEventQueue) Close()            {}
