package services

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type PresenceSource string

const (
	SourceHTTP   PresenceSource = "http"
	SourceSocket PresenceSource = "socket"
)

// PresenceRecord reflects connectivity, not authorization. Staleness is
// surfaced through LastSeenAt; nothing here expires records automatically.
type PresenceRecord struct {
	PlayerID   string         `json:"playerId"`
	Nickname   string         `json:"nickname"`
	Source     PresenceSource `json:"source"`
	LastSeenAt int64          `json:"lastSeenAt"`
}

// PresenceTracker keeps a per-room set of known-connected players in redis:
// a member set per room plus a hash per member.
type PresenceTracker struct {
	kv KV
}

func NewPresenceTracker(kv KV) *PresenceTracker {
	return &PresenceTracker{kv: kv}
}

func membersKey(roomCode string) string {
	return fmt.Sprintf("room:%s:members", roomCode)
}

func memberHashKey(roomCode, playerID string) string {
	return fmt.Sprintf("room:%s:member:%s", roomCode, playerID)
}

func (p *PresenceTracker) Upsert(ctx context.Context, roomCode, playerID, nickname string, source PresenceSource, now time.Time) error {
	normalized := NormalizeRoomCode(roomCode)
	if err := p.kv.SAdd(ctx, membersKey(normalized), playerID); err != nil {
		return err
	}
	return p.kv.HSet(ctx, memberHashKey(normalized, playerID), map[string]string{
		"nickname":   nickname,
		"source":     string(source),
		"occurredAt": strconv.FormatInt(now.UnixMilli(), 10),
	})
}

// Touch refreshes the last-activity timestamp. A touch for a player with no
// prior record still writes the timestamp (leaving nickname and source empty);
// touch only ever follows a validated join, so that record is transient.
func (p *PresenceTracker) Touch(ctx context.Context, roomCode, playerID string, now time.Time) error {
	normalized := NormalizeRoomCode(roomCode)
	if err := p.kv.SAdd(ctx, membersKey(normalized), playerID); err != nil {
		return err
	}
	return p.kv.HSet(ctx, memberHashKey(normalized, playerID), map[string]string{
		"occurredAt": strconv.FormatInt(now.UnixMilli(), 10),
	})
}

func (p *PresenceTracker) Remove(ctx context.Context, roomCode, playerID string) error {
	normalized := NormalizeRoomCode(roomCode)
	if err := p.kv.SRem(ctx, membersKey(normalized), playerID); err != nil {
		return err
	}
	return p.kv.Del(ctx, memberHashKey(normalized, playerID))
}

func (p *PresenceTracker) List(ctx context.Context, roomCode string) ([]PresenceRecord, error) {
	normalized := NormalizeRoomCode(roomCode)
	memberIDs, err := p.kv.SMembers(ctx, membersKey(normalized))
	if err != nil {
		return nil, err
	}

	records := make([]PresenceRecord, 0, len(memberIDs))
	for _, playerID := range memberIDs {
		data, err := p.kv.HGetAll(ctx, memberHashKey(normalized, playerID))
		if err != nil {
			return nil, err
		}
		record := PresenceRecord{
			PlayerID: playerID,
			Nickname: data["nickname"],
			Source:   PresenceSource(data["source"]),
		}
		if raw, ok := data["occurredAt"]; ok {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				record.LastSeenAt = parsed
			}
		}
		records = append(records, record)
	}
	return records, nil
}
