package services

import (
	"context"
	"encoding/json"
	"fmt"

	"sketchparty/models"
)

// StrokeHistory is the bounded per-room replay log for drawing strokes,
// backed by a redis list with FIFO eviction. It is cleared at every round
// start so replays never leak a previous round's drawing.
type StrokeHistory struct {
	kv         KV
	maxEntries int64
}

func NewStrokeHistory(kv KV, maxEntries int) *StrokeHistory {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &StrokeHistory{kv: kv, maxEntries: int64(maxEntries)}
}

func strokesKey(roomCode string) string {
	return fmt.Sprintf("room:%s:strokes", roomCode)
}

func (h *StrokeHistory) Append(ctx context.Context, roomCode string, stroke models.Stroke) error {
	key := strokesKey(NormalizeRoomCode(roomCode))
	data, err := json.Marshal(stroke)
	if err != nil {
		return err
	}
	if err := h.kv.RPush(ctx, key, string(data)); err != nil {
		return err
	}
	return h.kv.LTrim(ctx, key, -h.maxEntries, -1)
}

// GetRecent returns the retained strokes oldest-first. Entries that fail to
// decode are skipped.
func (h *StrokeHistory) GetRecent(ctx context.Context, roomCode string) ([]models.Stroke, error) {
	key := strokesKey(NormalizeRoomCode(roomCode))
	raw, err := h.kv.LRange(ctx, key, -h.maxEntries, -1)
	if err != nil {
		return nil, err
	}

	strokes := make([]models.Stroke, 0, len(raw))
	for _, entry := range raw {
		var stroke models.Stroke
		if err := json.Unmarshal([]byte(entry), &stroke); err != nil {
			continue
		}
		strokes = append(strokes, stroke)
	}
	return strokes, nil
}

func (h *StrokeHistory) Clear(ctx context.Context, roomCode string) error {
	return h.kv.Del(ctx, strokesKey(NormalizeRoomCode(roomCode)))
}
