package services

import (
	"context"
	"fmt"
	"testing"

	"sketchparty/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStroke(id string) models.Stroke {
	return models.Stroke{
		ID:    id,
		Color: "#000000",
		Width: 4,
		Points: []models.StrokePoint{
			{X: 0.1, Y: 0.2, T: 1},
			{X: 0.3, Y: 0.4, T: 2},
		},
	}
}

func TestStrokeHistory_AppendAndReplay(t *testing.T) {
	t.Parallel()
	h := NewStrokeHistory(newFakeKV(), 500)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "abc123", testStroke("s1")))
	require.NoError(t, h.Append(ctx, "ABC123", testStroke("s2")))

	strokes, err := h.GetRecent(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, strokes, 2)
	assert.Equal(t, "s1", strokes[0].ID)
	assert.Equal(t, "s2", strokes[1].ID)
	assert.Equal(t, 0.3, strokes[1].Points[1].X)
}

func TestStrokeHistory_FIFOEviction(t *testing.T) {
	t.Parallel()
	h := NewStrokeHistory(newFakeKV(), 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Append(ctx, "ABC123", testStroke(fmt.Sprintf("s%d", i))))
	}

	strokes, err := h.GetRecent(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, strokes, 3)
	assert.Equal(t, "s3", strokes[0].ID)
	assert.Equal(t, "s5", strokes[2].ID)
}

func TestStrokeHistory_Clear(t *testing.T) {
	t.Parallel()
	h := NewStrokeHistory(newFakeKV(), 500)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "ABC123", testStroke("s1")))
	require.NoError(t, h.Clear(ctx, "ABC123"))

	strokes, err := h.GetRecent(ctx, "ABC123")
	require.NoError(t, err)
	assert.Empty(t, strokes)
}

func TestStrokeHistory_SkipsCorruptEntries(t *testing.T) {
	t.Parallel()
	kv := newFakeKV()
	h := NewStrokeHistory(kv, 500)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "ABC123", testStroke("s1")))
	require.NoError(t, kv.RPush(ctx, "room:ABC123:strokes", "{not json"))
	require.NoError(t, h.Append(ctx, "ABC123", testStroke("s2")))

	strokes, err := h.GetRecent(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, strokes, 2)
	assert.Equal(t, "s1", strokes[0].ID)
	assert.Equal(t, "s2", strokes[1].ID)
}
