package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_RecordTracksTransitions(t *testing.T) {
	h := NewHistory(10)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, ok := h.Latest()
	assert.False(t, ok)

	assert.Nil(t, h.Record(Result{Status: Green, Score: 80, Timestamp: base}))
	assert.Nil(t, h.Record(Result{Status: Green, Score: 75, Timestamp: base.Add(24 * time.Hour)}))

	change := h.Record(Result{Status: Red, Score: 30, Timestamp: base.Add(48 * time.Hour)})
	require.NotNil(t, change)
	assert.Equal(t, Green, change.From)
	assert.Equal(t, Red, change.To)
	assert.Equal(t, 30.0, change.Score)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, Red, latest.Status)
	assert.Equal(t, map[string]int{"GREEN": 2, "RED": 1}, h.Counts())
	assert.Len(t, h.Changes(), 1)

	assert.False(t, h.IsStable(base.Add(72*time.Hour), 48*time.Hour))
	assert.True(t, h.IsStable(base.Add(200*time.Hour), 48*time.Hour))
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	statuses := []Status{Green, Red, Green, Red, Green, Yellow}
	for i, s := range statuses {
		h.Record(Result{Status: s, Timestamp: base.AddDate(0, 0, i)})
	}

	changes := h.Changes()
	require.Len(t, changes, 3)
	// five transitions, the last three survive: G->R, R->G, G->Y
	assert.Equal(t, Green, changes[0].From)
	assert.Equal(t, Red, changes[0].To)
	assert.Equal(t, Green, changes[2].From)
	assert.Equal(t, Yellow, changes[2].To)

	// counts are cumulative, not bounded
	assert.Equal(t, 3, h.Counts()["GREEN"])
}
