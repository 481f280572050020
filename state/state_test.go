package state

import (
	"testing"
	"time"

	"github.com/grovetools/meetbot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateOperations(t *testing.T) {
	testutil.Isolate(t)

	t.Run("Load empty state", func(t *testing.T) {
		st, err := Load()
		require.NoError(t, err)
		assert.Empty(t, st)
	})

	t.Run("Set and get", func(t *testing.T) {
		require.NoError(t, Set("key", "value"))
		val, ok, err := Get("key")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "value", val)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, Delete("key"))
		_, ok, err := Get("key")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLastSession(t *testing.T) {
	testutil.Isolate(t)

	rec, err := LastSession()
	require.NoError(t, err)
	assert.Nil(t, rec)

	started := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	require.NoError(t, SaveLastSession(SessionRecord{
		BotID:         "bot-1",
		Provider:      "telemost",
		URL:           "https://telemost.yandex.ru/j/1",
		Status:        []string{"processing", "joined", "finished"},
		CaptureReason: "inactivity",
		StartedAt:     started,
		EndedAt:       started.Add(time.Hour),
	}))

	rec, err = LastSession()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "bot-1", rec.BotID)
	assert.Equal(t, []string{"processing", "joined", "finished"}, rec.Status)
	assert.Equal(t, "inactivity", rec.CaptureReason)
	assert.True(t, started.Equal(rec.StartedAt))
}
