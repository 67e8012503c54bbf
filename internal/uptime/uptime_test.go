package uptime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/store"
)

func TestSecondsAccumulatesFromZeroOnFreshStore(t *testing.T) {
	s, err := store.New(t.TempDir())
	assert.NoError(t, err)

	start := time.Unix(1_700_000_000, 0)
	tr := NewTracker(s, start)

	got := tr.Seconds(start.Add(90 * time.Second))
	assert.Equal(t, int64(90), got)
}

func TestSecondsAddsPriorPersistedTotal(t *testing.T) {
	dir := t.TempDir()
	s, err := store.New(dir)
	assert.NoError(t, err)
	assert.NoError(t, s.Save("uptime", int64(1000)))

	start := time.Unix(1_700_000_000, 0)
	tr := NewTracker(s, start)

	got := tr.Seconds(start.Add(10 * time.Second))
	assert.Equal(t, int64(1010), got)
}

func TestPersistWritesCurrentTotal(t *testing.T) {
	s, err := store.New(t.TempDir())
	assert.NoError(t, err)

	start := time.Unix(1_700_000_000, 0)
	tr := NewTracker(s, start)
	assert.NoError(t, tr.Persist(start.Add(5*time.Second)))

	var persisted int64
	assert.NoError(t, s.Load("uptime", &persisted))
	assert.Equal(t, int64(5), persisted)
}

func TestRunPersistsOnceMoreAfterContextCancelled(t *testing.T) {
	s, err := store.New(t.TempDir())
	assert.NoError(t, err)

	start := time.Unix(1_700_000_000, 0)
	tr := NewTracker(s, start)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = tr.Run(ctx, time.Hour, func() time.Time { return start.Add(time.Minute) })
	assert.NoError(t, err)

	var persisted int64
	assert.NoError(t, s.Load("uptime", &persisted))
	assert.Equal(t, int64(60), persisted)
}
