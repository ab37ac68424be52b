package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermark_AdvancesOnlyOverContiguousResolutions(t *testing.T) {
	w := NewWatermark(10)
	r11 := w.Track(11)
	r12 := w.Track(12)
	r13 := w.Track(13)
	r14 := w.Track(14)
	assert.Equal(t, int64(4), w.Pending())

	r12()
	r14()
	assert.Equal(t, int64(10), w.Highest(), "11 is still open")

	r11()
	assert.Equal(t, int64(12), w.Highest())

	r13()
	assert.Equal(t, int64(14), w.Highest())
	assert.Equal(t, int64(0), w.Pending())

	r13() // idempotent
	assert.Equal(t, int64(14), w.Highest())
}

func TestWatermark_GapsInOffsets(t *testing.T) {
	w := NewWatermark(0)
	a := w.Track(2)
	b := w.Track(7)
	b()
	assert.Equal(t, int64(0), w.Highest())
	a()
	assert.Equal(t, int64(7), w.Highest())
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "cp.json"))
	require.NoError(t, err)

	_, ok, err := s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Commit(ctx, "orders", 42))
	require.NoError(t, s.Commit(ctx, "users", 7))
	off, ok, err := s.Load(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), off)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "rowpump:cp:")
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Commit(ctx, "k", 99))
	off, ok, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(99), off)

	v, err := mr.Get("rowpump:cp:k")
	require.NoError(t, err)
	assert.Equal(t, "99", v)
}

func TestNewRedisStore_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "p:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewRedisStore(context.Background(), "::not a url", "p:")
	assert.Error(t, err)
}

func TestCommitter_IntervalAndForce(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "cp.json"))
	require.NoError(t, err)
	w := NewWatermark(0)
	c := NewCommitter(s, "k", w, time.Hour)

	w.Track(1)()
	off, did, err := c.Maybe(ctx)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, int64(1), off)

	w.Track(2)()
	_, did, err = c.Maybe(ctx)
	require.NoError(t, err)
	assert.False(t, did, "interval not elapsed")

	off, err = c.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), off)
	stored, _, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)
}
