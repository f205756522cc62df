package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bareSession(id string, created time.Time) *Session {
	return newSession(config.ConnectionConfig{ID: id, Name: id}, nil, nil, created)
}

func TestRegistry_InsertIsUnique(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(bareSession("a", epoch)))

	err := r.Insert(bareSession("a", epoch))
	assert.ErrorIs(t, err, errors.ErrAlreadyConnected)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveAndDrain(t *testing.T) {
	r := NewRegistry()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Insert(bareSession(id, epoch.Add(time.Duration(i)*time.Second))))
	}

	var ids []string
	for _, s := range r.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "List is ordered by creation time")

	s, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", s.ID)
	_, ok = r.Remove("a")
	assert.False(t, ok)

	drained := r.Drain()
	assert.Len(t, drained, 2)
	assert.Zero(t, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Insert(bareSession("shared", epoch))
			r.Remove("shared")
		}()
		go func() {
			defer wg.Done()
			r.Get("shared")
			r.List()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Len(), 1)
}

func TestSession_AcquireHonorsContext(t *testing.T) {
	s := bareSession("a", epoch)
	require.NoError(t, s.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.acquire(ctx), context.DeadlineExceeded)

	s.release()
	require.NoError(t, s.acquire(context.Background()))
	s.release()
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "error: EOF", StatusError("EOF").String())
	assert.True(t, StatusConnected.IsConnected())
	assert.False(t, StatusError("x").IsConnected())
}

func TestKeyedLock(t *testing.T) {
	k := newKeyedLock()

	unlockA, err := k.lock(context.Background(), "a")
	require.NoError(t, err)

	// A different key is independent.
	unlockB, err := k.lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()
	assert.Zero(t, k.size())
}
