package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetSet(t *testing.T) {
	s := NewStore(time.Minute)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, s.Set(ctx, "short", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err = s.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Version(t *testing.T) {
	s := NewStore(time.Minute)
	ctx := context.Background()

	v, err := s.Version(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Incr(ctx, "user"))
		}()
	}
	wg.Wait()

	v, err = s.Version(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	v, err = s.Version(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}
