package deadletter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusquake/eventcore/pkg/eventcore/deadletter"
)

func TestMemoryAppendList(t *testing.T) {
	store := deadletter.NewMemory()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &deadletter.Entry{Reason: "first"}))
	require.NoError(t, store.Append(ctx, &deadletter.Entry{Reason: "second"}))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Reason)
	assert.Equal(t, "second", entries[1].Reason)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryListLimit(t *testing.T) {
	store := deadletter.NewMemory()
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, &deadletter.Entry{CreatedAt: time.Now()}))
	}

	entries, err := store.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMemoryAppendCancelled(t *testing.T) {
	store := deadletter.NewMemory()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Append(ctx, &deadletter.Entry{}))
}
