package deadletter_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusquake/eventcore/pkg/eventcore/deadletter"
	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
)

func testEntry(t *testing.T) *deadletter.Entry {
	t.Helper()
	evt := envelope.Event{
		ID:            uuid.New(),
		Type:          "patient.created",
		SubjectID:     "pat-1001",
		Payload:       []byte(`{"patientId":"pat-1001"}`),
		OccurredAt:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		SchemaVersion: envelope.SchemaVersionCurrent,
	}
	raw, err := envelope.Encode(evt)
	require.NoError(t, err)

	return &deadletter.Entry{
		Event:   evt,
		Raw:     raw,
		Handler: "billing-account",
		Reason:  "fatal handler error: unknown insurance provider",
		Attempts: []deadletter.Attempt{
			{Number: 1, DispatchedAt: time.Now().UTC(), Outcome: deadletter.OutcomeFatalFailure, Error: "unknown insurance provider"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLiteAppendList(t *testing.T) {
	store, err := deadletter.NewSQLite(filepath.Join(t.TempDir(), "dl.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	entry := testEntry(t)
	require.NoError(t, store.Append(ctx, entry))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.True(t, got.Event.Equal(entry.Event), "decoded event should match")
	assert.Equal(t, entry.Handler, got.Handler)
	assert.Equal(t, entry.Reason, got.Reason)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, deadletter.OutcomeFatalFailure, got.Attempts[0].Outcome)
	assert.Equal(t, "unknown insurance provider", got.Attempts[0].Error)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dl.db")
	ctx := context.Background()

	store, err := deadletter.NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, testEntry(t)))
	require.NoError(t, store.Close())

	reopened, err := deadletter.NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteMalformedEntry(t *testing.T) {
	store, err := deadletter.NewSQLite(filepath.Join(t.TempDir(), "dl.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	// A decode failure stores only the raw bytes.
	require.NoError(t, store.Append(ctx, &deadletter.Entry{
		Raw:       []byte{0x00, 0x01, 0x02},
		Reason:    "decode failed: bad magic byte",
		CreatedAt: time.Now().UTC(),
	}))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, entries[0].Raw)
	assert.Empty(t, entries[0].Event.Type)
}

func TestSQLiteListLimit(t *testing.T) {
	store, err := deadletter.NewSQLite(filepath.Join(t.TempDir(), "dl.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, testEntry(t)))
	}

	entries, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLiteClosed(t *testing.T) {
	store, err := deadletter.NewSQLite(filepath.Join(t.TempDir(), "dl.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Append(ctx, testEntry(t)), deadletter.ErrStoreClosed)
	_, err = store.List(ctx, 0)
	assert.ErrorIs(t, err, deadletter.ErrStoreClosed)
	_, err = store.Count(ctx)
	assert.ErrorIs(t, err, deadletter.ErrStoreClosed)

	// Double close is a no-op.
	assert.NoError(t, store.Close())
}

func TestOutcomeTextRoundTrip(t *testing.T) {
	for _, o := range []deadletter.Outcome{
		deadletter.OutcomeSuccess,
		deadletter.OutcomeRetryableFailure,
		deadletter.OutcomeFatalFailure,
	} {
		text, err := o.MarshalText()
		require.NoError(t, err)

		var back deadletter.Outcome
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, o, back)
	}

	var o deadletter.Outcome
	assert.Error(t, o.UnmarshalText([]byte("nonsense")))
}
