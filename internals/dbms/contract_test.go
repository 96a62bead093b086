package dbms

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"relay/internals/models"
	"sync"
	"testing"
)

func ptr(v int64) *int64 { return &v }

// runStoreContract checks the behaviour every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Dbms) {
	ctx := context.Background()

	t.Run("append is listed once at the end", func(t *testing.T) {
		store := open(t)
		first, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "a", Content: "1"})
		require.NoError(t, err)
		second, err := store.Append(ctx, models.Draft{Level: models.LevelError, Title: "b", Content: "2"})
		require.NoError(t, err)

		assert.Greater(t, second.Id, first.Id)
		assert.GreaterOrEqual(t, second.Timestamp, first.Timestamp)
		assert.Greater(t, first.Timestamp, int64(0))

		all, err := store.ListSince(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, first, all[0])
		assert.Equal(t, second, all[1])
	})

	t.Run("invalid level is rejected", func(t *testing.T) {
		store := open(t)
		_, err := store.Append(ctx, models.Draft{Level: 4, Title: "t", Content: "c"})
		assert.True(t, errors.Is(err, models.ErrInvalidArgument))
		_, err = store.Append(ctx, models.Draft{Level: -1, Title: "t", Content: "c"})
		assert.True(t, errors.Is(err, models.ErrInvalidArgument))

		all, err := store.ListSince(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("list since filters by timestamp", func(t *testing.T) {
		store := open(t)
		var stored []models.Message
		for i := 0; i < 3; i++ {
			msg, err := store.Append(ctx, models.Draft{Level: models.LevelDebug, Title: "t", Content: "c"})
			require.NoError(t, err)
			stored = append(stored, msg)
		}

		since, err := store.ListSince(ctx, ptr(stored[0].Timestamp-1))
		require.NoError(t, err)
		assert.Equal(t, stored, since)

		none, err := store.ListSince(ctx, ptr(stored[2].Timestamp))
		require.NoError(t, err)
		assert.Empty(t, none)

		for _, msg := range since {
			assert.Greater(t, msg.Timestamp, stored[0].Timestamp-1)
		}
	})

	t.Run("delete by id and timestamp", func(t *testing.T) {
		store := open(t)
		keep, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "keep", Content: "c"})
		require.NoError(t, err)
		drop, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "drop", Content: "c"})
		require.NoError(t, err)

		removed, err := store.Delete(ctx, models.MessageRef{Id: drop.Id, Timestamp: drop.Timestamp})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		all, err := store.ListSince(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []models.Message{keep}, all)

		_, err = store.Delete(ctx, models.MessageRef{Id: drop.Id, Timestamp: drop.Timestamp})
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("delete by nonce and timestamp", func(t *testing.T) {
		store := open(t)
		msg, err := store.Append(ctx, models.Draft{Level: models.LevelWarning, Title: "t", Content: "c"})
		require.NoError(t, err)

		removed, err := store.Delete(ctx, models.MessageRef{Nonce: msg.Nonce, Timestamp: msg.Timestamp, ByNonce: true})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})

	t.Run("missing delete leaves store unchanged", func(t *testing.T) {
		store := open(t)
		msg, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "t", Content: "c"})
		require.NoError(t, err)
		before, err := store.ListSince(ctx, nil)
		require.NoError(t, err)

		_, err = store.Delete(ctx, models.MessageRef{Id: msg.Id + 100, Timestamp: msg.Timestamp})
		assert.True(t, errors.Is(err, models.ErrNotFound))
		_, err = store.Delete(ctx, models.MessageRef{Id: msg.Id, Timestamp: msg.Timestamp + 1})
		assert.True(t, errors.Is(err, models.ErrNotFound))

		after, err := store.ListSince(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("wipe clears everything", func(t *testing.T) {
		store := open(t)
		for i := 0; i < 3; i++ {
			_, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "t", Content: "c"})
			require.NoError(t, err)
		}
		removed, err := store.Delete(ctx, models.MessageRef{})
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		all, err := store.ListSince(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, all)

		removed, err = store.Delete(ctx, models.MessageRef{})
		require.NoError(t, err)
		assert.Equal(t, 0, removed)

		// ids keep growing after a wipe
		next, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "t", Content: "c"})
		require.NoError(t, err)
		assert.Equal(t, int64(4), next.Id)
	})

	t.Run("concurrent appends are all kept", func(t *testing.T) {
		store := open(t)
		const writers = 16
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Append(ctx, models.Draft{Level: models.LevelInfo, Title: "t", Content: "c"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		all, err := store.ListSince(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, writers)
		seen := map[int64]bool{}
		for i, msg := range all {
			assert.False(t, seen[msg.Id], "duplicate id %d", msg.Id)
			seen[msg.Id] = true
			if i > 0 {
				assert.Greater(t, msg.Id, all[i-1].Id)
				assert.GreaterOrEqual(t, msg.Timestamp, all[i-1].Timestamp)
			}
		}
	})
}
