// Package logtest is a conformance suite for storage.Log implementations.
package logtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
)

// Run exercises a fresh log from newLog against the storage.Log contract.
func Run(t *testing.T, newLog func(t *testing.T) storage.Log) {
	t.Helper()
	ctx := context.Background()

	t.Run("append and read in order", func(t *testing.T) {
		l := newLog(t)
		var seqs []uint64
		for i := range 5 {
			seq, err := l.Append(ctx, []byte(fmt.Sprintf(`{"n":%d}`, i)))
			require.NoError(t, err)
			seqs = append(seqs, seq)
		}
		for i := 1; i < len(seqs); i++ {
			assert.Greater(t, seqs[i], seqs[i-1])
		}

		entries, err := l.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		for i, e := range entries {
			assert.Equal(t, seqs[i], e.Seq)
			assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(e.Payload))
		}
	})

	t.Run("empty log", func(t *testing.T) {
		entries, err := newLog(t).ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("update replaces payload", func(t *testing.T) {
		l := newLog(t)
		seq, err := l.Append(ctx, []byte("a"))
		require.NoError(t, err)
		require.NoError(t, l.Update(ctx, seq, []byte("b")))

		entries, err := l.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "b", string(entries[0].Payload))
		assert.Equal(t, seq, entries[0].Seq)
	})

	t.Run("update missing entry", func(t *testing.T) {
		err := newLog(t).Update(ctx, 42, []byte("x"))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete removes entries", func(t *testing.T) {
		l := newLog(t)
		a, _ := l.Append(ctx, []byte("a"))
		b, _ := l.Append(ctx, []byte("b"))
		c, _ := l.Append(ctx, []byte("c"))

		removed, err := l.Delete(ctx, a, c, 999)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		entries, err := l.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, b, entries[0].Seq)

		// Sequence numbers are never reused.
		d, err := l.Append(ctx, []byte("d"))
		require.NoError(t, err)
		assert.Greater(t, d, c)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		l := newLog(t)
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := range 10 {
					_, err := l.Append(ctx, []byte(fmt.Sprintf("%d-%d", i, j)))
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		entries, err := l.ReadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 80)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newLog(t).Ping(ctx))
	})
}
