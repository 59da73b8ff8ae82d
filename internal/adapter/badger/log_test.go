package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wardrive-risk-map/internal/storage"
	"github.com/couchcryptid/wardrive-risk-map/internal/storage/logtest"
)

func TestLog_Conformance(t *testing.T) {
	logtest.Run(t, func(t *testing.T) storage.Log {
		l, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		return l
	})
}

func TestLog_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "buffer")

	l, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	first, err := l.Append(ctx, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer l.Close()

	second, err := l.Append(ctx, []byte("b"))
	require.NoError(t, err)
	assert.Greater(t, second, first, "sequence numbers keep growing after reopen")

	entries, err := l.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", string(entries[0].Payload))
	assert.Equal(t, "b", string(entries[1].Payload))
}

func TestLog_PingAfterClose(t *testing.T) {
	l, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Error(t, l.Ping(context.Background()))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
