package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "ns", "key-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, "ns", "key-1", []byte("value-1")))

	value, found, err := s.Get(ctx, "ns", "key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "value-1", string(value))

	require.NoError(t, s.Delete(ctx, "ns", "key-1"))
	_, found, err = s.Get(ctx, "ns", "key-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PutUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", "key", []byte("first")))
	require.NoError(t, s.Put(ctx, "ns", "key", []byte("second")))

	value, found, err := s.Get(ctx, "ns", "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", string(value))
}

func TestStore_ListFiltersByPrefixAndEscapesLikeWildcards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "tenant-a/mod-1", []byte("1")))
	require.NoError(t, s.Put(ctx, "ns", "tenant-a/mod-2", []byte("2")))
	require.NoError(t, s.Put(ctx, "ns", "tenant-a_other/mod-1", []byte("x")))
	require.NoError(t, s.Put(ctx, "ns", "tenant-b/mod-1", []byte("b")))

	it, err := s.List(ctx, "ns", "tenant-a/")
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for {
		entry, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		keys = append(keys, entry.Key)
	}
	assert.Equal(t, []string{"tenant-a/mod-1", "tenant-a/mod-2"}, keys)
}

func TestStore_AppendLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendLog(ctx, "ns", []byte("entry-1")))
	require.NoError(t, s.AppendLog(ctx, "ns", []byte("entry-2")))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lifecycle_log WHERE namespace = ?`, "ns").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestStore_Txn_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "key", []byte("before")))

	err := s.Txn(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Put(ctx, "ns", "key", []byte("after")))
		return assert.AnError
	})
	require.Error(t, err)

	value, found, err := s.Get(ctx, "ns", "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "before", string(value))
}

func TestStore_Txn_CommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Txn(ctx, func(ctx context.Context) error {
		return s.Put(ctx, "ns", "key", []byte("committed"))
	})
	require.NoError(t, err)

	value, found, err := s.Get(ctx, "ns", "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "committed", string(value))
}
