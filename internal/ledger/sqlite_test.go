package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, opts Options) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := NewSQLite(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	return l
}

func TestMark_FirstAndRepeat(t *testing.T) {
	l := newTestLedger(t, Options{})
	ctx := context.Background()

	first, err := l.Mark(ctx, SLDScope("Acme"), []byte("example.com"))
	require.NoError(t, err)
	assert.True(t, first)

	again, err := l.Mark(ctx, SLDScope("Acme"), []byte("example.com"))
	require.NoError(t, err)
	assert.False(t, again)

	n, err := l.Count(ctx, SLDScope("Acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMark_ScopesAreIndependent(t *testing.T) {
	l := newTestLedger(t, Options{})
	ctx := context.Background()

	_, err := l.Mark(ctx, SLDScope("Acme"), []byte("example.com"))
	require.NoError(t, err)
	first, err := l.Mark(ctx, SLDScope("Beta"), []byte("example.com"))
	require.NoError(t, err)
	assert.True(t, first)

	n, err := l.Count(ctx, SLDScope("Beta"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCount_EmptyScope(t *testing.T) {
	l := newTestLedger(t, Options{})

	n, err := l.Count(context.Background(), SLDScope("nobody"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCounts_PrefixFiltered(t *testing.T) {
	l := newTestLedger(t, Options{})
	ctx := context.Background()

	_, err := l.Mark(ctx, HitScope("dshield", "Acme"), []byte{192, 0, 2, 1})
	require.NoError(t, err)
	_, err = l.Mark(ctx, HitScope("dshield", "Acme"), []byte{192, 0, 2, 2})
	require.NoError(t, err)
	_, err = l.Mark(ctx, HitScope("apwg", "Beta"), []byte{10, 0, 0, 1})
	require.NoError(t, err)
	_, err = l.Mark(ctx, SLDScope("Acme"), []byte("example.com"))
	require.NoError(t, err)

	counts, err := l.Counts(ctx, HitScopePrefix)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"hit:dshield:Acme": 2,
		"hit:apwg:Beta":    1,
	}, counts)
}

func TestMark_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := NewSQLite(path, Options{})
	require.NoError(t, err)
	_, err = l.Mark(ctx, SLDScope("Acme"), []byte("example.com"))
	require.NoError(t, err)
	require.NoError(t, l.Flush(ctx))
	require.NoError(t, l.Close())

	// Reopening the same file is the documented resume path: marks are
	// still idempotent against the committed state.
	l2, err := NewSQLite(path, Options{})
	require.NoError(t, err)
	defer l2.Close()

	first, err := l2.Mark(ctx, SLDScope("Acme"), []byte("example.com"))
	require.NoError(t, err)
	assert.False(t, first)

	n, err := l2.Count(ctx, SLDScope("Acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMark_UncommittedBatchLostOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	// Large batch size so nothing auto-commits.
	l, err := NewSQLite(path, Options{CommitEvery: 1000})
	require.NoError(t, err)
	_, err = l.Mark(ctx, SLDScope("Acme"), []byte("lost.example"))
	require.NoError(t, err)
	require.NoError(t, l.Close()) // no Flush: simulated crash

	l2, err := NewSQLite(path, Options{})
	require.NoError(t, err)
	defer l2.Close()

	n, err := l2.Count(ctx, SLDScope("Acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Re-processing restores it; idempotence makes the retry safe.
	first, err := l2.Mark(ctx, SLDScope("Acme"), []byte("lost.example"))
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMark_CommitEveryCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := NewSQLite(path, Options{CommitEvery: 3})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Mark(ctx, SLDScope("Acme"), []byte(fmt.Sprintf("d%d.example", i)))
		require.NoError(t, err)
	}
	// Batch of 3 committed; the 4th mark is in a fresh batch.
	_, err = l.Mark(ctx, SLDScope("Acme"), []byte("d3.example"))
	require.NoError(t, err)
	require.NoError(t, l.Close()) // drops the open batch

	l2, err := NewSQLite(path, Options{})
	require.NoError(t, err)
	defer l2.Close()

	n, err := l2.Count(ctx, SLDScope("Acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMark_ConcurrentWriters(t *testing.T) {
	l := newTestLedger(t, Options{CommitEvery: 7})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// Half the keys collide across workers.
				key := fmt.Sprintf("d%d.example", i+(w%2)*50)
				_, err := l.Mark(ctx, SLDScope("Acme"), []byte(key))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	n, err := l.Count(ctx, SLDScope("Acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}
