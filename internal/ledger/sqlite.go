package ledger

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const defaultCommitEvery = 10000

// sqlitePageSize matches the PRAGMA below; the size budget is converted
// to a page count from it.
const sqlitePageSize = 4096

// Options configures a SQLite-backed ledger.
type Options struct {
	// CommitEvery is the number of marks between durability checkpoints.
	// Larger values trade crash-recovery granularity for throughput; on
	// a crash at most one uncommitted batch is lost and re-ingestion
	// restores it.
	CommitEvery int

	// MaxSizeGB caps the database file size. Zero means unlimited.
	MaxSizeGB int
}

// SQLite implements Ledger on a single database file. One file per
// logical run keeps run namespaces isolated; reopening the same file is
// the resume path. Marks accumulate in a long-lived transaction that is
// committed every CommitEvery marks, and concurrent markers serialize on
// a mutex so exactly one writer transaction exists at a time.
type SQLite struct {
	db *sql.DB

	mu          sync.Mutex
	tx          *sql.Tx
	pending     int
	commitEvery int
}

// NewSQLite opens (or creates) the ledger database at path.
func NewSQLite(path string, opts Options) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open")
	}
	// The batching transaction is stateful; pin a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if opts.MaxSizeGB > 0 {
		maxPages := int64(opts.MaxSizeGB) * (1 << 30) / sqlitePageSize
		pragmas = append(pragmas, "PRAGMA max_page_count="+strconv.FormatInt(maxPages, 10))
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "ledger: exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS marks (
	scope TEXT NOT NULL,
	key   BLOB NOT NULL,
	PRIMARY KEY (scope, key)
) WITHOUT ROWID;
`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ledger: migrate")
	}

	commitEvery := opts.CommitEvery
	if commitEvery <= 0 {
		commitEvery = defaultCommitEvery
	}

	return &SQLite{db: db, commitEvery: commitEvery}, nil
}

func (l *SQLite) Mark(ctx context.Context, scope string, key []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tx == nil {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return false, eris.Wrap(err, "ledger: begin batch")
		}
		l.tx = tx
	}

	res, err := l.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO marks (scope, key) VALUES (?, ?)`,
		scope, key,
	)
	if err != nil {
		return false, eris.Wrap(err, "ledger: mark")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "ledger: mark rows affected")
	}

	l.pending++
	if l.pending >= l.commitEvery {
		if err := l.commitLocked(); err != nil {
			return false, err
		}
	}

	return n > 0, nil
}

func (l *SQLite) Count(ctx context.Context, scope string) (int64, error) {
	if err := l.Flush(ctx); err != nil {
		return 0, err
	}

	var n int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM marks WHERE scope = ?`, scope,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "ledger: count %s", scope)
	}
	return n, nil
}

func (l *SQLite) Counts(ctx context.Context, scopePrefix string) (map[string]int64, error) {
	if err := l.Flush(ctx); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT scope, COUNT(*) FROM marks GROUP BY scope`,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: counts %s*", scopePrefix)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var scope string
		var n int64
		if err := rows.Scan(&scope, &n); err != nil {
			return nil, eris.Wrap(err, "ledger: scan counts")
		}
		if !strings.HasPrefix(scope, scopePrefix) {
			continue
		}
		out[scope] = n
	}
	return out, eris.Wrap(rows.Err(), "ledger: counts iterate")
}

func (l *SQLite) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitLocked()
}

func (l *SQLite) commitLocked() error {
	if l.tx == nil {
		return nil
	}
	if err := l.tx.Commit(); err != nil {
		l.tx = nil
		return eris.Wrap(err, "ledger: commit batch")
	}
	l.tx = nil
	l.pending = 0
	return nil
}

func (l *SQLite) Close() error {
	l.mu.Lock()
	if l.tx != nil {
		// Roll back rather than commit: Close without Flush means the
		// caller did not reach a checkpoint, and re-ingestion recovers
		// the batch.
		_ = l.tx.Rollback()
		l.tx = nil
	}
	l.mu.Unlock()
	return eris.Wrap(l.db.Close(), "ledger: close")
}
