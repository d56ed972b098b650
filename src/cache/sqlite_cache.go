package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS completion_cache (
	session_id TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	completion BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_ns INTEGER NOT NULL,
	PRIMARY KEY (session_id, cache_key)
);
`

// SQLiteCache is an on-disk completion cache with TTL expiry. Expired rows
// read as misses and are removed by PurgeExpired.
type SQLiteCache struct {
	db      *sql.DB
	ttl     time.Duration
	session string
	now     func() time.Time
	hits    *atomic.Int64
	misses  *atomic.Int64
}

// NewSQLiteCache opens (or creates) the database at path.
func NewSQLiteCache(path string, ttl time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLiteCache{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		hits:   new(atomic.Int64),
		misses: new(atomic.Int64),
	}, nil
}

// Namespace returns a view whose rows are scoped to sessionID.
func (c *SQLiteCache) Namespace(sessionID string) models.CacheStore {
	view := *c
	view.session = sessionID
	return &sessionView{&view}
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (*models.Completion, error) {
	var data []byte
	var createdAt, ttlNanos int64

	err := c.db.QueryRowContext(ctx,
		`SELECT completion, created_at, ttl_ns FROM completion_cache WHERE session_id = ? AND cache_key = ?`,
		c.session, key,
	).Scan(&data, &createdAt, &ttlNanos)
	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	if c.now().Sub(time.Unix(0, createdAt)) > time.Duration(ttlNanos) {
		c.misses.Add(1)
		return nil, nil
	}

	var completion models.Completion
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	c.hits.Add(1)
	return &completion, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, completion *models.Completion) error {
	data, err := json.Marshal(completion)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO completion_cache (session_id, cache_key, completion, created_at, ttl_ns)
		 VALUES (?, ?, ?, ?, ?)`,
		c.session, key, data, c.now().UnixNano(), int64(c.ttl),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM completion_cache WHERE session_id = ? AND cache_key = ?`, c.session, key)
	return err
}

// PurgeExpired removes rows past their TTL across all sessions.
func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM completion_cache WHERE ? - created_at > ttl_ns`,
		c.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}

// Purge removes every row of this view's session.
func (c *SQLiteCache) Purge(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM completion_cache WHERE session_id = ?`, c.session)
	return err
}

// Stats returns hit and miss counters shared by all views.
func (c *SQLiteCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// sessionView shares the parent's *sql.DB, so closing it must not close the db.
type sessionView struct {
	*SQLiteCache
}

func (v *sessionView) Close() error {
	return nil
}
