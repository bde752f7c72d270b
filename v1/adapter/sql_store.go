package adapter

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	ghErrors "github.com/mirkobrombin/go-groundhog/v1/errors"
)

const (
	defaultSQLTableName = "groundhog_kv_store"
	defaultSQLOpTimeout = 5 * time.Second
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore implements Store on a SQL database. It targets SQLite through
// modernc.org/sqlite, which makes it suitable for a per-user data file.
type SQLStore[T any] struct {
	db        *sql.DB
	tableName string
	timeout   time.Duration
	codec     Codec
}

// SQLOption configures a SQLStore.
type SQLOption func(*sqlStoreOptions)

type sqlStoreOptions struct {
	tableName string
	timeout   time.Duration
	codec     Codec
}

// WithSQLTableName sets the table name. It must be a plain identifier.
func WithSQLTableName(name string) SQLOption {
	return func(o *sqlStoreOptions) {
		o.tableName = name
	}
}

// WithSQLTimeout sets the operation timeout for database calls.
func WithSQLTimeout(d time.Duration) SQLOption {
	return func(o *sqlStoreOptions) {
		o.timeout = d
	}
}

// WithSQLCodec sets the codec for serialization. GobCodec is the default.
func WithSQLCodec(c Codec) SQLOption {
	return func(o *sqlStoreOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file. Use
// ":memory:" for a throwaway database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// SQLite serializes writers; a single connection also keeps :memory:
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLStore returns a SQLStore on db, creating its table if missing.
func NewSQLStore[T any](ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQLStore[T], error) {
	o := sqlStoreOptions{
		tableName: defaultSQLTableName,
		timeout:   defaultSQLOpTimeout,
		codec:     GobCodec{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !tableNameRe.MatchString(o.tableName) {
		return nil, fmt.Errorf("invalid table name %q", o.tableName)
	}
	s := &SQLStore[T]{db: db, tableName: o.tableName, timeout: o.timeout, codec: o.codec}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (key_id TEXT PRIMARY KEY, value BLOB NOT NULL)`
	if _, err := db.ExecContext(cctx, ddl); err != nil {
		return nil, mapSQLErr(err)
	}
	return s, nil
}

func mapSQLErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return ghErrors.ErrTimeout
	case stdErrors.Is(err, sql.ErrConnDone):
		return ghErrors.ErrConnectionClosed
	default:
		return err
	}
}

// Get implements Store.Get.
func (s *SQLStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, mapSQLErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(cctx, `SELECT value FROM `+s.tableName+` WHERE key_id = ?`, key).Scan(&data)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapSQLErr(err)
	}
	var v T
	if err := s.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (s *SQLStore[T]) upsertQuery() string {
	return `INSERT INTO ` + s.tableName + ` (key_id, value) VALUES (?, ?)
		ON CONFLICT(key_id) DO UPDATE SET value = excluded.value`
}

// Set implements Store.Set.
func (s *SQLStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctx.Err(); err != nil {
		return mapSQLErr(err)
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(cctx, s.upsertQuery(), key, data); err != nil {
		return mapSQLErr(err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *SQLStore[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return mapSQLErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(cctx, `DELETE FROM `+s.tableName+` WHERE key_id = ?`, key); err != nil {
		return mapSQLErr(err)
	}
	return nil
}

// Keys implements Store.Keys. Keys are returned sorted.
func (s *SQLStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapSQLErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(cctx, `SELECT key_id FROM `+s.tableName+` ORDER BY key_id`)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, mapSQLErr(rows.Err())
}

// Batch implements Batcher.Batch. Commit applies the queued operations in
// order inside one transaction.
func (s *SQLStore[T]) Batch(ctx context.Context) (Batch[T], error) {
	return &sqlBatch[T]{s: s}, nil
}

type sqlBatch[T any] struct {
	s   *SQLStore[T]
	ops []batchOp[T]
}

func (b *sqlBatch[T]) Set(ctx context.Context, key string, value T) error {
	b.ops = append(b.ops, batchOp[T]{key: key, value: value})
	return nil
}

func (b *sqlBatch[T]) Delete(ctx context.Context, key string) error {
	b.ops = append(b.ops, batchOp[T]{key: key, delete: true})
	return nil
}

func (b *sqlBatch[T]) Commit(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return mapSQLErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, b.s.timeout)
	defer cancel()

	tx, err := b.s.db.BeginTx(cctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	del := `DELETE FROM ` + b.s.tableName + ` WHERE key_id = ?`
	upsert := b.s.upsertQuery()
	for _, op := range b.ops {
		if op.delete {
			if _, err = tx.ExecContext(cctx, del, op.key); err != nil {
				return mapSQLErr(err)
			}
			continue
		}
		var data []byte
		if data, err = b.s.codec.Marshal(op.value); err != nil {
			return err
		}
		if _, err = tx.ExecContext(cctx, upsert, op.key, data); err != nil {
			return mapSQLErr(err)
		}
	}
	if err = tx.Commit(); err != nil {
		return mapSQLErr(err)
	}
	return nil
}
