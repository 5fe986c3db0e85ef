package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Tyrowin/pushgate/internal/common"
	"github.com/Tyrowin/pushgate/internal/credentials/migrations"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// SQLStore persists credentials in SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQL opens the database, applies pending migrations and returns a ready
// store.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("credentials: open db: %w", err)
	}

	if dialect == DialectSQLite {
		// one writer at a time; avoids "database is locked" under load
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("credentials: %s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("credentials: ping: %w", err)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already opened database. The schema must exist; see
// Migrate.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate brings the schema up to date with the embedded goose migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return fmt.Errorf("credentials: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("credentials: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM credentials WHERE username = ?`), rec.Username).Scan(&exists)
		switch {
		case err == nil:
			return common.ErrDuplicateUsername
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("credentials: lookup %q: %w", rec.Username, err)
		}

		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO credentials (username, password_hash, created_at) VALUES (?, ?, ?)`),
			rec.Username, rec.PasswordHash, created.UTC().UnixMilli(),
		); err != nil {
			if isUniqueViolation(err) {
				return common.ErrDuplicateUsername
			}
			return fmt.Errorf("credentials: insert %q: %w", rec.Username, err)
		}

		insertField := s.rebind(`INSERT INTO profile_fields (username, name, value) VALUES (?, ?, ?)`)
		for name, value := range rec.Profile {
			if _, err := tx.ExecContext(ctx, insertField, rec.Username, name, value); err != nil {
				return fmt.Errorf("credentials: insert field %q: %w", name, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Get(ctx context.Context, username string) (Record, error) {
	rec := Record{Username: username}
	var created int64

	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT password_hash, created_at FROM credentials WHERE username = ?`), username,
	).Scan(&rec.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, common.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("credentials: get %q: %w", username, err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT name, value FROM profile_fields WHERE username = ?`), username)
	if err != nil {
		return Record{}, fmt.Errorf("credentials: get fields %q: %w", username, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Record{}, fmt.Errorf("credentials: scan field: %w", err)
		}
		if rec.Profile == nil {
			rec.Profile = make(map[string]string)
		}
		rec.Profile[name] = value
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("credentials: iterate fields: %w", err)
	}
	return rec, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx commits when fn succeeds and rolls back otherwise.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credentials: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// modernc.org/sqlite reports extended result codes; the low byte 19 is
	// SQLITE_CONSTRAINT.
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == 19
	}
	return false
}
