package credentials

import (
	"context"
	"fmt"
	"strings"
)

// Open returns the store selected by dsn together with a function that
// releases it:
//
//	""  or memory://           in-process MemoryStore
//	sqlite://<path>, file:...  SQLite
//	postgres://, postgresql:// PostgreSQL
func Open(ctx context.Context, dsn string) (Store, func() error, error) {
	switch {
	case dsn == "" || dsn == "memory://":
		return NewMemoryStore(), func() error { return nil }, nil

	case strings.HasPrefix(dsn, "sqlite://"):
		s, err := OpenSQL(ctx, DialectSQLite, strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case strings.HasPrefix(dsn, "file:"):
		s, err := OpenSQL(ctx, DialectSQLite, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := OpenSQL(ctx, DialectPostgres, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("credentials: unsupported store dsn %q", dsn)
}
