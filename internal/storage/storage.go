package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

var (
	ErrNotFound      = errors.New("not found")
	ErrPendingExists = errors.New("pending case already exists")
)

type Store struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
}

type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	// Timeout bounds every store call that arrives without its own deadline.
	Timeout time.Duration
}

func New(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = sqlx.Open("pgx", opts.DSN)
		if err == nil && opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
	case DriverSQLite:
		db, err = sqlx.Open("sqlite", opts.DSN)
		if err == nil {
			// sqlite serializes writers anyway, and ":memory:" is per connection.
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return &Store{db: db, driver: driver, timeout: opts.Timeout}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Migrate() error {
	dir := path.Join("migrations", s.driver)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func optional(value string, valid bool) *string {
	if !valid {
		return nil
	}
	return &value
}
