package chatstore

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is the durable chat/trace store over a relational database. The
// backend is sqlite (default) or postgres, selected by DSN. Timestamps are
// stored as unix milliseconds so both backends scan identically.
type Store struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"

	// convLocks serializes turns per conversation at the application layer.
	convLocks sync.Map // int64 → *sync.Mutex
}

// OpenSQLite opens (and migrates) the embedded sqlite store at path.
func OpenSQLite(path string) (*Store, error) {
	if err := runMigrations("sqlite", "sqlite://"+path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Store{db: db, dialect: "sqlite"}, nil
}

// OpenPostgres opens (and migrates) a postgres-backed store.
func OpenPostgres(dsn string) (*Store, error) {
	if err := runMigrations("postgres", dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, dialect: "postgres"}, nil
}

func runMigrations(dialect, dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// LockConversation acquires the per-conversation turn lock and returns the
// unlock function. Concurrent turns on the same conversation serialize here;
// turns on different conversations proceed in parallel.
func (s *Store) LockConversation(conversationID int64) func() {
	v, _ := s.convLocks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func nowMs() int64 { return time.Now().UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
