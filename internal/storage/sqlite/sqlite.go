package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/lucasew/easysave/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps every file as a row of a single SQLite table.
type Store struct {
	name      string
	db        *sql.DB
	namespace string
}

var (
	_ storage.Provider   = (*Store)(nil)
	_ storage.Namespacer = (*Store)(nil)
)

func NewStore(name, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{name: name, db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Available(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w: %v", s.name, storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) FileExists(ctx context.Context, container, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM files WHERE namespace = ? AND container = ? AND name = ?`,
		s.namespace, container, name,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check file: %w", err)
	}
	return true, nil
}

func (s *Store) Create(ctx context.Context, container, name string) (io.WriteCloser, error) {
	return &rowWriter{ctx: ctx, store: s, container: container, name: name}, nil
}

func (s *Store) Open(ctx context.Context, container, name string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM files WHERE namespace = ? AND container = ? AND name = ?`,
		s.namespace, container, name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", container, name, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Delete(ctx context.Context, container, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE namespace = ? AND container = ? AND name = ?`,
		s.namespace, container, name,
	)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", container, name, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, container string) ([]string, error) {
	return s.queryNames(ctx,
		`SELECT name FROM files WHERE namespace = ? AND container = ? ORDER BY name`,
		s.namespace, container,
	)
}

func (s *Store) Containers(ctx context.Context) ([]string, error) {
	return s.queryNames(ctx,
		`SELECT DISTINCT container FROM files WHERE namespace = ? ORDER BY container`,
		s.namespace,
	)
}

func (s *Store) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) Namespace(ns string) (storage.Provider, error) {
	return &Store{
		name:      s.name + "/" + ns,
		db:        s.db,
		namespace: ns,
	}, nil
}

// Close closes the database. Namespaced views share their parent's handle,
// so closing either closes both.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, container, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (namespace, container, name, data, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, container, name)
		 DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.namespace, container, name, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// rowWriter buffers the payload and upserts it in a single statement on Close.
type rowWriter struct {
	ctx       context.Context
	store     *Store
	container string
	name      string
	buf       bytes.Buffer
	done      bool
}

func (w *rowWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("write after close")
	}
	return w.buf.Write(p)
}

func (w *rowWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	data := w.buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	return w.store.put(w.ctx, w.container, w.name, data)
}

func (w *rowWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
