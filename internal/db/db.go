// Package db stores install item state in sqlite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/droidctl/internal/core"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no item has the requested id
var ErrNotFound = errors.New("install item not found")

// DB represents the database with separate read/write pools
type DB struct {
	write *sql.DB
	read  *sql.DB
	path  string
	now   func() time.Time
}

// New creates a new database instance with separate read/write pools
func New(ctx context.Context, dbPath string) (*DB, error) {
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)

	// sqlite allows a single writer
	write, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)
	write.SetConnMaxIdleTime(time.Minute)
	write.SetConnMaxLifetime(time.Hour)

	read, err := sql.Open("sqlite", connStr)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	read.SetMaxOpenConns(10)
	read.SetMaxIdleConns(5)
	read.SetConnMaxIdleTime(time.Minute)
	read.SetConnMaxLifetime(time.Hour)

	db := &DB{
		write: write,
		read:  read,
		path:  dbPath,
		now:   func() time.Time { return time.Now().UTC() },
	}

	if err := db.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes both database connections
func (db *DB) Close() error {
	writeErr := db.write.Close()
	readErr := db.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS install_items (
    id TEXT PRIMARY KEY,
    package_name TEXT NOT NULL,
    file_name TEXT NOT NULL DEFAULT '',
    installer TEXT NOT NULL,
    state TEXT NOT NULL,
    session_id INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_install_items_package ON install_items(package_name);
CREATE INDEX IF NOT EXISTS idx_install_items_state ON install_items(state);

CREATE TABLE IF NOT EXISTS item_transitions (
    item_id TEXT NOT NULL REFERENCES install_items(id) ON DELETE CASCADE,
    state TEXT NOT NULL,
    at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_transitions_item ON item_transitions(item_id);
	`

	if _, err := db.write.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Item is the stored view of an install item
type Item struct {
	ID          string
	PackageName string
	FileName    string
	Installer   core.InstallerType
	State       core.InstallState
	SessionID   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transition is one recorded state change
type Transition struct {
	State core.InstallState
	At    time.Time
}

const upsertItem = `
INSERT INTO install_items (id, package_name, file_name, installer, state, session_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    state = excluded.state,
    session_id = CASE WHEN excluded.session_id != 0 THEN excluded.session_id ELSE install_items.session_id END,
    updated_at = excluded.updated_at
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) upsert(ctx context.Context, ex execer, item *Item) error {
	now := db.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := ex.ExecContext(ctx, upsertItem,
		item.ID,
		item.PackageName,
		item.FileName,
		string(item.Installer),
		item.State.String(),
		item.SessionID,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert install item: %w", err)
	}
	return nil
}

// Upsert inserts an item or updates its state, session id and update time
func (db *DB) Upsert(ctx context.Context, item *Item) error {
	return db.upsert(ctx, db.write, item)
}

// SaveState records a transition of an install item
func (db *DB) SaveState(ctx context.Context, st core.InstallItemState, installer core.InstallerType) error {
	tx, err := db.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	item := &Item{
		ID:          st.Item.ID,
		PackageName: st.Item.PackageName.String(),
		FileName:    st.Item.InstallFileName,
		Installer:   installer,
		State:       st.State,
		SessionID:   st.Item.SessionID,
	}
	if err := db.upsert(ctx, tx, item); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO item_transitions (item_id, state, at) VALUES (?, ?, ?)",
		item.ID, item.State.String(), item.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const selectItems = `
SELECT id, package_name, file_name, installer, state, session_id, created_at, updated_at
FROM install_items`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*Item, error) {
	var item Item
	var installer, st string
	if err := s.Scan(
		&item.ID,
		&item.PackageName,
		&item.FileName,
		&installer,
		&st,
		&item.SessionID,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	state, err := core.ParseInstallState(st)
	if err != nil {
		return nil, err
	}
	item.State = state
	item.Installer = core.InstallerType(installer)
	return &item, nil
}

// Get retrieves an item by id
func (db *DB) Get(ctx context.Context, id string) (*Item, error) {
	item, err := scanItem(db.read.QueryRowContext(ctx, selectItems+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query install item: %w", err)
	}
	return item, nil
}

// List retrieves every item, most recently updated first
func (db *DB) List(ctx context.Context) ([]Item, error) {
	return db.query(ctx, selectItems+" ORDER BY updated_at DESC, id")
}

// ListByPackage retrieves the items of one package, most recently updated first
func (db *DB) ListByPackage(ctx context.Context, pkg core.PackageName) ([]Item, error) {
	return db.query(ctx, selectItems+" WHERE package_name = ? ORDER BY updated_at DESC, id", pkg.String())
}

func (db *DB) query(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query install items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan install item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// History returns the recorded transitions of an item in order
func (db *DB) History(ctx context.Context, id string) ([]Transition, error) {
	rows, err := db.read.QueryContext(ctx,
		"SELECT state, at FROM item_transitions WHERE item_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var st string
		var tr Transition
		if err := rows.Scan(&st, &tr.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if tr.State, err = core.ParseInstallState(st); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Delete removes an item and its transitions
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.write.ExecContext(ctx, "DELETE FROM install_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete install item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
