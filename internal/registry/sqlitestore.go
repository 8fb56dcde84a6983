package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded-database backend for the registry. It honors
// the same Store contract as FileStore; callers pick a backend at startup.
type SQLiteStore struct {
	db *sql.DB
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		name TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '[]',
		cwd TEXT NOT NULL DEFAULT '',
		env TEXT NOT NULL DEFAULT '{}',
		transport TEXT NOT NULL DEFAULT 'stdio',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'authored'
	)`,
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed registry at
// the given path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: apply pragma: %w", err)
		}
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanDefinition(row interface{ Scan(...any) error }) (ServerDefinition, error) {
	var (
		def       ServerDefinition
		args, env string
		enabled   int
		createdAt string
	)
	if err := row.Scan(&def.Name, &def.Command, &args, &def.WorkingDir, &env, &def.Transport, &enabled, &createdAt, &def.Source); err != nil {
		return ServerDefinition{}, err
	}
	if err := json.Unmarshal([]byte(args), &def.Args); err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: decode args for %s: %w", def.Name, err)
	}
	if err := json.Unmarshal([]byte(env), &def.Env); err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: decode env for %s: %w", def.Name, err)
	}
	def.Enabled = enabled != 0
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: decode created_at for %s: %w", def.Name, err)
	}
	def.CreatedAt = ts
	if len(def.Args) == 0 {
		def.Args = nil
	}
	if len(def.Env) == 0 {
		def.Env = nil
	}
	return def, nil
}

func encodeFields(def ServerDefinition) (args, env string, enabled int, createdAt string, err error) {
	argsJSON, err := json.Marshal(orEmptyArgs(def.Args))
	if err != nil {
		return "", "", 0, "", err
	}
	envJSON, err := json.Marshal(orEmptyEnv(def.Env))
	if err != nil {
		return "", "", 0, "", err
	}
	enabled = 0
	if def.Enabled {
		enabled = 1
	}
	return string(argsJSON), string(envJSON), enabled, def.CreatedAt.Format(time.RFC3339Nano), nil
}

func orEmptyArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func orEmptyEnv(env map[string]string) map[string]string {
	if env == nil {
		return map[string]string{}
	}
	return env
}

// List returns all definitions ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]ServerDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, command, args, cwd, env, transport, enabled, created_at, source
		FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("registry: list servers: %w", err)
	}
	defer rows.Close()

	var out []ServerDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// Get returns the definition for name.
func (s *SQLiteStore) Get(ctx context.Context, name string) (ServerDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, command, args, cwd, env, transport, enabled, created_at, source
		FROM servers WHERE name = ?`, name)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ServerDefinition{}, NotFoundError{Name: name}
	}
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: get server %s: %w", name, err)
	}
	return def, nil
}

// Create validates and persists a new definition.
func (s *SQLiteStore) Create(ctx context.Context, def ServerDefinition) (ServerDefinition, error) {
	if err := Validate(def); err != nil {
		return ServerDefinition{}, err
	}
	def = Normalize(def)

	args, env, enabled, createdAt, err := encodeFields(def)
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: encode %s: %w", def.Name, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (name, command, args, cwd, env, transport, enabled, created_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`,
		def.Name, def.Command, args, def.WorkingDir, env, def.Transport, enabled, createdAt, def.Source)
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: create server %s: %w", def.Name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: create server %s: %w", def.Name, err)
	}
	if affected == 0 {
		return ServerDefinition{}, fmt.Errorf("%w: %s", ErrDuplicateName, def.Name)
	}
	return def, nil
}

// Update applies a patch to an existing definition.
func (s *SQLiteStore) Update(ctx context.Context, name string, patch Patch) (ServerDefinition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: update server %s: %w", name, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT name, command, args, cwd, env, transport, enabled, created_at, source
		FROM servers WHERE name = ?`, name)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ServerDefinition{}, NotFoundError{Name: name}
	}
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: update server %s: %w", name, err)
	}

	updated := patch.Apply(def)
	if err := Validate(updated); err != nil {
		return ServerDefinition{}, err
	}

	args, env, enabled, createdAt, err := encodeFields(updated)
	if err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: encode %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE servers
		SET command = ?, args = ?, cwd = ?, env = ?, transport = ?, enabled = ?, created_at = ?, source = ?
		WHERE name = ?`,
		updated.Command, args, updated.WorkingDir, env, updated.Transport, enabled, createdAt, updated.Source, name); err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: update server %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return ServerDefinition{}, fmt.Errorf("registry: update server %s: %w", name, err)
	}
	return updated, nil
}

// Delete removes a definition.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("registry: delete server %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: delete server %s: %w", name, err)
	}
	if affected == 0 {
		return NotFoundError{Name: name}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
