// Package backup keeps a local copy of a user's projects in SQLite. It is
// the only durable home for edits made by identities that may not write to
// the remote store, and the fallback when the remote rejects a writer.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/tonimelisma/stitchkeep/internal/project"
)

// ErrNoBackup is returned by Load when no snapshot exists for the key.
var ErrNoBackup = errors.New("backup: no backup for user")

// ErrEmptyKey is returned when the user key is blank after normalisation.
var ErrEmptyKey = errors.New("backup: empty user key")

const dirPerms = 0o700

// Snapshot is the backed-up state of one user: every project plus which one
// is current.
type Snapshot struct {
	Projects         []*project.Project
	CurrentProjectID string
	SavedAt          time.Time
}

// Summary describes one stored snapshot without decoding its projects.
type Summary struct {
	UserKey          string
	Projects         int
	CurrentProjectID string
	SavedAt          time.Time
}

// Store is the SQLite-backed backup store. A single connection serialises
// writers. Thread-safe.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc stamps SavedAt. Tests override it.
	nowFunc func() time.Time
}

// Open opens (creating if needed) the backup database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("backup: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("backup: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("backup store opened", slog.String("path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizeKey trims and NFC-normalises a user key so the same identity
// typed on different platforms maps to one row.
func NormalizeKey(key string) string {
	return norm.NFC.String(strings.TrimSpace(key))
}

// Save replaces the snapshot stored for userKey.
func (s *Store) Save(ctx context.Context, userKey string, snap Snapshot) error {
	key := NormalizeKey(userKey)
	if key == "" {
		return ErrEmptyKey
	}

	projects := snap.Projects
	if projects == nil {
		projects = []*project.Project{}
	}

	data, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("backup: encoding projects for %s: %w", key, err)
	}

	savedAt := s.nowFunc()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backups (user_key, current_project_id, projects_json, project_count, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_key) DO UPDATE SET
		   current_project_id = excluded.current_project_id,
		   projects_json      = excluded.projects_json,
		   project_count      = excluded.project_count,
		   saved_at           = excluded.saved_at`,
		key, snap.CurrentProjectID, string(data), len(projects), savedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("backup: saving %s: %w", key, err)
	}

	s.logger.Debug("backup saved",
		slog.String("user", key),
		slog.Int("projects", len(projects)),
	)

	return nil
}

// Load returns the snapshot stored for userKey, or ErrNoBackup.
func (s *Store) Load(ctx context.Context, userKey string) (*Snapshot, error) {
	key := NormalizeKey(userKey)
	if key == "" {
		return nil, ErrEmptyKey
	}

	var (
		current string
		data    string
		savedAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT current_project_id, projects_json, saved_at FROM backups WHERE user_key = ?`,
		key,
	).Scan(&current, &data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoBackup
	}

	if err != nil {
		return nil, fmt.Errorf("backup: loading %s: %w", key, err)
	}

	var projects []*project.Project
	if err := json.Unmarshal([]byte(data), &projects); err != nil {
		return nil, fmt.Errorf("backup: decoding projects for %s: %w", key, err)
	}

	return &Snapshot{
		Projects:         projects,
		CurrentProjectID: current,
		SavedAt:          time.Unix(0, savedAt),
	}, nil
}

// Delete removes the snapshot for userKey. Deleting an absent key is not an
// error.
func (s *Store) Delete(ctx context.Context, userKey string) error {
	key := NormalizeKey(userKey)
	if key == "" {
		return ErrEmptyKey
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE user_key = ?`, key); err != nil {
		return fmt.Errorf("backup: deleting %s: %w", key, err)
	}

	return nil
}

// List summarises every stored snapshot, most recently saved first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_key, project_count, current_project_id, saved_at
		 FROM backups ORDER BY saved_at DESC, user_key`,
	)
	if err != nil {
		return nil, fmt.Errorf("backup: listing: %w", err)
	}
	defer rows.Close()

	var out []Summary

	for rows.Next() {
		var (
			sum     Summary
			savedAt int64
		)

		if err := rows.Scan(&sum.UserKey, &sum.Projects, &sum.CurrentProjectID, &savedAt); err != nil {
			return nil, fmt.Errorf("backup: scanning row: %w", err)
		}

		sum.SavedAt = time.Unix(0, savedAt)
		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backup: listing: %w", err)
	}

	return out, nil
}
