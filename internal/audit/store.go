// Package audit keeps an operator record of every command the assistant
// tried to run, in SQLite.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Decisions recorded for a command.
const (
	DecisionAllowed = "allowed"
	DecisionBlocked = "blocked"
	DecisionTimeout = "timeout"
)

const (
	privateDirPerm       = 0o700
	storeCleanupInterval = time.Hour
	// DefaultRetention is how long entries are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// maxPreview bounds the stored output preview.
	maxPreview = 512
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("audit store is closed")

// Entry is one audited command.
type Entry struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Command       string        `json:"command"`
	Decision      string        `json:"decision"`
	Rule          string        `json:"rule,omitempty"`
	ExitCode      int           `json:"exit_code"`
	Duration      time.Duration `json:"duration"`
	OutputPreview string        `json:"output_preview,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Store persists audit entries in SQLite.
type Store struct {
	db          *sql.DB
	retention   time.Duration
	stopCleanup chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	closed      bool
}

// Open opens (or creates) the audit database at path. Entries older than
// retention are pruned periodically; zero keeps DefaultRetention and a
// negative value disables pruning.
func Open(path string, retention time.Duration) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit db path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), privateDirPerm); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if retention == 0 {
		retention = DefaultRetention
	}
	s := &Store{
		db:          db,
		retention:   retention,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close audit db after schema init failure: %w", closeErr))
		}
		return nil, err
	}

	if s.retention > 0 {
		go s.cleanupLoop()
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS command_audit (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		command TEXT NOT NULL,
		decision TEXT NOT NULL,
		rule TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		output_preview TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_command_audit_created_at ON command_audit(created_at);
	CREATE INDEX IF NOT EXISTS idx_command_audit_session ON command_audit(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(storeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.DeleteOlderThan(context.Background(), time.Now().Add(-s.retention))
			if err != nil {
				log.Warn().Err(err).Msg("Failed to prune audit entries")
			} else if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Pruned old audit entries")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Record stores e, filling in ID and CreatedAt when unset. The output
// preview is redacted and truncated before it is written.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil {
		return fmt.Errorf("store not configured")
	}
	if s.isClosed() {
		return ErrStoreClosed
	}
	if strings.TrimSpace(e.Command) == "" {
		return fmt.Errorf("command is required")
	}
	switch e.Decision {
	case DecisionAllowed, DecisionBlocked, DecisionTimeout:
	default:
		return fmt.Errorf("unknown decision %q", e.Decision)
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_audit (id, session_id, command, decision, rule, exit_code, duration_ms, output_preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Command, e.Decision, e.Rule, e.ExitCode,
		e.Duration.Milliseconds(), previewOutput(e.OutputPreview), e.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, session_id, command, decision, rule, exit_code, duration_ms, output_preview, created_at
		FROM command_audit ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// BySession returns the entries of one session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, session_id, command, decision, rule, exit_code, duration_ms, output_preview, created_at
		FROM command_audit WHERE session_id = ? ORDER BY id ASC`, sessionID)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	if s == nil {
		return nil, fmt.Errorf("store not configured")
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durationMS, createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.Decision, &e.Rule, &e.ExitCode,
			&durationMS, &e.OutputPreview, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes entries created before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.isClosed() {
		return 0, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM command_audit WHERE created_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the cleanup loop and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCleanup)
		err = s.db.Close()
	})
	return err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// previewOutput redacts secrets from command output and bounds its size.
func previewOutput(s string) string {
	return safety.Preview(s, maxPreview)
}
