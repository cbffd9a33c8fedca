package results

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/pkg/types"
)

const (
	retentionDays   = 90
	cleanupInterval = 1 * time.Hour
	defaultListSize = 20
)

// ErrStoreRetryable marks failures caused by a busy or locked database.
var ErrStoreRetryable = errors.New("results store busy")

// SessionResult is one measurement run as kept in the history. Summary is
// nil when the session produced no records to summarise.
type SessionResult struct {
	ID            string                `json:"id"`
	Status        types.SessionStatus   `json:"status"`
	SenderAddress string                `json:"sender_address"`
	Session       types.Session         `json:"session"`
	Summary       *types.SessionSummary `json:"summary,omitempty"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	Records       []types.ChunkRecord   `json:"records,omitempty"`
}

type Store struct {
	db          *sql.DB
	maxSessions int
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// New opens the history for recording. Expired and surplus sessions are
// pruned on open and then every cleanupInterval.
func New(dbPath string, maxSessions int) (*Store, error) {
	s, err := open(dbPath, maxSessions)
	if err != nil {
		return nil, err
	}

	s.cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

// OpenForReading opens the history for browsing. It never prunes, so
// listing old sessions does not delete them.
func OpenForReading(dbPath string) (*Store, error) {
	return open(dbPath, 0)
}

func open(dbPath string, maxSessions int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		db:          db,
		maxSessions: maxSessions,
		stopCh:      make(chan struct{}),
	}, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("results store: close failed", logging.Field{Key: "error", Value: err})
		}
	})
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			sender_address TEXT NOT NULL DEFAULT '',
			chunk_size_bytes INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			rtt_seconds REAL NOT NULL,
			tcp_window_bytes INTEGER NOT NULL,
			smoothing_window INTEGER NOT NULL,
			has_summary INTEGER NOT NULL DEFAULT 0,
			records INTEGER NOT NULL DEFAULT 0,
			total_bytes INTEGER NOT NULL DEFAULT 0,
			total_time_seconds REAL NOT NULL DEFAULT 0,
			avg_rate_bps REAL NOT NULL DEFAULT 0,
			bdp_bits REAL NOT NULL DEFAULT 0,
			tcp_throughput_bps REAL NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			session_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			rate_bps REAL NOT NULL,
			PRIMARY KEY (session_id, chunk_index)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save stores the session and its chunk rows in one transaction and returns
// its id. A result without an id gets a fresh one.
func (s *Store) Save(r SessionResult) (string, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.UTC()

	var sum types.SessionSummary
	hasSummary := 0
	if r.Summary != nil {
		sum = *r.Summary
		hasSummary = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", wrapStoreError("begin save", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, status, sender_address, chunk_size_bytes, chunk_count,
			rtt_seconds, tcp_window_bytes, smoothing_window, has_summary, records,
			total_bytes, total_time_seconds, avg_rate_bps, bdp_bits, tcp_throughput_bps,
			error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(r.Status), r.SenderAddress, r.Session.ChunkSizeBytes, r.Session.ChunkCount,
		r.Session.RTTSeconds, r.Session.TCPWindowBytes, r.Session.SmoothingWindow,
		hasSummary, len(r.Records), sum.TotalBytes, sum.TotalTimeSeconds,
		sum.AvgEffectiveRateBps, sum.BDPBits, sum.TCPThroughputBps, r.Error, created,
	)
	if err != nil {
		return "", wrapStoreError("insert session", err)
	}

	if len(r.Records) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO chunks (session_id, chunk_index, duration_seconds, rate_bps)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return "", wrapStoreError("prepare chunk insert", err)
		}
		defer stmt.Close()
		for _, rec := range r.Records {
			if _, err := stmt.Exec(id, rec.Index, rec.DurationSeconds, rec.EffectiveRateBps); err != nil {
				return "", wrapStoreError(fmt.Sprintf("insert chunk %d", rec.Index), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", wrapStoreError("commit save", err)
	}
	return id, nil
}

const sessionColumns = `id, status, sender_address, chunk_size_bytes, chunk_count, rtt_seconds,
	tcp_window_bytes, smoothing_window, has_summary, records, total_bytes, total_time_seconds,
	avg_rate_bps, bdp_bits, tcp_throughput_bps, error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionResult, error) {
	var (
		r          SessionResult
		status     string
		hasSummary int
		sum        types.SessionSummary
	)
	err := row.Scan(&r.ID, &status, &r.SenderAddress, &r.Session.ChunkSizeBytes, &r.Session.ChunkCount,
		&r.Session.RTTSeconds, &r.Session.TCPWindowBytes, &r.Session.SmoothingWindow,
		&hasSummary, &sum.Records, &sum.TotalBytes, &sum.TotalTimeSeconds,
		&sum.AvgEffectiveRateBps, &sum.BDPBits, &sum.TCPThroughputBps, &r.Error, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = types.SessionStatus(status)
	if hasSummary == 1 {
		sum.ChunkSizeBytes = r.Session.ChunkSizeBytes
		r.Summary = &sum
	}
	return &r, nil
}

// Get returns the session with its chunk rows in index order, or nil when
// no session has that id.
func (s *Store) Get(id string) (*SessionResult, error) {
	r, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("query session", err)
	}

	rows, err := s.db.Query(
		`SELECT chunk_index, duration_seconds, rate_bps FROM chunks
		WHERE session_id = ? ORDER BY chunk_index`, id)
	if err != nil {
		return nil, wrapStoreError("query chunks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec types.ChunkRecord
		if err := rows.Scan(&rec.Index, &rec.DurationSeconds, &rec.EffectiveRateBps); err != nil {
			return nil, wrapStoreError("scan chunk", err)
		}
		r.Records = append(r.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate chunks", err)
	}
	return r, nil
}

// List returns up to limit sessions, newest first, without chunk rows.
func (s *Store) List(limit int) ([]SessionResult, error) {
	if limit <= 0 {
		limit = defaultListSize
	}
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapStoreError("list sessions", err)
	}
	defer rows.Close()

	var out []SessionResult
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, wrapStoreError("scan session", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate sessions", err)
	}
	return out, nil
}

func wrapStoreError(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreRetryable, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) cleanup() {
	cutoff := time.Now().UTC().Add(-retentionDays * 24 * time.Hour)
	res, err := s.db.Exec(`DELETE FROM sessions WHERE created_at < ?`, cutoff)
	if err != nil {
		logging.Warn("results cleanup (age) failed", logging.Field{Key: "error", Value: err})
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("results cleanup: removed expired",
			logging.Field{Key: "count", Value: n})
	}

	// Trim to max count, keeping newest
	if s.maxSessions > 0 {
		res, err = s.db.Exec(
			`DELETE FROM sessions WHERE id NOT IN (
				SELECT id FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, s.maxSessions)
		if err != nil {
			logging.Warn("results cleanup (count) failed", logging.Field{Key: "error", Value: err})
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("results cleanup: trimmed to max",
				logging.Field{Key: "removed", Value: n},
				logging.Field{Key: "max", Value: s.maxSessions})
		}
	}

	if _, err := s.db.Exec(`DELETE FROM chunks WHERE session_id NOT IN (SELECT id FROM sessions)`); err != nil {
		logging.Warn("results cleanup (chunks) failed", logging.Field{Key: "error", Value: err})
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}
