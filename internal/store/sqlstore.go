package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"contentmill/internal/pipeline"
)

// Dialects supported by SqlStore.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// SqlStore implements Store on SQLite (modernc) or PostgreSQL (pgx).
type SqlStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory if it does not exist.
func Open(path string) (*SqlStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; concurrent batch runs queue on the pool.
	db.SetMaxOpenConns(1)
	return newSqlStore(context.Background(), db, DialectSQLite)
}

// OpenPostgres connects through the pgx stdlib driver and runs migrations.
func OpenPostgres(ctx context.Context, url string) (*SqlStore, error) {
	if url == "" {
		return nil, errors.New("open postgres: empty url")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return newSqlStore(ctx, db, DialectPostgres)
}

func newSqlStore(ctx context.Context, db *sql.DB, dialect string) (*SqlStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &SqlStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Dialect reports the backing database kind.
func (s *SqlStore) Dialect() string { return s.dialect }

// rebind rewrites ? placeholders as $N for PostgreSQL.
func (s *SqlStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *SqlStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaV1 {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx, s.rebind("INSERT INTO schema_version(version) VALUES(?)"), currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

func (s *SqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying DB.
func (s *SqlStore) Close() error { return s.db.Close() }

func (s *SqlStore) CreateRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("create run: empty id")
	}
	seed, err := json.Marshal(rec.Seed)
	if err != nil {
		return fmt.Errorf("create run: encode seed: %w", err)
	}
	if rec.Status == "" {
		rec.Status = pipeline.RunDraft
	}
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs(id, batch_id, candidate_key, seed, status, error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			batch_id = excluded.batch_id,
			candidate_key = excluded.candidate_key,
			seed = excluded.seed,
			updated_at = excluded.updated_at`),
		rec.ID, rec.BatchID, rec.CandidateKey, string(seed), string(rec.Status), rec.Err, now, now)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SqlStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, batch_id, candidate_key, seed, status, error, created_at, updated_at
		FROM runs WHERE id = ?`), runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanRun(row scanner) (*RunRecord, error) {
	var (
		rec                       RunRecord
		batchID, key, seed, cause sql.NullString
		status, created, updated  string
	)
	if err := row.Scan(&rec.ID, &batchID, &key, &seed, &status, &cause, &created, &updated); err != nil {
		return nil, err
	}
	rec.BatchID = nullStr(batchID)
	rec.CandidateKey = nullStr(key)
	rec.Status = pipeline.RunStatus(status)
	rec.Err = nullStr(cause)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	if raw := nullStr(seed); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.Seed); err != nil {
			return nil, fmt.Errorf("decode seed: %w", err)
		}
	}
	return &rec, nil
}

func (s *SqlStore) ListRuns(ctx context.Context, batchID string) ([]RunRecord, error) {
	q := `SELECT id, batch_id, candidate_key, seed, status, error, created_at, updated_at FROM runs`
	var args []any
	if batchID != "" {
		q += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SqlStore) RecordRunStatus(ctx context.Context, runID string, status pipeline.RunStatus, cause string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs(id, status, error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`),
		runID, string(status), cause, now, now)
	if err != nil {
		return fmt.Errorf("record run status: %w", err)
	}
	return nil
}

// RecordStep appends one step event with the next per-run sequence number.
func (s *SqlStore) RecordStep(ctx context.Context, rec pipeline.StepRecord) error {
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("record step: encode outputs: %w", err)
	}
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	parsed := 0
	if rec.Parsed {
		parsed = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record step: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM step_events WHERE run_id = ?`), rec.RunID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("record step: next seq: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO step_events(id, run_id, seq, step_id, phase, name, outputs, parsed, recorded_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`),
		uuid.NewString(), rec.RunID, seq, rec.StepID, rec.Phase, rec.Name, string(outputs), parsed, formatTime(at))
	if err != nil {
		return fmt.Errorf("record step: insert: %w", err)
	}
	return tx.Commit()
}

func (s *SqlStore) StepEvents(ctx context.Context, runID string) ([]pipeline.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT step_id, phase, name, outputs, parsed, recorded_at
		FROM step_events WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("step events: %w", err)
	}
	defer rows.Close()
	var out []pipeline.StepRecord
	for rows.Next() {
		var (
			ev       pipeline.StepRecord
			outputs  string
			parsed   int
			recorded string
		)
		if err := rows.Scan(&ev.StepID, &ev.Phase, &ev.Name, &outputs, &parsed, &recorded); err != nil {
			return nil, fmt.Errorf("scan step event: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &ev.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs: %w", err)
		}
		ev.RunID = runID
		ev.Parsed = parsed != 0
		ev.At = parseTime(recorded)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LoadRun rebuilds a run from its header and step events.
func (s *SqlStore) LoadRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := s.StepEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	return pipeline.RestoreRun(rec.ID, rec.Seed, rec.Status, events)
}

func (s *SqlStore) RecordBatch(ctx context.Context, rec BatchRecord) error {
	if rec.ID == "" {
		return errors.New("record batch: empty id")
	}
	keys, err := json.Marshal(rec.FailedKeys)
	if err != nil {
		return fmt.Errorf("record batch: encode keys: %w", err)
	}
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO batches(id, target_count, status, completed, failed, failed_keys, error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_count = excluded.target_count,
			status = excluded.status,
			completed = excluded.completed,
			failed = excluded.failed,
			failed_keys = excluded.failed_keys,
			error = excluded.error,
			updated_at = excluded.updated_at`),
		rec.ID, rec.TargetCount, rec.Status, rec.Completed, rec.Failed, string(keys), rec.Err, now, now)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

const batchColumns = `id, target_count, status, completed, failed, failed_keys, error, created_at, updated_at`

func scanBatch(row scanner) (*BatchRecord, error) {
	var (
		b                BatchRecord
		keys, cause      sql.NullString
		created, updated string
	)
	if err := row.Scan(&b.ID, &b.TargetCount, &b.Status, &b.Completed, &b.Failed, &keys, &cause, &created, &updated); err != nil {
		return nil, err
	}
	b.Err = nullStr(cause)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	if raw := nullStr(keys); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &b.FailedKeys); err != nil {
			return nil, fmt.Errorf("decode failed keys: %w", err)
		}
	}
	return &b, nil
}

func (s *SqlStore) GetBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+batchColumns+` FROM batches WHERE id = ?`), batchID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (s *SqlStore) ListBatches(ctx context.Context) ([]BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	var out []BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
