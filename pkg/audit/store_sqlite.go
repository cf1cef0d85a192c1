package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable audit backend. Synchronous mode stays FULL
// so Append only returns after the row hits disk.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	// The audit writer is single threaded; one connection avoids
	// SQLITE_BUSY churn under concurrent queries.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		sequence INTEGER PRIMARY KEY,
		record_id TEXT NOT NULL UNIQUE,
		invocation_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		requester JSON NOT NULL,
		command_name TEXT NOT NULL,
		targets JSON,
		decision JSON NOT NULL,
		result JSON,
		recorded_at DATETIME NOT NULL,
		prev_hash TEXT NOT NULL DEFAULT '',
		record_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_requester ON audit_records(requester_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_audit_invocation ON audit_records(invocation_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec *contracts.AuditRecord) error {
	requester, err := json.Marshal(rec.Requester)
	if err != nil {
		return err
	}
	targets, err := json.Marshal(rec.Targets)
	if err != nil {
		return err
	}
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return err
	}
	var result []byte
	if rec.Result != nil {
		if result, err = json.Marshal(rec.Result); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(sequence, record_id, invocation_id, requester_id, requester, command_name, targets, decision, result, recorded_at, prev_hash, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.RecordID, rec.InvocationID, rec.Requester.UserID,
		string(requester), rec.CommandName, string(targets), string(decision),
		nullableJSON(result), rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		rec.PreviousHash, rec.RecordHash)
	return err
}

func (s *SQLiteStore) Last(ctx context.Context) (*contracts.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, record_id, invocation_id, requester, command_name, targets, decision, result, recorded_at, prev_hash, record_hash
		FROM audit_records ORDER BY sequence DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]*contracts.AuditRecord, error) {
	query := `
		SELECT sequence, record_id, invocation_id, requester, command_name, targets, decision, result, recorded_at, prev_hash, record_hash
		FROM audit_records`
	var (
		conds []string
		args  []any
	)
	if f.RequesterID != "" {
		conds = append(conds, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.CommandName != "" {
		conds = append(conds, "command_name = ?")
		args = append(args, f.CommandName)
	}
	if f.InvocationID != "" {
		conds = append(conds, "invocation_id = ?")
		args = append(args, f.InvocationID)
	}
	if !f.From.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		conds = append(conds, "recorded_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []*contracts.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*contracts.AuditRecord, error) {
	var (
		rec        contracts.AuditRecord
		requester  string
		targets    sql.NullString
		decision   string
		result     sql.NullString
		recordedAt string
	)
	err := row.Scan(&rec.Sequence, &rec.RecordID, &rec.InvocationID, &requester,
		&rec.CommandName, &targets, &decision, &result, &recordedAt,
		&rec.PreviousHash, &rec.RecordHash)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(requester), &rec.Requester); err != nil {
		return nil, fmt.Errorf("audit: decode requester: %w", err)
	}
	if targets.Valid && targets.String != "" {
		if err := json.Unmarshal([]byte(targets.String), &rec.Targets); err != nil {
			return nil, fmt.Errorf("audit: decode targets: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(decision), &rec.Decision); err != nil {
		return nil, fmt.Errorf("audit: decode decision: %w", err)
	}
	if result.Valid && result.String != "" {
		rec.Result = &contracts.ResultSummary{}
		if err := json.Unmarshal([]byte(result.String), rec.Result); err != nil {
			return nil, fmt.Errorf("audit: decode result: %w", err)
		}
	}
	if rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return nil, fmt.Errorf("audit: decode recorded_at: %w", err)
	}
	return &rec, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
