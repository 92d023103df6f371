package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE IF NOT EXISTS execution_records (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		provider_id TEXT NOT NULL DEFAULT '',
		connection_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		arguments TEXT,
		result TEXT,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		duplicate INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_agent ON execution_records(agent_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_records_tool ON execution_records(tool_name, started_at);
	CREATE INDEX IF NOT EXISTS idx_records_started ON execution_records(started_at);
`

const selectColumns = `id, agent_id, tool_name, provider_id, connection_id, fingerprint, arguments, result,
	error_kind, error_message, success, duplicate, outcome, duration_ns, started_at, completed_at`

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	args, err := marshalNullable(r.Arguments)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	result, err := marshalNullable(r.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_records (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.ToolName, r.ProviderID, r.ConnectionID, r.Fingerprint, args, result,
		r.ErrorKind, r.ErrorMessage, r.Success, r.Duplicate, string(r.Outcome), int64(r.Duration),
		r.StartedAt.UnixNano(), r.CompletedAt.UnixNano(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, r.ID)
		}
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	f = f.Normalize()
	where, args := whereClause(f)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM execution_records`+where+` ORDER BY started_at DESC, id LIMIT ?`,
		append(args, f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			r                     Record
			argsJSON, resultJSON  sql.NullString
			outcome               string
			duration, start, done int64
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &r.ToolName, &r.ProviderID, &r.ConnectionID, &r.Fingerprint,
			&argsJSON, &resultJSON, &r.ErrorKind, &r.ErrorMessage, &r.Success, &r.Duplicate, &outcome,
			&duration, &start, &done); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		if argsJSON.Valid {
			if err := json.Unmarshal([]byte(argsJSON.String), &r.Arguments); err != nil {
				return nil, fmt.Errorf("failed to decode arguments of %s: %w", r.ID, err)
			}
		}
		if resultJSON.Valid {
			if err := json.Unmarshal([]byte(resultJSON.String), &r.Result); err != nil {
				return nil, fmt.Errorf("failed to decode result of %s: %w", r.ID, err)
			}
		}
		r.Outcome = Outcome(outcome)
		r.Duration = time.Duration(duration)
		r.StartedAt = time.Unix(0, start).UTC()
		r.CompletedAt = time.Unix(0, done).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count implements Store. The limit is ignored.
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_records`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count execution records: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.ToolName != "" {
		conds = append(conds, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
