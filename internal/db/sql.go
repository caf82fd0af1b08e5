package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hard-gainer/voting-ledger/internal/model"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_event (
	seq INTEGER PRIMARY KEY,
	tx_id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	caller TEXT NOT NULL,
	question_id INTEGER NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	choices TEXT NOT NULL DEFAULT '[]',
	choice_index INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 0,
	at_unix_nano INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_event_question ON ledger_event(question_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_event (
	seq BIGINT PRIMARY KEY,
	tx_id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	caller TEXT NOT NULL,
	question_id BIGINT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	choices TEXT NOT NULL DEFAULT '[]',
	choice_index INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT FALSE,
	at_unix_nano BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_event_question ON ledger_event(question_id);
`

// postgres unique_violation
const pqUniqueViolation = "23505"

// dialect holds what differs between the SQL backends
type dialect struct {
	name              string
	schema            string
	numbered          bool
	isUniqueViolation func(error) bool
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		schema: sqliteSchema,
		isUniqueViolation: func(err error) bool {
			return strings.Contains(err.Error(), "UNIQUE constraint failed")
		},
	}
	postgresDialect = dialect{
		name:              "postgres",
		schema:            postgresSchema,
		numbered:          true,
		isUniqueViolation: isPQUniqueViolation,
	}
)

func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// rebind rewrites ? placeholders to $N for numbered dialects
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLStorage implements Storage on a database/sql backend
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStorage opens (or creates) the journal database at path
func NewSQLiteStorage(path string) (*SQLStorage, error) {
	slog.Info("Opening SQLite journal", "path", path)

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection
	conn.SetMaxOpenConns(1)

	return newSQLStorage(context.Background(), conn, sqliteDialect)
}

// NewPostgresStorage connects to PostgreSQL and creates the journal table
func NewPostgresStorage(ctx context.Context, dsn string) (*SQLStorage, error) {
	slog.Info("Connecting to PostgreSQL journal")

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return newSQLStorage(ctx, conn, postgresDialect)
}

func newSQLStorage(ctx context.Context, conn *sql.DB, d dialect) (*SQLStorage, error) {
	if _, err := conn.ExecContext(ctx, d.schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLStorage{db: conn, dialect: d}, nil
}

func (s *SQLStorage) AppendEvent(ctx context.Context, ev model.Event) error {
	choices, err := json.Marshal(ev.Choices)
	if err != nil {
		return fmt.Errorf("failed to encode choices: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO ledger_event (seq, tx_id, kind, caller, question_id, text, choices, choice_index, active, at_unix_nano)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), int64(ev.Seq), ev.TxID, string(ev.Kind), ev.Caller, int64(ev.QuestionID), ev.Text,
		string(choices), ev.ChoiceIndex, ev.Active, ev.At.UnixNano())
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: seq %d", ErrConflict, ev.Seq)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

func (s *SQLStorage) ListEvents(ctx context.Context, fromSeq uint64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT seq, tx_id, kind, caller, question_id, text, choices, choice_index, active, at_unix_nano
		FROM ledger_event
		WHERE seq >= ?
		ORDER BY seq
	`), int64(fromSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			ev               model.Event
			seq, qid, atNano int64
			kind, choices    string
		)
		if err := rows.Scan(&seq, &ev.TxID, &kind, &ev.Caller, &qid, &ev.Text,
			&choices, &ev.ChoiceIndex, &ev.Active, &atNano); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(choices), &ev.Choices); err != nil {
			return nil, fmt.Errorf("failed to decode choices of event %d: %w", seq, err)
		}

		ev.Seq = uint64(seq)
		ev.QuestionID = uint64(qid)
		ev.Kind = model.EventKind(kind)
		ev.At = time.Unix(0, atNano).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return events, nil
}

func (s *SQLStorage) Close() error {
	slog.Info("Closing SQL journal", "driver", s.dialect.name)
	return s.db.Close()
}
