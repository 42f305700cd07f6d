package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"planka-mail-bridge/internal/models"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Entry is one journaled dispatch result
type Entry struct {
	ID          int64         `db:"id"`
	BatchID     string        `db:"batch_id"`
	TraceID     string        `db:"trace_id"`
	UID         uint32        `db:"uid"`
	Title       string        `db:"title"`
	BoardID     sql.NullInt64 `db:"board_id"`
	ListID      sql.NullInt64 `db:"list_id"`
	CardID      sql.NullInt64 `db:"card_id"`
	Disposition string        `db:"disposition"`
	Reason      string        `db:"reason"`
	ProcessedAt int64         `db:"processed_at"`
}

// Time returns when the entry was recorded
func (e Entry) Time() time.Time {
	return time.Unix(e.ProcessedAt, 0)
}

// Journal is a SQLite ledger of dispatch results
type Journal struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the journal database at path and applies pending migrations.
// ":memory:" gives a private in-memory journal.
func Open(path string) (*Journal, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return j, nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	currentVersion := 0

	var tableCount int
	err := j.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		if err := j.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Record stores every result of a batch in one transaction
func (j *Journal) Record(ctx context.Context, batchID string, results []models.ProcessingResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO dispatches (
			batch_id, trace_id, uid, title,
			board_id, list_id, card_id,
			disposition, reason, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	processedAt := j.now().Unix()
	for _, r := range results {
		_, err := stmt.ExecContext(ctx,
			batchID, r.Record.TraceID, r.Record.UID, r.Record.Title,
			nullable(r.Record.BoardID), nonZero(r.ListID), nonZero(r.CardID),
			r.Disposition.String(), r.Reason, processedAt,
		)
		if err != nil {
			return fmt.Errorf("recording UID %d: %w", r.Record.UID, err)
		}
	}

	return tx.Commit()
}

// Recent returns the latest entries, newest first. A non-positive limit returns everything.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := "SELECT * FROM dispatches ORDER BY processed_at DESC, id DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var entries []Entry
	if err := j.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	return entries, nil
}

// Batch returns the entries of one batch in insertion order
func (j *Journal) Batch(ctx context.Context, batchID string) ([]Entry, error) {
	var entries []Entry
	err := j.db.SelectContext(ctx, &entries,
		"SELECT * FROM dispatches WHERE batch_id = ? ORDER BY id", batchID)
	if err != nil {
		return nil, fmt.Errorf("querying batch %s: %w", batchID, err)
	}
	return entries, nil
}

func nullable(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nonZero(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
