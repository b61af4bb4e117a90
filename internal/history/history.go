// Package history keeps recently used accounts and finished searches in a
// local SQLite database.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jonathan/mp-harvester/internal/types"
)

//go:embed schema.sql
var schema string

// DefaultMaxAccounts is how many accounts are remembered.
const DefaultMaxAccounts = 20

// AccountEntry is a remembered account.
type AccountEntry struct {
	types.Account
	LastUsed time.Time `json:"last_used"`
	UseCount int       `json:"use_count"`
}

// Acquisition summarizes a finished search.
type Acquisition struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	FakeID         string    `json:"fakeid,omitempty"`
	RequestedPages int       `json:"requested_pages"`
	FetchedPages   int       `json:"fetched_pages"`
	Articles       int       `json:"articles"`
	Failures       int       `json:"failures"`
	Completed      bool      `json:"completed"`
	Canceled       bool      `json:"canceled"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Store is the history database.
type Store struct {
	db     *sql.DB
	max    int
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database. maxAccounts <= 0 uses DefaultMaxAccounts.
func Open(path string, maxAccounts int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAccounts <= 0 {
		maxAccounts = DefaultMaxAccounts
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db, max: maxAccounts, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Touch records a use of account, moving it to the front of the list.
func (s *Store) Touch(ctx context.Context, account types.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.touch(ctx, tx, account); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) touch(ctx context.Context, tx *sql.Tx, account types.Account) error {
	if account.FakeID == "" {
		return fmt.Errorf("account has no fakeid")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (fakeid, nickname, alias, signature, head_image, last_used, use_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (fakeid) DO UPDATE SET
			nickname   = CASE WHEN excluded.nickname != '' THEN excluded.nickname ELSE accounts.nickname END,
			alias      = CASE WHEN excluded.alias != '' THEN excluded.alias ELSE accounts.alias END,
			signature  = CASE WHEN excluded.signature != '' THEN excluded.signature ELSE accounts.signature END,
			head_image = CASE WHEN excluded.head_image != '' THEN excluded.head_image ELSE accounts.head_image END,
			last_used  = excluded.last_used,
			use_count  = accounts.use_count + 1`,
		account.FakeID, account.Nickname, account.Alias, account.Signature, account.HeadImage, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record account: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM accounts WHERE fakeid NOT IN (
			SELECT fakeid FROM accounts ORDER BY last_used DESC LIMIT ?
		)`, s.max)
	if err != nil {
		return fmt.Errorf("failed to trim account history: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("trimmed account history", zap.Int64("removed", n))
	}
	return nil
}

// Accounts returns remembered accounts, most recently used first.
func (s *Store) Accounts(ctx context.Context) ([]AccountEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fakeid, nickname, alias, signature, head_image, last_used, use_count
		FROM accounts ORDER BY last_used DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var entries []AccountEntry
	for rows.Next() {
		var (
			e        AccountEntry
			lastUsed int64
		)
		if err := rows.Scan(&e.FakeID, &e.Nickname, &e.Alias, &e.Signature, &e.HeadImage, &lastUsed, &e.UseCount); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		e.LastUsed = time.Unix(0, lastUsed).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove forgets one account.
func (s *Store) Remove(ctx context.Context, fakeID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE fakeid = ?`, fakeID); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	return nil
}

// Clear forgets every account and acquisition.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts; DELETE FROM acquisitions;`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// RecordSearch remembers the searched account and a summary of the search.
func (s *Store) RecordSearch(ctx context.Context, set *types.SearchResultSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fakeID := ""
	if set.Account != nil {
		fakeID = set.Account.FakeID
		if err := s.touch(ctx, tx, *set.Account); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO acquisitions
			(id, query, fakeid, requested_pages, fetched_pages, articles, failures, completed, canceled, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID, set.Query, fakeID, set.RequestedPages, set.FetchedPages, len(set.Articles), len(set.Failures),
		set.Completed, set.Canceled, unixNano(set.StartedAt), unixNano(set.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record acquisition: %w", err)
	}
	return tx.Commit()
}

// Acquisitions returns up to limit recorded searches, newest first.
func (s *Store) Acquisitions(ctx context.Context, limit int) ([]Acquisition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, fakeid, requested_pages, fetched_pages, articles, failures, completed, canceled, started_at, finished_at
		FROM acquisitions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list acquisitions: %w", err)
	}
	defer rows.Close()

	var out []Acquisition
	for rows.Next() {
		var (
			a                 Acquisition
			started, finished int64
		)
		if err := rows.Scan(&a.ID, &a.Query, &a.FakeID, &a.RequestedPages, &a.FetchedPages, &a.Articles,
			&a.Failures, &a.Completed, &a.Canceled, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan acquisition: %w", err)
		}
		a.StartedAt = fromUnixNano(started)
		a.FinishedAt = fromUnixNano(finished)
		out = append(out, a)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
