package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "AAFuel/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore persists journal entries in MySQL. The schema is bootstrapped
// on construction.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the connection pool and ensures the schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "mysql dsn must not be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "open mysql")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "ping mysql")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS submission_journal (
        id VARCHAR(64) PRIMARY KEY,
        kind VARCHAR(16) NOT NULL,
        network VARCHAR(64) NOT NULL DEFAULT '',
        sender VARCHAR(64) NOT NULL DEFAULT '',
        hash VARCHAR(66) NOT NULL DEFAULT '',
        recipient VARCHAR(64) NOT NULL DEFAULT '',
        value_wei VARCHAR(80) NOT NULL DEFAULT '',
        compute_limit BIGINT UNSIGNED NOT NULL DEFAULT 0,
        status VARCHAR(16) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_attempts INT NOT NULL DEFAULT 20,
        last_error TEXT,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        block_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
        gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_journal_status (status),
        INDEX idx_journal_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorage, err, "init submission_journal table")
	}
	return nil
}

// Create implements Store.
func (s *MySQLStore) Create(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return xerrors.New(xerrors.CodeValidation, "entry must not be nil")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "entry id must not be empty")
	}

	now := time.Now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.MaxAttempts <= 0 {
		entry.MaxAttempts = DefaultMaxAttempts
	}

	const stmt = `INSERT INTO submission_journal
        (id, kind, network, sender, hash, recipient, value_wei, compute_limit, status, attempts, max_attempts, last_error, error_code, block_number, gas_used, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, 0, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.Kind,
		entry.Network,
		entry.Sender,
		entry.Hash,
		entry.Recipient,
		entry.ValueWei,
		entry.ComputeLimit,
		entry.Status,
		entry.Attempts,
		entry.MaxAttempts,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrEntryConflict
		}
		return xerrors.Wrap(xerrors.CodeStorage, err, "insert journal entry")
	}
	return nil
}

const selectColumns = `id, kind, network, sender, hash, recipient, value_wei, compute_limit, status, attempts, max_attempts, last_error, error_code, block_number, gas_used, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var entry Entry
	var lastError sql.NullString
	if err := row.Scan(
		&entry.ID,
		&entry.Kind,
		&entry.Network,
		&entry.Sender,
		&entry.Hash,
		&entry.Recipient,
		&entry.ValueWei,
		&entry.ComputeLimit,
		&entry.Status,
		&entry.Attempts,
		&entry.MaxAttempts,
		&lastError,
		&entry.ErrorCode,
		&entry.BlockNumber,
		&entry.GasUsed,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.LastError = lastError.String
	return &entry, nil
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Entry, error) {
	stmt := `SELECT ` + selectColumns + ` FROM submission_journal WHERE id = ?`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "query journal entry")
	}
	return entry, nil
}

// Claim implements Store.
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Entry, error) {
	const updateStmt = `UPDATE submission_journal
        SET attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_attempts`

	res, err := s.db.ExecContext(ctx, updateStmt, time.Now().Unix(), id, StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "claim journal entry")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "read affected rows")
	}

	entry, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return entry, nil
	}

	switch {
	case entry.Status != StatusPending:
		return entry, ErrEntryFinal
	case entry.Attempts >= entry.MaxAttempts:
		_ = s.MarkFailed(ctx, id, string(CodeEntryExhausted), "confirmation attempts exhausted")
		entry.Status = StatusFailed
		return entry, ErrAttemptsExhausted
	default:
		return entry, ErrEntryConflict
	}
}

// MarkConfirmed implements Store.
func (s *MySQLStore) MarkConfirmed(ctx context.Context, id string, blockNumber, gasUsed uint64) error {
	const stmt = `UPDATE submission_journal
        SET status = ?, block_number = ?, gas_used = ?, last_error = '', error_code = '', updated_at = ?
        WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusConfirmed, blockNumber, gasUsed, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorage, err, "mark journal entry confirmed")
	}
	return requireAffected(res, id)
}

// MarkFailed implements Store.
func (s *MySQLStore) MarkFailed(ctx context.Context, id, errorCode, lastError string) error {
	const stmt = `UPDATE submission_journal
        SET status = ?, error_code = ?, last_error = ?, updated_at = ?
        WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusFailed, errorCode, lastError, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorage, err, "mark journal entry failed")
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorage, err, "read affected rows")
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// List implements Store.
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	opts.applyDefaults()

	var conditions []string
	var args []any
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, len(opts.Kinds))
		for i, kind := range opts.Kinds {
			placeholders[i] = "?"
			args = append(args, kind)
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	stmt := `SELECT ` + selectColumns + ` FROM submission_journal`
	if len(conditions) > 0 {
		stmt += " WHERE " + strings.Join(conditions, " AND ")
	}
	order := "DESC"
	if opts.Order == SortByUpdatedAsc {
		order = "ASC"
	}
	stmt += fmt.Sprintf(" ORDER BY updated_at %s, created_at %s, id %s LIMIT ?", order, order, order)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "list journal entries")
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorage, err, "scan journal entry")
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorage, err, "iterate journal entries")
	}
	return results, nil
}

// Stats implements Store.
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.Limit = 0
	opts.applyDefaults()
	opts.Limit = 1 << 30

	entries, err := s.List(ctx, opts)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(entries)}
	for _, entry := range entries {
		switch entry.Status {
		case StatusPending:
			stats.Pending++
		case StatusConfirmed:
			stats.Confirmed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close implements Store.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
