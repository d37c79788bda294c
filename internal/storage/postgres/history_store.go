// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/loadstate/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultHistoryTable = "load_changes"

var historyColumns = []string{
	"load_id",
	"kind",
	"phase_id",
	"phase_name",
	"outcome",
	"progress",
	"message",
	"categories",
	"recorded_at",
}

// HistoryStoreConfig controls the Postgres connection pool used for change history.
type HistoryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type historyPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Close()
}

// HistoryStore implements store.HistoryRepository using Postgres.
type HistoryStore struct {
	pool  historyPool
	table string
}

var _ store.HistoryRepository = (*HistoryStore)(nil)

// NewHistoryStore creates a Postgres-backed HistoryStore using the provided config.
func NewHistoryStore(ctx context.Context, cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: pool, table: table}, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewHistoryStoreWithPool(pool historyPool, table string) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultHistoryTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table and its lookup index when missing.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	seq         BIGSERIAL PRIMARY KEY,
	load_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	phase_id    TEXT NOT NULL,
	phase_name  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	progress    DOUBLE PRECISION NOT NULL,
	message     TEXT NOT NULL,
	categories  BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_load_id_idx ON %[1]s (load_id, seq);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// AppendChanges copies the records into the history table.
func (s *HistoryStore) AppendChanges(ctx context.Context, records []store.ChangeRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.LoadID == "" {
			return fmt.Errorf("record load id is required")
		}
		rows = append(rows, []any{
			rec.LoadID,
			rec.Kind,
			rec.PhaseID,
			rec.PhaseName,
			string(rec.Outcome),
			rec.Progress,
			rec.Message,
			int64(rec.Categories), //nolint:gosec // stored as raw bits
			rec.RecordedAt,
		})
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, historyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy history rows: %w", err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy history rows: wrote %d of %d", n, len(rows))
	}
	return nil
}

// ListChanges returns the history of one load, oldest first.
func (s *HistoryStore) ListChanges(
	ctx context.Context,
	loadID string,
	limit,
	offset int,
) ([]store.ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT seq, load_id, kind, phase_id, phase_name, outcome, progress, message, categories, recorded_at
		FROM %s
		WHERE load_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3;
	`, s.table)
	records, err := s.query(ctx, query, loadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list load changes: %w", err)
	}
	if len(records) == 0 && offset == 0 {
		return nil, store.ErrNotFound
	}
	return records, nil
}

// ListRecent returns the newest records, optionally filtered by outcome.
func (s *HistoryStore) ListRecent(
	ctx context.Context,
	outcome *store.Outcome,
	limit,
	offset int,
) ([]store.ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT seq, load_id, kind, phase_id, phase_name, outcome, progress, message, categories, recorded_at
		FROM %s
		WHERE ($1::text IS NULL OR outcome = $1)
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3;
	`, s.table)
	var filter *string
	if outcome != nil {
		v := string(*outcome)
		filter = &v
	}
	records, err := s.query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent changes: %w", err)
	}
	return records, nil
}

func (s *HistoryStore) query(ctx context.Context, query string, args ...any) ([]store.ChangeRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.ChangeRecord
	for rows.Next() {
		var (
			rec        store.ChangeRecord
			outcome    string
			categories int64
		)
		err := rows.Scan(
			&rec.Seq,
			&rec.LoadID,
			&rec.Kind,
			&rec.PhaseID,
			&rec.PhaseName,
			&outcome,
			&rec.Progress,
			&rec.Message,
			&categories,
			&rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		rec.Outcome = store.Outcome(outcome)
		rec.Categories = uint64(categories) //nolint:gosec // stored as raw bits
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return records, nil
}
