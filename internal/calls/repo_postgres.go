package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"amd-platform/pkg/utils"
)

// Schema is applied by PostgresRepo.Migrate. It is idempotent. Ids are TEXT so a
// malformed id is simply not found.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
	id               TEXT PRIMARY KEY,
	phone            TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	provider_call_id TEXT NULL,
	status           TEXT NOT NULL,
	raw_result       JSONB NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
ALTER TABLE calls ALTER COLUMN id TYPE TEXT;
CREATE INDEX IF NOT EXISTS calls_created_at_idx ON calls (created_at DESC);
CREATE INDEX IF NOT EXISTS calls_status_updated_idx ON calls (status, updated_at);
`

var callColumns = []string{
	"id", "phone", "strategy", "provider_call_id", "status", "raw_result", "created_at", "updated_at",
}

// PostgresRepo stores calls in Postgres through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var _ Repository = (*PostgresRepo)(nil)

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, Schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("calls: migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	var raw any
	if c.Result != nil {
		b, err := EncodeResult(*c.Result)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	var provider any
	if c.ProviderCallID != "" {
		provider = c.ProviderCallID
	}

	query, args, err := r.sb.Insert("calls").
		Columns(callColumns...).
		Values(c.ID, c.Phone, string(c.Strategy), provider, string(c.Status), raw, c.CreatedAt, c.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("calls: build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("calls: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	query, args, err := r.sb.Select(callColumns...).
		From("calls").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Call{}, fmt.Errorf("calls: build get: %w", err)
	}

	c, err := scanCall(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("calls: get: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	f = f.withDefaults()

	b := r.sb.Select(callColumns...).From("calls")
	if len(f.Statuses) > 0 {
		b = b.Where(sq.Eq{"status": statusStrings(f.Statuses)})
	}
	if f.Strategy != "" {
		b = b.Where(sq.Eq{"strategy": string(f.Strategy)})
	}
	if !f.UpdatedBefore.IsZero() {
		b = b.Where(sq.Lt{"updated_at": f.UpdatedBefore})
	}
	query, args, err := b.OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("calls: build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	defer rows.Close()

	out := make([]Call, 0, f.Limit)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("calls: list scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calls: list rows: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) SetProviderCallID(ctx context.Context, id, providerCallID string, at time.Time) error {
	query, args, err := r.sb.Update("calls").
		Set("provider_call_id", providerCallID).
		Set("updated_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("calls: build set provider id: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("calls: set provider id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("calls: set provider id: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) TransitionStatus(ctx context.Context, id string, from, to CallStatus, at time.Time) (bool, error) {
	query, args, err := r.sb.Update("calls").
		Set("status", string(to)).
		Set("updated_at", at).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(from)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("calls: build transition: %w", err)
	}
	return r.execConditional(ctx, id, query, args)
}

func (r *PostgresRepo) Finalize(ctx context.Context, id string, to CallStatus, result DetectionResult, at time.Time) (bool, error) {
	b, err := EncodeResult(result)
	if err != nil {
		return false, err
	}
	query, args, err := r.sb.Update("calls").
		Set("status", string(to)).
		Set("raw_result", string(b)).
		Set("updated_at", at).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": statusStrings(TerminalStatuses())}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("calls: build finalize: %w", err)
	}
	return r.execConditional(ctx, id, query, args)
}

func (r *PostgresRepo) DeleteAll(ctx context.Context) (int64, error) {
	query, args, err := r.sb.Delete("calls").ToSql()
	if err != nil {
		return 0, fmt.Errorf("calls: build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("calls: delete all: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("calls: delete all: %w", err)
	}
	return n, nil
}

// execConditional runs a guarded update. When nothing matched it checks whether the
// row exists so callers can tell a lost race apart from an unknown id.
func (r *PostgresRepo) execConditional(ctx context.Context, id, query string, args []any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("calls: conditional update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calls: conditional update: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c        Call
		strategy string
		status   string
		provider sql.NullString
		raw      []byte
	)
	if err := row.Scan(&c.ID, &c.Phone, &strategy, &provider, &status, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Call{}, err
	}
	c.Strategy = Strategy(strategy)
	c.Status = CallStatus(status)
	c.ProviderCallID = provider.String

	res, err := DecodeResult(raw)
	if err != nil {
		c.ResultUndecodable = true
	} else {
		c.Result = res
	}
	return c, nil
}
