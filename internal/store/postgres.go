package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/agent-pipeline/internal/db"
	"github.com/sells-group/agent-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlReserveCredits    = `UPDATE user_credits SET balance = balance - $2, updated_at = now() WHERE user_id = $1 AND balance >= $2 RETURNING balance`
	sqlRefundCredits     = `UPDATE user_credits SET balance = balance + $2, updated_at = now() WHERE user_id = $1 RETURNING balance`
	sqlInsertCreditTxn   = `INSERT INTO credit_transactions (id, user_id, delta, reason, agent_slug, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	sqlGetAgentCost      = `SELECT credit_cost FROM agents WHERE slug = $1`
	sqlFindCachedProfile = `SELECT profile, created_at FROM brand_profiles WHERE user_id = $1 AND domain = $2 AND created_at > $3 ORDER BY created_at DESC LIMIT 1`
)

// Queries run on every invocation are prepared per connection.
var preparedStatements = map[string]string{
	"reserve_credits":     sqlReserveCredits,
	"refund_credits":      sqlRefundCredits,
	"insert_credit_txn":   sqlInsertCreditTxn,
	"get_agent_cost":      sqlGetAgentCost,
	"find_cached_profile": sqlFindCachedProfile,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS user_credits (
	user_id    TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	delta      INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	agent_slug TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agents (
	slug        TEXT PRIMARY KEY,
	credit_cost INTEGER NOT NULL CHECK (credit_cost > 0),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	agent_slug    TEXT NOT NULL,
	domain        TEXT NOT NULL,
	base_url      TEXT NOT NULL,
	status        TEXT NOT NULL,
	pages_scraped JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS agent_results (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	agent_slug       TEXT NOT NULL,
	input_params     JSONB NOT NULL,
	result_data      JSONB NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ NOT NULL,
	run_time_seconds DOUBLE PRECISION NOT NULL,
	credits_charged  INTEGER NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS brand_profiles (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	domain     TEXT NOT NULL,
	profile    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_user ON pipeline_runs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_agent_results_user ON agent_results(user_id, agent_slug);
CREATE INDEX IF NOT EXISTS idx_brand_profiles_lookup ON brand_profiles(user_id, domain, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- Credits --

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `SELECT balance FROM user_credits WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: get balance")
	}
	return balance, nil
}

func (s *PostgresStore) GrantCredits(ctx context.Context, userID string, amount int, reason string) (int, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	if reason == "" {
		reason = model.CreditReasonGrant
	}
	return s.applyDelta(ctx, userID, amount, reason, "",
		`INSERT INTO user_credits (user_id, balance, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET balance = user_credits.balance + EXCLUDED.balance, updated_at = now()
		 RETURNING balance`,
		userID, amount,
	)
}

// ReserveCredits atomically deducts amount when the balance covers it. The
// conditional update takes a row lock, so concurrent reservations against
// the same balance serialize and at most one can win the last credits.
func (s *PostgresStore) ReserveCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	balance, err := s.applyDelta(ctx, userID, -amount, model.CreditReasonReserve, agentSlug,
		sqlReserveCredits, userID, amount)
	if errors.Is(err, ErrNotFound) {
		return 0, ErrInsufficientCredits
	}
	return balance, err
}

func (s *PostgresStore) RefundCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	return s.applyDelta(ctx, userID, amount, model.CreditReasonRefund, agentSlug,
		sqlRefundCredits, userID, amount)
}

func (s *PostgresStore) applyDelta(ctx context.Context, userID string, delta int, reason, agentSlug, stmt string, args ...any) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin credit tx")
	}

	var balance int
	err = tx.QueryRow(ctx, stmt, args...).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		db.RollbackQuietly(ctx, tx)
		return 0, ErrNotFound
	}
	if err != nil {
		db.RollbackQuietly(ctx, tx)
		return 0, eris.Wrapf(err, "postgres: apply credit %s", reason)
	}

	_, err = tx.Exec(ctx, sqlInsertCreditTxn,
		uuid.New().String(), userID, delta, reason, agentSlug, time.Now().UTC())
	if err != nil {
		db.RollbackQuietly(ctx, tx)
		return 0, eris.Wrap(err, "postgres: append credit transaction")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit credit tx")
	}
	return balance, nil
}

func (s *PostgresStore) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, delta, reason, agent_slug, created_at
		 FROM credit_transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, defaultLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list credit transactions")
	}
	defer rows.Close()

	var txns []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.Reason, &t.AgentSlug, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan credit transaction")
		}
		txns = append(txns, t)
	}
	return txns, eris.Wrap(rows.Err(), "postgres: iterate credit transactions")
}

// -- Agent cost overrides --

func (s *PostgresStore) GetAgentCost(ctx context.Context, slug string) (int, bool, error) {
	var cost int
	err := s.pool.QueryRow(ctx, sqlGetAgentCost, slug).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: get agent cost")
	}
	return cost, true, nil
}

func (s *PostgresStore) SetAgentCost(ctx context.Context, slug string, cost int) error {
	if err := validAmount(cost); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (slug, credit_cost, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (slug) DO UPDATE SET credit_cost = EXCLUDED.credit_cost, updated_at = now()`,
		slug, cost,
	)
	return eris.Wrap(err, "postgres: set agent cost")
}

// -- Pipeline runs --

func (s *PostgresStore) CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusScraping
	}
	pages, err := json.Marshal(nonNilStrings(run.PagesScraped))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pages")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, user_id, agent_slug, domain, base_url, status, pages_scraped, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.UserID, run.AgentSlug, run.Domain, run.BaseURL, string(run.Status), pages, run.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create pipeline run")
}

func (s *PostgresStore) CompletePipelineRun(ctx context.Context, runID string, pages []string) error {
	data, err := json.Marshal(nonNilStrings(pages))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pages")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, pages_scraped = $2, completed_at = now()
		 WHERE id = $3 AND status = $4`,
		string(model.RunStatusCompleted), data, runID, string(model.RunStatusScraping),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: complete pipeline run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "pipeline run %s not found or already terminal", runID)
	}
	return nil
}

func (s *PostgresStore) FailPipelineRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, error_message = $2, completed_at = now()
		 WHERE id = $3 AND status = $4`,
		string(model.RunStatusFailed), errMsg, runID, string(model.RunStatusScraping),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: fail pipeline run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "pipeline run %s not found or already terminal", runID)
	}
	return nil
}

const postgresRunColumns = `id, user_id, agent_slug, domain, base_url, status, pages_scraped, error_message, created_at, completed_at`

func (s *PostgresStore) GetPipelineRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM pipeline_runs WHERE id = $1`, runID)
	return scanPostgresRun(row)
}

func (s *PostgresStore) ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.AgentSlug != "" {
		add("agent_slug = $%d", filter.AgentSlug)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + postgresRunColumns + ` FROM pipeline_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, defaultLimit(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipeline runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate pipeline runs")
}

// -- Results --

func (s *PostgresStore) SaveAgentResult(ctx context.Context, result *model.AgentResult) (string, error) {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(result.InputParams)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal input params")
	}
	data, err := json.Marshal(result.ResultData)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal result data")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_results (id, user_id, agent_slug, input_params, result_data, started_at, ended_at, run_time_seconds, credits_charged, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		result.ID, result.UserID, result.AgentSlug, params, data,
		result.StartedAt, result.EndedAt, result.RunTimeSeconds, result.CreditsCharged, result.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: save agent result")
	}
	return result.ID, nil
}

// -- Brand profile cache --

func (s *PostgresStore) SaveBrandProfile(ctx context.Context, userID, domain string, profile model.ExtractedProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO brand_profiles (id, user_id, domain, profile, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), userID, domain, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save brand profile")
}

func (s *PostgresStore) FindCachedProfile(ctx context.Context, userID, domain string, since time.Time) (*model.CachedProfile, error) {
	var data []byte
	cp := model.CachedProfile{UserID: userID, Domain: domain}
	err := s.pool.QueryRow(ctx, sqlFindCachedProfile, userID, domain, since).Scan(&data, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find cached profile")
	}
	if err := json.Unmarshal(data, &cp.Profile); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached profile")
	}
	return &cp, nil
}

func (s *PostgresStore) DeleteExpiredProfiles(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM brand_profiles WHERE created_at <= $1`, before)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired profiles")
	}
	return tag.RowsAffected(), nil
}

func scanPostgresRun(row pgx.Row) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var status string
	var pages []byte

	err := row.Scan(&r.ID, &r.UserID, &r.AgentSlug, &r.Domain, &r.BaseURL, &status, &pages, &r.ErrorMessage, &r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan pipeline run")
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(pages, &r.PagesScraped); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal pages")
	}
	return &r, nil
}
