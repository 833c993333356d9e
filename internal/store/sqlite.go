package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/agent-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local development and tests; all access goes through a single connection
// so ledger transactions serialize.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS user_credits (
	user_id    TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	delta      INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	agent_slug TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	slug        TEXT PRIMARY KEY,
	credit_cost INTEGER NOT NULL CHECK (credit_cost > 0),
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	agent_slug    TEXT NOT NULL,
	domain        TEXT NOT NULL,
	base_url      TEXT NOT NULL,
	status        TEXT NOT NULL,
	pages_scraped TEXT NOT NULL DEFAULT '[]',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	completed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS agent_results (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	agent_slug       TEXT NOT NULL,
	input_params     TEXT NOT NULL,
	result_data      TEXT NOT NULL,
	started_at       DATETIME NOT NULL,
	ended_at         DATETIME NOT NULL,
	run_time_seconds REAL NOT NULL,
	credits_charged  INTEGER NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS brand_profiles (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	domain     TEXT NOT NULL,
	profile    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_user ON pipeline_runs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_agent_results_user ON agent_results(user_id, agent_slug);
CREATE INDEX IF NOT EXISTS idx_brand_profiles_lookup ON brand_profiles(user_id, domain, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- Credits --

func (s *SQLiteStore) GetBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM user_credits WHERE user_id = ?`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: get balance")
	}
	return balance, nil
}

func (s *SQLiteStore) GrantCredits(ctx context.Context, userID string, amount int, reason string) (int, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	if reason == "" {
		reason = model.CreditReasonGrant
	}
	return s.applyDelta(ctx, userID, amount, reason, "",
		`INSERT INTO user_credits (user_id, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at
		 RETURNING balance`,
		func(now time.Time) []any { return []any{userID, amount, now} },
	)
}

// ReserveCredits atomically deducts amount when the balance covers it.
func (s *SQLiteStore) ReserveCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	balance, err := s.applyDelta(ctx, userID, -amount, model.CreditReasonReserve, agentSlug,
		`UPDATE user_credits SET balance = balance - ?, updated_at = ?
		 WHERE user_id = ? AND balance >= ?
		 RETURNING balance`,
		func(now time.Time) []any { return []any{amount, now, userID, amount} },
	)
	if errors.Is(err, ErrNotFound) {
		return 0, ErrInsufficientCredits
	}
	return balance, err
}

func (s *SQLiteStore) RefundCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	return s.applyDelta(ctx, userID, amount, model.CreditReasonRefund, agentSlug,
		`UPDATE user_credits SET balance = balance + ?, updated_at = ?
		 WHERE user_id = ?
		 RETURNING balance`,
		func(now time.Time) []any { return []any{amount, now, userID} },
	)
}

// applyDelta runs the balance statement and the ledger append in one
// transaction. A statement that matches no row yields ErrNotFound.
func (s *SQLiteStore) applyDelta(ctx context.Context, userID string, delta int, reason, agentSlug, stmt string, args func(time.Time) []any) (int, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin credit tx")
	}

	var balance int
	err = tx.QueryRowContext(ctx, stmt, args(now)...).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback() //nolint:errcheck
		return 0, ErrNotFound
	}
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, eris.Wrapf(err, "sqlite: apply credit %s", reason)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, delta, reason, agent_slug, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, delta, reason, agentSlug, now,
	)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, eris.Wrap(err, "sqlite: append credit transaction")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit credit tx")
	}
	return balance, nil
}

func (s *SQLiteStore) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, delta, reason, COALESCE(agent_slug, ''), created_at
		 FROM credit_transactions WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		userID, defaultLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list credit transactions")
	}
	defer rows.Close() //nolint:errcheck

	var txns []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.Reason, &t.AgentSlug, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan credit transaction")
		}
		txns = append(txns, t)
	}
	return txns, eris.Wrap(rows.Err(), "sqlite: iterate credit transactions")
}

// -- Agent cost overrides --

func (s *SQLiteStore) GetAgentCost(ctx context.Context, slug string) (int, bool, error) {
	var cost int
	err := s.db.QueryRowContext(ctx, `SELECT credit_cost FROM agents WHERE slug = ?`, slug).Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: get agent cost")
	}
	return cost, true, nil
}

func (s *SQLiteStore) SetAgentCost(ctx context.Context, slug string, cost int) error {
	if err := validAmount(cost); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (slug, credit_cost, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET credit_cost = excluded.credit_cost, updated_at = excluded.updated_at`,
		slug, cost, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set agent cost")
}

// -- Pipeline runs --

func (s *SQLiteStore) CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error {
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
		return eris.Wrap(err, "sqlite: marshal pages")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, user_id, agent_slug, domain, base_url, status, pages_scraped, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.AgentSlug, run.Domain, run.BaseURL, string(run.Status), string(pages), run.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create pipeline run")
}

// CompletePipelineRun moves a scraping run to completed. A run that is
// missing or already terminal yields ErrNotFound.
func (s *SQLiteStore) CompletePipelineRun(ctx context.Context, runID string, pages []string) error {
	data, err := json.Marshal(nonNilStrings(pages))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pages")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, pages_scraped = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.RunStatusCompleted), string(data), time.Now().UTC(), runID, string(model.RunStatusScraping),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete pipeline run")
	}
	return checkRowsAffected(res, "pipeline run", runID)
}

func (s *SQLiteStore) FailPipelineRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID, string(model.RunStatusScraping),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail pipeline run")
	}
	return checkRowsAffected(res, "pipeline run", runID)
}

const sqliteRunColumns = `id, user_id, agent_slug, domain, base_url, status, pages_scraped, error_message, created_at, completed_at`

func (s *SQLiteStore) GetPipelineRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM pipeline_runs WHERE id = ?`, runID)
	return scanSQLiteRun(row)
}

func (s *SQLiteStore) ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AgentSlug != "" {
		where = append(where, "agent_slug = ?")
		args = append(args, filter.AgentSlug)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + sqliteRunColumns + ` FROM pipeline_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, defaultLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipeline runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate pipeline runs")
}

// -- Results --

func (s *SQLiteStore) SaveAgentResult(ctx context.Context, result *model.AgentResult) (string, error) {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(result.InputParams)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal input params")
	}
	data, err := json.Marshal(result.ResultData)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal result data")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_results (id, user_id, agent_slug, input_params, result_data, started_at, ended_at, run_time_seconds, credits_charged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.UserID, result.AgentSlug, string(params), string(data),
		result.StartedAt.UTC(), result.EndedAt.UTC(), result.RunTimeSeconds, result.CreditsCharged, result.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: save agent result")
	}
	return result.ID, nil
}

// -- Brand profile cache --

func (s *SQLiteStore) SaveBrandProfile(ctx context.Context, userID, domain string, profile model.ExtractedProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO brand_profiles (id, user_id, domain, profile, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, domain, string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save brand profile")
}

// FindCachedProfile returns the newest profile for (userID, domain) created
// after since, or nil when there is none.
func (s *SQLiteStore) FindCachedProfile(ctx context.Context, userID, domain string, since time.Time) (*model.CachedProfile, error) {
	var data string
	cp := model.CachedProfile{UserID: userID, Domain: domain}
	err := s.db.QueryRowContext(ctx,
		`SELECT profile, created_at FROM brand_profiles
		 WHERE user_id = ? AND domain = ? AND created_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		userID, domain, since.UTC(),
	).Scan(&data, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find cached profile")
	}
	if err := json.Unmarshal([]byte(data), &cp.Profile); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached profile")
	}
	return &cp, nil
}

func (s *SQLiteStore) DeleteExpiredProfiles(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM brand_profiles WHERE created_at <= ?`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired profiles")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// -- helpers --

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s not found or already terminal", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var status, pages string
	var completed sql.NullTime

	err := row.Scan(&r.ID, &r.UserID, &r.AgentSlug, &r.Domain, &r.BaseURL, &status, &pages, &r.ErrorMessage, &r.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan pipeline run")
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal([]byte(pages), &r.PagesScraped); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal pages")
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
