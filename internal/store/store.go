package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/agent-pipeline/internal/model"
)

var (
	// ErrInsufficientCredits is returned by ReserveCredits when the balance
	// cannot cover the amount. The balance is left untouched.
	ErrInsufficientCredits = eris.New("store: insufficient credits")
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = eris.New("store: credit amount must be positive")
)

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	UserID    string          `json:"user_id,omitempty"`
	AgentSlug string          `json:"agent_slug,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for metered agent runs.
type Store interface {
	// Credits
	GetBalance(ctx context.Context, userID string) (int, error)
	GrantCredits(ctx context.Context, userID string, amount int, reason string) (int, error)
	ReserveCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error)
	RefundCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error)
	ListCreditTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)

	// Agent cost overrides
	GetAgentCost(ctx context.Context, slug string) (int, bool, error)
	SetAgentCost(ctx context.Context, slug string, cost int) error

	// Pipeline runs
	CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error
	CompletePipelineRun(ctx context.Context, runID string, pages []string) error
	FailPipelineRun(ctx context.Context, runID string, errMsg string) error
	GetPipelineRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Results
	SaveAgentResult(ctx context.Context, result *model.AgentResult) (string, error)

	// Brand profile cache
	SaveBrandProfile(ctx context.Context, userID, domain string, profile model.ExtractedProfile) error
	FindCachedProfile(ctx context.Context, userID, domain string, since time.Time) (*model.CachedProfile, error)
	DeleteExpiredProfiles(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func validAmount(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
