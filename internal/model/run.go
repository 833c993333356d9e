package model

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusScraping  RunStatus = "scraping"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// PipelineRun is the bookkeeping row for one crawl-backed agent invocation.
type PipelineRun struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	AgentSlug    string     `json:"agent_slug"`
	Domain       string     `json:"domain"`
	BaseURL      string     `json:"base_url"`
	Status       RunStatus  `json:"status"`
	PagesScraped []string   `json:"pages_scraped"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AgentResult is the durable record of a successful agent invocation.
type AgentResult struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	AgentSlug      string         `json:"agent_slug"`
	InputParams    map[string]any `json:"input_params"`
	ResultData     map[string]any `json:"result_data"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	RunTimeSeconds float64        `json:"run_time_seconds"`
	CreditsCharged int            `json:"credits_charged"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CreditTransaction is one append-only ledger entry. Delta is negative for
// reservations and positive for refunds and grants.
type CreditTransaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	AgentSlug string    `json:"agent_slug,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger reasons.
const (
	CreditReasonReserve = "reserve"
	CreditReasonRefund  = "refund"
	CreditReasonGrant   = "grant"
)
