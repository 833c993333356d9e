// Package pipeline runs metered agent invocations: it validates input,
// consults the profile cache, enforces rate limits, reserves credits, runs
// the fetch and generation stages and persists the result, refunding the
// reservation when any stage fails.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/agent"
	"github.com/sells-group/agent-pipeline/internal/crawl"
	"github.com/sells-group/agent-pipeline/internal/extract"
	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/normalize"
	"github.com/sells-group/agent-pipeline/internal/ratelimit"
	"github.com/sells-group/agent-pipeline/internal/safeurl"
	"github.com/sells-group/agent-pipeline/internal/store"
)

// Ledger holds per-user credit balances.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	ReserveCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error)
	RefundCredits(ctx context.Context, userID string, amount int, agentSlug string) (int, error)
}

// CostSource supplies per-agent cost overrides.
type CostSource interface {
	GetAgentCost(ctx context.Context, slug string) (int, bool, error)
}

// ResultStore persists successful invocations.
type ResultStore interface {
	SaveAgentResult(ctx context.Context, result *model.AgentResult) (string, error)
	SaveBrandProfile(ctx context.Context, userID, domain string, profile model.ExtractedProfile) error
}

// RunRecorder keeps the bookkeeping row of crawl-backed invocations.
type RunRecorder interface {
	CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error
	CompletePipelineRun(ctx context.Context, runID string, pages []string) error
	FailPipelineRun(ctx context.Context, runID string, errMsg string) error
}

// PageFetcher fetches a bounded set of candidate pages.
type PageFetcher interface {
	FetchAll(ctx context.Context, pages []model.CandidatePage, maxPages int) ([]model.PageFetchResult, error)
}

// StageRunner executes an agent's generation stages.
type StageRunner interface {
	Run(ctx context.Context, stages []extract.Stage, vars extract.Vars) (*extract.Output, error)
}

// Deps are the collaborators of an Orchestrator. Costs, Runs and Cache are
// optional.
type Deps struct {
	Resolver safeurl.Resolver
	Limiter  ratelimit.Limiter
	Ledger   Ledger
	Costs    CostSource
	Results  ResultStore
	Runs     RunRecorder
	Cache    ProfileCache
	Fetcher  PageFetcher
	Stages   StageRunner
}

// Options are the budgets of an Orchestrator.
type Options struct {
	// Classes maps an agent's operation class to its rate-limit window.
	Classes map[string]ratelimit.Class
	// MaxPages caps every agent's page budget.
	MaxPages  int
	Aggregate crawl.AggregateOptions
	// TraceVersion is stamped into every profile's source trace.
	TraceVersion int
	Now          func() time.Time
}

// Invocation is one request to run an agent.
type Invocation struct {
	UserID string
	Agent  *agent.Definition
	RawURL string
	Params map[string]string
}

// Outcome is the result of a successful invocation.
type Outcome struct {
	Success          bool
	AgentSlug        string
	Profile          *model.ExtractedProfile
	Result           map[string]any
	ResultID         string
	RunID            string
	CreditsCharged   int
	CreditsRemaining int
	Cached           bool
	PagesScraped     int
	PageURLs         []string
}

// Orchestrator runs agent invocations.
type Orchestrator struct {
	deps Deps
	opts Options
	gate *CacheGate
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.Aggregate.PerPageChars <= 0 || opts.Aggregate.TotalChars <= 0 {
		opts.Aggregate = crawl.DefaultAggregateOptions()
	}
	if opts.TraceVersion <= 0 {
		opts.TraceVersion = 1
	}
	o := &Orchestrator{deps: deps, opts: opts}
	if deps.Cache != nil {
		o.gate = NewCacheGate(deps.Cache, opts.Now)
	}
	return o
}

// stageOutput is what the sub-pipeline hands back on success.
type stageOutput struct {
	profile *model.ExtractedProfile
	result  map[string]any
	pages   []string
	runID   string
}

// Run executes inv. Every returned error is a *Error. Once credits are
// reserved, a failure refunds them exactly once before returning.
func (o *Orchestrator) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	def := inv.Agent
	if def == nil {
		return nil, NotFoundError("unknown agent")
	}
	log := zap.L().With(zap.String("user_id", inv.UserID), zap.String("agent", def.Slug))

	var target *url.URL
	if def.NeedsURL() {
		u, err := o.deps.Resolver.Resolve(ctx, inv.RawURL)
		if err != nil {
			return nil, ValidationError(err.Error(), err)
		}
		target = u
	}
	if err := def.ValidateParams(inv.Params); err != nil {
		return nil, ValidationError(err.Error(), err)
	}
	if inv.UserID == "" {
		return nil, AuthError("authentication required")
	}

	domain := ""
	if target != nil {
		domain = safeurl.Domain(target)
		log = log.With(zap.String("domain", domain))
	}

	if def.Cacheable() {
		if cp, ok := o.gate.Lookup(ctx, inv.UserID, domain, def.CacheTTL); ok {
			log.Info("pipeline: cache hit", zap.Time("cached_at", cp.CreatedAt))
			profile := cp.Profile
			return &Outcome{
				Success:          true,
				AgentSlug:        def.Slug,
				Profile:          &profile,
				CreditsRemaining: o.balance(ctx, inv.UserID),
				Cached:           true,
				PageURLs:         profile.SourceTrace.PageURLs,
			}, nil
		}
	}

	class, ok := o.opts.Classes[def.OperationClass]
	if !ok {
		return nil, InternalError("no rate limit class "+def.OperationClass, nil)
	}
	decision, err := o.deps.Limiter.Check(ctx, inv.UserID, class)
	if err != nil {
		return nil, InternalError("rate limit check failed", err)
	}
	if !decision.Allowed {
		retry := decision.RetryAfterSeconds(o.opts.Now())
		log.Info("pipeline: rate limited", zap.String("class", class.Name), zap.Int("retry_after", retry))
		return nil, RateLimitError(retry)
	}

	cost := o.Cost(ctx, def)
	remaining, err := o.deps.Ledger.ReserveCredits(ctx, inv.UserID, cost, def.Slug)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return nil, InsufficientCreditsError(cost)
		}
		return nil, InternalError("reserve credits failed", err)
	}
	log.Info("pipeline: credits reserved", zap.Int("cost", cost), zap.Int("remaining", remaining))

	started := o.opts.Now()
	out, err := o.execute(ctx, inv, target, domain)
	if err != nil {
		log.Warn("pipeline: run failed, refunding", zap.Int("cost", cost), zap.Error(err))
		o.refund(ctx, inv.UserID, cost, def.Slug)
		return nil, UpstreamError(err)
	}
	ended := o.opts.Now()

	outcome := &Outcome{
		Success:          true,
		AgentSlug:        def.Slug,
		Profile:          out.profile,
		Result:           out.result,
		RunID:            out.runID,
		CreditsCharged:   cost,
		CreditsRemaining: remaining,
		PagesScraped:     len(out.pages),
		PageURLs:         out.pages,
	}
	outcome.ResultID = o.persist(ctx, inv, target, domain, out, cost, started, ended)

	log.Info("pipeline: run complete",
		zap.Int("pages", outcome.PagesScraped),
		zap.Int64("duration_ms", ended.Sub(started).Milliseconds()),
	)
	return outcome, nil
}

// execute is the refundable part of a run: fetch, aggregate, stages and
// normalization.
func (o *Orchestrator) execute(ctx context.Context, inv Invocation, target *url.URL, domain string) (*stageOutput, error) {
	def := inv.Agent
	vars := extract.Vars{
		Params: inv.Params,
		Schema: def.Schema(),
		Domain: domain,
	}
	out := &stageOutput{pages: []string{}}
	var trace model.SourceTrace

	if target != nil {
		vars.URL = target.String()
		out.runID = o.startRun(ctx, inv, target, domain)

		content, results, err := o.fetch(ctx, def, target)
		if err != nil {
			o.failRun(ctx, out.runID, err)
			return nil, err
		}
		vars.Content = content.Text
		out.pages = fetchedURLs(results)
		trace = o.trace(results, out.pages)
		zap.L().Debug("pipeline: content aggregated",
			zap.String("agent", def.Slug),
			zap.Int("pages_fetched", len(out.pages)),
			zap.Int("pages_in_prompt", len(content.SourceURLs())),
		)
	}

	res, err := o.deps.Stages.Run(ctx, def.Stages, vars)
	if err != nil {
		o.failRun(ctx, out.runID, err)
		return nil, err
	}

	switch def.Result {
	case agent.ResultProfile:
		p := normalize.Profile(res.JSON, trace)
		out.profile = &p
	default:
		out.result = normalize.Result(res.JSON, def.Fields)
	}
	o.completeRun(ctx, out.runID, out.pages)
	return out, nil
}

func (o *Orchestrator) fetch(ctx context.Context, def *agent.Definition, target *url.URL) (model.AggregatedContent, []model.PageFetchResult, error) {
	var candidates []model.CandidatePage
	if def.Input == agent.InputSite {
		candidates = crawl.Discover(target)
	} else {
		candidates = crawl.SinglePage(target)
	}
	maxPages := def.MaxPages
	if maxPages <= 0 || maxPages > o.opts.MaxPages {
		maxPages = o.opts.MaxPages
	}

	results, err := o.deps.Fetcher.FetchAll(ctx, candidates, maxPages)
	if err != nil {
		return model.AggregatedContent{}, nil, err
	}
	return crawl.Aggregate(results, o.opts.Aggregate), results, nil
}

// fetchedURLs lists every fetched page, including pages the aggregation
// budget left out of the prompt.
func fetchedURLs(results []model.PageFetchResult) []string {
	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.URL)
	}
	return urls
}

func (o *Orchestrator) trace(results []model.PageFetchResult, pages []string) model.SourceTrace {
	t := model.SourceTrace{
		PageURLs:   pages,
		Timestamps: make(map[string]string, len(results)),
		Version:    o.opts.TraceVersion,
	}
	for _, r := range results {
		at := r.FetchedAt
		if at.IsZero() {
			at = o.opts.Now()
		}
		t.Timestamps[r.URL] = at.UTC().Format(time.RFC3339)
	}
	return t
}

// Cost is the effective price of def: a positive store override, else the
// catalog cost, else agent.FallbackCost.
func (o *Orchestrator) Cost(ctx context.Context, def *agent.Definition) int {
	if o.deps.Costs != nil {
		c, ok, err := o.deps.Costs.GetAgentCost(ctx, def.Slug)
		if err != nil {
			zap.L().Warn("pipeline: agent cost lookup failed, using catalog cost",
				zap.String("agent", def.Slug), zap.Error(err))
		} else if ok && c > 0 {
			return c
		}
	}
	if def.Cost > 0 {
		return def.Cost
	}
	return agent.FallbackCost
}

func (o *Orchestrator) refund(ctx context.Context, userID string, amount int, slug string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.deps.Ledger.RefundCredits(ctx, userID, amount, slug); err != nil {
		zap.L().Error("pipeline: refund failed",
			zap.String("user_id", userID),
			zap.String("agent", slug),
			zap.Int("amount", amount),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) balance(ctx context.Context, userID string) int {
	b, err := o.deps.Ledger.GetBalance(ctx, userID)
	if err != nil {
		zap.L().Warn("pipeline: balance lookup failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return b
}

// persist saves the result and, for profiles, the cache row. Failures are
// logged and never fail the run.
func (o *Orchestrator) persist(ctx context.Context, inv Invocation, target *url.URL, domain string, out *stageOutput, cost int, started, ended time.Time) string {
	ctx = context.WithoutCancel(ctx)
	def := inv.Agent
	log := zap.L().With(
		zap.String("user_id", inv.UserID),
		zap.String("agent", def.Slug),
		zap.String("kind", string(KindPersistence)),
	)

	data := out.result
	if out.profile != nil {
		m, err := toMap(out.profile)
		if err != nil {
			log.Error("pipeline: encode profile", zap.Error(err))
		}
		data = m
	}

	params := make(map[string]any, len(inv.Params)+1)
	for k, v := range inv.Params {
		params[k] = v
	}
	if target != nil {
		params["url"] = target.String()
	}

	id, err := o.deps.Results.SaveAgentResult(ctx, &model.AgentResult{
		UserID:         inv.UserID,
		AgentSlug:      def.Slug,
		InputParams:    params,
		ResultData:     data,
		StartedAt:      started,
		EndedAt:        ended,
		RunTimeSeconds: ended.Sub(started).Seconds(),
		CreditsCharged: cost,
	})
	if err != nil {
		log.Error("pipeline: save agent result", zap.Error(err))
		id = ""
	}

	if out.profile != nil && def.Cacheable() {
		if err := o.deps.Results.SaveBrandProfile(ctx, inv.UserID, domain, *out.profile); err != nil {
			log.Error("pipeline: save brand profile", zap.String("domain", domain), zap.Error(err))
		}
	}
	return id
}

func (o *Orchestrator) startRun(ctx context.Context, inv Invocation, target *url.URL, domain string) string {
	if o.deps.Runs == nil {
		return ""
	}
	run := &model.PipelineRun{
		UserID:    inv.UserID,
		AgentSlug: inv.Agent.Slug,
		Domain:    domain,
		BaseURL:   safeurl.Origin(target),
		Status:    model.RunStatusScraping,
		CreatedAt: o.opts.Now().UTC(),
	}
	if err := o.deps.Runs.CreatePipelineRun(ctx, run); err != nil {
		zap.L().Error("pipeline: create run", zap.String("user_id", inv.UserID), zap.Error(err))
		return ""
	}
	return run.ID
}

func (o *Orchestrator) completeRun(ctx context.Context, runID string, pages []string) {
	if runID == "" {
		return
	}
	if err := o.deps.Runs.CompletePipelineRun(context.WithoutCancel(ctx), runID, pages); err != nil {
		zap.L().Error("pipeline: complete run", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) failRun(ctx context.Context, runID string, cause error) {
	if runID == "" {
		return
	}
	if err := o.deps.Runs.FailPipelineRun(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		zap.L().Error("pipeline: fail run", zap.String("run_id", runID), zap.Error(err))
	}
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "pipeline: unmarshal")
	}
	return m, nil
}
