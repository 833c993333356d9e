package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/pipeline"
	"github.com/sells-group/agent-pipeline/internal/store"
)

type runAgentRequest struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

// agentResponse is the body of POST /agents/{slug}, for successes and
// failures alike.
type agentResponse struct {
	Success             bool                    `json:"success"`
	Result              map[string]any          `json:"result,omitempty"`
	Profile             *model.ExtractedProfile `json:"profile,omitempty"`
	ResultID            string                  `json:"resultId,omitempty"`
	CreditsRemaining    *int                    `json:"creditsRemaining,omitempty"`
	Cached              bool                    `json:"cached"`
	ScrapedPagesCount   int                     `json:"scrapedPagesCount"`
	Error               string                  `json:"error,omitempty"`
	InsufficientCredits bool                    `json:"insufficientCredits,omitempty"`
	RetryAfter          *int                    `json:"retryAfter,omitempty"`
}

type agentSummary struct {
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Input          string   `json:"input"`
	Cost           int      `json:"cost"`
	RequiredParams []string `json:"requiredParams"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.List()
	out := make([]agentSummary, 0, len(defs))
	for _, d := range defs {
		params := d.RequiredParams
		if params == nil {
			params = []string{}
		}
		out = append(out, agentSummary{
			Slug:           d.Slug,
			Name:           d.Name,
			Description:    d.Description,
			Input:          string(d.Input),
			Cost:           s.runner.Cost(r.Context(), d),
			RequiredParams: params,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	def, ok := s.catalog.Get(slug)
	if !ok {
		writeJSON(w, http.StatusNotFound, agentResponse{Error: "unknown agent " + slug})
		return
	}

	var req runAgentRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, agentResponse{Error: "invalid request body"})
		return
	}

	out, err := s.runner.Run(r.Context(), pipeline.Invocation{
		UserID: UserID(r.Context()),
		Agent:  def,
		RawURL: req.URL,
		Params: req.Params,
	})
	if err != nil {
		s.writeRunError(w, slug, err)
		return
	}

	remaining := out.CreditsRemaining
	writeJSON(w, http.StatusOK, agentResponse{
		Success:           true,
		Result:            out.Result,
		Profile:           out.Profile,
		ResultID:          out.ResultID,
		CreditsRemaining:  &remaining,
		Cached:            out.Cached,
		ScrapedPagesCount: out.PagesScraped,
	})
}

func (s *Server) writeRunError(w http.ResponseWriter, slug string, err error) {
	pe, ok := pipeline.AsError(err)
	if !ok {
		pe = pipeline.InternalError("internal error", err)
	}

	resp := agentResponse{Error: pe.Message}
	switch pe.Kind {
	case pipeline.KindInsufficientCredits:
		resp.InsufficientCredits = true
	case pipeline.KindRateLimit:
		retryAfter := pe.RetryAfterSeconds
		resp.RetryAfter = &retryAfter
		w.Header().Set("Retry-After", strconv.Itoa(pe.RetryAfterSeconds))
	case pipeline.KindInternal:
		zap.L().Error("api: agent run failed", zap.String("agent", slug), zap.Error(err))
		resp.Error = "internal error"
	}
	writeJSON(w, pe.Kind.HTTPStatus(), resp)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	balance, err := s.account.GetBalance(r.Context(), userID)
	if err != nil {
		zap.L().Error("api: get balance", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "balance": balance})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.account.GetPipelineRun(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		zap.L().Error("api: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Other users' runs are indistinguishable from missing ones.
	if run.UserID != UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
