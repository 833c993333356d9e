package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agent-pipeline/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GrantAndBalance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		bal, err := s.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, bal)

		bal, err = s.GrantCredits(ctx, "u1", 5, "")
		require.NoError(t, err)
		assert.Equal(t, 5, bal)

		bal, err = s.GrantCredits(ctx, "u1", 3, "promo")
		require.NoError(t, err)
		assert.Equal(t, 8, bal)

		got, err := s.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 8, got)
	})

	t.Run("ReserveAndRefund", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GrantCredits(ctx, "u1", 3, "")
		require.NoError(t, err)

		bal, err := s.ReserveCredits(ctx, "u1", 2, "brand-profile")
		require.NoError(t, err)
		assert.Equal(t, 1, bal)

		_, err = s.ReserveCredits(ctx, "u1", 2, "brand-profile")
		assert.ErrorIs(t, err, ErrInsufficientCredits)

		got, err := s.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, got, "failed reservation must not change the balance")

		bal, err = s.RefundCredits(ctx, "u1", 2, "brand-profile")
		require.NoError(t, err)
		assert.Equal(t, 3, bal)

		txns, err := s.ListCreditTransactions(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, txns, 3)
		sum := 0
		for _, tx := range txns {
			sum += tx.Delta
		}
		assert.Equal(t, 3, sum, "ledger entries must add up to the balance")
	})

	t.Run("ReserveUnknownUser", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReserveCredits(context.Background(), "ghost", 1, "seo-audit")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})

	t.Run("RejectsNonPositiveAmounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.ReserveCredits(ctx, "u1", 0, "seo-audit")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = s.RefundCredits(ctx, "u1", -1, "seo-audit")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = s.GrantCredits(ctx, "u1", 0, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("AgentCostOverride", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, found, err := s.GetAgentCost(ctx, "brand-profile")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, s.SetAgentCost(ctx, "brand-profile", 4))
		require.NoError(t, s.SetAgentCost(ctx, "brand-profile", 3))

		cost, found, err := s.GetAgentCost(ctx, "brand-profile")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 3, cost)
	})

	t.Run("PipelineRunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.PipelineRun{
			UserID:    "u1",
			AgentSlug: "brand-profile",
			Domain:    "example.com",
			BaseURL:   "https://example.com/",
		}
		require.NoError(t, s.CreatePipelineRun(ctx, run))
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusScraping, run.Status)

		pages := []string{"https://example.com/", "https://example.com/pricing"}
		require.NoError(t, s.CompletePipelineRun(ctx, run.ID, pages))

		got, err := s.GetPipelineRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, got.Status)
		assert.Equal(t, pages, got.PagesScraped)
		assert.NotNil(t, got.CompletedAt)

		err = s.FailPipelineRun(ctx, run.ID, "too late")
		assert.ErrorIs(t, err, ErrNotFound, "terminal runs must not transition again")
	})

	t.Run("FailPipelineRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.PipelineRun{UserID: "u1", AgentSlug: "seo-audit", Domain: "example.com", BaseURL: "https://example.com/"}
		require.NoError(t, s.CreatePipelineRun(ctx, run))
		require.NoError(t, s.FailPipelineRun(ctx, run.ID, "no pages scraped"))

		got, err := s.GetPipelineRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "no pages scraped", got.ErrorMessage)
		assert.Empty(t, got.PagesScraped)
	})

	t.Run("GetPipelineRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPipelineRun(context.Background(), "nonexistent-id")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListPipelineRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, slug := range []string{"brand-profile", "seo-audit", "brand-profile"} {
			require.NoError(t, s.CreatePipelineRun(ctx, &model.PipelineRun{
				UserID: "u1", AgentSlug: slug, Domain: "example.com", BaseURL: "https://example.com/",
			}))
		}
		require.NoError(t, s.CreatePipelineRun(ctx, &model.PipelineRun{
			UserID: "u2", AgentSlug: "seo-audit", Domain: "other.com", BaseURL: "https://other.com/",
		}))

		all, err := s.ListPipelineRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		mine, err := s.ListPipelineRuns(ctx, RunFilter{UserID: "u1", AgentSlug: "brand-profile"})
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		limited, err := s.ListPipelineRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("SaveAgentResult", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC()
		id, err := s.SaveAgentResult(context.Background(), &model.AgentResult{
			UserID:         "u1",
			AgentSlug:      "headline-generator",
			InputParams:    map[string]any{"product": "widgets"},
			ResultData:     map[string]any{"headlines": []any{"Buy widgets"}},
			StartedAt:      now.Add(-2 * time.Second),
			EndedAt:        now,
			RunTimeSeconds: 2,
			CreditsCharged: 1,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("BrandProfileCache", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		miss, err := s.FindCachedProfile(ctx, "u1", "example.com", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Nil(t, miss)

		profile := model.ExtractedProfile{Niche: "widgets", Keywords: []string{"a", "b"}}
		require.NoError(t, s.SaveBrandProfile(ctx, "u1", "example.com", profile))

		hit, err := s.FindCachedProfile(ctx, "u1", "example.com", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, "widgets", hit.Profile.Niche)
		assert.Equal(t, "example.com", hit.Domain)

		other, err := s.FindCachedProfile(ctx, "u2", "example.com", time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Nil(t, other, "profiles are scoped per user")

		stale, err := s.FindCachedProfile(ctx, "u1", "example.com", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, stale)

		n, err := s.DeleteExpiredProfiles(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestSQLiteStore_Suite(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
