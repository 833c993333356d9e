package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agent-pipeline/internal/model"
)

func TestFormatTransactions(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatTransactions(&buf, []model.CreditTransaction{
		{ID: "11111111-aaaa", Delta: 2, Reason: model.CreditReasonRefund, AgentSlug: "seo-audit", CreatedAt: at},
		{ID: "22222222-bbbb", Delta: -2, Reason: model.CreditReasonReserve, AgentSlug: "seo-audit", CreatedAt: at},
		{ID: "33333333-cccc", Delta: 10, Reason: model.CreditReasonGrant, CreatedAt: at},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "DELTA")
	assert.Contains(t, lines[2], "+2")
	assert.Contains(t, lines[3], "-2")
	assert.Contains(t, lines[4], "+10")
	assert.Contains(t, lines[4], "2026-03-01 09:30:00")
	assert.NotContains(t, buf.String(), "11111111-aaaa")
}

func TestLedgerRoundTrip_ThroughStore(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.GrantCredits(ctx, "u1", 10, "promo")
	require.NoError(t, err)
	_, err = st.ReserveCredits(ctx, "u1", 3, "seo-audit")
	require.NoError(t, err)

	txns, err := st.ListCreditTransactions(ctx, "u1", 50)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	var buf bytes.Buffer
	formatTransactions(&buf, txns)
	assert.Contains(t, buf.String(), "promo")
	assert.Contains(t, buf.String(), "-3")
}
