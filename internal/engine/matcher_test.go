package engine

import (
	"testing"

	"recon-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transfer(payer string, amount int64) models.TransferRecord {
	return models.TransferRecord{RawPayerName: payer, Amount: amount}
}

func TestMatchNormalizedNameAndExactAmount(t *testing.T) {
	order := pendingOrder("ord_1")
	order.Amount = 30000
	order.AccountName = "タナカタロウ"
	set := NewCandidateSet([]models.Order{order})

	// half-width katakana with a stray space normalizes to the same name
	got := set.Match(transfer("ﾀﾅｶ ﾀﾛｳ", 30000))
	require.True(t, got.Matched)
	assert.Equal(t, "ord_1", got.Order.ID)
	assert.Empty(t, got.Reason)
}

func TestMatchAmountOffByOne(t *testing.T) {
	order := pendingOrder("ord_1")
	order.Amount = 30000
	order.AccountName = "タナカタロウ"
	set := NewCandidateSet([]models.Order{order})

	got := set.Match(transfer("ﾀﾅｶ ﾀﾛｳ", 30001))
	assert.False(t, got.Matched)
	assert.Equal(t, models.MatchReasonNoMatch, got.Reason)
	assert.Nil(t, got.Order)
}

func TestMatchNameOffByOneCharacter(t *testing.T) {
	order := pendingOrder("ord_1")
	order.Amount = 30000
	order.AccountName = "タナカタロウ"
	set := NewCandidateSet([]models.Order{order})

	got := set.Match(transfer("ﾀﾅｶ ｼﾞﾛｳ", 30000))
	assert.False(t, got.Matched)
	assert.Equal(t, models.MatchReasonNoMatch, got.Reason)
}

func TestMatchAmbiguous(t *testing.T) {
	a := pendingOrder("ord_a")
	a.Amount = 30000
	a.AccountName = "タナカタロウ"
	b := pendingOrder("ord_b")
	b.Amount = 30000
	b.AccountName = "たなか たろう"
	set := NewCandidateSet([]models.Order{a, b})

	got := set.Match(transfer("タナカタロウ", 30000))
	assert.False(t, got.Matched)
	assert.Equal(t, models.MatchReasonAmbiguous, got.Reason)
	assert.Nil(t, got.Order)

	// neither order was claimed
	assert.Equal(t, 2, set.Remaining())
}

func TestMatchClaimsOrderWithinBatch(t *testing.T) {
	order := pendingOrder("ord_1")
	order.Amount = 30000
	order.AccountName = "タナカタロウ"
	set := NewCandidateSet([]models.Order{order})

	first := set.Match(transfer("タナカタロウ", 30000))
	require.True(t, first.Matched)

	// identical second row in the same batch no longer matches
	second := set.Match(transfer("タナカタロウ", 30000))
	assert.False(t, second.Matched)
	assert.Equal(t, models.MatchReasonNoMatch, second.Reason)
	assert.Zero(t, set.Remaining())
}

func TestMatchPicksOnlyCandidateAmongMany(t *testing.T) {
	a := pendingOrder("ord_a")
	a.Amount = 5000
	a.AccountName = "サトウハナコ"
	b := pendingOrder("ord_b")
	b.Amount = 30000
	b.AccountName = "タナカタロウ"
	set := NewCandidateSet([]models.Order{a, b})

	got := set.Match(transfer("ｻﾄｳ ﾊﾅｺ", 5000))
	require.True(t, got.Matched)
	assert.Equal(t, "ord_a", got.Order.ID)
}
