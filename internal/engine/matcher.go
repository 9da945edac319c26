package engine

import (
	"recon-service/internal/models"
	"recon-service/internal/normalize"
)

// CandidateSet holds the pending bank-transfer orders one bulk reconciliation
// run matches against. A single pending order satisfies at most one transfer
// within a batch: once a row matches, the order is claimed and removed from
// consideration for subsequent rows.
type CandidateSet struct {
	orders  []models.Order
	names   []string
	claimed []bool
}

// NewCandidateSet precomputes normalized account names for the given pending
// orders.
func NewCandidateSet(orders []models.Order) *CandidateSet {
	names := make([]string, len(orders))
	for i := range orders {
		names[i] = normalize.Name(orders[i].AccountName)
	}
	return &CandidateSet{
		orders:  orders,
		names:   names,
		claimed: make([]bool, len(orders)),
	}
}

// Match pairs one transfer row against the unclaimed candidates. A transfer
// matches an order iff the amounts are identical and the normalized payer
// name equals the normalized account name. Exact match only: misattributing
// funds is worse than leaving a transfer for manual review.
//
// Zero candidates yields no_match; more than one yields ambiguous and no
// order is touched. Exactly one match claims the order.
func (s *CandidateSet) Match(transfer models.TransferRecord) models.MatchCandidate {
	payer := normalize.Name(transfer.RawPayerName)

	found := -1
	for i := range s.orders {
		if s.claimed[i] {
			continue
		}
		if s.orders[i].Amount != transfer.Amount {
			continue
		}
		if s.names[i] != payer {
			continue
		}
		if found >= 0 {
			return models.MatchCandidate{
				Transfer: transfer,
				Matched:  false,
				Reason:   models.MatchReasonAmbiguous,
			}
		}
		found = i
	}

	if found < 0 {
		return models.MatchCandidate{
			Transfer: transfer,
			Matched:  false,
			Reason:   models.MatchReasonNoMatch,
		}
	}

	s.claimed[found] = true
	return models.MatchCandidate{
		Transfer: transfer,
		Order:    &s.orders[found],
		Matched:  true,
	}
}

// Remaining returns how many candidates are still unclaimed.
func (s *CandidateSet) Remaining() int {
	n := 0
	for _, c := range s.claimed {
		if !c {
			n++
		}
	}
	return n
}
