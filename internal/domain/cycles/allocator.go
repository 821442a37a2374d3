package cycles

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
	"github.com/clarify-money/reconcile-backend/internal/domain/textsig"
)

// ErrMixedBankGroup is returned when ClassifyGroup receives pairings that
// do not all repay from the same bank account.
var ErrMixedBankGroup = errors.New("all pairings in a bank group must share bank vendor and account number")

// GroupInput feeds ClassifyGroup for pairings sharing one bank account.
// Repayments are the bank account's full repayment rows for the window,
// not yet attributed to any card. CCTotalsByPairing holds each card's
// clamped, fee-adjusted billed total per day.
type GroupInput struct {
	Pairings                []ledger.AccountPairing
	Repayments              []Repayment
	CCTotalsByPairing       map[int64]map[string]float64
	EarliestCCDateByPairing map[int64]string
	Today                   time.Time
	PeriodMonths            int
}

// GroupResult carries one discrepancy per pairing plus the repayments no
// pairing could claim.
type GroupResult struct {
	Discrepancies map[int64]Discrepancy
	Unassigned    []Repayment
}

// ClassifyGroup allocates a shared bank account's repayments across its
// pairings before classifying each pairing's cycles. Without this, an
// ambiguous description (a vendor name shared by several of the user's
// cards) would be counted against every card on the account.
//
// Per repayment date, repayments are processed largest first so the most
// distinctive amounts resolve before generic ones. A repayment's
// candidate pairings are those its description references by digits
// (account number or last-4), else by vendor keyword, else all pairings;
// among candidates, the one whose running assigned total plus this amount
// lands closest to its known billed total wins, ties going to input
// order.
func (c *Classifier) ClassifyGroup(in GroupInput) (GroupResult, error) {
	if len(in.Pairings) == 0 {
		return GroupResult{Discrepancies: map[int64]Discrepancy{}}, nil
	}

	bankVendor := in.Pairings[0].BankVendor
	bankAccount := in.Pairings[0].BankAccountNumber
	for _, p := range in.Pairings[1:] {
		if p.BankVendor != bankVendor || p.BankAccountNumber != bankAccount {
			return GroupResult{}, ErrMixedBankGroup
		}
	}

	buckets, order := bucketByCycleDate(in.Repayments)
	// Independent per date; iterate newest first for deterministic output.
	sort.Sort(sort.Reverse(sort.StringSlice(order)))

	cyclesByPairing := make(map[int64][]Cycle, len(in.Pairings))
	var unassigned []Repayment

	for _, dateKey := range order {
		assignedTotals, assignedTxns, leftovers := c.allocateBucket(in.Pairings, buckets[dateKey].repayments, in.CCTotalsByPairing, dateKey)
		unassigned = append(unassigned, leftovers...)

		for _, pairing := range in.Pairings {
			bankTotal := assignedTotals[pairing.ID]
			if bankTotal <= 0 {
				continue
			}

			cycle := Cycle{
				CycleDate:      dateKey,
				BankTotal:      round2(bankTotal),
				Repayments:     assignedTxns[pairing.ID],
				Status:         StatusMissingCCCycle,
				MatchedAccount: pairing.CreditCardAccountNumber,
			}
			if ccTotal, ok := in.CCTotalsByPairing[pairing.ID][dateKey]; ok {
				diff := bankTotal - ccTotal
				cycle.CCTotal = ptr(round2(ccTotal))
				cycle.Difference = ptr(round2(diff))
				cycle.Status = statusForDiff(diff, c.tol)
			}

			grace := []Cycle{cycle}
			c.applyGracePeriods(grace, in.EarliestCCDateByPairing[pairing.ID], in.Today)
			cyclesByPairing[pairing.ID] = append(cyclesByPairing[pairing.ID], grace[0])
		}
	}

	discrepancies := make(map[int64]Discrepancy, len(in.Pairings))
	for _, pairing := range in.Pairings {
		cycles := cyclesByPairing[pairing.ID]
		sort.Slice(cycles, func(i, j int) bool { return cycles[i].CycleDate > cycles[j].CycleDate })
		discrepancies[pairing.ID] = c.aggregate(cycles, pairing.DiscrepancyAcknowledged, in.PeriodMonths, "allocated")
	}

	return GroupResult{Discrepancies: discrepancies, Unassigned: unassigned}, nil
}

// allocateBucket distributes one day's repayments across the pairings.
func (c *Classifier) allocateBucket(
	pairings []ledger.AccountPairing,
	repayments []Repayment,
	ccTotals map[int64]map[string]float64,
	dateKey string,
) (map[int64]float64, map[int64][]Repayment, []Repayment) {
	sorted := make([]Repayment, len(repayments))
	copy(sorted, repayments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount() > sorted[j].Amount() })

	assignedTotals := make(map[int64]float64, len(pairings))
	assignedTxns := make(map[int64][]Repayment, len(pairings))
	var unassigned []Repayment

	for _, repayment := range sorted {
		amount := repayment.Amount()

		var digitCandidates, vendorCandidates []ledger.AccountPairing
		for _, pairing := range pairings {
			switch c.matchStrength(pairing, repayment.Name) {
			case 2:
				digitCandidates = append(digitCandidates, pairing)
			case 1:
				vendorCandidates = append(vendorCandidates, pairing)
			}
		}

		candidates := pairings
		hasSignal := true
		switch {
		case len(digitCandidates) > 0:
			candidates = digitCandidates
		case len(vendorCandidates) > 0:
			candidates = vendorCandidates
		default:
			hasSignal = false
		}

		var best *ledger.AccountPairing
		bestNewDiff := 0.0
		for i := range candidates {
			ccTotal, ok := ccTotals[candidates[i].ID][dateKey]
			if !ok {
				continue
			}
			newDiff := math.Abs(assignedTotals[candidates[i].ID] + amount - ccTotal)
			if best == nil || newDiff < bestNewDiff {
				best = &candidates[i]
				bestNewDiff = newDiff
			}
		}

		if best == nil {
			if !hasSignal {
				unassigned = append(unassigned, repayment)
				continue
			}
			best = &candidates[0]
		} else if !hasSignal && bestNewDiff > c.tol.Epsilon {
			unassigned = append(unassigned, repayment)
			continue
		}

		assignedTotals[best.ID] += amount
		assignedTxns[best.ID] = append(assignedTxns[best.ID], repayment)
	}

	return assignedTotals, assignedTxns, unassigned
}

// matchStrength grades how specifically a repayment description points at
// a pairing's card: 2 for a digit hit (full account number or last-4),
// 1 for a vendor keyword, 0 for nothing.
func (c *Classifier) matchStrength(pairing ledger.AccountPairing, name string) int {
	hints := textsig.DigitGroups(name)
	ccAccount := pairing.CreditCardAccountNumber
	ccLast4 := textsig.AccountLast4(ccAccount)
	for _, h := range hints {
		if (ccAccount != "" && h == ccAccount) || (ccLast4 != "" && h == ccLast4) {
			return 2
		}
	}
	if c.keywords.ContainsVendor(name, pairing.CreditCardVendor) {
		return 1
	}
	return 0
}
