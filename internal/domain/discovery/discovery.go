// Package discovery finds the bank account that repays a given credit
// card by scoring repayment-category transactions for references to the
// card (last-4 digits or vendor keywords).
package discovery

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
	"github.com/clarify-money/reconcile-backend/internal/domain/textsig"
)

// DefaultLimit is how many recent repayment candidates to consider.
const DefaultLimit = 500

// ErrMissingCardVendor is returned when a request names no credit-card
// vendor to look for.
var ErrMissingCardVendor = errors.New("credit card vendor is required")

// Request identifies the card to locate and optional bank filters.
// CardFragments carries known card-number fragments from the vendor's
// stored credential; their last-4 digits count as evidence alongside the
// account number, which matters when no account number is known yet.
type Request struct {
	CreditCardVendor        string
	CreditCardAccountNumber string
	CardFragments           []string
	BankVendorFilter        string
	BankAccountFilter       string
}

// evidenceLast4s collects the deduplicated last-4 digit groups the
// request can be recognized by.
func (r Request) evidenceLast4s() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(v string) {
		last4 := textsig.AccountLast4(v)
		if last4 == "" {
			return
		}
		if _, dup := seen[last4]; dup {
			return
		}
		seen[last4] = struct{}{}
		out = append(out, last4)
	}
	add(r.CreditCardAccountNumber)
	for _, f := range r.CardFragments {
		add(f)
	}
	return out
}

// SampleTransaction is an illustrative repayment carrying card evidence.
type SampleTransaction struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Date  string  `json:"date"`
}

// Candidate is a runner-up bank account.
type Candidate struct {
	BankVendor        string `json:"bankVendor"`
	BankAccountNumber string `json:"bankAccountNumber,omitempty"`
	TransactionCount  int    `json:"transactionCount"`
}

// Result is the discovery outcome. When Found is false, Reason explains
// why; absence of evidence is a normal outcome, not an error.
type Result struct {
	Found               bool                `json:"found"`
	Reason              string              `json:"reason,omitempty"`
	BankVendor          string              `json:"bankVendor,omitempty"`
	BankAccountNumber   string              `json:"bankAccountNumber,omitempty"`
	TransactionCount    int                 `json:"transactionCount,omitempty"`
	MatchingLast4Count  int                 `json:"matchingLast4Count,omitempty"`
	MatchingVendorCount int                 `json:"matchingVendorCount,omitempty"`
	MatchPatterns       []string            `json:"matchPatterns,omitempty"`
	SampleTransactions  []SampleTransaction `json:"sampleTransactions,omitempty"`
	OtherCandidates     []Candidate         `json:"otherCandidates,omitempty"`
}

// Discoverer scores candidate bank accounts against a keyword table.
type Discoverer struct {
	keywords textsig.KeywordTable
}

// New creates a Discoverer over the given vendor keyword table.
func New(keywords textsig.KeywordTable) *Discoverer {
	return &Discoverer{keywords: keywords}
}

type group struct {
	bankVendor          string
	bankAccountNumber   string
	transactions        []ledger.Transaction
	matchingLast4Count  int
	matchingVendorCount int
}

// Score ranks the supplied repayment candidates by how strongly they
// reference the requested card. Rows must already be filtered to
// outgoing repayment-category transactions of non-card vendors; Score is
// pure over them so it can be tested without storage.
func (d *Discoverer) Score(req Request, rows []ledger.Transaction) (Result, error) {
	if req.CreditCardVendor == "" {
		return Result{}, ErrMissingCardVendor
	}

	if len(rows) == 0 {
		return Result{Found: false, Reason: "no bank repayment transactions found"}, nil
	}

	last4s := req.evidenceLast4s()

	// Group by (bank vendor, bank account) preserving first-seen order so
	// the ranking tie-break is deterministic.
	groupIndex := make(map[string]*group)
	var ordered []*group
	for _, row := range rows {
		key := row.Vendor + "|" + row.AccountNumber
		g, ok := groupIndex[key]
		if !ok {
			g = &group{bankVendor: row.Vendor, bankAccountNumber: row.AccountNumber}
			groupIndex[key] = g
			ordered = append(ordered, g)
		}
		g.transactions = append(g.transactions, row)
		if d.hasLast4(row.Name, last4s) {
			g.matchingLast4Count++
		}
		if d.keywords.ContainsVendor(row.Name, req.CreditCardVendor) {
			g.matchingVendorCount++
		}
	}

	var candidates []*group
	for _, g := range ordered {
		if g.matchingLast4Count > 0 || g.matchingVendorCount > 0 {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		last4 := "unknown"
		if len(last4s) > 0 {
			last4 = strings.Join(last4s, ", ")
		}
		return Result{
			Found:  false,
			Reason: fmt.Sprintf("no bank repayments reference this credit card (last4: %s)", last4),
		}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.matchingLast4Count != b.matchingLast4Count {
			return a.matchingLast4Count > b.matchingLast4Count
		}
		if a.matchingVendorCount != b.matchingVendorCount {
			return a.matchingVendorCount > b.matchingVendorCount
		}
		return len(a.transactions) > len(b.transactions)
	})

	best := candidates[0]
	result := Result{
		Found:               true,
		BankVendor:          best.bankVendor,
		BankAccountNumber:   best.bankAccountNumber,
		TransactionCount:    len(best.transactions),
		MatchingLast4Count:  best.matchingLast4Count,
		MatchingVendorCount: best.matchingVendorCount,
		MatchPatterns:       d.BuildMatchPatterns(req.CreditCardVendor, req.CreditCardAccountNumber),
	}

	for _, txn := range best.transactions {
		if !d.hasLast4(txn.Name, last4s) && !d.keywords.ContainsVendor(txn.Name, req.CreditCardVendor) {
			continue
		}
		result.SampleTransactions = append(result.SampleTransactions, SampleTransaction{
			Name:  txn.Name,
			Price: txn.Price,
			Date:  txn.Date,
		})
		if len(result.SampleTransactions) >= 3 {
			break
		}
	}

	for _, c := range candidates[1:] {
		result.OtherCandidates = append(result.OtherCandidates, Candidate{
			BankVendor:        c.bankVendor,
			BankAccountNumber: c.bankAccountNumber,
			TransactionCount:  len(c.transactions),
		})
		if len(result.OtherCandidates) >= 2 {
			break
		}
	}

	return result, nil
}

// BuildMatchPatterns assembles the suggested match patterns for a card:
// its vendor keywords, its full account number, and its last-4,
// deduplicated in first-seen order.
func (d *Discoverer) BuildMatchPatterns(ccVendor, ccAccountNumber string) []string {
	var patterns []string
	patterns = append(patterns, d.keywords.Keywords(ccVendor)...)
	if ccAccountNumber != "" {
		patterns = append(patterns, ccAccountNumber)
		if last4 := textsig.AccountLast4(ccAccountNumber); last4 != "" && last4 != ccAccountNumber {
			patterns = append(patterns, last4)
		}
	}

	seen := make(map[string]struct{}, len(patterns))
	unique := patterns[:0]
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

// Last-4 evidence is a raw substring hit, digits only, no case folding.
func (d *Discoverer) hasLast4(name string, last4s []string) bool {
	if name == "" {
		return false
	}
	for _, last4 := range last4s {
		if strings.Contains(name, last4) {
			return true
		}
	}
	return false
}
