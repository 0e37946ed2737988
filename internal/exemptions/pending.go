// Package exemptions accumulates not-yet-persisted exemption edits so a user
// can mark, unmark and edit many transactions without a round-trip per edit.
// The pending set is flushed to the engine in a single batch.
package exemptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/clearnexus/nexdash/nexus"
)

// Actions a pending change can describe.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionRemoved = "removed"
)

// ReasonOther requires free-text detail.
const ReasonOther = "other"

var (
	ErrAmountRange    = errors.New("exempt amount must be greater than zero and at most the sales amount")
	ErrReasonRequired = errors.New("an exemption reason must be selected")
	ErrDetailRequired = errors.New("a description is required when the reason is \"other\"")
)

// PendingChange is a local-only description of one exemption edit, keyed by
// transaction id in a Set.
type PendingChange struct {
	Action       string  `json:"action"`
	ExemptAmount float64 `json:"exempt_amount"`
	Reason       string  `json:"reason,omitempty"`
	ReasonDetail string  `json:"reason_detail,omitempty"`
}

// Summary counts the pending set for the pending-changes banner.
type Summary struct {
	Added       int     `json:"added"`
	Updated     int     `json:"updated"`
	Removed     int     `json:"removed"`
	Total       int     `json:"total"`
	TotalAmount float64 `json:"total_amount"`
}

// Set is the accumulated pending map. Safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	changes map[string]PendingChange
}

func NewSet() *Set {
	return &Set{changes: make(map[string]PendingChange)}
}

// Stage validates and records an exemption create/update for tx. Whether the
// change is a create or an update follows from whether the transaction
// already carries an exemption.
func (s *Set) Stage(tx nexus.Transaction, amount float64, reason, detail string) error {
	if amount <= 0 || amount > tx.SalesAmount {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrAmountRange)
	}
	if reason == "" {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrReasonRequired)
	}
	if reason == ReasonOther && detail == "" {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrDetailRequired)
	}

	action := ActionUpdated
	if tx.ExemptAmount == 0 {
		action = ActionCreated
	}
	s.mu.Lock()
	// An edit on top of a pending create is still a create.
	if prev, ok := s.changes[tx.ID]; ok && prev.Action == ActionCreated {
		action = ActionCreated
	}
	s.changes[tx.ID] = PendingChange{
		Action:       action,
		ExemptAmount: amount,
		Reason:       reason,
		ReasonDetail: detail,
	}
	s.mu.Unlock()
	return nil
}

// StageRemoval records removal of tx's exemption.
func (s *Set) StageRemoval(tx nexus.Transaction) {
	s.mu.Lock()
	s.changes[tx.ID] = PendingChange{Action: ActionRemoved}
	s.mu.Unlock()
}

// Unstage drops the pending change for txID, if any.
func (s *Set) Unstage(txID string) {
	s.mu.Lock()
	delete(s.changes, txID)
	s.mu.Unlock()
}

// Get returns the pending change for txID.
func (s *Set) Get(txID string) (PendingChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.changes[txID]
	return c, ok
}

// Len returns the number of pending changes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

// Effective returns tx with its pending change applied. A removal zeroes the
// exemption; a create/update overlays the new exempt amount and recomputes
// the taxable amount as sales minus exempt.
func (s *Set) Effective(tx nexus.Transaction) nexus.Transaction {
	s.mu.Lock()
	c, ok := s.changes[tx.ID]
	s.mu.Unlock()
	if !ok {
		return tx
	}

	switch c.Action {
	case ActionRemoved:
		tx.ExemptAmount = 0
		tx.ExemptionReason = ""
		tx.TaxableAmount = tx.SalesAmount
	default:
		tx.ExemptAmount = c.ExemptAmount
		tx.ExemptionReason = c.Reason
		tx.TaxableAmount = tx.SalesAmount - c.ExemptAmount
	}
	return tx
}

// Summarize derives the banner counts from the pending map.
func (s *Set) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	for _, c := range s.changes {
		switch c.Action {
		case ActionCreated:
			sum.Added++
			sum.TotalAmount += c.ExemptAmount
		case ActionUpdated:
			sum.Updated++
			sum.TotalAmount += c.ExemptAmount
		case ActionRemoved:
			sum.Removed++
		}
	}
	sum.Total = sum.Added + sum.Updated + sum.Removed
	return sum
}

// Changes returns the pending map as a batch, ordered by transaction id.
func (s *Set) Changes() []nexus.ExemptionChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]nexus.ExemptionChange, 0, len(s.changes))
	for id, c := range s.changes {
		out = append(out, nexus.ExemptionChange{
			TransactionID:   id,
			Action:          c.Action,
			ExemptAmount:    c.ExemptAmount,
			ExemptionReason: c.Reason,
			ReasonDetail:    c.ReasonDetail,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

// Discard clears the pending map without contacting the engine.
func (s *Set) Discard() {
	s.mu.Lock()
	s.changes = make(map[string]PendingChange)
	s.mu.Unlock()
}

// Encode serializes the pending map for session storage.
func (s *Set) Encode() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.changes)
}

// DecodeSet restores a Set from Encode output. Empty input yields an empty
// set.
func DecodeSet(data []byte) (*Set, error) {
	s := NewSet()
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.changes); err != nil {
		return nil, fmt.Errorf("decode pending exemptions: %w", err)
	}
	if s.changes == nil {
		s.changes = make(map[string]PendingChange)
	}
	return s, nil
}

// Saver is the slice of the engine client Save needs.
type Saver interface {
	SaveExemptions(ctx context.Context, analysisID string, changes []nexus.ExemptionChange) (*nexus.SaveExemptionsResult, error)
}

// Save flushes all pending entries as one request, clears the map and runs
// the recalculation callback exactly once. A failed flush leaves the pending
// map intact.
func (s *Set) Save(ctx context.Context, engine Saver, analysisID string, onRecalculated func()) (*nexus.SaveExemptionsResult, error) {
	changes := s.Changes()
	if len(changes) == 0 {
		return &nexus.SaveExemptionsResult{}, nil
	}

	res, err := engine.SaveExemptions(ctx, analysisID, changes)
	if err != nil {
		return nil, err
	}

	s.Discard()
	if onRecalculated != nil {
		onRecalculated()
	}
	return res, nil
}
