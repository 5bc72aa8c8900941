package models

import "time"

// DiscrepancyKind classifies reconciliation findings.
type DiscrepancyKind string

const (
	DiscrepancyCountMismatch DiscrepancyKind = "COUNT_MISMATCH"
	DiscrepancyOverCapacity  DiscrepancyKind = "OVER_CAPACITY"
	DiscrepancyCreditCap     DiscrepancyKind = "CREDIT_CAP"
	DiscrepancyMissingEntry  DiscrepancyKind = "MISSING_ENTRY"
)

// Discrepancy is one broken invariant found by reconciliation.
type Discrepancy struct {
	Kind     DiscrepancyKind `json:"kind"`
	Key      string          `json:"key"`
	Expected int             `json:"expected"`
	Actual   int             `json:"actual"`
}

// ReconciliationReport compares ledger counters with the records that back them.
type ReconciliationReport struct {
	Term           Term          `json:"term"`
	CheckedAt      time.Time     `json:"checked_at"`
	EntriesChecked int           `json:"entries_checked"`
	Discrepancies  []Discrepancy `json:"discrepancies"`
}

// Healthy reports whether no discrepancy was found.
func (r ReconciliationReport) Healthy() bool { return len(r.Discrepancies) == 0 }
