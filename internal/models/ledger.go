package models

import "fmt"

// LedgerKind distinguishes the resources that share the capacity ledger.
type LedgerKind string

const (
	LedgerKindSubject LedgerKind = "SUBJECT"
	LedgerKindSlot    LedgerKind = "SLOT"
)

// LedgerKey addresses one capacity ledger entry.
type LedgerKey struct {
	Kind       LedgerKind
	ResourceID int64
	Term       Term
}

// SubjectKey is the ledger key for a subject's seats.
func SubjectKey(subjectID int64, term Term) LedgerKey {
	return LedgerKey{Kind: LedgerKindSubject, ResourceID: subjectID, Term: term}
}

// SlotKey is the ledger key for an advising slot.
func SlotKey(slotID int64, term Term) LedgerKey {
	return LedgerKey{Kind: LedgerKindSlot, ResourceID: slotID, Term: term}
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Kind, k.ResourceID, k.Term.Label())
}
