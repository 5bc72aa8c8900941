package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Term identifies an academic half-year. Its text form is YYYY-H, e.g. 2025-1.
type Term struct {
	Year int `db:"year" json:"year" validate:"required,min=1900,max=9999"`
	Half int `db:"half" json:"half" validate:"required,oneof=1 2"`
}

// ParseTerm reads the YYYY-H form.
func ParseTerm(raw string) (Term, error) {
	year, half, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return Term{}, fmt.Errorf("term %q: expected YYYY-H", raw)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Term{}, fmt.Errorf("term %q: bad year", raw)
	}
	h, err := strconv.Atoi(half)
	if err != nil {
		return Term{}, fmt.Errorf("term %q: bad half", raw)
	}
	t := Term{Year: y, Half: h}
	if !t.Valid() {
		return Term{}, fmt.Errorf("term %q: out of range", raw)
	}
	return t, nil
}

// Valid reports whether the term has a plausible year and a half of 1 or 2.
func (t Term) Valid() bool {
	return t.Year >= 1900 && t.Year <= 9999 && (t.Half == 1 || t.Half == 2)
}

// IsZero reports whether t is unset.
func (t Term) IsZero() bool { return t.Year == 0 && t.Half == 0 }

// Ordinal maps terms onto a contiguous integer line so ranges can be compared.
func (t Term) Ordinal() int { return t.Year*2 + t.Half - 1 }

// Label renders the YYYY-H form. It is deliberately not String so records
// embedding Term do not become fmt.Stringers.
func (t Term) Label() string { return fmt.Sprintf("%04d-%d", t.Year, t.Half) }

// Phase is one step of a term's registration lifecycle.
type Phase string

const (
	PhasePreRegistration Phase = "PRE_REGISTRATION"
	PhaseRegistration    Phase = "REGISTRATION"
	PhaseClosed          Phase = "CLOSED"
)

// Next returns the only phase that may follow p.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhasePreRegistration:
		return PhaseRegistration, true
	case PhaseRegistration:
		return PhaseClosed, true
	default:
		return "", false
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePreRegistration, PhaseRegistration, PhaseClosed:
		return true
	}
	return false
}

// PeriodState is the registration period currently in force.
type PeriodState struct {
	Term
	Phase     Phase     `db:"phase" json:"phase"`
	OpenedAt  time.Time `db:"opened_at" json:"opened_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether a term has been opened.
func (s PeriodState) Active() bool { return !s.Term.IsZero() }
