package models

import "time"

// TransitionOutcome is the result of migrating one declaration.
type TransitionOutcome string

const (
	OutcomeMigrated             TransitionOutcome = "MIGRATED"
	OutcomeCreditCapExceeded    TransitionOutcome = "CREDIT_CAP_EXCEEDED"
	OutcomeSeatUnavailable      TransitionOutcome = "SEAT_UNAVAILABLE"
	OutcomeNotActiveStanding    TransitionOutcome = "NOT_ACTIVE_STANDING"
	OutcomePendingLeaveConflict TransitionOutcome = "PENDING_LEAVE_CONFLICT"
	OutcomeAlreadyEnrolled      TransitionOutcome = "ALREADY_ENROLLED"
	OutcomeError                TransitionOutcome = "ERROR"
)

// TransitionEntry reports what happened to one declaration.
type TransitionEntry struct {
	StudentID  int64             `json:"student_id"`
	SubjectID  int64             `json:"subject_id"`
	DeclaredAt time.Time         `json:"declared_at"`
	Outcome    TransitionOutcome `json:"outcome"`
	Detail     string            `json:"detail,omitempty"`
}

// TransitionReport is the per-student, per-subject result of migrating a term's
// pre-registrations.
type TransitionReport struct {
	Term       Term                      `json:"term"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Entries    []TransitionEntry         `json:"entries"`
	Summary    map[TransitionOutcome]int `json:"summary"`
}

// Summarize recomputes Summary from Entries.
func (r *TransitionReport) Summarize() {
	r.Summary = make(map[TransitionOutcome]int)
	for _, e := range r.Entries {
		r.Summary[e.Outcome]++
	}
}

// ForStudent returns the entries of one student in processing order.
func (r *TransitionReport) ForStudent(studentID int64) []TransitionEntry {
	out := make([]TransitionEntry, 0)
	for _, e := range r.Entries {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out
}
