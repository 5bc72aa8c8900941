package models

import "time"

// SlotOccupancy is derived from whether a live reservation exists.
type SlotOccupancy string

const (
	SlotOpen     SlotOccupancy = "OPEN"
	SlotReserved SlotOccupancy = "RESERVED"
)

// AdvisingSlot is a professor's bookable advising window. It holds at most one student.
type AdvisingSlot struct {
	ID              int64 `db:"id" json:"id"`
	ProfessorID     int64 `db:"professor_id" json:"professor_id"`
	Term
	StartsAt        time.Time     `db:"starts_at" json:"starts_at"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Occupancy       SlotOccupancy `db:"occupancy" json:"occupancy"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// SlotReservation occupies one advising slot.
type SlotReservation struct {
	ID         string    `db:"id" json:"id"`
	SlotID     int64     `db:"slot_id" json:"slot_id"`
	StudentID  int64     `db:"student_id" json:"student_id"`
	ReservedAt time.Time `db:"reserved_at" json:"reserved_at"`
}

// SlotFilter narrows slot listings.
type SlotFilter struct {
	Term        Term
	ProfessorID int64
	OnlyOpen    bool
}

// AdvisorAssignment binds a student to an advisor for a term.
type AdvisorAssignment struct {
	StudentID   int64 `db:"student_id" json:"student_id"`
	Term
	ProfessorID int64     `db:"professor_id" json:"professor_id"`
	AssignedAt  time.Time `db:"assigned_at" json:"assigned_at"`
}

// AdvisorLoad is the number of advisees a professor holds in a term.
type AdvisorLoad struct {
	ProfessorID int64 `db:"professor_id"`
	Advisees    int   `db:"advisees"`
}
