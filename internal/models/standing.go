package models

import "time"

// StandingStatus is a student's academic standing for a term.
type StandingStatus string

const (
	StandingActive    StandingStatus = "ACTIVE"
	StandingOnLeave   StandingStatus = "ON_LEAVE"
	StandingSuspended StandingStatus = "SUSPENDED"
	StandingWithdrawn StandingStatus = "WITHDRAWN"
	StandingGraduated StandingStatus = "GRADUATED"
)

// AcademicStanding is provided by the student records system.
type AcademicStanding struct {
	StudentID int64 `db:"student_id" json:"student_id"`
	Term
	Status    StandingStatus `db:"status" json:"status"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// LeaveStatus is the review state of a leave-of-absence application.
type LeaveStatus string

const (
	LeavePending   LeaveStatus = "PENDING"
	LeaveApproved  LeaveStatus = "APPROVED"
	LeaveRejected  LeaveStatus = "REJECTED"
	LeaveWithdrawn LeaveStatus = "WITHDRAWN"
)

// LeaveApplication covers an inclusive range of terms.
type LeaveApplication struct {
	ID        int64       `db:"id" json:"id"`
	StudentID int64       `db:"student_id" json:"student_id"`
	StartYear int         `db:"start_year" json:"start_year"`
	StartHalf int         `db:"start_half" json:"start_half"`
	EndYear   int         `db:"end_year" json:"end_year"`
	EndHalf   int         `db:"end_half" json:"end_half"`
	Status    LeaveStatus `db:"status" json:"status"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Overlaps reports whether the leave covers term.
func (l LeaveApplication) Overlaps(term Term) bool {
	start := Term{Year: l.StartYear, Half: l.StartHalf}.Ordinal()
	end := Term{Year: l.EndYear, Half: l.EndHalf}.Ordinal()
	t := term.Ordinal()
	return start <= t && t <= end
}

// Blocking reports whether the leave's status prevents registration.
func (l LeaveApplication) Blocking() bool {
	return l.Status == LeavePending || l.Status == LeaveApproved
}
