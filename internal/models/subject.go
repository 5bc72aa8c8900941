package models

import "time"

// Subject is a course section published for one term. Credits and capacity do
// not change once the term is open.
type Subject struct {
	ID        int64     `db:"id" json:"id"`
	Term
	Code      string    `db:"code" json:"code"`
	Title     string    `db:"title" json:"title"`
	Credits   int       `db:"credits" json:"credits"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SeatStatus reports ledger occupancy for a subject.
type SeatStatus struct {
	SubjectID int64 `json:"subject_id"`
	Capacity  int   `json:"capacity"`
	Committed int   `json:"committed"`
	Available int   `json:"available"`
}
