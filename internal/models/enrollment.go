package models

import "time"

// EnrollmentSource records how a binding enrollment was created.
type EnrollmentSource string

const (
	EnrollmentSourceDirect   EnrollmentSource = "DIRECT"
	EnrollmentSourceMigrated EnrollmentSource = "MIGRATED"
)

// PreRegistration is a non-binding declaration of intent. It never holds a seat.
type PreRegistration struct {
	StudentID  int64 `db:"student_id" json:"student_id"`
	SubjectID  int64 `db:"subject_id" json:"subject_id"`
	Term
	DeclaredAt time.Time `db:"declared_at" json:"declared_at"`
}

// Enrollment is a binding registration holding one seat of its subject.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  int64            `db:"student_id" json:"student_id"`
	SubjectID  int64            `db:"subject_id" json:"subject_id"`
	Term
	Credits    int              `db:"credits" json:"credits"`
	Source     EnrollmentSource `db:"source" json:"source"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollmentCount is the number of live enrollments of one subject.
type EnrollmentCount struct {
	SubjectID int64 `db:"subject_id"`
	Count     int   `db:"count"`
}

// StudentCredits is a student's enrolled credit total for a term.
type StudentCredits struct {
	StudentID int64 `db:"student_id"`
	Credits   int   `db:"credits"`
}

// SubjectDemand is the number of declarations a subject received.
type SubjectDemand struct {
	SubjectID int64 `db:"subject_id" json:"subject_id"`
	Declared  int   `db:"declared" json:"declared"`
	Capacity  int   `db:"capacity" json:"capacity"`
}
