package dto

import "time"

// CreateSlotRequest publishes an advising slot for the calling professor.
type CreateSlotRequest struct {
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0,lte=240"`
}

// AssignAdvisorRequest asks for a balanced advisor choice among candidates.
type AssignAdvisorRequest struct {
	StudentID    int64   `json:"student_id" validate:"required,gt=0"`
	ProfessorIDs []int64 `json:"professor_ids" validate:"required,min=1,dive,gt=0"`
}
