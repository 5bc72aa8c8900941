package dto

import "github.com/noah-isme/registrar-api/internal/models"

// OpenTermRequest opens a new registration term.
type OpenTermRequest struct {
	Year int `json:"year" validate:"required,min=1900,max=9999"`
	Half int `json:"half" validate:"required,oneof=1 2"`
}

// TransitionRequest advances the active term to the given phase.
type TransitionRequest struct {
	Phase models.Phase `json:"phase" validate:"required,oneof=PRE_REGISTRATION REGISTRATION CLOSED"`
}

// TransitionResponse reports the new state and, when entering REGISTRATION, the
// migration report.
type TransitionResponse struct {
	State  models.PeriodState       `json:"state"`
	Report *models.TransitionReport `json:"report,omitempty"`
}
