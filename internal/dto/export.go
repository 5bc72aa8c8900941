package dto

// ExportRequest queues a transition report export.
type ExportRequest struct {
	Term   string `json:"term" validate:"required"`
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}
