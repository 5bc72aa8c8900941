package dto

// DeclareRequest records intent to take a subject.
type DeclareRequest struct {
	SubjectID int64 `json:"subject_id" validate:"required,gt=0"`
}

// EnrollRequest asks for a binding seat in a subject.
type EnrollRequest struct {
	SubjectID int64 `json:"subject_id" validate:"required,gt=0"`
}

// StudentSubjectKey identifies one (student, subject) pair in the active term.
type StudentSubjectKey struct {
	StudentID int64 `validate:"required,gt=0"`
	SubjectID int64 `validate:"required,gt=0"`
}

// EnrollmentSummary lists a student's enrollments with the credit total.
type EnrollmentSummary struct {
	Items        interface{} `json:"items"`
	TotalCredits int         `json:"total_credits"`
	CreditCap    int         `json:"credit_cap"`
}

// SubjectImport is one catalog row loaded by the publish command.
type SubjectImport struct {
	Code     string `yaml:"code" json:"code" validate:"required,max=32"`
	Title    string `yaml:"title" json:"title" validate:"required"`
	Credits  int    `yaml:"credits" json:"credits" validate:"required,gt=0"`
	Capacity int    `yaml:"capacity" json:"capacity" validate:"required,gt=0"`
}

// SubjectCatalogFile is the catalog document accepted by the publish command and endpoint.
type SubjectCatalogFile struct {
	Term     string          `yaml:"term" json:"term" validate:"required"`
	Subjects []SubjectImport `yaml:"subjects" json:"subjects" validate:"required,min=1,dive"`
}
