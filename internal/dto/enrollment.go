package dto

// EnrollmentSummary is the transport-safe projection of an enrollment.
// All referenced fields are optional: the engine may project an
// enrollment whose status or associated records are not yet resolved.
type EnrollmentSummary struct {
	ID        string   `json:"id"`
	StudentID *string  `json:"student_id,omitempty"`
	CourseID  *string  `json:"course_id,omitempty"`
	Status    *string  `json:"status,omitempty"`
	Grade     *float64 `json:"grade,omitempty"`
	Remarks   *string  `json:"remarks,omitempty"`
}
