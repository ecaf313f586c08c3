package models

import "time"

// Course is a catalog entry students may enroll in. Capacity bounds the
// number of simultaneously active enrollments; the prerequisite relation
// is kept in a separate edge table and must stay acyclic.
type Course struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description,omitempty"`
	Credits      int       `db:"credits" json:"credits"`
	Capacity     int       `db:"capacity" json:"capacity"`
	Active       bool      `db:"active" json:"active"`
	Version      int64     `db:"version" json:"version"`
	InstructorID *string   `db:"instructor_id" json:"instructor_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter captures supported filters for listing courses.
type CourseFilter struct {
	Search       string
	Active       *bool
	InstructorID string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// PrerequisiteEdge is a directed edge "course requires prerequisite".
type PrerequisiteEdge struct {
	CourseID       string `db:"course_id" json:"course_id"`
	PrerequisiteID string `db:"prerequisite_id" json:"prerequisite_id"`
}

// CourseAvailability reports remaining seats for a course.
type CourseAvailability struct {
	CourseID          string `json:"course_id"`
	Capacity          int    `json:"capacity"`
	ActiveEnrollments int    `json:"active_enrollments"`
	SeatsLeft         int    `json:"seats_left"`
}
