package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unicampus/enrollment-api/internal/models"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

type mockRosterLister struct {
	details []models.EnrollmentDetail
}

func (m *mockRosterLister) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return m.details, len(m.details), nil
}

type pagingRosterLister struct {
	details []models.EnrollmentDetail
	calls   int
}

func (m *pagingRosterLister) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	m.calls++
	start := (filter.Page - 1) * filter.PageSize
	if start < 0 {
		start = 0
	}
	if start >= len(m.details) {
		return nil, len(m.details), nil
	}
	end := start + filter.PageSize
	if end > len(m.details) {
		end = len(m.details)
	}
	return m.details[start:end], len(m.details), nil
}

type mockRosterCourse struct {
	course  *models.Course
	findErr error
}

func (m *mockRosterCourse) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.course == nil || m.course.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.course, nil
}

func TestRosterExportCSV(t *testing.T) {
	grade := 7.5
	lister := &mockRosterLister{details: []models.EnrollmentDetail{
		{
			Enrollment:  models.Enrollment{ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusApproved, Grade: &grade, EnrolledAt: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)},
			StudentName: "Ada Lovelace",
			StudentCode: "STU-001",
		},
		{
			Enrollment:  models.Enrollment{ID: "e2", StudentID: "s2", CourseID: "c1", Status: models.EnrollmentStatusCancelled, EnrolledAt: time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)},
			StudentName: "Dropped Out",
			StudentCode: "STU-002",
		},
	}}
	courses := &mockRosterCourse{course: &models.Course{ID: "c1", Code: "MATH 101", Name: "Calculus I"}}
	svc := NewRosterService(lister, courses, zap.NewNop())

	export, err := svc.ExportCourseRoster(context.Background(), "c1", RosterFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "math-101-roster.csv", export.FileName)
	assert.Equal(t, "text/csv", export.ContentType)

	body := string(export.Data)
	assert.Contains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "7.5")
	assert.Contains(t, body, "2026-02-10")
	assert.NotContains(t, body, "Dropped Out", "cancelled enrollments stay off the roster")
	assert.True(t, strings.HasPrefix(body, "Student Code,Student Name,Status,Grade,Enrolled At"))
}

func TestRosterExportPDF(t *testing.T) {
	lister := &mockRosterLister{}
	courses := &mockRosterCourse{course: &models.Course{ID: "c1", Code: "MATH101", Name: "Calculus I"}}
	svc := NewRosterService(lister, courses, zap.NewNop())

	export, err := svc.ExportCourseRoster(context.Background(), "c1", RosterFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", export.ContentType)
	assert.True(t, strings.HasPrefix(string(export.Data), "%PDF"))
}

func TestRosterExportWalksAllPages(t *testing.T) {
	total := 2*rosterPageSize + 5
	lister := &pagingRosterLister{}
	for i := 0; i < total; i++ {
		lister.details = append(lister.details, models.EnrollmentDetail{
			Enrollment:  models.Enrollment{ID: fmt.Sprintf("e%d", i), StudentID: fmt.Sprintf("s%d", i), CourseID: "c1", Status: models.EnrollmentStatusActive, EnrolledAt: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)},
			StudentName: fmt.Sprintf("Student %d", i),
			StudentCode: fmt.Sprintf("STU-%03d", i),
		})
	}
	courses := &mockRosterCourse{course: &models.Course{ID: "c1", Code: "BIG100", Name: "Big Lecture"}}
	svc := NewRosterService(lister, courses, zap.NewNop())

	export, err := svc.ExportCourseRoster(context.Background(), "c1", RosterFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 3, lister.calls)

	body := string(export.Data)
	assert.Equal(t, total+1, strings.Count(body, "\n"), "header plus every enrollment")
	assert.Contains(t, body, "STU-000")
	assert.Contains(t, body, fmt.Sprintf("STU-%03d", total-1))
}

func TestRosterExportCourseLookupFailure(t *testing.T) {
	courses := &mockRosterCourse{findErr: errors.New("connection reset")}
	svc := NewRosterService(&mockRosterLister{}, courses, zap.NewNop())

	_, err := svc.ExportCourseRoster(context.Background(), "c1", RosterFormatCSV)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
}

func TestRosterExportRejections(t *testing.T) {
	svc := NewRosterService(&mockRosterLister{}, &mockRosterCourse{}, zap.NewNop())

	_, err := svc.ExportCourseRoster(context.Background(), "missing", RosterFormatCSV)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)

	svc = NewRosterService(&mockRosterLister{}, &mockRosterCourse{course: &models.Course{ID: "c1", Code: "X", Name: "X"}}, zap.NewNop())
	_, err = svc.ExportCourseRoster(context.Background(), "c1", RosterFormat("xml"))
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
