package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unicampus/enrollment-api/internal/models"
	"github.com/unicampus/enrollment-api/internal/service"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

type enrollmentRepoStub struct {
	enrollments map[string]models.Enrollment
	createErr   error
}

func (s *enrollmentRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (s *enrollmentRepoStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := s.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) FindByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	return nil, nil
}

func (s *enrollmentRepoStub) FindByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	return nil, nil
}

func (s *enrollmentRepoStub) FindByStudentAndStatus(ctx context.Context, studentID string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	return nil, nil
}

func (s *enrollmentRepoStub) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	return false, nil
}

func (s *enrollmentRepoStub) CountByCourseAndStatus(ctx context.Context, courseID string, status models.EnrollmentStatus) (int, error) {
	return 0, nil
}

func (s *enrollmentRepoStub) CreateLocked(ctx context.Context, enrollment *models.Enrollment, lockTimeout time.Duration) error {
	if s.createErr != nil {
		return s.createErr
	}
	enrollment.ID = "enroll-1"
	return nil
}

func (s *enrollmentRepoStub) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	return nil
}

func (s *enrollmentRepoStub) UpdateGrade(ctx context.Context, id string, grade float64, status models.EnrollmentStatus) error {
	return nil
}

type courseReaderStub struct{}

func (s *courseReaderStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	return &models.Course{ID: id, Code: "MATH101", Name: "Calculus I", Capacity: 30, Active: true}, nil
}

func (s *courseReaderStub) ListPrerequisiteIDs(ctx context.Context, courseID string) ([]string, error) {
	return nil, nil
}

type studentReaderStub struct{}

func (s *studentReaderStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id, Code: "STU-001", FullName: "Ada", Active: true}, nil
}

func newEnrollmentHandlerFixture(repo *enrollmentRepoStub) *EnrollmentHandler {
	svc := service.NewEnrollmentService(repo, &courseReaderStub{}, &studentReaderStub{}, nil, nil, validator.New(), zap.NewNop(), time.Second)
	return NewEnrollmentHandler(svc)
}

func TestEnrollmentHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandlerFixture(&enrollmentRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(service.CreateEnrollmentRequest{StudentID: "s1", CourseID: "c1"})
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data models.Enrollment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "enroll-1", envelope.Data.ID)
	assert.Equal(t, models.EnrollmentStatusActive, envelope.Data.Status)
}

func TestEnrollmentHandlerCreateConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandlerFixture(&enrollmentRepoStub{createErr: appErrors.ErrDuplicateEnrollment})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(service.CreateEnrollmentRequest{StudentID: "s1", CourseID: "c1"})
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnrollmentHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandlerFixture(&enrollmentRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/enrollments", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandlerFixture(&enrollmentRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments/ghost", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollmentHandlerEligibilityRequiresParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEnrollmentHandlerFixture(&enrollmentRepoStub{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/enrollments/eligibility?studentId=s1", nil)
	c.Request = req

	handler.Eligibility(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerUpdateGradeOutOfRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &enrollmentRepoStub{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive},
	}}
	handler := newEnrollmentHandlerFixture(repo)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(map[string]float64{"grade": 11})
	req, _ := http.NewRequest(http.MethodPut, "/enrollments/e1/grade", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "e1"}}

	handler.UpdateGrade(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
