package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unicampus/enrollment-api/internal/models"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

type mockStudentRepo struct {
	students map[string]*models.Student
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var list []models.Student
	for _, s := range m.students {
		list = append(list, *s)
	}
	return list, len(list), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "stu-" + student.Code
	}
	m.students[student.ID] = student
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = student
	return nil
}

func (m *mockStudentRepo) SetActive(ctx context.Context, id string, active bool) error {
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Active = active
	return nil
}

func TestStudentCreate(t *testing.T) {
	repo := &mockStudentRepo{students: make(map[string]*models.Student)}
	svc := NewStudentService(repo, validator.New(), zap.NewNop())

	student, err := svc.Create(context.Background(), CreateStudentRequest{Code: "STU-001", FullName: "Ada Lovelace", Email: "ada@example.edu"})
	require.NoError(t, err)
	assert.True(t, student.Active)
	assert.NotEmpty(t, student.ID)

	_, err = svc.Create(context.Background(), CreateStudentRequest{Code: "STU-002", FullName: "No Email", Email: "not-an-email"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestStudentSetActive(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]*models.Student{
		"s1": {ID: "s1", Code: "STU-001", FullName: "Ada", Active: true},
	}}
	svc := NewStudentService(repo, validator.New(), zap.NewNop())

	require.NoError(t, svc.SetActive(context.Background(), "s1", false))
	assert.False(t, repo.students["s1"].Active)

	err := svc.SetActive(context.Background(), "ghost", true)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
