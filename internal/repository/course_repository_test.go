package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unicampus/enrollment-api/internal/models"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "name", "description", "credits", "capacity", "active", "version", "instructor_id", "created_at", "updated_at"}).
		AddRow("course-1", "MATH101", "Calculus I", "", 6, 30, true, 2, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, "MATH101", course.Code)
	assert.Equal(t, int64(2), course.Version)
}

func TestCourseRepositoryUpdateVersionMismatch(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "code", "name", "description", "credits", "capacity", "active", "version", "instructor_id", "created_at", "updated_at"}).
		AddRow("course-1", "MATH101", "Calculus I", "", 6, 30, true, 3, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnRows(rows)

	course := &models.Course{ID: "course-1", Code: "MATH101", Name: "Calculus I", Credits: 6, Capacity: 30, Active: true, Version: 2}
	err := repo.Update(context.Background(), course)
	assert.ErrorIs(t, err, appErrors.ErrVersionMismatch)
	assert.True(t, appErrors.IsRetryable(err))
}

func TestCourseRepositoryUpdateMissingCourse(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs("course-99").
		WillReturnError(sql.ErrNoRows)

	course := &models.Course{ID: "course-99", Code: "GONE", Name: "Gone", Credits: 1, Capacity: 10, Version: 0}
	err := repo.Update(context.Background(), course)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCourseRepositoryPrerequisiteIndex(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"course_id", "prerequisite_id"}).
		AddRow("calc2", "calc1").
		AddRow("calc3", "calc2").
		AddRow("calc3", "algebra")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT course_id, prerequisite_id FROM course_prerequisites")).
		WillReturnRows(rows)

	index, err := repo.PrerequisiteIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"calc1"}, index["calc2"])
	assert.ElementsMatch(t, []string{"calc2", "algebra"}, index["calc3"])
	assert.Empty(t, index["calc1"])
}

func TestCourseRepositoryExistsByCode(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE LOWER(code) = LOWER($1)")).
		WithArgs("MATH101").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsByCode(context.Background(), "MATH101", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE LOWER(code) = LOWER($1) AND id <> $2")).
		WithArgs("MATH101", "course-1").
		WillReturnError(sql.ErrNoRows)

	exists, err = repo.ExistsByCode(context.Background(), "MATH101", "course-1")
	require.NoError(t, err)
	assert.False(t, exists)
}
