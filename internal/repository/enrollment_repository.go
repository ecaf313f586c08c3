package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/unicampus/enrollment-api/internal/models"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = "id, student_id, course_id, enrolled_at, status, grade, remarks"

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"status":       "e.status",
		"student_name": "s.full_name",
		"course_name":  "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.enrolled_at, e.status, e.grade, e.remarks,
        COALESCE(s.full_name, '') AS student_name, COALESCE(s.code, '') AS student_code,
        COALESCE(c.name, '') AS course_name, COALESCE(c.code, '') AS course_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudent returns all enrollments for a student.
func (r *EnrollmentRepository) FindByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("find student enrollments: %w", err)
	}
	return enrollments, nil
}

// FindByCourse returns all enrollments for a course.
func (r *EnrollmentRepository) FindByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE course_id = $1 ORDER BY enrolled_at DESC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("find course enrollments: %w", err)
	}
	return enrollments, nil
}

// FindByStudentAndStatus returns a student's enrollments in one status.
func (r *EnrollmentRepository) FindByStudentAndStatus(ctx context.Context, studentID string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE student_id = $1 AND status = $2 ORDER BY enrolled_at DESC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, status); err != nil {
		return nil, fmt.Errorf("find enrollments by status: %w", err)
	}
	return enrollments, nil
}

// ExistsActive checks if an active enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// CountByCourseAndStatus counts a course's enrollments in one status.
func (r *EnrollmentRepository) CountByCourseAndStatus(ctx context.Context, courseID string, status models.EnrollmentStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, status); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// CreateLocked inserts a new enrollment in a single transaction that
// holds an exclusive lock on the course row. The capacity count and the
// duplicate-active check run under that lock, so two concurrent creates
// against the same course serialize and the count-then-insert race is
// closed. Lock waits are bounded by lockTimeout and surface as a
// retryable conflict.
func (r *EnrollmentRepository) CreateLocked(ctx context.Context, enrollment *models.Enrollment, lockTimeout time.Duration) (err error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	enrollment.Status = models.EnrollmentStatusActive

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if lockTimeout > 0 {
		// SET LOCAL scopes the timeout to this transaction only.
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	var course struct {
		Capacity int  `db:"capacity"`
		Active   bool `db:"active"`
	}
	const lockQuery = `SELECT capacity, active FROM courses WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &course, lockQuery, enrollment.CourseID); err != nil {
		if isLockError(err) {
			err = appErrors.ErrLockTimeout
		}
		return err
	}
	if !course.Active {
		err = appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not active")
		return err
	}

	var activeCount int
	const countQuery = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	if err = tx.GetContext(ctx, &activeCount, countQuery, enrollment.CourseID, models.EnrollmentStatusActive); err != nil {
		return fmt.Errorf("count active enrollments: %w", err)
	}
	if activeCount >= course.Capacity {
		err = appErrors.ErrNoCapacity
		return err
	}

	var duplicate int
	const dupQuery = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1`
	if err = tx.GetContext(ctx, &duplicate, dupQuery, enrollment.StudentID, enrollment.CourseID, models.EnrollmentStatusActive); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check duplicate enrollment: %w", err)
	}
	if err == nil {
		err = appErrors.ErrDuplicateEnrollment
		return err
	}
	err = nil

	const insertQuery = `INSERT INTO enrollments (id, student_id, course_id, enrolled_at, status, grade, remarks)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err = tx.ExecContext(ctx, insertQuery, enrollment.ID, enrollment.StudentID, enrollment.CourseID,
		enrollment.EnrolledAt, enrollment.Status, enrollment.Grade, enrollment.Remarks); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		if isLockError(err) {
			err = appErrors.ErrLockTimeout
			return err
		}
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// UpdateStatus updates the status for an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// UpdateGrade stores the grade together with its derived status.
func (r *EnrollmentRepository) UpdateGrade(ctx context.Context, id string, grade float64, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET grade = $2, status = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, grade, status); err != nil {
		return fmt.Errorf("update enrollment grade: %w", err)
	}
	return nil
}

// Delete removes an enrollment row. The business path never calls this;
// cancellation keeps the record and flips the status instead.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// isLockError reports whether the error is a lock wait timeout or a
// deadlock abort from Postgres.
func isLockError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "55P03" || pqErr.Code == "40P01"
}
