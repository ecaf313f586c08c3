package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unicampus/enrollment-api/internal/dto"
	"github.com/unicampus/enrollment-api/internal/models"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	FindByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	FindByStudentAndStatus(ctx context.Context, studentID string, status models.EnrollmentStatus) ([]models.Enrollment, error)
	ExistsActive(ctx context.Context, studentID, courseID string) (bool, error)
	CountByCourseAndStatus(ctx context.Context, courseID string, status models.EnrollmentStatus) (int, error)
	CreateLocked(ctx context.Context, enrollment *models.Enrollment, lockTimeout time.Duration) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	UpdateGrade(ctx context.Context, id string, grade float64, status models.EnrollmentStatus) error
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListPrerequisiteIDs(ctx context.Context, courseID string) ([]string, error)
}

type enrollmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type resultCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// CreateEnrollmentRequest describes enrollment creation input.
type CreateEnrollmentRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	CourseID  string  `json:"course_id" validate:"required"`
	Remarks   *string `json:"remarks,omitempty"`
}

// UpdateEnrollmentStatusRequest carries a status transition.
type UpdateEnrollmentStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required"`
}

// UpdateEnrollmentGradeRequest carries a grade on the [0,10] scale.
type UpdateEnrollmentGradeRequest struct {
	Grade float64 `json:"grade" validate:"gte=0,lte=10"`
}

// EnrollmentEligibility is the pre-flight view of the create checks.
// The API layer uses it for error messaging before attempting a create;
// the authoritative capacity and duplicate checks still run under the
// course lock inside the create transaction.
type EnrollmentEligibility struct {
	StudentID         string `json:"student_id"`
	CourseID          string `json:"course_id"`
	CapacityAvailable bool   `json:"capacity_available"`
	AlreadyEnrolled   bool   `json:"already_enrolled"`
	PrerequisitesMet  bool   `json:"prerequisites_met"`
	Eligible          bool   `json:"eligible"`
}

// EnrollmentService is the enrollment decision engine: it owns the
// validation order for creation, the status transitions, and the cache
// invalidation set of every mutating operation.
type EnrollmentService struct {
	repo        enrollmentRepository
	courses     enrollmentCourseReader
	students    enrollmentStudentReader
	cache       resultCache
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	lockTimeout time.Duration
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses enrollmentCourseReader, students enrollmentStudentReader, cache resultCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, lockTimeout time.Duration) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &EnrollmentService{repo: repo, courses: courses, students: students, cache: cache, metrics: metrics, validator: validate, logger: logger, lockTimeout: lockTimeout}
}

func enrollmentByIDKey(id string) string {
	return "enrollments:id:" + id
}

func enrollmentsByStudentKey(studentID string) string {
	return "enrollments:student:" + studentID
}

func activeByStudentKey(studentID string) string {
	return "enrollments:student:" + studentID + ":active"
}

func enrollmentsByCourseKey(courseID string) string {
	return "enrollments:course:" + courseID
}

// invalidateFor drops every cached query that could reflect the old
// state of the enrollment. The list is explicit so the invalidation set
// of each mutation stays auditable.
func (s *EnrollmentService) invalidateFor(ctx context.Context, enrollment *models.Enrollment) {
	if s.cache == nil || !s.cache.Enabled() {
		return
	}
	patterns := []string{
		enrollmentByIDKey(enrollment.ID),
		enrollmentsByStudentKey(enrollment.StudentID) + "*",
		enrollmentsByCourseKey(enrollment.CourseID),
	}
	for _, pattern := range patterns {
		if err := s.cache.Invalidate(ctx, pattern); err != nil {
			s.logger.Warn("enrollment cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

// Create registers a student in a course. Validation order: student
// exists and is active, course exists and is active, capacity, no
// duplicate active enrollment, prerequisites. The capacity and
// duplicate checks are repeated inside the create transaction under an
// exclusive lock on the course row; the pre-flight pass here only fixes
// the error precedence for callers.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is not active")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not active")
	}

	hasCapacity, err := s.HasAvailableCapacity(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !hasCapacity {
		s.recordDecision("no_capacity")
		return nil, appErrors.ErrNoCapacity
	}

	duplicate, err := s.repo.ExistsActive(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if duplicate {
		s.recordDecision("duplicate")
		return nil, appErrors.ErrDuplicateEnrollment
	}

	satisfied, err := s.HasSatisfiedPrerequisites(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		s.recordDecision("prerequisites")
		return nil, appErrors.ErrPrerequisitesNotMet
	}

	enrollment := &models.Enrollment{
		StudentID:  req.StudentID,
		CourseID:   req.CourseID,
		EnrolledAt: time.Now().UTC(),
		Status:     models.EnrollmentStatusActive,
		Remarks:    req.Remarks,
	}
	if err := s.repo.CreateLocked(ctx, enrollment, s.lockTimeout); err != nil {
		switch {
		case errors.Is(err, appErrors.ErrNoCapacity):
			s.recordDecision("no_capacity")
		case errors.Is(err, appErrors.ErrDuplicateEnrollment):
			s.recordDecision("duplicate")
		case appErrors.IsRetryable(err):
			s.recordDecision("conflict")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.recordDecision("created")
	s.invalidateFor(ctx, enrollment)
	return enrollment, nil
}

// UpdateStatus transitions an enrollment. From ACTIVE every target is
// legal; APPROVED and FAILED accept only an administrative move to
// CANCELLED; CANCELLED is fully terminal.
func (s *EnrollmentService) UpdateStatus(ctx context.Context, id string, newStatus models.EnrollmentStatus) (*models.Enrollment, error) {
	if !newStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown enrollment status")
	}
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is cancelled")
	}
	if enrollment.Status.Terminal() && newStatus != models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already finalized")
	}
	if err := s.repo.UpdateStatus(ctx, id, newStatus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	enrollment.Status = newStatus
	s.invalidateFor(ctx, enrollment)
	return enrollment, nil
}

// UpdateGrade records a grade and derives the resulting status: a grade
// at or above the passing boundary approves the enrollment, anything
// below fails it. Cancelled enrollments cannot be graded.
func (s *EnrollmentService) UpdateGrade(ctx context.Context, id string, grade float64) (*models.Enrollment, error) {
	if grade < 0 || grade > 10 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade must be between 0 and 10")
	}
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot grade a cancelled enrollment")
	}

	status := models.EnrollmentStatusFailed
	if grade >= models.PassingGrade {
		status = models.EnrollmentStatusApproved
	}
	if err := s.repo.UpdateGrade(ctx, id, grade, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment grade")
	}
	enrollment.Grade = &grade
	enrollment.Status = status
	s.invalidateFor(ctx, enrollment)
	return enrollment, nil
}

// Cancel soft-deletes an enrollment: the record is retained with status
// CANCELLED and its grade untouched.
func (s *EnrollmentService) Cancel(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment already cancelled")
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	enrollment.Status = models.EnrollmentStatusCancelled
	s.invalidateFor(ctx, enrollment)
	return enrollment, nil
}

// GetByID returns one enrollment, served from cache when possible.
func (s *EnrollmentService) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	key := enrollmentByIDKey(id)
	if s.cache != nil {
		var cached models.Enrollment
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, nil
		}
	}
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, enrollment, 0)
	}
	return enrollment, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// ListByStudent returns a student's enrollments, cache first.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	key := enrollmentsByStudentKey(studentID)
	if s.cache != nil {
		var cached []models.Enrollment
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	enrollments, err := s.repo.FindByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student enrollments")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, enrollments, 0)
	}
	return enrollments, nil
}

// ListActiveByStudent returns a student's ACTIVE enrollments, cache first.
func (s *EnrollmentService) ListActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	key := activeByStudentKey(studentID)
	if s.cache != nil {
		var cached []models.Enrollment
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	enrollments, err := s.repo.FindByStudentAndStatus(ctx, studentID, models.EnrollmentStatusActive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active enrollments")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, enrollments, 0)
	}
	return enrollments, nil
}

// ListByCourse returns a course's enrollments, cache first.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	key := enrollmentsByCourseKey(courseID)
	if s.cache != nil {
		var cached []models.Enrollment
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	enrollments, err := s.repo.FindByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course enrollments")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, enrollments, 0)
	}
	return enrollments, nil
}

// HasAvailableCapacity reports whether the course has a free seat. It
// always reads the store, never the cache.
func (s *EnrollmentService) HasAvailableCapacity(ctx context.Context, courseID string) (bool, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	active, err := s.repo.CountByCourseAndStatus(ctx, courseID, models.EnrollmentStatusActive)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	return active < course.Capacity, nil
}

// HasActiveEnrollment reports whether the pair already has an ACTIVE
// enrollment.
func (s *EnrollmentService) HasActiveEnrollment(ctx context.Context, studentID, courseID string) (bool, error) {
	exists, err := s.repo.ExistsActive(ctx, studentID, courseID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	return exists, nil
}

// HasSatisfiedPrerequisites reports whether the student has an APPROVED
// enrollment for every prerequisite of the course. All-or-nothing.
func (s *EnrollmentService) HasSatisfiedPrerequisites(ctx context.Context, studentID, courseID string) (bool, error) {
	prerequisites, err := s.courses.ListPrerequisiteIDs(ctx, courseID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if len(prerequisites) == 0 {
		return true, nil
	}

	approved, err := s.repo.FindByStudentAndStatus(ctx, studentID, models.EnrollmentStatusApproved)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approved enrollments")
	}
	approvedCourses := make(map[string]struct{}, len(approved))
	for _, enrollment := range approved {
		approvedCourses[enrollment.CourseID] = struct{}{}
	}
	for _, prerequisiteID := range prerequisites {
		if _, ok := approvedCourses[prerequisiteID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// CheckEligibility evaluates the three create predicates for pre-flight
// messaging without attempting the create.
func (s *EnrollmentService) CheckEligibility(ctx context.Context, studentID, courseID string) (*EnrollmentEligibility, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	capacity, err := s.HasAvailableCapacity(ctx, courseID)
	if err != nil {
		return nil, err
	}
	duplicate, err := s.HasActiveEnrollment(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	prerequisites, err := s.HasSatisfiedPrerequisites(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	return &EnrollmentEligibility{
		StudentID:         studentID,
		CourseID:          courseID,
		CapacityAvailable: capacity,
		AlreadyEnrolled:   duplicate,
		PrerequisitesMet:  prerequisites,
		Eligible:          capacity && !duplicate && prerequisites,
	}, nil
}

// Summarize projects an enrollment into its transport-safe form. It
// tolerates missing status and missing student/course references.
func Summarize(enrollment *models.Enrollment) dto.EnrollmentSummary {
	if enrollment == nil {
		return dto.EnrollmentSummary{}
	}
	summary := dto.EnrollmentSummary{
		ID:      enrollment.ID,
		Grade:   enrollment.Grade,
		Remarks: enrollment.Remarks,
	}
	if enrollment.StudentID != "" {
		studentID := enrollment.StudentID
		summary.StudentID = &studentID
	}
	if enrollment.CourseID != "" {
		courseID := enrollment.CourseID
		summary.CourseID = &courseID
	}
	if enrollment.Status != "" {
		status := string(enrollment.Status)
		summary.Status = &status
	}
	return summary
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) recordDecision(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEnrollmentDecision(outcome)
	}
}
