package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unicampus/enrollment-api/internal/models"
	appErrors "github.com/unicampus/enrollment-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	ListPrerequisiteIDs(ctx context.Context, courseID string) ([]string, error)
	PrerequisiteIndex(ctx context.Context) (map[string][]string, error)
	AddPrerequisite(ctx context.Context, courseID, prerequisiteID string) error
	RemovePrerequisite(ctx context.Context, courseID, prerequisiteID string) error
}

type courseEnrollmentCounter interface {
	CountByCourseAndStatus(ctx context.Context, courseID string, status models.EnrollmentStatus) (int, error)
}

// CreateCourseRequest describes course creation input. Capacity falls
// back to the catalog default when omitted.
type CreateCourseRequest struct {
	Code         string  `json:"code" validate:"required,min=2,max=20"`
	Name         string  `json:"name" validate:"required,min=2,max=120"`
	Description  string  `json:"description"`
	Credits      int     `json:"credits" validate:"gte=1,lte=30"`
	Capacity     *int    `json:"capacity,omitempty" validate:"omitempty,gte=1"`
	InstructorID *string `json:"instructor_id,omitempty"`
}

// UpdateCourseRequest describes a full course update. Version carries
// the optimistic counter the caller last read.
type UpdateCourseRequest struct {
	Code         string  `json:"code" validate:"required,min=2,max=20"`
	Name         string  `json:"name" validate:"required,min=2,max=120"`
	Description  string  `json:"description"`
	Credits      int     `json:"credits" validate:"gte=1,lte=30"`
	Capacity     int     `json:"capacity" validate:"gte=1"`
	Active       bool    `json:"active"`
	InstructorID *string `json:"instructor_id,omitempty"`
	Version      int64   `json:"version" validate:"gte=0"`
}

// CourseService manages the course catalog and the prerequisite graph.
type CourseService struct {
	repo            courseRepository
	enrollments     courseEnrollmentCounter
	validator       *validator.Validate
	logger          *zap.Logger
	defaultCapacity int
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, enrollments courseEnrollmentCounter, validate *validator.Validate, logger *zap.Logger, defaultCapacity int) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCapacity <= 0 {
		defaultCapacity = 30
	}
	return &CourseService{repo: repo, enrollments: enrollments, validator: validate, logger: logger, defaultCapacity: defaultCapacity}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetByID returns one course.
func (s *CourseService) GetByID(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a course to the catalog. Codes are unique case
// insensitively.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	taken, err := s.repo.ExistsByCode(ctx, req.Code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate course code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already in use")
	}

	capacity := s.defaultCapacity
	if req.Capacity != nil {
		capacity = *req.Capacity
	}
	course := &models.Course{
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Credits:      req.Credits,
		Capacity:     capacity,
		Active:       true,
		InstructorID: req.InstructorID,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update rewrites a course guarded by its optimistic version. A stale
// version surfaces as a retryable conflict; the caller re-reads and
// repeats.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	taken, err := s.repo.ExistsByCode(ctx, req.Code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate course code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already in use")
	}

	course := &models.Course{
		ID:           id,
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Credits:      req.Credits,
		Capacity:     req.Capacity,
		Active:       req.Active,
		Version:      req.Version,
		InstructorID: req.InstructorID,
		CreatedAt:    current.CreatedAt,
	}
	if err := s.repo.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// SetActive toggles the catalog availability of a course. Deactivation
// blocks new enrollments without touching existing ones.
func (s *CourseService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return nil
}

// Delete removes a course. Courses with active enrollments cannot be
// removed.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	active, err := s.enrollments.CountByCourseAndStatus(ctx, id, models.EnrollmentStatusActive)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if active > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course has active enrollments")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// ListPrerequisites returns the direct prerequisite courses of a course.
func (s *CourseService) ListPrerequisites(ctx context.Context, courseID string) ([]models.Course, error) {
	if _, err := s.GetByID(ctx, courseID); err != nil {
		return nil, err
	}
	ids, err := s.repo.ListPrerequisiteIDs(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	courses := make([]models.Course, 0, len(ids))
	for _, id := range ids {
		course, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite course")
		}
		courses = append(courses, *course)
	}
	return courses, nil
}

// AddPrerequisite links a prerequisite to a course after the cycle
// guard clears the edge. The guard runs over the id index of the stored
// graph, so a pre-existing inconsistency cannot hang it.
func (s *CourseService) AddPrerequisite(ctx context.Context, courseID, prerequisiteID string) error {
	if _, err := s.GetByID(ctx, courseID); err != nil {
		return err
	}
	if _, err := s.GetByID(ctx, prerequisiteID); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrNotFound.Code {
			return appErrors.Clone(appErrors.ErrNotFound, "prerequisite course not found")
		}
		return err
	}

	index, err := s.repo.PrerequisiteIndex(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite graph")
	}
	if WouldCreateCycle(courseID, prerequisiteID, index) {
		return appErrors.ErrPrerequisiteCycle
	}
	if err := s.repo.AddPrerequisite(ctx, courseID, prerequisiteID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add prerequisite")
	}
	return nil
}

// RemovePrerequisite unlinks a prerequisite from a course.
func (s *CourseService) RemovePrerequisite(ctx context.Context, courseID, prerequisiteID string) error {
	if _, err := s.GetByID(ctx, courseID); err != nil {
		return err
	}
	if err := s.repo.RemovePrerequisite(ctx, courseID, prerequisiteID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove prerequisite")
	}
	return nil
}

// Availability reports the remaining seats for a course based on the
// current ACTIVE enrollment count.
func (s *CourseService) Availability(ctx context.Context, courseID string) (*models.CourseAvailability, error) {
	course, err := s.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	active, err := s.enrollments.CountByCourseAndStatus(ctx, courseID, models.EnrollmentStatusActive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	seats := course.Capacity - active
	if seats < 0 {
		seats = 0
	}
	return &models.CourseAvailability{
		CourseID:          courseID,
		Capacity:          course.Capacity,
		ActiveEnrollments: active,
		SeatsLeft:         seats,
	}, nil
}
