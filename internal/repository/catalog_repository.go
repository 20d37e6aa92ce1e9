package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/repository/common"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrCourseNotFound  = errors.New("course not found")
	ErrProjectNotFound = errors.New("project not found")
)

// CatalogRepository читает цели оплаты (вакансии, курсы) и проекты с задачами.
type CatalogRepository struct {
	db *sqlx.DB
}

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetJob возвращает вакансию.
func (r *CatalogRepository) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetByID[models.Job](ctx, common.Q(ctx, r.db), "jobs", id, ErrJobNotFound)
}

// GetCourse возвращает курс.
func (r *CatalogRepository) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	return common.GetByID[models.Course](ctx, common.Q(ctx, r.db), "courses", id, ErrCourseNotFound)
}

// GetProject возвращает проект.
func (r *CatalogRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return common.GetByID[models.Project](ctx, common.Q(ctx, r.db), "projects", id, ErrProjectNotFound)
}

// EnsureEnrollment записывает студента на курс; повторная запись ничего не меняет.
// Возвращает true, если запись создана сейчас.
func (r *CatalogRepository) EnsureEnrollment(ctx context.Context, courseID, studentID uuid.UUID, reference string) (bool, error) {
	res, err := common.Q(ctx, r.db).ExecContext(ctx, `
		INSERT INTO enrollments (course_id, student_id, payment_reference)
		VALUES ($1, $2, $3)
		ON CONFLICT (course_id, student_id) DO NOTHING
	`, courseID, studentID, reference)
	if err != nil {
		return false, fmt.Errorf("catalog repository: ensure enrollment %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("catalog repository: ensure enrollment rows %w", err)
	}
	return affected > 0, nil
}

// AssignTask назначает задачу исполнителю.
func (r *CatalogRepository) AssignTask(ctx context.Context, taskID, freelancerID uuid.UUID, at time.Time) error {
	if _, err := common.Q(ctx, r.db).ExecContext(ctx, `
		UPDATE tasks SET assigned_freelancer_id = $2, status = $3, assigned_at = $4 WHERE id = $1
	`, taskID, freelancerID, models.TaskStatusAssigned, at); err != nil {
		return fmt.Errorf("catalog repository: assign task %w", err)
	}
	return nil
}
