package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Project объединяет задачи клиента и общий чат.
type Project struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ClientID       uuid.UUID  `db:"client_id" json:"client_id"`
	Title          string     `db:"title" json:"title"`
	ConversationID *uuid.UUID `db:"conversation_id" json:"conversation_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Task задача проекта, назначаемая исполнителю при принятии заказа.
type Task struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	ProjectID            uuid.UUID  `db:"project_id" json:"project_id"`
	Title                string     `db:"title" json:"title"`
	Status               string     `db:"status" json:"status"`
	AssignedFreelancerID *uuid.UUID `db:"assigned_freelancer_id" json:"assigned_freelancer_id,omitempty"`
	AssignedAt           *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
}

// TaskStatusAssigned статус задачи после назначения.
const TaskStatusAssigned = "assigned"

// Job вакансия клиента; для почасовых база = часы * ставка.
type Job struct {
	ID         uuid.UUID           `db:"id" json:"id"`
	ClientID   uuid.UUID           `db:"client_id" json:"client_id"`
	Title      string              `db:"title" json:"title"`
	Budget     decimal.Decimal     `db:"budget" json:"budget"`
	IsHourly   bool                `db:"is_hourly" json:"is_hourly"`
	HourlyRate decimal.NullDecimal `db:"hourly_rate" json:"hourly_rate"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
}

// Course платный курс преподавателя.
type Course struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	InstructorID uuid.UUID       `db:"instructor_id" json:"instructor_id"`
	Title        string          `db:"title" json:"title"`
	Price        decimal.Decimal `db:"price" json:"price"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Enrollment запись студента на курс.
type Enrollment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	CourseID         uuid.UUID `db:"course_id" json:"course_id"`
	StudentID        uuid.UUID `db:"student_id" json:"student_id"`
	PaymentReference string    `db:"payment_reference" json:"payment_reference"`
	EnrolledAt       time.Time `db:"enrolled_at" json:"enrolled_at"`
}
