package healthtask

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("health task not found")

// ListFilter narrows List results. Zero-valued fields do not filter.
type ListFilter struct {
	PatientID     *uuid.UUID
	TaskType      TaskType
	Completed     *bool
	DueFrom       *time.Time // next_due_at >= DueFrom
	DueBefore     *time.Time // next_due_at < DueBefore
	ScheduledFrom *time.Time // completed, or next_due_at >= ScheduledFrom
}

// Repository is the external store of health tasks. Complete must write
// LastCompletedAt and NextDueAt together so readers never observe one
// without the other, and appends the completion to a history that Reopen
// leaves untouched.
type Repository interface {
	Create(ctx context.Context, t *HealthTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*HealthTask, error)
	Update(ctx context.Context, t *HealthTask) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*HealthTask, int, error)
	Complete(ctx context.Context, id uuid.UUID, completedAt, nextDueAt time.Time) error
	// Reopen clears LastCompletedAt on completed tasks due at or before
	// dueBy and returns how many were reopened.
	Reopen(ctx context.Context, dueBy time.Time) (int, error)
	// WithinTx runs fn so that every repository call made with the context
	// it receives commits or rolls back together.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
