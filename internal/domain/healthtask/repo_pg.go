package healthtask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carefacility/care/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const healthTaskCols = `id, patient_id, task_type, frequency_unit, frequency_value,
	specific_times, specific_days_of_week, specific_days_of_month,
	last_completed_at, next_due_at, notes, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*HealthTask, error) {
	var t HealthTask
	err := row.Scan(&t.ID, &t.PatientID, &t.TaskType, &t.FrequencyUnit, &t.FrequencyValue,
		&t.SpecificTimes, &t.SpecificDaysOfWeek, &t.SpecificDaysOfMonth,
		&t.LastCompletedAt, &t.NextDueAt, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *HealthTask) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO health_task (id, patient_id, task_type, frequency_unit, frequency_value,
			specific_times, specific_days_of_week, specific_days_of_month,
			last_completed_at, next_due_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		t.ID, t.PatientID, t.TaskType, t.FrequencyUnit, t.FrequencyValue,
		t.SpecificTimes, t.SpecificDaysOfWeek, t.SpecificDaysOfMonth,
		t.LastCompletedAt, t.NextDueAt, t.Notes).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*HealthTask, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+healthTaskCols+` FROM health_task WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, t *HealthTask) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE health_task SET task_type=$2, frequency_unit=$3, frequency_value=$4,
			specific_times=$5, specific_days_of_week=$6, specific_days_of_month=$7,
			next_due_at=$8, notes=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.TaskType, t.FrequencyUnit, t.FrequencyValue,
		t.SpecificTimes, t.SpecificDaysOfWeek, t.SpecificDaysOfMonth,
		t.NextDueAt, t.Notes).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM health_task WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*HealthTask, int, error) {
	where, args := pgFilter(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM health_task`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM health_task%s ORDER BY next_due_at ASC, id ASC LIMIT $%d OFFSET $%d`,
			healthTaskCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HealthTask
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func pgFilter(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.TaskType != "" {
		add("task_type = $%d", f.TaskType)
	}
	if f.Completed != nil {
		if *f.Completed {
			conds = append(conds, "last_completed_at IS NOT NULL")
		} else {
			conds = append(conds, "last_completed_at IS NULL")
		}
	}
	if f.DueFrom != nil {
		add("next_due_at >= $%d", *f.DueFrom)
	}
	if f.DueBefore != nil {
		add("next_due_at < $%d", *f.DueBefore)
	}
	if f.ScheduledFrom != nil {
		add("(last_completed_at IS NOT NULL OR next_due_at >= $%d)", *f.ScheduledFrom)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Complete writes both fields in one statement.
func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, completedAt, nextDueAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE health_task SET last_completed_at=$2, next_due_at=$3, updated_at=NOW()
		WHERE id = $1`, id, completedAt, nextDueAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO health_task_completion (task_id, completed_at) VALUES ($1, $2)`, id, completedAt)
	return err
}

func (r *repoPG) Reopen(ctx context.Context, dueBy time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE health_task SET last_completed_at=NULL, updated_at=NOW()
		WHERE last_completed_at IS NOT NULL AND next_due_at <= $1`, dueBy)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}
