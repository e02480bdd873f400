package healthtask

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carefacility/care/internal/platform/db"
)

type sqlQueryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepoSQLite returns a Repository backed by an embedded SQLite database
// opened with db.OpenSQLite.
func NewRepoSQLite(sqlDB *sql.DB) Repository {
	return &repoSQLite{db: sqlDB, now: time.Now}
}

func (r *repoSQLite) conn(ctx context.Context) sqlQueryable {
	if tx := db.SQLTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

func formatTime(t time.Time) string {
	return db.FormatSQLiteTime(t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(db.SQLiteTimeLayout, s)
}

func encodeList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList[T any](s string) ([]T, error) {
	var v []T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func (r *repoSQLite) scan(row sqliteScanner) (*HealthTask, error) {
	var (
		t                          HealthTask
		id, patientID              string
		times, weekdays, monthDays string
		lastCompleted, notes       sql.NullString
		nextDue, created, updated  string
	)
	err := row.Scan(&id, &patientID, &t.TaskType, &t.FrequencyUnit, &t.FrequencyValue,
		&times, &weekdays, &monthDays, &lastCompleted, &nextDue, &notes, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if t.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, fmt.Errorf("parse patient_id: %w", err)
	}
	if t.SpecificTimes, err = decodeList[string](times); err != nil {
		return nil, fmt.Errorf("decode specific_times: %w", err)
	}
	if t.SpecificDaysOfWeek, err = decodeList[int](weekdays); err != nil {
		return nil, fmt.Errorf("decode specific_days_of_week: %w", err)
	}
	if t.SpecificDaysOfMonth, err = decodeList[int](monthDays); err != nil {
		return nil, fmt.Errorf("decode specific_days_of_month: %w", err)
	}
	if lastCompleted.Valid {
		at, err := parseTime(lastCompleted.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_completed_at: %w", err)
		}
		t.LastCompletedAt = &at
	}
	if notes.Valid {
		n := NoteCategory(notes.String)
		t.Notes = &n
	}
	if t.NextDueAt, err = parseTime(nextDue); err != nil {
		return nil, fmt.Errorf("parse next_due_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

type sqliteRow struct {
	times, weekdays, monthDays string
	lastCompleted, notes       sql.NullString
}

func encodeRow(t *HealthTask) (sqliteRow, error) {
	var row sqliteRow
	var err error
	if row.times, err = encodeList(t.SpecificTimes); err != nil {
		return row, err
	}
	if row.weekdays, err = encodeList(t.SpecificDaysOfWeek); err != nil {
		return row, err
	}
	if row.monthDays, err = encodeList(t.SpecificDaysOfMonth); err != nil {
		return row, err
	}
	if t.LastCompletedAt != nil {
		row.lastCompleted = sql.NullString{String: formatTime(*t.LastCompletedAt), Valid: true}
	}
	if t.Notes != nil {
		row.notes = sql.NullString{String: string(*t.Notes), Valid: true}
	}
	return row, nil
}

func (r *repoSQLite) Create(ctx context.Context, t *HealthTask) error {
	row, err := encodeRow(t)
	if err != nil {
		return err
	}
	t.ID = uuid.New()
	now := r.now().UTC()
	_, err = r.conn(ctx).ExecContext(ctx, `
		INSERT INTO health_task (id, patient_id, task_type, frequency_unit, frequency_value,
			specific_times, specific_days_of_week, specific_days_of_month,
			last_completed_at, next_due_at, notes, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID.String(), t.PatientID.String(), string(t.TaskType), string(t.FrequencyUnit), t.FrequencyValue,
		row.times, row.weekdays, row.monthDays,
		row.lastCompleted, formatTime(t.NextDueAt), row.notes, formatTime(now), formatTime(now))
	if err != nil {
		return err
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*HealthTask, error) {
	return r.scan(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+healthTaskCols+` FROM health_task WHERE id = ?`, id.String()))
}

func (r *repoSQLite) Update(ctx context.Context, t *HealthTask) error {
	row, err := encodeRow(t)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE health_task SET task_type=?, frequency_unit=?, frequency_value=?,
			specific_times=?, specific_days_of_week=?, specific_days_of_month=?,
			next_due_at=?, notes=?, updated_at=?
		WHERE id = ?`,
		string(t.TaskType), string(t.FrequencyUnit), t.FrequencyValue,
		row.times, row.weekdays, row.monthDays,
		formatTime(t.NextDueAt), row.notes, formatTime(now), t.ID.String())
	if err := affectedOne(res, err); err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

func (r *repoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM health_task WHERE id = ?`, id.String())
	return affectedOne(res, err)
}

func (r *repoSQLite) List(ctx context.Context, f ListFilter, limit, offset int) ([]*HealthTask, int, error) {
	where, args := sqliteFilter(f)

	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM health_task`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).QueryContext(ctx,
		`SELECT `+healthTaskCols+` FROM health_task`+where+` ORDER BY next_due_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
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

func sqliteFilter(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	if f.PatientID != nil {
		conds = append(conds, "patient_id = ?")
		args = append(args, f.PatientID.String())
	}
	if f.TaskType != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, string(f.TaskType))
	}
	if f.Completed != nil {
		if *f.Completed {
			conds = append(conds, "last_completed_at IS NOT NULL")
		} else {
			conds = append(conds, "last_completed_at IS NULL")
		}
	}
	if f.DueFrom != nil {
		conds = append(conds, "next_due_at >= ?")
		args = append(args, formatTime(*f.DueFrom))
	}
	if f.DueBefore != nil {
		conds = append(conds, "next_due_at < ?")
		args = append(args, formatTime(*f.DueBefore))
	}
	if f.ScheduledFrom != nil {
		conds = append(conds, "(last_completed_at IS NOT NULL OR next_due_at >= ?)")
		args = append(args, formatTime(*f.ScheduledFrom))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoSQLite) Complete(ctx context.Context, id uuid.UUID, completedAt, nextDueAt time.Time) error {
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE health_task SET last_completed_at=?, next_due_at=?, updated_at=?
		WHERE id = ?`,
		formatTime(completedAt), formatTime(nextDueAt), formatTime(r.now()), id.String())
	if err := affectedOne(res, err); err != nil {
		return err
	}
	_, err = r.conn(ctx).ExecContext(ctx, `
		INSERT INTO health_task_completion (task_id, completed_at) VALUES (?, ?)`,
		id.String(), formatTime(completedAt))
	return err
}

func (r *repoSQLite) Reopen(ctx context.Context, dueBy time.Time) (int, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE health_task SET last_completed_at=NULL, updated_at=?
		WHERE last_completed_at IS NOT NULL AND next_due_at <= ?`,
		formatTime(r.now()), formatTime(dueBy))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *repoSQLite) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInSQLTx(ctx, r.db, fn)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
