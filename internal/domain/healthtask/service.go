package healthtask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carefacility/care/internal/platform/clock"
	"github.com/carefacility/care/internal/platform/sweep"
)

var (
	// ErrCannotDetermineNextDue blocks a save whose rule yields no due date.
	ErrCannotDetermineNextDue = errors.New("cannot determine next due date for this recurrence rule")
	ErrInvalidTask            = errors.New("invalid health task")
)

const (
	DefaultPreviewCount = 5
	MaxPreviewCount     = 50
	worklistPageSize    = 200
)

type Service struct {
	repo  Repository
	clock clock.Clock
	loc   *time.Location
}

func NewService(repo Repository, clk clock.Clock, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.RealClock{Location: loc}
	}
	return &Service{repo: repo, clock: clk, loc: loc}
}

// Location is the facility time zone used for all calendar arithmetic.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Now() time.Time { return s.clock.Now().In(s.loc) }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTask, fmt.Sprintf(format, args...))
}

func validate(t *HealthTask) error {
	if t.PatientID == uuid.Nil {
		return invalid("patient_id is required")
	}
	if !t.TaskType.Valid() {
		return invalid("unknown task_type %q", t.TaskType)
	}
	if t.FrequencyValue > MaxFrequencyValue {
		return fmt.Errorf("%w: %w: got %d, want at most %d", ErrInvalidTask, ErrInvalidFrequencyValue, t.FrequencyValue, MaxFrequencyValue)
	}
	for _, d := range t.SpecificDaysOfWeek {
		if d < 1 || d > 7 {
			return invalid("specific_days_of_week must be between 1 and 7, got %d", d)
		}
	}
	for _, d := range t.SpecificDaysOfMonth {
		if d < 1 || d > 31 {
			return invalid("specific_days_of_month must be between 1 and 31, got %d", d)
		}
	}
	if t.Notes != nil && !t.Notes.Valid() {
		return invalid("unknown notes category %q", *t.Notes)
	}
	return nil
}

func (s *Service) nextDue(t *HealthTask, ref time.Time) (time.Time, error) {
	next, err := NextDue(t, ref, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrCannotDetermineNextDue, err)
	}
	return next, nil
}

// Create stores a new task. Its first due instant is computed from now
// unless the caller seeds NextDueAt.
func (s *Service) Create(ctx context.Context, t *HealthTask) error {
	if err := validate(t); err != nil {
		return err
	}
	next, err := s.nextDue(t, s.Now())
	if err != nil {
		return err
	}
	if t.NextDueAt.IsZero() {
		t.NextDueAt = next
	}
	t.LastCompletedAt = nil
	return s.repo.Create(ctx, t)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*HealthTask, error) {
	return s.repo.GetByID(ctx, id)
}

// ListOptions filters List. Status is evaluated against the facility's
// current day.
type ListOptions struct {
	PatientID *uuid.UUID
	TaskType  TaskType
	Status    Status
}

func (s *Service) List(ctx context.Context, opts ListOptions, limit, offset int) ([]*HealthTask, int, error) {
	if opts.TaskType != "" && !opts.TaskType.Valid() {
		return nil, 0, invalid("unknown task_type %q", opts.TaskType)
	}
	f := ListFilter{PatientID: opts.PatientID, TaskType: opts.TaskType}
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, 0, invalid("unknown status %q", opts.Status)
		}
		s.statusFilter(&f, opts.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// statusFilter narrows f to the tasks ClassifyStatus would put in status
// right now.
func (s *Service) statusFilter(f *ListFilter, status Status) {
	todayStart := StartOfDay(s.Now(), s.loc)
	tomorrowStart := addDays(todayStart, 1)
	dayAfterStart := addDays(todayStart, 2)
	open := false

	switch status {
	case StatusOverdue:
		f.Completed, f.DueBefore = &open, &todayStart
	case StatusPending:
		f.Completed, f.DueFrom, f.DueBefore = &open, &todayStart, &tomorrowStart
	case StatusDueSoon:
		f.Completed, f.DueFrom, f.DueBefore = &open, &tomorrowStart, &dayAfterStart
	case StatusScheduled:
		f.ScheduledFrom = &dayAfterStart
	}
}

// Update replaces a task's editable fields; the patient cannot change.
// NextDueAt is recomputed from now only when the recurrence rule changed,
// otherwise the stored due instant is kept.
func (s *Service) Update(ctx context.Context, t *HealthTask) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByID(ctx, t.ID)
		if err != nil {
			return err
		}
		t.PatientID = existing.PatientID
		t.LastCompletedAt = existing.LastCompletedAt
		t.CreatedAt = existing.CreatedAt
		t.NextDueAt = existing.NextDueAt
		if err := validate(t); err != nil {
			return err
		}
		if !t.SameRule(existing) {
			next, err := s.nextDue(t, s.Now())
			if err != nil {
				return err
			}
			t.NextDueAt = next
		}
		return s.repo.Update(ctx, t)
	})
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Complete records that the task was done now and advances NextDueAt from
// the due instant that just elapsed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*HealthTask, error) {
	var done *HealthTask
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		now := s.Now()
		next, err := s.nextDue(t, ReferenceFor(t, now))
		if err != nil {
			return err
		}
		if err := s.repo.Complete(ctx, id, now, next); err != nil {
			return err
		}
		t.LastCompletedAt = &now
		t.NextDueAt = next
		done = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// ReopenDue returns completed tasks whose next due instant falls on or
// before the end of today to the open worklist.
func (s *Service) ReopenDue(ctx context.Context) (int, error) {
	return s.repo.Reopen(ctx, EndOfDay(s.Now(), s.loc))
}

// Preview returns the next count due instants of t's rule after from, or
// after now when from is zero. t is not stored.
func (s *Service) Preview(t *HealthTask, from time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		count = DefaultPreviewCount
	}
	if count > MaxPreviewCount {
		count = MaxPreviewCount
	}
	if from.IsZero() {
		from = s.Now()
	}
	out, err := Occurrences(t, from, count, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotDetermineNextDue, err)
	}
	return out, nil
}

// View decorates t with the fields derived at read time.
func (s *Service) View(t *HealthTask, locale Locale) View {
	return View{
		HealthTask:           t,
		Status:               ClassifyStatus(t, s.Now(), s.loc),
		FrequencyDescription: DescribeFrequency(t, locale),
		DateOnly:             t.TaskType.IsDocument(),
	}
}

func (s *Service) Views(tasks []*HealthTask, locale Locale) []View {
	out := make([]View, len(tasks))
	for i, t := range tasks {
		out[i] = s.View(t, locale)
	}
	return out
}

// Worklist is a caregiver's view of what needs doing today and tomorrow.
type Worklist struct {
	Date    string         `json:"date"`
	Overdue []View         `json:"overdue"`
	Pending []View         `json:"pending"`
	DueSoon []View         `json:"due_soon"`
	Counts  map[Status]int `json:"counts"`
}

// Worklist buckets every open task due before the day after tomorrow,
// optionally for one patient. Each bucket is ordered by due time; tasks
// further out are only counted.
func (s *Service) Worklist(ctx context.Context, patientID *uuid.UUID, locale Locale) (*Worklist, error) {
	now := s.Now()
	dayAfterStart := addDays(StartOfDay(now, s.loc), 2)
	open := false
	f := ListFilter{PatientID: patientID, Completed: &open, DueBefore: &dayAfterStart}

	wl := &Worklist{
		Date:    now.Format(time.DateOnly),
		Overdue: []View{},
		Pending: []View{},
		DueSoon: []View{},
		Counts:  make(map[Status]int, len(Statuses)),
	}
	for offset := 0; ; offset += worklistPageSize {
		items, total, err := s.repo.List(ctx, f, worklistPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, t := range items {
			v := s.View(t, locale)
			switch v.Status {
			case StatusOverdue:
				wl.Overdue = append(wl.Overdue, v)
			case StatusPending:
				wl.Pending = append(wl.Pending, v)
			case StatusDueSoon:
				wl.DueSoon = append(wl.DueSoon, v)
			}
			wl.Counts[v.Status]++
		}
		if len(items) == 0 || offset+len(items) >= total {
			break
		}
	}

	_, all, err := s.repo.List(ctx, ListFilter{PatientID: patientID}, 1, 0)
	if err != nil {
		return nil, err
	}
	wl.Counts[StatusScheduled] = all - wl.Counts[StatusOverdue] - wl.Counts[StatusPending] - wl.Counts[StatusDueSoon]
	return wl, nil
}

// Sweep reopens tasks whose next due day has arrived and reports the
// facility-wide worklist counts.
func (s *Service) Sweep(ctx context.Context) (sweep.Result, error) {
	reopened, err := s.ReopenDue(ctx)
	if err != nil {
		return sweep.Result{}, fmt.Errorf("reopen due tasks: %w", err)
	}
	wl, err := s.Worklist(ctx, nil, LocaleEnglish)
	if err != nil {
		return sweep.Result{}, fmt.Errorf("summarize worklist: %w", err)
	}
	counts := make(map[string]int, len(wl.Counts))
	for status, n := range wl.Counts {
		counts[string(status)] = n
	}
	return sweep.Result{Reopened: reopened, Counts: counts}, nil
}
