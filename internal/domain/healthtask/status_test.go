package healthtask

import (
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	now := at(2024, 3, 1, 10, 0)
	completed := at(2024, 2, 20, 9, 0)
	completedToday := at(2024, 3, 1, 9, 30)

	tests := []struct {
		name      string
		due       time.Time
		completed *time.Time
		want      Status
	}{
		{"due yesterday completed today", at(2024, 2, 29, 8, 0), &completedToday, StatusScheduled},
		{"completed long overdue", at(2024, 2, 1, 8, 0), &completed, StatusScheduled},
		{"completed due today", at(2024, 3, 1, 14, 0), &completed, StatusScheduled},
		{"yesterday", at(2024, 2, 29, 23, 59), nil, StatusOverdue},
		{"today midnight", at(2024, 3, 1, 0, 0), nil, StatusPending},
		{"earlier today", at(2024, 3, 1, 8, 0), nil, StatusPending},
		{"last second of today", time.Date(2024, 3, 1, 23, 59, 59, 0, taipei), nil, StatusPending},
		{"23:59 today", at(2024, 3, 1, 23, 59), nil, StatusPending},
		{"00:01 tomorrow", at(2024, 3, 2, 0, 1), nil, StatusDueSoon},
		{"00:01 day after tomorrow", at(2024, 3, 3, 0, 1), nil, StatusScheduled},
		{"tomorrow midnight", at(2024, 3, 2, 0, 0), nil, StatusDueSoon},
		{"late tomorrow", at(2024, 3, 2, 23, 59), nil, StatusDueSoon},
		{"day after tomorrow", at(2024, 3, 3, 0, 0), nil, StatusScheduled},
		{"next month", at(2024, 4, 1, 8, 0), nil, StatusScheduled},
		{"stored in UTC", time.Date(2024, 2, 29, 16, 0, 0, 0, time.UTC), nil, StatusPending},
		{"stored in UTC just before local midnight", time.Date(2024, 2, 29, 15, 59, 0, 0, time.UTC), nil, StatusOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &HealthTask{NextDueAt: tt.due, LastCompletedAt: tt.completed}
			if got := ClassifyStatus(task, now, taipei); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStatus_RequiresAction(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusOverdue || s == StatusPending
		if s.RequiresAction() != want {
			t.Errorf("%s: expected RequiresAction=%v", s, want)
		}
		if !s.Valid() {
			t.Errorf("%s: expected valid", s)
		}
	}
	if Status("dueSoon").Valid() {
		t.Error("expected camelCase status to be invalid")
	}
}

func TestStartAndEndOfDay(t *testing.T) {
	instant := time.Date(2024, 2, 29, 20, 0, 0, 0, time.UTC) // 2024-03-01 04:00 local
	if got, want := StartOfDay(instant, taipei), at(2024, 3, 1, 0, 0); !got.Equal(want) {
		t.Errorf("StartOfDay: expected %v, got %v", want, got)
	}
	want := time.Date(2024, 3, 1, 23, 59, 59, 999999999, taipei)
	if got := EndOfDay(instant, taipei); !got.Equal(want) {
		t.Errorf("EndOfDay: expected %v, got %v", want, got)
	}
}
