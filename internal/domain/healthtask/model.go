package healthtask

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// TaskType is the kind of observation or document a health task asks for.
type TaskType string

const (
	TaskTypeVitalSigns           TaskType = "vital_signs"
	TaskTypeBloodGlucose         TaskType = "blood_glucose"
	TaskTypeWeight               TaskType = "weight"
	TaskTypeRestraintConsentForm TaskType = "restraint_consent_form"
	TaskTypeAnnualCheckup        TaskType = "annual_checkup"
)

var validTaskTypes = map[TaskType]bool{
	TaskTypeVitalSigns:           true,
	TaskTypeBloodGlucose:         true,
	TaskTypeWeight:               true,
	TaskTypeRestraintConsentForm: true,
	TaskTypeAnnualCheckup:        true,
}

func (t TaskType) Valid() bool { return validTaskTypes[t] }

// IsDocument reports whether the task produces a document rather than a
// measurement. Callers render the due instant of document tasks as a date.
func (t TaskType) IsDocument() bool {
	return t == TaskTypeRestraintConsentForm || t == TaskTypeAnnualCheckup
}

// FrequencyUnit is the granularity of a recurrence rule.
type FrequencyUnit string

const (
	FrequencyHourly  FrequencyUnit = "hourly"
	FrequencyDaily   FrequencyUnit = "daily"
	FrequencyWeekly  FrequencyUnit = "weekly"
	FrequencyMonthly FrequencyUnit = "monthly"
	FrequencyYearly  FrequencyUnit = "yearly"
)

func (u FrequencyUnit) Valid() bool {
	switch u {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// NoteCategory is a free classification with no scheduling effect.
type NoteCategory string

const (
	NotePreMedication    NoteCategory = "pre_medication"
	NotePreInjection     NoteCategory = "pre_injection"
	NoteRoutine          NoteCategory = "routine"
	NoteSpecialAttention NoteCategory = "special_attention"
	NoteCommunity        NoteCategory = "community"
)

func (n NoteCategory) Valid() bool {
	switch n {
	case NotePreMedication, NotePreInjection, NoteRoutine, NoteSpecialAttention, NoteCommunity:
		return true
	}
	return false
}

// HealthTask maps to the health_task table.
type HealthTask struct {
	ID                  uuid.UUID     `db:"id" json:"id"`
	PatientID           uuid.UUID     `db:"patient_id" json:"patient_id"`
	TaskType            TaskType      `db:"task_type" json:"task_type"`
	FrequencyUnit       FrequencyUnit `db:"frequency_unit" json:"frequency_unit"`
	FrequencyValue      int           `db:"frequency_value" json:"frequency_value"`
	SpecificTimes       []string      `db:"specific_times" json:"specific_times,omitempty"`
	SpecificDaysOfWeek  []int         `db:"specific_days_of_week" json:"specific_days_of_week,omitempty"`
	SpecificDaysOfMonth []int         `db:"specific_days_of_month" json:"specific_days_of_month,omitempty"`
	LastCompletedAt     *time.Time    `db:"last_completed_at" json:"last_completed_at,omitempty"`
	NextDueAt           time.Time     `db:"next_due_at" json:"next_due_at"`
	Notes               *NoteCategory `db:"notes" json:"notes,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// SameRule reports whether two tasks share the same recurrence rule.
func (t *HealthTask) SameRule(o *HealthTask) bool {
	return t.FrequencyUnit == o.FrequencyUnit &&
		t.FrequencyValue == o.FrequencyValue &&
		slices.Equal(t.SpecificTimes, o.SpecificTimes) &&
		slices.Equal(t.SpecificDaysOfWeek, o.SpecificDaysOfWeek) &&
		slices.Equal(t.SpecificDaysOfMonth, o.SpecificDaysOfMonth)
}

// View is the API representation of a task with its derived fields.
type View struct {
	*HealthTask
	Status               Status `json:"status"`
	FrequencyDescription string `json:"frequency_description"`
	DateOnly             bool   `json:"date_only"`
}
