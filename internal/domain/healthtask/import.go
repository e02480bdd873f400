package healthtask

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ImportFile is the YAML document accepted by the bulk import command.
type ImportFile struct {
	Tasks []ImportTask `yaml:"tasks"`
}

// ImportTask is one task definition in an ImportFile.
type ImportTask struct {
	PatientID           string   `yaml:"patient_id"`
	TaskType            string   `yaml:"task_type"`
	FrequencyUnit       string   `yaml:"frequency_unit"`
	FrequencyValue      int      `yaml:"frequency_value"`
	SpecificTimes       []string `yaml:"specific_times"`
	SpecificDaysOfWeek  []int    `yaml:"specific_days_of_week"`
	SpecificDaysOfMonth []int    `yaml:"specific_days_of_month"`
	Notes               string   `yaml:"notes"`
	// NextDueAt optionally seeds the first due instant (RFC 3339).
	NextDueAt string `yaml:"next_due_at"`
}

// ParseImport decodes an ImportFile. Entries are converted but not
// validated; Service.Import does that.
func ParseImport(data []byte) ([]*HealthTask, error) {
	var f ImportFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing import file: %w", err)
	}
	tasks := make([]*HealthTask, 0, len(f.Tasks))
	for i, it := range f.Tasks {
		t, err := it.toTask()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (it ImportTask) toTask() (*HealthTask, error) {
	pid, err := uuid.Parse(it.PatientID)
	if err != nil {
		return nil, fmt.Errorf("invalid patient_id %q", it.PatientID)
	}
	t := &HealthTask{
		PatientID:           pid,
		TaskType:            TaskType(it.TaskType),
		FrequencyUnit:       FrequencyUnit(it.FrequencyUnit),
		FrequencyValue:      it.FrequencyValue,
		SpecificTimes:       it.SpecificTimes,
		SpecificDaysOfWeek:  it.SpecificDaysOfWeek,
		SpecificDaysOfMonth: it.SpecificDaysOfMonth,
	}
	if it.Notes != "" {
		n := NoteCategory(it.Notes)
		t.Notes = &n
	}
	if it.NextDueAt != "" {
		due, err := time.Parse(time.RFC3339, it.NextDueAt)
		if err != nil {
			return nil, fmt.Errorf("invalid next_due_at %q", it.NextDueAt)
		}
		t.NextDueAt = due
	}
	return t, nil
}

// Import creates every task in one transaction. Nothing is stored when any
// task fails validation or scheduling.
func (s *Service) Import(ctx context.Context, tasks []*HealthTask) (int, error) {
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		for i, t := range tasks {
			if err := s.Create(ctx, t); err != nil {
				return fmt.Errorf("task %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}
