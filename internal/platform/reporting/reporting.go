package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carefacility/care/internal/platform/clock"
	"github.com/carefacility/care/internal/platform/db"
)

// MeasureDefinition defines a reporting measure over the health_task table.
// The SQL is written to run unchanged on PostgreSQL and SQLite; it takes at
// most one positional argument, produced by bind.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`

	bind func(env Env) ([]any, error)
}

// Env is what a measure may depend on when binding its arguments.
type Env struct {
	Now      time.Time
	Location *time.Location
	Params   map[string]string
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

const defaultCompletionDays = 7

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "tasks-by-type",
		Name:        "Tasks by Type",
		Description: "Number of scheduled health tasks per task type",
		SQL:         `SELECT task_type, COUNT(*) AS total FROM health_task GROUP BY task_type ORDER BY total DESC, task_type`,
		Parameters:  []string{},
	},
	{
		ID:          "tasks-by-frequency",
		Name:        "Tasks by Frequency",
		Description: "Number of health tasks per recurrence unit",
		SQL:         `SELECT frequency_unit, COUNT(*) AS total FROM health_task GROUP BY frequency_unit ORDER BY total DESC, frequency_unit`,
		Parameters:  []string{},
	},
	{
		ID:          "overdue-by-patient",
		Name:        "Overdue Tasks by Patient",
		Description: "Open tasks whose due instant is before the start of today, per patient",
		SQL: `SELECT patient_id, COUNT(*) AS overdue FROM health_task
			WHERE last_completed_at IS NULL AND next_due_at < $1
			GROUP BY patient_id ORDER BY overdue DESC, patient_id`,
		Parameters: []string{},
		bind: func(env Env) ([]any, error) {
			y, m, d := env.Now.In(env.Location).Date()
			return []any{time.Date(y, m, d, 0, 0, 0, 0, env.Location)}, nil
		},
	},
	{
		ID:          "completions-since",
		Name:        "Recent Completions",
		Description: "Tasks completed within the last N days (default 7), per task type",
		SQL: `SELECT t.task_type, COUNT(*) AS completed
			FROM health_task_completion c JOIN health_task t ON t.id = c.task_id
			WHERE c.completed_at >= $1
			GROUP BY t.task_type ORDER BY completed DESC, t.task_type`,
		Parameters: []string{"days"},
		bind: func(env Env) ([]any, error) {
			days := defaultCompletionDays
			if v, ok := env.Params["days"]; ok {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 || n > 366 {
					return nil, fmt.Errorf("days must be an integer between 1 and 366")
				}
				days = n
			}
			return []any{env.Now.AddDate(0, 0, -days)}, nil
		},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Executor runs a read-only query and returns each row as a column map.
type Executor interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error)
}

// PGExecutor runs measures against PostgreSQL.
type PGExecutor struct {
	Pool *pgxpool.Pool
}

func (e PGExecutor) Query(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error) {
	rows, err := e.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = normalize(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// SQLExecutor runs measures against the embedded SQLite store. Time
// arguments are rendered in the store's TEXT layout.
type SQLExecutor struct {
	DB *sql.DB
}

func (e SQLExecutor) Query(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error) {
	bound := make([]any, len(args))
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			a = db.FormatSQLiteTime(t)
		}
		bound[i] = a
	}

	rows, err := e.DB.QueryContext(ctx, query, bound...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func normalize(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	default:
		return v
	}
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	exec  Executor
	clock clock.Clock
	loc   *time.Location
}

func NewHandler(exec Executor, clk clock.Clock, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.RealClock{Location: loc}
	}
	return &Handler{exec: exec, clock: clk, loc: loc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports")
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}

	report, err := h.Evaluate(c.Request().Context(), measure, params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Evaluate binds and runs a measure. Bad parameters yield a 400 HTTPError.
func (h *Handler) Evaluate(ctx context.Context, measure *MeasureDefinition, params map[string]string) (*MeasureReport, error) {
	now := h.clock.Now()
	var args []any
	if measure.bind != nil {
		var err error
		args, err = measure.bind(Env{Now: now, Location: h.loc, Params: params})
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	results, err := h.exec.Query(ctx, measure.SQL, args...)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("measure", measure.ID).Msg("measure query failed")
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "measure evaluation failed")
	}

	return &MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: now,
		Results:     results,
		Parameters:  params,
	}, nil
}
