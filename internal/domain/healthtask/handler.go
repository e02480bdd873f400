package healthtask

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carefacility/care/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/health-tasks", h.List)
	api.POST("/health-tasks", h.Create)
	api.GET("/health-tasks/worklist", h.Worklist)
	api.POST("/health-tasks/preview", h.Preview)
	api.GET("/health-tasks/:id", h.Get)
	api.PUT("/health-tasks/:id", h.Update)
	api.DELETE("/health-tasks/:id", h.Delete)
	api.POST("/health-tasks/:id/complete", h.Complete)
}

// locale honours ?lang= before the Accept-Language header.
func locale(c echo.Context) Locale {
	if lang := c.QueryParam("lang"); lang != "" {
		return NegotiateLocale(lang)
	}
	return NegotiateLocale(c.Request().Header.Get("Accept-Language"))
}

func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "health task not found")
	case errors.Is(err, ErrCannotDetermineNextDue):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidTask):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("health task request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var t HealthTask
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &t); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, h.svc.View(&t, locale(c)))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, h.svc.View(t, locale(c)))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	opts := ListOptions{
		TaskType: TaskType(c.QueryParam("task_type")),
		Status:   Status(c.QueryParam("status")),
	}
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		opts.PatientID = &pid
	}
	items, total, err := h.svc.List(c.Request().Context(), opts, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(h.svc.Views(items, locale(c)), total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t HealthTask
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.Update(c.Request().Context(), &t); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, h.svc.View(&t, locale(c)))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, h.svc.View(t, locale(c)))
}

func (h *Handler) Worklist(c echo.Context) error {
	var patientID *uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &pid
	}
	wl, err := h.svc.Worklist(c.Request().Context(), patientID, locale(c))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, wl)
}

type previewRequest struct {
	HealthTask
	From  *time.Time `json:"from,omitempty"`
	Count int        `json:"count,omitempty"`
}

type previewResponse struct {
	FrequencyDescription string      `json:"frequency_description"`
	Occurrences          []time.Time `json:"occurrences"`
}

// Preview lists upcoming due instants for an unsaved rule. The count may
// also be passed as ?count=.
func (h *Handler) Preview(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if raw := c.QueryParam("count"); raw != "" && req.Count == 0 {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid count")
		}
		req.Count = n
	}
	var from time.Time
	if req.From != nil {
		from = *req.From
	}
	occ, err := h.svc.Preview(&req.HealthTask, from, req.Count)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, previewResponse{
		FrequencyDescription: DescribeFrequency(&req.HealthTask, locale(c)),
		Occurrences:          occ,
	})
}
