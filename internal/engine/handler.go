package engine

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/pkg/apperror"
	"github.com/medqueue/medqueue/pkg/pagination"
)

type Handler struct {
	engine *Engine
	logger zerolog.Logger
}

func NewHandler(engine *Engine, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	front := auth.ExpectRole(h.logger, auth.RoleReception, auth.RoleDoctor)
	doctor := auth.ExpectRole(h.logger, auth.RoleDoctor)
	pharmacy := auth.ExpectRole(h.logger, auth.RolePharmacist, auth.RoleDoctor)

	api.GET("/patients", h.ListQueue)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patients/token/:token", h.GetPatientByToken)
	api.GET("/patients/:id/wait", h.GetEstimatedWait)
	api.GET("/departments/:department/no-shows", h.ListNoShows)

	desk := api.Group("", front)
	desk.POST("/patients", h.RegisterPatient)
	desk.PUT("/patients/:id/status", h.UpdateStatus)
	desk.POST("/patients/:id/emergency", h.MarkEmergency)
	desk.DELETE("/patients/:id/emergency", h.ResolveEmergency)
	desk.POST("/patients/:id/late", h.MarkLateArrival)
	desk.PUT("/patients/:id/escalation", h.Escalate)
	desk.POST("/patients/:id/transfer", h.TransferDepartment)
	desk.DELETE("/patients/:id", h.RemovePatient)
	desk.POST("/departments/:department/call-next", h.CallNext)

	clinic := api.Group("", doctor)
	clinic.POST("/patients/:id/consultation", h.StartConsultation)
	clinic.POST("/patients/:id/complete", h.CompleteConsultation)
	clinic.POST("/prescriptions", h.CreatePrescription)
	clinic.POST("/prescriptions/suggest", h.SuggestTreatment)
	clinic.POST("/prescriptions/:id/verify", h.VerifyPrescription)
	clinic.POST("/prescriptions/:id/forward", h.ForwardPrescription)

	api.GET("/prescriptions/forwarded", h.ListForwarded)
	api.GET("/prescriptions/:id", h.GetPrescription)
	api.GET("/prescriptions/token/:token", h.GetPrescriptionByToken)

	counter := api.Group("", pharmacy)
	counter.POST("/prescriptions/:id/dispense", h.DispenseMedicine)
	counter.POST("/receipts/:id/scan", h.ScanReceipt)

	api.GET("/receipts/:id", h.GetReceipt)
	api.POST("/receipts/:id/invalidate", h.InvalidateReceipt, auth.ExpectRole(h.logger, auth.RoleAdmin))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string       `json:"message"`
	Kind    apperror.Kind `json:"kind"`
}

// HTTPErrorHandler renders typed failures as {"message", "kind"} with the
// status their kind maps to. It replaces echo's default handler.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := ErrorBody{Message: "internal error", Kind: apperror.KindInternal}

		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			body.Kind = kindForStatus(he.Code)
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			} else {
				body.Message = http.StatusText(he.Code)
			}
		default:
			kind := apperror.KindOf(err)
			status = apperror.HTTPStatus(kind)
			body.Kind = kind
			if kind != apperror.KindInternal {
				body.Message = apperror.Message(err)
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}

func kindForStatus(status int) apperror.Kind {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperror.KindNotFound
	case http.StatusConflict:
		return apperror.KindInvalidTransition
	case http.StatusServiceUnavailable:
		return apperror.KindUpstreamUnavailable
	}
	if status >= 400 && status < 500 {
		return apperror.KindInvalidInput
	}
	return apperror.KindInternal
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.InvalidInput("invalid id %q", c.Param("id"))
	}
	return id, nil
}

func parseDepartment(raw string) (queue.Department, error) {
	dept, ok := queue.ParseDepartment(raw)
	if !ok {
		return "", apperror.InvalidInput("unknown department %q", raw)
	}
	return dept, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperror.InvalidInput("malformed request body")
	}
	return nil
}

// patientOp adapts an id-only patient operation to a handler.
func (h *Handler) patientOp(c echo.Context, op func(*Engine, echo.Context, uuid.UUID) (*queue.Patient, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := op(h.engine, c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// -- Patients --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var in queue.RegisterInput
	if err := bind(c, &in); err != nil {
		return err
	}
	if in.Department != "" {
		if dept, ok := queue.ParseDepartment(string(in.Department)); ok {
			in.Department = dept
		}
	}
	p, err := h.engine.RegisterPatient(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListQueue(c echo.Context) error {
	var dept queue.Department
	if raw := c.QueryParam("department"); raw != "" {
		d, err := parseDepartment(raw)
		if err != nil {
			return err
		}
		dept = d
	}
	patients, err := h.engine.SortedQueue(c.Request().Context(), dept)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetPatient(c echo.Context) error {
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.GetPatient(c.Request().Context(), id)
	})
}

func (h *Handler) GetPatientByToken(c echo.Context) error {
	p, err := h.engine.GetPatientByToken(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetEstimatedWait(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	minutes, err := h.engine.EstimatedWait(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient_id":        id,
		"estimated_minutes": minutes,
	})
}

type statusRequest struct {
	Status queue.Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.UpdateStatus(c.Request().Context(), id, req.Status)
	})
}

func (h *Handler) MarkEmergency(c echo.Context) error {
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.MarkEmergency(c.Request().Context(), id)
	})
}

func (h *Handler) ResolveEmergency(c echo.Context) error {
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.ResolveEmergency(c.Request().Context(), id)
	})
}

func (h *Handler) MarkLateArrival(c echo.Context) error {
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.MarkLateArrival(c.Request().Context(), id)
	})
}

type escalationRequest struct {
	Level *int `json:"level"`
}

func (h *Handler) Escalate(c echo.Context) error {
	var req escalationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Level == nil {
		return apperror.InvalidInput("level is required")
	}
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.Escalate(c.Request().Context(), id, *req.Level)
	})
}

func (h *Handler) StartConsultation(c echo.Context) error {
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.StartConsultation(c.Request().Context(), id)
	})
}

type completeRequest struct {
	Diagnosis *string `json:"diagnosis"`
}

func (h *Handler) CompleteConsultation(c echo.Context) error {
	var req completeRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.CompleteConsultation(c.Request().Context(), id, req.Diagnosis)
	})
}

type transferRequest struct {
	Department string `json:"department"`
}

func (h *Handler) TransferDepartment(c echo.Context) error {
	var req transferRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	dept, err := parseDepartment(req.Department)
	if err != nil {
		return err
	}
	return h.patientOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*queue.Patient, error) {
		return e.TransferDepartment(c.Request().Context(), id, dept)
	})
}

func (h *Handler) RemovePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.engine.RemovePatient(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CallNext(c echo.Context) error {
	dept, err := parseDepartment(c.Param("department"))
	if err != nil {
		return err
	}
	p, err := h.engine.CallNext(c.Request().Context(), dept)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListNoShows(c echo.Context) error {
	dept, err := parseDepartment(c.Param("department"))
	if err != nil {
		return err
	}
	patients, err := h.engine.ListNoShows(c.Request().Context(), dept)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

// -- Prescriptions --

func (h *Handler) CreatePrescription(c echo.Context) error {
	var in prescription.CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	rx, err := h.engine.CreatePrescription(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rx)
}

type suggestRequest struct {
	Diagnosis string `json:"diagnosis"`
}

func (h *Handler) SuggestTreatment(c echo.Context) error {
	var req suggestRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Diagnosis == "" {
		return apperror.InvalidInput("diagnosis is required")
	}
	s, err := h.engine.SuggestTreatment(c.Request().Context(), req.Diagnosis)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) prescriptionOp(c echo.Context, op func(*Engine, echo.Context, uuid.UUID) (*prescription.Prescription, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rx, err := op(h.engine, c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	return h.prescriptionOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*prescription.Prescription, error) {
		return e.GetPrescription(c.Request().Context(), id)
	})
}

func (h *Handler) GetPrescriptionByToken(c echo.Context) error {
	rx, err := h.engine.GetPrescriptionByToken(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) VerifyPrescription(c echo.Context) error {
	return h.prescriptionOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*prescription.Prescription, error) {
		return e.VerifyPrescription(c.Request().Context(), id)
	})
}

func (h *Handler) ForwardPrescription(c echo.Context) error {
	return h.prescriptionOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*prescription.Prescription, error) {
		return e.ForwardPrescription(c.Request().Context(), id)
	})
}

func (h *Handler) DispenseMedicine(c echo.Context) error {
	return h.prescriptionOp(c, func(e *Engine, c echo.Context, id uuid.UUID) (*prescription.Prescription, error) {
		return e.DispenseMedicine(c.Request().Context(), id)
	})
}

func (h *Handler) ListForwarded(c echo.Context) error {
	list, err := h.engine.ForwardedPrescriptions(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Page(list, pagination.FromContext(c)))
}

// -- Receipts --

func (h *Handler) GetReceipt(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.engine.GetReceipt(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ScanReceipt(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.engine.ScanReceipt(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) InvalidateReceipt(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.engine.InvalidateReceipt(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}
