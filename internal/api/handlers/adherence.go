// Package handlers provides HTTP handlers for the adherence API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carelink/pillwise/internal/api/middleware"
	"github.com/carelink/pillwise/internal/domain/adherence"
	"github.com/carelink/pillwise/internal/domain/alert"
	"github.com/carelink/pillwise/internal/domain/dose"
	"github.com/carelink/pillwise/internal/domain/interaction"
	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
	"github.com/carelink/pillwise/internal/observability/metrics"
)

// AdherenceHandler serves the per-user dose, progress, interaction and alert endpoints
type AdherenceHandler struct {
	tracker *adherence.Tracker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAdherenceHandler creates a new handler; m may be nil
func NewAdherenceHandler(tracker *adherence.Tracker, m *metrics.Metrics, logger *zap.Logger) *AdherenceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdherenceHandler{tracker: tracker, metrics: m, logger: logger}
}

// Routes returns the handler routes. Mount them under a path with a {userID} parameter.
func (h *AdherenceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/medications", h.CreateMedication)
	r.Post("/schedules", h.CreateSchedule)
	r.Get("/doses", h.Doses)
	r.Get("/doses/week", h.Week)
	r.Post("/doses/{doseKey}/take", h.record(dose.StatusTaken))
	r.Post("/doses/{doseKey}/skip", h.record(dose.StatusSkipped))
	r.Get("/progress", h.Progress)
	r.Get("/interactions", h.Interactions)
	r.Post("/interactions/check", h.CheckInteraction)
	r.Get("/alerts", h.Alerts)
	return r
}

// CreateMedication handles POST /medications
func (h *AdherenceHandler) CreateMedication(w http.ResponseWriter, r *http.Request) {
	var m medication.Medication
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m.ID = ""
	if err := h.tracker.AddMedication(r.Context(), chi.URLParam(r, "userID"), &m); err != nil {
		h.fail(w, r, "create medication", err)
		return
	}
	h.json(w, http.StatusCreated, m)
}

// ScheduleRequest is the request body for POST /schedules
type ScheduleRequest struct {
	MedicationID    string     `json:"medicationId"`
	Times           []string   `json:"times"`
	DaysOfWeek      []int      `json:"daysOfWeek"`
	DosageAmount    string     `json:"dosageAmount"`
	StartDate       *time.Time `json:"startDate"`
	EndDate         *time.Time `json:"endDate"`
	ReminderMinutes *int       `json:"reminderMinutesBefore"`
	IsActive        *bool      `json:"isActive"`
}

// DefaultReminderMinutes applies when a schedule request omits reminderMinutesBefore
const DefaultReminderMinutes = 10

func (req ScheduleRequest) schedule() schedule.Schedule {
	s := schedule.Schedule{
		MedicationID:    req.MedicationID,
		Times:           req.Times,
		DaysOfWeek:      req.DaysOfWeek,
		DosageAmount:    req.DosageAmount,
		EndDate:         req.EndDate,
		ReminderMinutes: DefaultReminderMinutes,
		IsActive:        true,
	}
	if req.StartDate != nil {
		s.StartDate = *req.StartDate
	}
	if req.ReminderMinutes != nil {
		s.ReminderMinutes = *req.ReminderMinutes
	}
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}
	return s
}

// CreateSchedule handles POST /schedules
func (h *AdherenceHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s := req.schedule()
	if err := h.tracker.AddSchedule(r.Context(), chi.URLParam(r, "userID"), &s); err != nil {
		h.fail(w, r, "create schedule", err)
		return
	}
	h.json(w, http.StatusCreated, s)
}

// Doses handles GET /doses?date=YYYY-MM-DD
func (h *AdherenceHandler) Doses(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	doses, err := h.tracker.Doses(r.Context(), chi.URLParam(r, "userID"), date)
	if err != nil {
		h.fail(w, r, "load doses", err)
		return
	}
	if h.metrics != nil {
		h.metrics.DosesGenerated.Add(float64(len(doses)))
	}
	h.json(w, http.StatusOK, map[string]interface{}{
		"date":  date.Format(dose.KeyDateLayout),
		"doses": doses,
	})
}

// Week handles GET /doses/week
func (h *AdherenceHandler) Week(w http.ResponseWriter, r *http.Request) {
	week, err := h.tracker.Week(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, "load week", err)
		return
	}
	h.json(w, http.StatusOK, week)
}

// Progress handles GET /progress?date=YYYY-MM-DD
func (h *AdherenceHandler) Progress(w http.ResponseWriter, r *http.Request) {
	date, ok := h.date(w, r)
	if !ok {
		return
	}
	p, err := h.tracker.Progress(r.Context(), chi.URLParam(r, "userID"), date)
	if err != nil {
		h.fail(w, r, "load progress", err)
		return
	}
	h.json(w, http.StatusOK, p)
}

func (h *AdherenceHandler) record(status dose.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := chi.URLParam(r, "userID")
		key := chi.URLParam(r, "doseKey")

		res, err := h.tracker.Record(ctx, userID, key, status)
		if err != nil {
			h.fail(w, r, "record dose", err)
			return
		}

		if h.metrics != nil {
			h.metrics.DoseStatusRecorded.WithLabelValues(string(status)).Inc()
			if !res.Persisted {
				h.metrics.PersistenceFailures.WithLabelValues("put_override").Inc()
			}
		}
		h.logger.Info("dose recorded",
			zap.String("user_id", userID),
			zap.String("dose_key", key),
			zap.String("status", string(status)),
			zap.Bool("persisted", res.Persisted),
			zap.String("request_id", middleware.GetRequestID(ctx)))

		h.json(w, http.StatusOK, res)
	}
}

// Interactions handles GET /interactions
func (h *AdherenceHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	rules, err := h.tracker.Interactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, "check interactions", err)
		return
	}
	h.countInteractions(rules)
	if rules == nil {
		rules = []interaction.Rule{}
	}
	h.json(w, http.StatusOK, map[string]interface{}{"interactions": rules})
}

// CheckRequest is the request body for POST /interactions/check
type CheckRequest struct {
	ActiveSubstance string `json:"activeSubstance"`
}

// CheckInteraction handles POST /interactions/check
func (h *AdherenceHandler) CheckInteraction(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ActiveSubstance) == "" {
		h.jsonError(w, "activeSubstance is required", http.StatusBadRequest)
		return
	}

	res, err := h.tracker.CheckSubstance(r.Context(), chi.URLParam(r, "userID"), req.ActiveSubstance)
	if err != nil {
		h.fail(w, r, "check interactions", err)
		return
	}
	h.countInteractions(res.Interactions)
	h.json(w, http.StatusOK, res)
}

// Alerts handles GET /alerts?name=
func (h *AdherenceHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	senior := alert.Senior{ID: chi.URLParam(r, "userID"), Name: r.URL.Query().Get("name")}
	alerts, err := h.tracker.Alerts(r.Context(), senior)
	if err != nil {
		h.fail(w, r, "evaluate alerts", err)
		return
	}
	if h.metrics != nil {
		for t, n := range alert.CountByType(alerts) {
			h.metrics.AlertsPublished(string(t), n)
		}
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	h.json(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (h *AdherenceHandler) countInteractions(rules []interaction.Rule) {
	if h.metrics == nil {
		return
	}
	for _, rule := range rules {
		h.metrics.InteractionsFound.WithLabelValues(string(rule.Severity)).Inc()
	}
}

// date reads the optional date query parameter; absent means today
func (h *AdherenceHandler) date(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return h.tracker.Now(), true
	}
	d, err := time.ParseInLocation(dose.KeyDateLayout, v, h.tracker.Location())
	if err != nil {
		h.jsonError(w, "date must be formatted YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return d, true
}

// validationErrors are rejected with 400
var validationErrors = []error{
	dose.ErrInvalidKey,
	schedule.ErrInvalidTime,
	schedule.ErrNoTimes,
	schedule.ErrDuplicateTime,
	schedule.ErrInvalidDay,
	schedule.ErrMissingMedicine,
	schedule.ErrEndBeforeStart,
	schedule.ErrNegativeReminder,
	medication.ErrMissingUser,
	medication.ErrMissingName,
	medication.ErrMissingSubstance,
	medication.ErrInvalidForm,
	medication.ErrNegativeQuantity,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// fail maps domain errors to status codes
func (h *AdherenceHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case isValidation(err):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dose.ErrScheduleNotFound), errors.Is(err, adherence.ErrDoseNotFound),
		errors.Is(err, medication.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, dose.ErrInvalidTransition):
		h.jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op+" failed",
			zap.String("user_id", chi.URLParam(r, "userID")),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.PersistenceFailures.WithLabelValues(strings.ReplaceAll(op, " ", "_")).Inc()
		}
		h.jsonError(w, "failed to "+op, http.StatusInternalServerError)
	}
}

func (h *AdherenceHandler) json(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *AdherenceHandler) jsonError(w http.ResponseWriter, message string, code int) {
	h.json(w, code, map[string]string{"error": message})
}
