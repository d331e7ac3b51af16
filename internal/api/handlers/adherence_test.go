package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/carelink/pillwise/internal/domain/adherence"
	"github.com/carelink/pillwise/internal/domain/dose"
	"github.com/carelink/pillwise/internal/domain/medication"
	"github.com/carelink/pillwise/internal/domain/schedule"
	"github.com/carelink/pillwise/internal/observability/metrics"
	"github.com/carelink/pillwise/pkg/circuitbreaker"
)

var now = time.Date(2024, time.May, 15, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router  chi.Router
	metrics *metrics.Metrics
	schedID string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	meds := medication.NewMemoryStore()
	m, err := meds.AddMedication(medication.Medication{
		UserID: "user-1", Name: "Warfin", ActiveSubstance: "Warfaryna", CurrentQuantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := meds.AddMedication(medication.Medication{
		UserID: "user-1", Name: "Polopiryna", ActiveSubstance: "Kwas acetylosalicylowy", CurrentQuantity: 20,
	}); err != nil {
		t.Fatal(err)
	}
	sc, err := meds.AddSchedule(schedule.Schedule{
		MedicationID: m.ID, UserID: "user-1", Times: []string{"08:00", "20:00"},
		StartDate: now.AddDate(0, 0, -1), IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := adherence.Config{Location: time.UTC, GraceWindow: dose.DefaultGraceWindow, Timeout: time.Second}
	tracker := adherence.New(cfg, meds, dose.NewMemoryRepository(), nil, nil, nil,
		adherence.WithClock(func() time.Time { return now }))

	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)
	h := NewAdherenceHandler(tracker, mtr, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1/users/{userID}", h.Routes())
	return &testServer{router: r, metrics: mtr, schedID: sc.ID}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestGetDoses(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/users/user-1/doses", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Date  string      `json:"date"`
		Doses []dose.Dose `json:"doses"`
	}
	decode(t, rec, &body)
	if body.Date != "2024-05-15" || len(body.Doses) != 2 {
		t.Errorf("body = %+v", body)
	}
	if got := testutil.ToFloat64(s.metrics.DosesGenerated); got != 2 {
		t.Errorf("doses_generated_total = %v, want 2", got)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/users/user-1/doses?date=15-05-2024", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}
}

func TestTakeThenSkipConflicts(t *testing.T) {
	s := newTestServer(t)
	key := dose.Key(s.schedID, now, "08:00")

	rec := s.do(t, http.MethodPost, "/api/v1/users/user-1/doses/"+key+"/take", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("take: status = %d: %s", rec.Code, rec.Body)
	}
	var res adherence.RecordResult
	decode(t, rec, &res)
	if res.Dose.Status != dose.StatusTaken || !res.Persisted {
		t.Errorf("result = %+v", res)
	}
	if got := testutil.ToFloat64(s.metrics.DoseStatusRecorded.WithLabelValues("taken")); got != 1 {
		t.Errorf("dose_status_recorded_total{taken} = %v", got)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/users/user-1/doses/"+key+"/skip", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("skip after take: status = %d, want 409", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/users/user-1/progress", "")
	var p dose.Progress
	decode(t, rec, &p)
	if p.Percentage != 50 {
		t.Errorf("progress = %+v, want 50%%", p)
	}
}

func TestRecordErrorStatus(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		key  string
		want int
	}{
		{"malformed", "garbage", http.StatusBadRequest},
		{"unknown schedule", dose.Key("sched-x", now, "08:00"), http.StatusNotFound},
		{"unscheduled time", dose.Key(s.schedID, now, "13:00"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/users/user-1/doses/"+tt.key+"/take", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWeekEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/users/user-1/doses/week", "")
	var week map[string][]dose.Dose
	decode(t, rec, &week)
	if len(week) != 7 {
		t.Errorf("days = %d, want 7", len(week))
	}
}

func TestInteractionEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/users/user-1/interactions", "")
	var all struct {
		Interactions []struct {
			ID string `json:"id"`
		} `json:"interactions"`
	}
	decode(t, rec, &all)
	if len(all.Interactions) != 1 || all.Interactions[0].ID != "1" {
		t.Errorf("interactions = %+v, want rule 1", all.Interactions)
	}
	if got := testutil.ToFloat64(s.metrics.InteractionsFound.WithLabelValues("high")); got != 1 {
		t.Errorf("drug_interactions_found_total{high} = %v", got)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/users/user-1/interactions/check", `{"activeSubstance":"paracetamol"}`)
	var res struct {
		HasInteraction  bool   `json:"hasInteraction"`
		HighestSeverity string `json:"highestSeverity"`
	}
	decode(t, rec, &res)
	if !res.HasInteraction || res.HighestSeverity != "medium" {
		t.Errorf("check = %+v", res)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/users/user-1/interactions/check", `{"activeSubstance":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank substance: status = %d, want 400", rec.Code)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/users/user-1/alerts?name=Jan", "")
	var body struct {
		Alerts []struct {
			Type       string `json:"type"`
			SeniorName string `json:"seniorName"`
		} `json:"alerts"`
	}
	decode(t, rec, &body)

	types := map[string]int{}
	for _, a := range body.Alerts {
		types[a.Type]++
		if a.SeniorName != "Jan" {
			t.Errorf("senior name = %q", a.SeniorName)
		}
	}
	if types["missed_dose"] != 1 || types["interaction"] != 1 {
		t.Errorf("alert types = %v", types)
	}
}

func TestCreateMedicationAndSchedule(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/users/user-1/medications",
		`{"name":"Apap","activeSubstance":"Paracetamol","currentQuantity":12}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create medication status = %d: %s", rec.Code, rec.Body.String())
	}
	var med medication.Medication
	decode(t, rec, &med)
	if med.ID == "" || med.UserID != "user-1" || med.Form != medication.FormTablet {
		t.Errorf("medication = %+v", med)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/users/user-1/schedules",
		`{"medicationId":"`+med.ID+`","times":["12:00"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create schedule status = %d: %s", rec.Code, rec.Body.String())
	}
	var sc schedule.Schedule
	decode(t, rec, &sc)
	if sc.ID == "" || !sc.IsActive || sc.ReminderMinutes != DefaultReminderMinutes {
		t.Errorf("schedule = %+v", sc)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/users/user-1/doses", "")
	var body struct {
		Doses []struct {
			MedicationID string `json:"medicationId"`
		} `json:"doses"`
	}
	decode(t, rec, &body)
	found := false
	for _, d := range body.Doses {
		if d.MedicationID == med.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("new schedule produced no dose today: %s", rec.Body.String())
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/users/user-1/medications",
		`{"name":"Apap","activeSubstance":"Paracetamol"}`)
	var med medication.Medication
	decode(t, rec, &med)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad time of day", "/schedules", `{"medicationId":"` + med.ID + `","times":["25:00"]}`, http.StatusBadRequest},
		{"no times", "/schedules", `{"medicationId":"` + med.ID + `","times":[]}`, http.StatusBadRequest},
		{"negative reminder", "/schedules", `{"medicationId":"` + med.ID + `","times":["08:00"],"reminderMinutesBefore":-5}`, http.StatusBadRequest},
		{"unknown medication", "/schedules", `{"medicationId":"nope","times":["08:00"]}`, http.StatusNotFound},
		{"blank substance", "/medications", `{"name":"Apap","activeSubstance":"   "}`, http.StatusBadRequest},
		{"bad form", "/medications", `{"name":"Apap","activeSubstance":"Paracetamol","form":"powder"}`, http.StatusBadRequest},
		{"malformed body", "/medications", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/users/user-1"+tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestReady(t *testing.T) {
	mgr := circuitbreaker.NewManager(nil)
	if _, err := mgr.GetOrCreate(circuitbreaker.StockPersistence, circuitbreaker.DefaultConfig(circuitbreaker.StockPersistence)); err != nil {
		t.Fatal(err)
	}

	h := NewHealthHandler(map[string]Check{
		"database": func(context.Context) error { return nil },
	}, mgr)
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ReadyResponse
	decode(t, rec, &resp)
	if len(resp.Breakers) != 1 || resp.Breakers[0].Name != circuitbreaker.StockPersistence {
		t.Errorf("breakers = %+v", resp.Breakers)
	}

	h = NewHealthHandler(map[string]Check{
		"kafka": func(context.Context) error { return errors.New("no brokers") },
	}, nil)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
