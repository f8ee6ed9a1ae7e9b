package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Avidan87/KAI-sub000/internal/api"
	"github.com/Avidan87/KAI-sub000/internal/db"
	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type riceLookup struct{}

func (riceLookup) LookupFood(_ context.Context, name string) (service.FoodFacts, bool, error) {
	if name != "rice" {
		return service.FoodFacts{}, false, nil
	}
	var per100 model.NutrientVector
	per100.Set(model.Calories, 150)
	per100.Set(model.Protein, 3)
	return service.FoodFacts{Name: "rice", Category: "grain", Per100g: per100, Source: service.SourceManual}, true, nil
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*api.Server, *sql.DB) {
	t.Helper()
	sqldb, err := db.Open(filepath.Join(t.TempDir(), "kai.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	deps := service.Deps{Lookup: riceLookup{}, Now: func() time.Time { return fixedNow }}
	return api.NewServer(sqldb, deps, api.Options{CORSOrigins: []string{"http://localhost:3000"}}), sqldb
}

func do(t *testing.T, s *api.Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMealRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	meal := map[string]any{
		"logged_at": fixedNow,
		"foods":     []map[string]any{{"food_name": "rice", "raw_grams": 200, "confidence": 0.8}},
	}
	headers := map[string]string{"Idempotency-Key": "k-1"}
	rec := do(t, s, http.MethodPost, "/v1/users/me/meals", meal, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created service.MealLogResult
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode meal: %v", err)
	}
	if created.Meal.Total.Get(model.Calories) != 300 || created.Coaching.Phase != model.PhaseLearning {
		t.Fatalf("unexpected meal result: %+v", created)
	}

	rec = do(t, s, http.MethodPost, "/v1/users/me/meals", meal, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a retried key, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/v1/users/me/ledger/2026-03-02", nil, nil)
	var ledger model.DailyLedger
	if err := json.Unmarshal(rec.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.MealCount != 1 || ledger.Totals.Get(model.Calories) != 300 {
		t.Fatalf("expected one folded meal, got %+v", ledger)
	}

	rec = do(t, s, http.MethodDelete, "/v1/users/me/meals/"+created.Meal.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodDelete, "/v1/users/me/meals/"+created.Meal.ID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestProfileValidationMapsTo400(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/v1/users/me/profile", map[string]any{"gender": "robot"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/v1/users/me/profile", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before a profile exists, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPut, "/v1/users/me/profile", map[string]any{
		"gender": "female", "age": 28, "weight": 70, "height": 165,
		"activity_level": "moderate", "goal": "lose_weight",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodGet, "/v1/users/me/targets", nil, nil)
	var targets service.RDVTargets
	if err := json.Unmarshal(rec.Body.Bytes(), &targets); err != nil {
		t.Fatalf("decode targets: %v", err)
	}
	if !targets.Personalized || targets.Targets.Get(model.Calories) != 1716.89 {
		t.Fatalf("expected personalized targets, got %+v", targets)
	}
}

func TestCoachingRejectsBadDate(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/v1/users/me/coaching?date=03-02-2026", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/v1/users/me/coaching?date=2026-03-02", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/users/me/meals", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

func TestSchedulerRepairsDrift(t *testing.T) {
	t.Parallel()
	s, sqldb := newTestServer(t)
	meal := map[string]any{"logged_at": fixedNow, "foods": []map[string]any{{"food_name": "rice", "raw_grams": 200}}}
	if rec := do(t, s, http.MethodPost, "/v1/users/me/meals", meal, nil); rec.Code != http.StatusCreated {
		t.Fatalf("log meal: %d", rec.Code)
	}
	if _, err := sqldb.Exec(`UPDATE daily_ledger SET calories = 0`); err != nil {
		t.Fatalf("corrupt ledger: %v", err)
	}

	sched, err := api.NewScheduler(sqldb, "0 3 * * *", nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.RepairLedgers()

	l, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if l.Totals.Get(model.Calories) != 300 {
		t.Fatalf("expected repaired 300 kcal, got %.1f", l.Totals.Get(model.Calories))
	}
	if _, err := api.NewScheduler(sqldb, "not a schedule", nil); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}
