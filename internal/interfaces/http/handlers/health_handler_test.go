package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	"github.com/xyz-jphil/ccapis/internal/domain/service"
)

type staticPool struct {
	pool *entity.CredentialPool
}

func (s staticPool) Pool() *entity.CredentialPool { return s.pool }

func healthTestPool(t *testing.T) *entity.CredentialPool {
	t.Helper()
	work, err := entity.NewCredential("work", "Work", "sk-ses-1", "org-1", "https://claude.ai", 5,
		entity.CredentialFlags{Active: true, TrackUsage: true}, nil)
	if err != nil {
		t.Fatalf("build credential: %v", err)
	}
	backup, err := entity.NewCredential("backup", "Backup", "sk-ses-2", "org-2", "https://claude.ai", 1,
		entity.CredentialFlags{Active: true}, nil)
	if err != nil {
		t.Fatalf("build credential: %v", err)
	}
	spare, err := entity.NewCredential("spare", "Spare", "sk-ses-3", "org-3", "https://claude.ai", 0,
		entity.CredentialFlags{}, nil)
	if err != nil {
		t.Fatalf("build credential: %v", err)
	}
	pool, err := entity.NewCredentialPool([]*entity.Credential{work, backup, spare})
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}
	return pool
}

func newHealthRouter(pool *entity.CredentialPool, monitor *service.HealthMonitor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHealthHandler(staticPool{pool}, monitor, "1.2.3", zap.NewNop())
	router.GET("/health", h.Health)
	router.GET("/health/accounts", h.Accounts)
	return router
}

func getPath(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth_ReportsPoolSummary(t *testing.T) {
	monitor := service.NewHealthMonitor(service.DefaultBreakerConfig(), zap.NewNop())
	router := newHealthRouter(healthTestPool(t), monitor)

	w := getPath(t, router, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Status            string   `json:"status"`
		Service           string   `json:"service"`
		Version           string   `json:"version"`
		ActiveCredentials []string `json:"active_credentials"`
		CredentialCount   int      `json:"credential_count"`
		Timestamp         string   `json:"timestamp"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" || body.Service != "ccapis" || body.Version != "1.2.3" {
		t.Fatalf("unexpected identity fields: %+v", body)
	}
	if body.CredentialCount != 3 {
		t.Fatalf("expected 3 credentials, got %d", body.CredentialCount)
	}
	if len(body.ActiveCredentials) != 2 || body.ActiveCredentials[0] != "work" || body.ActiveCredentials[1] != "backup" {
		t.Fatalf("unexpected active list: %v", body.ActiveCredentials)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", body.Timestamp)
	}
}

func TestHealth_EmptyPoolStillOK(t *testing.T) {
	monitor := service.NewHealthMonitor(service.DefaultBreakerConfig(), zap.NewNop())
	router := newHealthRouter(nil, monitor)

	w := getPath(t, router, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"active_credentials":[]`) {
		t.Fatalf("active list must serialize as an empty array: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"credential_count":0`) {
		t.Fatalf("expected zero count: %s", w.Body.String())
	}
}

func TestAccounts_ListsCredentialStates(t *testing.T) {
	monitor := service.NewHealthMonitor(service.DefaultBreakerConfig(), zap.NewNop())
	monitor.UpdateUsage("work", &entity.UsageSnapshot{
		Windows: map[string]entity.WindowUsage{
			entity.WindowFiveHour: {Utilization: 42.5, ResetsAt: time.Now().Add(90 * time.Minute)},
		},
		FetchedAt: time.Now().Add(-30 * time.Second),
	})
	router := newHealthRouter(healthTestPool(t), monitor)

	w := getPath(t, router, "/health/accounts")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected plain text, got %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"3 account(s), 2 active",
		"[work] Work (tier 5)  HEALTHY",
		"five-hour window: 42.5% used",
		", resets ",
		"[backup] Backup (tier 1)  HEALTHY",
		"no usage snapshot",
		"[spare] Spare (tier 0)  INACTIVE",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("accounts output missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "sk-ses-") {
		t.Fatal("session keys must never appear in the accounts output")
	}
}

func TestAccounts_ShowsCooldownAndFailures(t *testing.T) {
	monitor := service.NewHealthMonitor(service.DefaultBreakerConfig(), zap.NewNop())
	monitor.RecordFailure("work", service.FailureRateLimited)
	monitor.RecordFailure("backup", service.FailureGeneric)
	router := newHealthRouter(healthTestPool(t), monitor)

	body := getPath(t, router, "/health/accounts").Body.String()
	for _, want := range []string{
		"[work] Work (tier 5)  TRIPPED",
		"cooling down until ",
		"[backup] Backup (tier 1)  DEGRADED",
		"consecutive failures: 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("accounts output missing %q:\n%s", want, body)
		}
	}
}

func TestAccounts_NoCredentials(t *testing.T) {
	monitor := service.NewHealthMonitor(service.DefaultBreakerConfig(), zap.NewNop())
	router := newHealthRouter(nil, monitor)

	body := getPath(t, router, "/health/accounts").Body.String()
	if !strings.Contains(body, "no credentials configured") {
		t.Fatalf("unexpected output: %s", body)
	}
}
