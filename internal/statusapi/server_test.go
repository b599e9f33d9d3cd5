package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/instruction"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/settings"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gormDB
}

func get(t *testing.T, gormDB *gorm.DB, m *metrics.Metrics, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	newRouter(gormDB, m).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestStart_Validation(t *testing.T) {
	err := Start(context.Background(), StartOpts{Listen: ":0"})
	if err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v, want db error", err)
	}
	err = Start(context.Background(), StartOpts{DB: openTestDB(t)})
	if err == nil || !strings.Contains(err.Error(), "listen address is required") {
		t.Errorf("err = %v, want listen error", err)
	}
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	gormDB := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Start(ctx, StartOpts{DB: gormDB, Listen: "127.0.0.1:0", Ready: ready})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errCh:
		t.Fatalf("Start: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHealth(t *testing.T) {
	gormDB := openTestDB(t)
	settings.SetPaused(gormDB, true)
	settings.SetCursor(gormDB, 99)

	rec := get(t, gormDB, nil, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Paused bool   `json:"paused"`
		Cursor int64  `json:"cursor"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || !body.Paused || body.Cursor != 99 {
		t.Errorf("body = %+v", body)
	}
}

func TestHealth_ClosedDB(t *testing.T) {
	gormDB := openTestDB(t)
	sqlDB, _ := gormDB.DB()
	sqlDB.Close()

	rec := get(t, gormDB, nil, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestSessions(t *testing.T) {
	gormDB := openTestDB(t)
	m := metrics.New()
	first, _ := session.Register(gormDB, "api refactor", 0)
	second, _ := session.Register(gormDB, "docs", 0)
	instruction.Enqueue(gormDB, second.ID, "fix typo", "")
	gone, _ := session.Register(gormDB, "aborted", 0)
	session.Abort(gormDB, gone.ID)

	rec := get(t, gormDB, m, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sessions []sessionView `json:"sessions"`
	}
	decode(t, rec, &body)
	if len(body.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2 active", len(body.Sessions))
	}
	if body.Sessions[0].ID != first.ID || !body.Sessions[0].IsDefault {
		t.Errorf("first = %+v", body.Sessions[0])
	}
	if body.Sessions[1].Pending != 1 {
		t.Errorf("second pending = %d, want 1", body.Sessions[1].Pending)
	}
}

func TestApprovals(t *testing.T) {
	gormDB := openTestDB(t)
	a1, _ := approval.Create(gormDB, "deploy", "Ship?", "", approval.YesNo())
	approval.Create(gormDB, "tool", "Run Bash?", "", approval.YesNo())
	approval.Respond(gormDB, a1.ID, "allow")

	var body struct {
		Approvals []approvalView `json:"approvals"`
	}
	rec := get(t, gormDB, nil, "/api/approvals")
	decode(t, rec, &body)
	if len(body.Approvals) != 2 {
		t.Errorf("all approvals = %d, want 2", len(body.Approvals))
	}

	rec = get(t, gormDB, nil, "/api/approvals?status=responded")
	decode(t, rec, &body)
	if len(body.Approvals) != 1 || body.Approvals[0].ID != a1.ID || body.Approvals[0].ResponseValue != "allow" {
		t.Errorf("responded = %+v", body.Approvals)
	}

	rec = get(t, gormDB, nil, "/api/approvals?status=pending&limit=1")
	decode(t, rec, &body)
	if len(body.Approvals) != 1 || body.Approvals[0].Title != "Run Bash?" {
		t.Errorf("pending = %+v", body.Approvals)
	}
}

func TestApprovals_BadQuery(t *testing.T) {
	gormDB := openTestDB(t)
	for _, path := range []string{"/api/approvals?status=open", "/api/approvals?limit=-1", "/api/approvals?limit=x"} {
		if rec := get(t, gormDB, nil, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	gormDB := openTestDB(t)
	m := metrics.New()
	m.TransportErrors.Inc()

	rec := get(t, gormDB, m, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "signalbox_transport_errors_total 1") {
		t.Error("metrics output missing transport error counter")
	}

	if rec := get(t, gormDB, nil, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("without metrics: status = %d, want 404", rec.Code)
	}
}

func TestEvents_StreamsNewApprovals(t *testing.T) {
	gormDB := openTestDB(t)
	approval.Create(gormDB, "", "Already pending", "", approval.YesNo())

	oldInterval := eventInterval
	eventInterval = 10 * time.Millisecond
	t.Cleanup(func() { eventInterval = oldInterval })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(40 * time.Millisecond)
		approval.Create(gormDB, "deploy", "Ship v2?", "", approval.YesNo())
	}()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	newRouter(gormDB, nil).ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: connected\n") {
		t.Errorf("stream should start with connected event, got %q", body)
	}
	if !strings.Contains(body, "event: approval\n") || !strings.Contains(body, "Ship v2?") {
		t.Errorf("missing approval event in %q", body)
	}
	if strings.Contains(body, "Already pending") {
		t.Error("approvals pending before connect should not be streamed")
	}
}
