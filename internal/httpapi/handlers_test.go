package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hotcalls-core/internal/auth"
	"hotcalls-core/internal/billing"
	"hotcalls-core/internal/disposition"
	"hotcalls-core/internal/schedule"

	"github.com/gin-gonic/gin"
)

type fakeScheduler struct {
	res schedule.Result
	err error

	workspaceID string
	itemID      string
	code        string
	hint        string
}

func (f *fakeScheduler) HandleOutcome(ctx context.Context, workspaceID, itemID, code, hint string) (schedule.Result, error) {
	f.workspaceID = workspaceID
	f.itemID = itemID
	f.code = code
	f.hint = hint
	return f.res, f.err
}

type fakeUsage struct {
	status billing.UsageStatus
	err    error
}

func (f *fakeUsage) GetUsageStatus(ctx context.Context, workspaceID string, feature billing.Feature) (billing.UsageStatus, error) {
	return f.status, f.err
}

type fakeGate struct {
	acquired bool
	err      error

	acquires int
	releases int
	released string
}

func (f *fakeGate) AcquireCallSlot(ctx context.Context, workspaceID string) (bool, error) {
	f.acquires++
	return f.acquired, f.err
}

func (f *fakeGate) ReleaseCallSlot(ctx context.Context, workspaceID string) error {
	f.releases++
	f.released = workspaceID
	return nil
}

func testRouter(h *Handlers, identity bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if identity {
		r.Use(func(c *gin.Context) {
			ctx := auth.WithIdentity(c.Request.Context(), "user-1", "ws-1", "admin")
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
	r.POST("/webhooks/calls/outcome", h.ReportOutcome)
	r.POST("/v1/calls/start", h.StartCall)
	r.GET("/v1/usage/:feature", h.UsageStatus)
	return r
}

func postOutcome(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calls/outcome", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestReportOutcome_Deleted(t *testing.T) {
	sched := &fakeScheduler{res: schedule.Result{
		Outcome:      disposition.OutcomeSuccess,
		Deleted:      true,
		DeleteReason: schedule.DeleteReasonCompleted,
	}}
	r := testRouter(&Handlers{Scheduler: sched}, false)

	w := postOutcome(t, r, `{"workspace_id":"ws-1","call_item_id":"item-1","termination_code":"completed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["deleted"] != true || body["delete_reason"] != string(schedule.DeleteReasonCompleted) {
		t.Fatalf("unexpected body %v", body)
	}
	if sched.workspaceID != "ws-1" || sched.itemID != "item-1" || sched.code != "completed" {
		t.Fatalf("unexpected call %+v", sched)
	}
}

func TestReportOutcome_Rescheduled(t *testing.T) {
	next := time.Date(2024, 6, 21, 7, 0, 0, 0, time.UTC)
	sched := &fakeScheduler{res: schedule.Result{
		Outcome: disposition.OutcomeRetryIncrement,
		Item: schedule.CallItem{
			Status:       schedule.CallItemStatusRetry,
			Attempts:     2,
			NextActionAt: next,
		},
	}}
	r := testRouter(&Handlers{Scheduler: sched}, false)

	w := postOutcome(t, r, `{"workspace_id":"ws-1","call_item_id":"item-1","termination_code":"busy","hint":"station busy"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["deleted"] != false || body["status"] != string(schedule.CallItemStatusRetry) {
		t.Fatalf("unexpected body %v", body)
	}
	if body["attempts"] != float64(2) {
		t.Fatalf("unexpected attempts %v", body["attempts"])
	}
	if sched.hint != "station busy" {
		t.Fatalf("hint not forwarded: %q", sched.hint)
	}
}

func TestReportOutcome_ReleasesCallSlot(t *testing.T) {
	sched := &fakeScheduler{res: schedule.Result{
		Outcome:      disposition.OutcomeSuccess,
		Deleted:      true,
		DeleteReason: schedule.DeleteReasonCompleted,
	}}
	gate := &fakeGate{}
	r := testRouter(&Handlers{Scheduler: sched, Calls: gate}, false)

	w := postOutcome(t, r, `{"workspace_id":"ws-1","call_item_id":"item-1","termination_code":"completed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gate.releases != 1 || gate.released != "ws-1" {
		t.Fatalf("expected one slot release for ws-1, got %+v", gate)
	}
}

func TestReportOutcome_NoReleaseOnFailure(t *testing.T) {
	sched := &fakeScheduler{err: schedule.ErrNotFound}
	gate := &fakeGate{}
	r := testRouter(&Handlers{Scheduler: sched, Calls: gate}, false)

	w := postOutcome(t, r, `{"workspace_id":"ws-1","call_item_id":"missing","termination_code":"busy"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if gate.releases != 0 {
		t.Fatalf("expected no release on failed handling, got %d", gate.releases)
	}
}

func TestStartCall_Accepted(t *testing.T) {
	gate := &fakeGate{acquired: true}
	r := testRouter(&Handlers{Calls: gate}, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/start", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "queued" || body["call_id"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
	if gate.acquires != 1 {
		t.Fatalf("expected one acquire, got %d", gate.acquires)
	}
}

func TestStartCall_SlotSaturated(t *testing.T) {
	gate := &fakeGate{acquired: false}
	r := testRouter(&Handlers{Calls: gate}, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/start", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestStartCall_MissingIdentity(t *testing.T) {
	gate := &fakeGate{acquired: true}
	r := testRouter(&Handlers{Calls: gate}, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/start", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if gate.acquires != 0 {
		t.Fatalf("gate must not run without identity")
	}
}

func TestStartCall_SubscriptionConflict(t *testing.T) {
	gate := &fakeGate{err: billing.ErrNoActiveSubscription}
	r := testRouter(&Handlers{Calls: gate}, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/calls/start", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestReportOutcome_BadRequest(t *testing.T) {
	r := testRouter(&Handlers{Scheduler: &fakeScheduler{}}, false)

	for _, body := range []string{
		`{}`,
		`{"workspace_id":"ws-1"}`,
		`not json`,
	} {
		w := postOutcome(t, r, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestReportOutcome_NotFound(t *testing.T) {
	sched := &fakeScheduler{err: schedule.ErrNotFound}
	r := testRouter(&Handlers{Scheduler: sched}, false)

	w := postOutcome(t, r, `{"workspace_id":"ws-1","call_item_id":"missing","termination_code":"busy"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUsageStatus_OK(t *testing.T) {
	usage := &fakeUsage{status: billing.UsageStatus{
		Feature:   billing.FeatureCallMinutes,
		Used:      95,
		Limit:     100,
		Remaining: 5,
	}}
	r := testRouter(&Handlers{Usage: usage}, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage/call_minutes", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status billing.UsageStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Used != 95 || status.Remaining != 5 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestUsageStatus_MissingIdentity(t *testing.T) {
	r := testRouter(&Handlers{Usage: &fakeUsage{}}, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage/call_minutes", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUsageStatus_UnknownFeature(t *testing.T) {
	usage := &fakeUsage{err: billing.ErrNotFound}
	r := testRouter(&Handlers{Usage: usage}, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage/nope", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUsageStatus_SubscriptionConflict(t *testing.T) {
	usage := &fakeUsage{err: billing.ErrAmbiguousSubscription}
	r := testRouter(&Handlers{Usage: usage}, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/usage/call_minutes", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}
