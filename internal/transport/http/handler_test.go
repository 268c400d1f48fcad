package httptransport_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
	"agent-queue/internal/repository/memory"
	"agent-queue/internal/service"
	httptransport "agent-queue/internal/transport/http"
)

const taskPayload = `{"repo":{"url":"acme/api"},"task":{"goal":"fix flaky test"}}`

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestRouter(t *testing.T) (http.Handler, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.NewQueueService(memory.New(), service.Options{
		Retry: lease.FixedDelay{Wait: 30 * time.Second},
		Now:   c.Now,
	})
	return httptransport.Routes(httptransport.NewHandler(svc)), c
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr.Body.String())
	}
	return v
}

func submit(t *testing.T, h http.Handler, priority int) entity.Job {
	t.Helper()
	body := `{"type":"task","priority":` + jsonInt(priority) + `,"payload":` + taskPayload + `}`
	rr := do(t, h, http.MethodPost, "/jobs", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
	}
	return decode[entity.Job](t, rr)
}

func jsonInt(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func TestHTTP_SubmitAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	job := submit(t, router, 2)
	if job.Status != entity.StatusPending || job.QueueName != service.DefaultQueue || job.Priority != 2 {
		t.Fatalf("unexpected job: %#v", job)
	}

	rr := do(t, router, http.MethodGet, "/jobs/"+job.ID.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	got := decode[map[string]any](t, rr)
	if got["priority"] != float64(2) || got["status"] != "pending" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestHTTP_SubmitRejectsInvalidPayload(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []string{
		`{"type":"task","payload":{"repo":{"url":"acme/api"},"task":{}}}`,
		`{"type":"task","payload":{"repo":{"url":"https://user:pw@github.com/acme/api"},"task":{"goal":"x"}}}`,
		`{"type":"nope","payload":` + taskPayload + `}`,
		`not json`,
	}
	for _, body := range cases {
		rr := do(t, router, http.MethodPost, "/jobs", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d (%s)", body, rr.Code, rr.Body.String())
		}
	}

	rr := do(t, router, http.MethodGet, "/jobs", "")
	if items := decode[map[string][]any](t, rr)["items"]; len(items) != 0 {
		t.Fatalf("rejected submissions must not create jobs, got %d", len(items))
	}
}

func TestHTTP_GetJob_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	if rr := do(t, router, http.MethodGet, "/jobs/not-a-uuid", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/jobs/"+uuid.NewString(), ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_WorkerLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)
	job := submit(t, router, 0)
	worker := `"worker_id":"host-codex-1","runtime":"codex"`

	rr := do(t, router, http.MethodPost, "/queues/"+service.DefaultQueue+"/claim", `{`+worker+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	claimed := decode[entity.Job](t, rr)
	if claimed.ID != job.ID || claimed.Status != entity.StatusRunning {
		t.Fatalf("unexpected claim: %#v", claimed)
	}

	rr = do(t, router, http.MethodPost, "/queues/"+service.DefaultQueue+"/claim", `{`+worker+`}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("empty queue: expected 204, got %d", rr.Code)
	}

	// result is not available before success
	if rr := do(t, router, http.MethodGet, "/jobs/"+job.ID.String()+"/result", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	rr = do(t, router, http.MethodPost, "/jobs/"+job.ID.String()+"/heartbeat", `{"worker_id":"someone-else"}`)
	if rr.Code != http.StatusOK || !decode[map[string]any](t, rr)["stale"].(bool) {
		t.Fatalf("foreign heartbeat must be stale: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/jobs/"+job.ID.String()+"/complete", `{`+worker+`,"result":{"pr":"https://example/pr/1"}}`)
	if rr.Code != http.StatusOK || decode[map[string]any](t, rr)["stale"].(bool) {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodGet, "/jobs/"+job.ID.String()+"/result", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"pr":"https://example/pr/1"}` {
		t.Fatalf("result: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodGet, "/jobs/"+job.ID.String()+"/events", "")
	events := decode[map[string][]entity.JobEvent](t, rr)["items"]
	if len(events) < 3 {
		t.Fatalf("expected submit, claim and complete events, got %d", len(events))
	}
}

func TestHTTP_FailRetryable(t *testing.T) {
	router, _ := newTestRouter(t)
	job := submit(t, router, 0)
	worker := `"worker_id":"host-codex-1","runtime":"codex"`

	do(t, router, http.MethodPost, "/queues/"+service.DefaultQueue+"/claim", `{`+worker+`}`)
	rr := do(t, router, http.MethodPost, "/jobs/"+job.ID.String()+"/fail", `{`+worker+`,"message":"tests failed","retryable":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("fail: %d %s", rr.Code, rr.Body.String())
	}
	out := decode[struct {
		Stale bool        `json:"stale"`
		Job   *entity.Job `json:"job"`
	}](t, rr)
	if out.Stale || out.Job == nil || out.Job.Status != entity.StatusRetrying {
		t.Fatalf("expected retrying job, got %#v", out)
	}
}

func TestHTTP_Cancel(t *testing.T) {
	router, _ := newTestRouter(t)
	job := submit(t, router, 0)

	rr := do(t, router, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", `{"reason":"superseded"}`)
	if rr.Code != http.StatusOK || decode[entity.Job](t, rr).Status != entity.StatusCancelled {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", rr.Code)
	}
}

func TestHTTP_ListFilters(t *testing.T) {
	router, _ := newTestRouter(t)
	submit(t, router, 0)
	cancelled := submit(t, router, 0)
	do(t, router, http.MethodPost, "/jobs/"+cancelled.ID.String()+"/cancel", "")

	rr := do(t, router, http.MethodGet, "/jobs?status=cancelled", "")
	items := decode[map[string][]entity.Job](t, rr)["items"]
	if len(items) != 1 || items[0].ID != cancelled.ID {
		t.Fatalf("unexpected list: %#v", items)
	}

	if rr := do(t, router, http.MethodGet, "/jobs?status=bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/jobs?limit=x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}
