package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

type Handler struct {
	queue *service.QueueService
}

func NewHandler(queue *service.QueueService) *Handler {
	return &Handler{queue: queue}
}

type submitJobDTO struct {
	Type        string          `json:"type" example:"task"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	Payload     json.RawMessage `json:"payload" swaggertype:"object"`
}

type cancelJobDTO struct {
	Reason string `json:"reason"`
}

type listJobsResp struct {
	Items []entity.Job `json:"items"`
}

type listEventsResp struct {
	Items []entity.JobEvent `json:"items"`
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// SubmitJob godoc
// @Summary Submit a job
// @Description Validates the task payload, resolves the queue and stores the job as pending.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitJobDTO true "job type, priority and task payload"
// @Success 201 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 503 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if !decodeJSON(w, r, &dto) {
		return
	}

	job, err := h.queue.Submit(r.Context(), service.SubmitRequest{
		Type:        dto.Type,
		Priority:    dto.Priority,
		MaxAttempts: dto.MaxAttempts,
		Payload:     dto.Payload,
	})
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListJobs godoc
// @Summary List jobs
// @Description Newest first.
// @Tags jobs
// @Produce json
// @Param status query string false "pending|running|retrying|succeeded|failed|cancelled"
// @Param type query string false "job type"
// @Param queue query string false "queue name"
// @Param limit query int false "page size (default 50, max 500)"
// @Success 200 {object} listJobsResp
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid limit")
		return
	}

	jobs, err := h.queue.ListJobs(r.Context(), service.ListFilter{
		Status: entity.JobStatus(strings.TrimSpace(q.Get("status"))),
		Type:   strings.TrimSpace(q.Get("type")),
		Queue:  strings.TrimSpace(q.Get("queue")),
		Limit:  limit,
	})
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []entity.Job{}
	}
	writeJSON(w, http.StatusOK, listJobsResp{Items: jobs})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetJobResult godoc
// @Summary Get job result
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	if j.Status != entity.StatusSucceeded {
		writeErr(w, http.StatusConflict, "job not succeeded")
		return
	}

	result := j.Result
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// ListJobEvents godoc
// @Summary List job events
// @Description Events created strictly after the cursor, oldest first.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param after query string false "RFC3339 cursor"
// @Param limit query int false "page size (default 200, max 500)"
// @Success 200 {object} listEventsResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/events [get]
func (h *Handler) ListJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var after time.Time
	if v := strings.TrimSpace(q.Get("after")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = t
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid limit")
		return
	}

	events, err := h.queue.ListEvents(r.Context(), id, after, limit)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	if events == nil {
		events = []entity.JobEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResp{Items: events})
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Only pending or retrying jobs can be cancelled.
// @Tags jobs
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param request body cancelJobDTO false "cancel reason"
// @Success 200 {object} entity.Job
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var dto cancelJobDTO
	if !decodeJSON(w, r, &dto) {
		return
	}

	j, err := h.queue.Cancel(r.Context(), id, dto.Reason)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func queryInt(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
