package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"agent-queue/internal/dispatcher"
	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

type workerDTO struct {
	WorkerID     string           `json:"worker_id" example:"host-codex-1"`
	Runtime      entity.Runtime   `json:"runtime,omitempty" example:"codex"`
	Capabilities []entity.Runtime `json:"capabilities,omitempty"`
	JobTypes     []string         `json:"job_types,omitempty"`
}

// worker builds the caller identity. Capabilities default to what the
// runtime mode can execute.
func (d workerDTO) worker() (service.WorkerContext, error) {
	id := strings.TrimSpace(d.WorkerID)
	if id == "" {
		return service.WorkerContext{}, entity.InvalidPayload("worker_id is required")
	}
	rt, ok := entity.ParseRuntime(string(d.Runtime))
	if !ok {
		return service.WorkerContext{}, entity.InvalidPayload("runtime must be one of: %s", entity.RuntimeNames())
	}
	caps := make([]entity.Runtime, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		c, ok := entity.ParseRuntime(string(c))
		if !ok || c == "" {
			return service.WorkerContext{}, entity.InvalidPayload("capabilities must be drawn from: %s", entity.RuntimeNames())
		}
		caps = append(caps, c)
	}
	if len(caps) == 0 && rt != "" {
		caps = dispatcher.Capabilities(rt)
	}
	return service.WorkerContext{ID: id, Runtime: rt, Capabilities: caps, JobTypes: d.JobTypes}, nil
}

type completeDTO struct {
	workerDTO
	Result json.RawMessage `json:"result,omitempty" swaggertype:"object"`
}

type failDTO struct {
	workerDTO
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty" swaggertype:"object"`
	Retryable bool            `json:"retryable"`
}

type outcomeResp struct {
	Stale bool        `json:"stale"`
	Job   *entity.Job `json:"job,omitempty"`
}

// ClaimJob godoc
// @Summary Claim the next eligible job
// @Description Leases the highest-priority eligible job on the queue to the worker. 204 when nothing is eligible.
// @Tags workers
// @Accept json
// @Produce json
// @Param queue path string true "queue name"
// @Param request body workerDTO true "worker identity and capabilities"
// @Success 200 {object} entity.Job
// @Success 204 "no eligible job"
// @Failure 400 {object} apiError
// @Failure 503 {object} apiError
// @Router /queues/{queue}/claim [post]
func (h *Handler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	var dto workerDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	wc, err := dto.worker()
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}

	job, err := h.queue.Claim(r.Context(), wc, chi.URLParam(r, "queue"))
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Heartbeat godoc
// @Summary Extend a job lease
// @Description Returns {"stale":true} when the worker no longer owns the job.
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param request body workerDTO true "worker identity"
// @Success 200 {object} outcomeResp
// @Failure 400 {object} apiError
// @Router /jobs/{id}/heartbeat [post]
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var dto workerDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	wc, err := dto.worker()
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}

	out, err := h.queue.Heartbeat(r.Context(), wc, id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResp{Stale: out.Stale, Job: out.Job})
}

// CompleteJob godoc
// @Summary Report success
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param request body completeDTO true "worker identity and result"
// @Success 200 {object} outcomeResp
// @Failure 400 {object} apiError
// @Router /jobs/{id}/complete [post]
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var dto completeDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	wc, err := dto.worker()
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}

	out, err := h.queue.Complete(r.Context(), wc, id, dto.Result)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResp{Stale: out.Stale, Job: out.Job})
}

// FailJob godoc
// @Summary Report failure
// @Description Retryable failures are rescheduled while attempts remain.
// @Tags workers
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param request body failDTO true "worker identity and error"
// @Success 200 {object} outcomeResp
// @Failure 400 {object} apiError
// @Router /jobs/{id}/fail [post]
func (h *Handler) FailJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var dto failDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	wc, err := dto.worker()
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}

	out, err := h.queue.Fail(r.Context(), wc, id, service.FailReport{
		Message:   dto.Message,
		Details:   dto.Details,
		Retryable: dto.Retryable,
	})
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResp{Stale: out.Stale, Job: out.Job})
}
