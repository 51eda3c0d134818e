package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/lexigen/internal/api/shared"
	"github.com/phrazzld/lexigen/internal/cache"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/store"
	"github.com/phrazzld/lexigen/internal/task"
)

// JobService is the part of the job queue the API uses.
type JobService interface {
	Enqueue(ctx context.Context, req task.EnqueueRequest) (*domain.GenerationJob, task.Outcome, error)
	Status(ctx context.Context, userID uuid.UUID, fingerprint string) (*task.StatusReport, error)
	Job(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)
	RetryFailed(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, task.Outcome, error)
}

// JobHandler serves multi-item generation jobs.
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// JobFingerprint identifies a user's content set. Items are left out so
// that items added later extend the same job.
func JobFingerprint(userID uuid.UUID, req EnqueueJobRequest) string {
	return cache.Fingerprint("job:"+userID.String(), req.Kind, map[string]any{
		"collection":  strings.TrimSpace(req.Collection),
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
		"level":       req.Level,
	})
}

// Enqueue handles POST /v1/jobs. It answers 200 when every item already has
// a result and 202 otherwise.
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body EnqueueJobRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	fingerprint := JobFingerprint(userID, body)
	job, outcome, err := h.jobs.Enqueue(r.Context(), task.EnqueueRequest{
		UserID:      userID,
		Fingerprint: fingerprint,
		ItemIDs:     body.Items,
		Params:      body.params(),
		MaxRetries:  body.MaxRetries,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	status := http.StatusAccepted
	if outcome == task.OutcomeSatisfied {
		status = http.StatusOK
	}
	shared.RespondWithJSON(w, r, status, JobResponse{Outcome: outcome, Fingerprint: fingerprint, Job: job})
}

// Status handles GET /v1/jobs?fingerprint=... and returns the caller's jobs
// and results for the fingerprint.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	fingerprint := r.URL.Query().Get("fingerprint")
	if fingerprint == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "fingerprint query parameter is required")
		return
	}

	report, err := h.jobs.Status(r.Context(), userID, fingerprint)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, report)
}

// GetJob handles GET /v1/jobs/{id}. Jobs of other users are reported as
// not found.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.ownedJob(r.Context(), userID, jobID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobResponse{Fingerprint: job.Fingerprint, Job: job})
}

// Retry handles POST /v1/jobs/{id}/retry for a failed job.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.ownedJob(r.Context(), userID, jobID); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, outcome, err := h.jobs.RetryFailed(r.Context(), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	fingerprint := ""
	if job != nil {
		fingerprint = job.Fingerprint
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobResponse{Outcome: outcome, Fingerprint: fingerprint, Job: job})
}

func (h *JobHandler) ownedJob(ctx context.Context, userID, jobID uuid.UUID) (*domain.GenerationJob, error) {
	job, err := h.jobs.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}
