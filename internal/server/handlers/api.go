package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/internal/apperrors"
	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
	"github.com/3leaps/vidsentry/pkg/resultstore"
	"github.com/3leaps/vidsentry/pkg/videostore"
)

const (
	maxJSONBody    = 1 << 20
	maxEventWait   = 30 * time.Second
	defaultListCap = 100
)

// API serves the job, result and model endpoints.
type API struct {
	jobs    *jobrunner.Manager
	results *resultstore.Store
	videos  *videostore.Store
	logger  *zap.Logger

	// TempDir receives multipart uploads until their job completes.
	TempDir string
}

// NewAPI wires the API to its backends. videos may be nil.
func NewAPI(jobs *jobrunner.Manager, results *resultstore.Store, videos *videostore.Store, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		jobs:    jobs,
		results: results,
		videos:  videos,
		logger:  logger,
		TempDir: os.TempDir(),
	}
}

// Routes registers the API under r. submit wraps the job submission route,
// typically with a rate limiter; nil leaves it unwrapped.
func (a *API) Routes(r chi.Router, submit func(http.Handler) http.Handler) {
	submitHandler := http.Handler(http.HandlerFunc(a.SubmitJob))
	if submit != nil {
		submitHandler = submit(submitHandler)
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", a.ListJobs)
		r.Method(http.MethodPost, "/{id}", submitHandler)
		r.Get("/{id}", a.GetJob)
		r.Post("/{id}/start", a.StartJob)
		r.Post("/{id}/reset", a.ResetJob)
		r.Post("/{id}/tick", a.TickJob)
		r.Post("/{id}/cancel", a.CancelJob)
		r.Get("/{id}/videos", a.ListJobVideos)
	})
	r.Get("/events", a.Events)

	r.Get("/results", a.ListResults)
	r.Get("/results/{id}", a.GetResult)
	r.Delete("/results/{id}", a.DeleteResult)
	r.Get("/trainings", a.ListTrainings)
	r.Get("/stats", a.Stats)

	r.Route("/models", func(r chi.Router) {
		r.Get("/", a.ListModels)
		r.Get("/{id}", a.GetModel)
		r.Post("/{id}/activate", a.SetModelStatus(resultstore.ModelStatusActive))
		r.Post("/{id}/deactivate", a.SetModelStatus(resultstore.ModelStatusInactive))
		r.Delete("/{id}", a.DeleteModel)
	})
}

// SubmitJob starts a job of the kind named in the path. The body is either
// JSON job params or a multipart form carrying the video file.
//
// The kind shares the {id} path slot with the job routes.
func (a *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	kind, err := job.ParseKind(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, apperrors.NotFound("unknown job kind"))
		return
	}

	var (
		params  job.Params
		payload jobrunner.Payload
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		params, payload, err = a.readMultipart(r, kind)
	} else {
		params, err = readJSONParams(r)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	j, err := a.jobs.Submit(r.Context(), jobrunner.Request{Kind: kind, Params: params, Payload: payload})
	if err != nil {
		if payload != nil {
			_ = payload.Release()
		}
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, j)
}

func readJSONParams(r *http.Request) (job.Params, error) {
	var params job.Params
	if r.Body == nil || r.ContentLength == 0 {
		return params, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		if errors.Is(err, io.EOF) {
			return params, nil
		}
		return params, apperrors.BadRequest("invalid JSON body: "+err.Error(), err)
	}
	return params, nil
}

// ListJobs returns known jobs, newest first. ?kind= and ?status= filter.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	out := make([]job.Job, 0)
	for _, j := range a.jobs.List() {
		if kind != "" && string(j.Kind) != kind {
			continue
		}
		if status != "" && string(j.Status) != status {
			continue
		}
		out = append(out, j)
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
}

func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// StartJob restarts an idle job with the params it kept.
func (a *API) StartJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.jobs.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, j)
}

func (a *API) ResetJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.jobs.Reset(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// TickJob advances a running job by one step.
func (a *API) TickJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.jobs.Tick(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (a *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "cancelled"
	}
	j, err := a.jobs.Cancel(chi.URLParam(r, "id"), errors.New(reason))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// ListJobVideos lists stored objects for an upload job.
func (a *API) ListJobVideos(w http.ResponseWriter, r *http.Request) {
	if a.videos == nil {
		respondWithError(w, r, apperrors.NotFound("video storage is not configured"))
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := a.jobs.Get(id); err != nil {
		respondWithError(w, r, err)
		return
	}
	objects, err := a.videos.List(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"job_id": id, "objects": objects})
}

// Events returns events newer than ?since=. With ?wait=<duration> the call
// blocks until an event arrives or the wait elapses.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since int64
	if s := q.Get("since"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			respondWithError(w, r, apperrors.BadRequest("since must be a non-negative integer", err))
			return
		}
		since = n
	}

	bus := a.jobs.Events()
	events := bus.Since(since)

	if len(events) == 0 && q.Get("wait") != "" {
		wait, err := time.ParseDuration(q.Get("wait"))
		if err != nil || wait < 0 {
			respondWithError(w, r, apperrors.BadRequest("wait must be a duration such as 10s", err))
			return
		}
		wait = min(wait, maxEventWait)
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		events, _ = bus.Wait(ctx, since)
	}

	if events == nil {
		events = []jobrunner.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"last_seq": bus.LastSeq(),
	})
}
