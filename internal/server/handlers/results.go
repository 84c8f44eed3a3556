package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/vidsentry/internal/apperrors"
	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

// ListResults serves detection history. Query parameters: q (search), glob,
// type, triggered, since, until (RFC 3339 or YYYY-MM-DD), limit.
func (a *API) ListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := resultstore.DetectionFilter{
		Search:  q.Get("q"),
		Pattern: q.Get("glob"),
		Limit:   defaultListCap,
	}

	if t := strings.TrimSpace(q.Get("type")); t != "" {
		dt, ok := job.ParseDetectionType(t)
		if !ok {
			respondWithError(w, r, job.NewValidationError("type", job.MsgUnsupportedDetection))
			return
		}
		f.Type = dt
	}
	if v := q.Get("triggered"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest("triggered must be true or false", err))
			return
		}
		f.TriggeredOnly = b
	}

	var err error
	if f.Since, err = parseTimeParam(q.Get("since"), false); err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid since", err))
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until"), true); err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid until", err))
		return
	}
	if f.Limit, err = parseLimit(q.Get("limit"), defaultListCap); err != nil {
		respondWithError(w, r, err)
		return
	}

	results, err := a.results.ListDetections(r.Context(), f)
	if err != nil {
		if f.Pattern != "" && strings.Contains(err.Error(), "invalid glob") {
			respondWithError(w, r, apperrors.BadRequest(err.Error(), err))
			return
		}
		respondWithError(w, r, err)
		return
	}
	if results == nil {
		results = []resultstore.DetectionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (a *API) GetResult(w http.ResponseWriter, r *http.Request) {
	rec, err := a.results.GetDetection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (a *API) DeleteResult(w http.ResponseWriter, r *http.Request) {
	if err := a.results.DeleteDetection(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ListTrainings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultListCap)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	runs, err := a.results.ListTrainings(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if runs == nil {
		runs = []resultstore.TrainingRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"trainings": runs, "count": len(runs)})
}

// Stats serves the dashboard counters together with live job counts.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	sum, err := a.results.GetSummary(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	running := make(map[job.Kind]int, len(job.Kinds))
	for _, k := range job.Kinds {
		running[k] = 0
	}
	for _, j := range a.jobs.List() {
		if j.Running() {
			running[j.Kind]++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": sum, "running": running})
}

// ListModels serves the model catalog. Query parameters: q, type, status.
func (a *API) ListModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := resultstore.ModelFilter{Search: q.Get("q")}

	if t := strings.TrimSpace(q.Get("type")); t != "" {
		dt, ok := job.ParseDetectionType(t)
		if !ok {
			respondWithError(w, r, job.NewValidationError("type", job.MsgUnsupportedModelType))
			return
		}
		f.Type = dt
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st, err := resultstore.ParseModelStatus(s)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest(err.Error(), err))
			return
		}
		f.Status = st
	}

	models, err := a.results.ListModels(r.Context(), f)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if models == nil {
		models = []resultstore.Model{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}

func (a *API) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := a.results.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// SetModelStatus returns a handler that moves a model to status.
func (a *API) SetModelStatus(status resultstore.ModelStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := a.results.SetModelStatus(r.Context(), id, status); err != nil {
			respondWithError(w, r, err)
			return
		}
		a.GetModel(w, r)
	}
}

func (a *API) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := a.results.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(s string, def int) (int, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperrors.BadRequest("limit must be a non-negative integer", err)
	}
	return n, nil
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseTimeParam(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
