// Package jobrunner schedules job ticks, runs completion hooks and publishes
// job events.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/vidsentry/pkg/job"
)

var (
	// ErrJobAlreadyRunning is returned when a job of the same kind is active
	// and the manager runs in exclusive mode.
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRunning is returned when ticking or cancelling a job that is
	// not running.
	ErrJobNotRunning = errors.New("job is not running")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("job manager is closed")
)

// Options configures a Manager. Zero values are usable.
type Options struct {
	Clock Clock
	Synth job.Synthesizer

	// Exclusive allows at most one running job per kind.
	Exclusive bool

	// Manual disables ticker goroutines; jobs advance only through Tick.
	Manual bool

	// Intervals overrides the tick interval per kind.
	Intervals map[job.Kind]time.Duration

	Registry Registry
	Videos   VideoSink
	Recorder Recorder
	Models   ModelChecker
	Events   *EventBus
	Metrics  Metrics
	Logger   *zap.Logger

	// PID is recorded as the owner of persisted jobs. Defaults to os.Getpid().
	PID int
}

// Request describes a job submission.
type Request struct {
	Kind   job.Kind
	Params job.Params

	// Payload carries the uploaded file for uploads from a file.
	Payload Payload

	// ID pins the job id. A fresh id is generated when empty.
	ID string
}

type entry struct {
	job     job.Job
	payload Payload
	gen     uint64
	stop    chan struct{}

	// finishing is set while completion hooks run for the current gen.
	finishing bool
}

// Manager owns active jobs and drives them to completion.
type Manager struct {
	mu     sync.RWMutex
	opts   Options
	jobs   map[string]*entry
	closed bool
	wg     sync.WaitGroup

	persistMu sync.Mutex
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Synth == nil {
		opts.Synth = job.NewRandomSynthesizer(0)
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(0)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	return &Manager{
		opts: opts,
		jobs: make(map[string]*entry),
	}
}

// Events returns the bus jobs publish to.
func (m *Manager) Events() *EventBus {
	return m.opts.Events
}

// Submit validates the request and starts a new job.
//
// When validation fails the returned job is idle, nothing is registered and
// the error is a *job.ValidationError.
func (m *Manager) Submit(ctx context.Context, req Request) (job.Job, error) {
	j := job.New(req.Kind, m.opts.Clock.Now())
	if req.ID != "" {
		j.ID = req.ID
	}
	return m.start(ctx, j, req.Params, req.Payload, true)
}

// Start starts an existing idle job again with the params it kept on reset.
func (m *Manager) Start(ctx context.Context, id string) (job.Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	var current job.Job
	var payload Payload
	if ok {
		current = e.job
		payload = e.payload
	}
	m.mu.RUnlock()

	if !ok {
		return job.Job{}, ErrJobNotFound
	}
	return m.start(ctx, current, current.Params, payload, false)
}

func (m *Manager) start(ctx context.Context, idle job.Job, params job.Params, payload Payload, fresh bool) (job.Job, error) {
	log := m.opts.Logger.With(zap.String("job_id", idle.ID), zap.String("kind", idle.Kind.String()))

	started, err := idle.Start(params, m.opts.Clock.Now())
	if err == nil {
		err = m.checkStart(ctx, started, payload)
	}
	if err != nil {
		if job.IsValidation(err) {
			m.opts.Metrics.ValidationFailed(idle.Kind)
			log.Info("Job rejected", zap.String("reason", err.Error()))
		}
		return idle, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return idle, ErrManagerClosed
	}
	if m.opts.Exclusive {
		for id, other := range m.jobs {
			if id != started.ID && other.job.Kind == started.Kind && other.job.Running() {
				m.mu.Unlock()
				return idle, fmt.Errorf("%w: %s %s", ErrJobAlreadyRunning, started.Kind, id)
			}
		}
	}
	e, ok := m.jobs[started.ID]
	if ok && !fresh && e.job.Status != job.StatusIdle {
		m.mu.Unlock()
		return e.job, job.ErrNotIdle
	}
	if !ok {
		e = &entry{}
		m.jobs[started.ID] = e
	}
	e.job = started
	e.payload = payload
	e.finishing = false
	e.gen++
	e.stop = make(chan struct{})
	gen, stop := e.gen, e.stop
	if !m.opts.Manual {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	m.opts.Metrics.JobStarted(started.Kind)
	m.persist(started.ID)
	m.publish(started, EventTypeStatus, "")
	log.Info("Job started", zap.Int("total_ticks", started.TotalTicks))

	if !m.opts.Manual {
		go m.loop(started.ID, gen, stop, m.interval(started))
	}
	return started, nil
}

func (m *Manager) checkStart(ctx context.Context, j job.Job, payload Payload) error {
	if j.Kind == job.KindUpload && j.Params.Source.HasFile() && payload == nil && m.opts.Videos != nil {
		return job.NewValidationError("source", job.MsgMissingVideoSource)
	}
	if j.Kind == job.KindDetection && m.opts.Models != nil {
		ok, err := m.opts.Models.ModelAvailable(ctx, j.Params.Detection.Model)
		if err != nil {
			return fmt.Errorf("check detection model: %w", err)
		}
		if !ok {
			return job.NewValidationError("detection.model", job.MsgModelNotFound)
		}
	}
	return nil
}

func (m *Manager) interval(j job.Job) time.Duration {
	if d, ok := m.opts.Intervals[j.Kind]; ok && d > 0 {
		return d
	}
	return job.PlanFor(j.Kind, j.Params).Interval
}

func (m *Manager) loop(id string, gen uint64, stop <-chan struct{}, interval time.Duration) {
	defer m.wg.Done()

	ticker := m.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if done := m.advance(id, gen); done {
				return
			}
		}
	}
}

// advance applies one tick to the job if it is still the same run. It
// returns true once there is nothing left to drive.
//
// The tick that reaches 100% is not stored directly: the completion hooks
// run first, and the job moves from running to complete or failed in one
// step.
func (m *Manager) advance(id string, gen uint64) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.gen != gen || !e.job.Running() || e.finishing {
		m.mu.Unlock()
		return true
	}
	prev := e.job
	next := prev.Advance(m.opts.Synth, m.opts.Clock.Now())
	if next.Status == job.StatusComplete {
		e.finishing = true
		payload := e.payload
		m.mu.Unlock()

		m.opts.Metrics.Tick(next.Kind)
		m.complete(id, gen, prev, next, payload)
		return true
	}
	e.job = next
	m.mu.Unlock()

	m.opts.Metrics.Tick(next.Kind)
	m.persist(id)
	m.publish(next, EventTypeProgress, "")
	return false
}

// complete runs the completion hooks outside the lock and records the final
// state unless the job was reset meanwhile. A hook error fails the running
// job, so a failed job never carries a result.
func (m *Manager) complete(id string, gen uint64, running, done job.Job, payload Payload) {
	final, err := m.finish(context.Background(), done, payload)
	if err != nil {
		final = running.Fail(err, m.opts.Clock.Now())
	}

	var spool Payload
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		return
	}
	e.job = final
	e.finishing = false
	if stored, ok := m.storedPayload(final); ok && payload != nil {
		spool, e.payload = payload, stored
	}
	m.mu.Unlock()

	if spool != nil {
		if rerr := spool.Release(); rerr != nil {
			m.opts.Logger.Warn("Failed to release payload", zap.String("job_id", id), zap.Error(rerr))
		}
	}

	var elapsed time.Duration
	if final.StartedAt != nil && final.CompletedAt != nil {
		elapsed = final.CompletedAt.Sub(*final.StartedAt)
	}
	m.opts.Metrics.JobFinished(final.Kind, final.Status, elapsed)
	m.persist(id)

	log := m.opts.Logger.With(zap.String("job_id", id), zap.String("kind", final.Kind.String()))
	if final.Status == job.StatusFailed {
		log.Warn("Job failed", zap.String("error", final.Error))
		m.publish(final, EventTypeError, final.Error)
		return
	}
	log.Info("Job complete", zap.Duration("elapsed", elapsed))
	m.publish(final, EventTypeResult, "")
}

// storedPayload returns a payload reading a completed file upload back from
// the video store.
func (m *Manager) storedPayload(j job.Job) (Payload, bool) {
	if m.opts.Videos == nil || j.Kind != job.KindUpload || j.Status != job.StatusComplete {
		return nil, false
	}
	if !j.Params.Source.HasFile() || j.Result == nil || j.Result.Upload == nil {
		return nil, false
	}
	return storedVideo{videos: m.opts.Videos, key: j.Result.Upload.StorageKey}, true
}

func (m *Manager) finish(ctx context.Context, j job.Job, payload Payload) (job.Job, error) {
	switch j.Kind {
	case job.KindUpload:
		if m.opts.Videos == nil {
			return j, nil
		}
		up, err := m.storeVideo(ctx, j, payload)
		if err != nil {
			return j, err
		}
		return j.AttachUpload(up), nil
	case job.KindDetection:
		if m.opts.Recorder == nil || !j.Params.Detection.ShouldSave() {
			return j, nil
		}
		if err := m.opts.Recorder.RecordDetection(ctx, j); err != nil {
			return j, fmt.Errorf("record detection: %w", err)
		}
	case job.KindTraining:
		if m.opts.Recorder == nil {
			return j, nil
		}
		if err := m.opts.Recorder.RecordTraining(ctx, j); err != nil {
			return j, fmt.Errorf("record training: %w", err)
		}
	}
	return j, nil
}

func (m *Manager) storeVideo(ctx context.Context, j job.Job, payload Payload) (job.UploadResult, error) {
	if payload == nil {
		return m.opts.Videos.StoreVideo(ctx, j.ID, j.Params.Source, nil)
	}
	rc, err := payload.Open()
	if err != nil {
		return job.UploadResult{}, fmt.Errorf("open upload payload: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return m.opts.Videos.StoreVideo(ctx, j.ID, j.Params.Source, rc)
}

// Tick advances a running job by one step. It is meant for manual mode and
// external schedulers.
func (m *Manager) Tick(id string) (job.Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	var gen uint64
	running := false
	if ok {
		gen = e.gen
		running = e.job.Running()
	}
	m.mu.RUnlock()

	if !ok {
		return job.Job{}, ErrJobNotFound
	}
	if !running {
		cur, _ := m.Get(id)
		return cur, ErrJobNotRunning
	}
	m.advance(id, gen)
	return m.Get(id)
}

// Reset stops the job if it is running and returns it to idle.
func (m *Manager) Reset(id string) (job.Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return job.Job{}, ErrJobNotFound
	}
	wasRunning := e.job.Running()
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.gen++
	e.finishing = false
	e.job = e.job.Reset()
	reset := e.job
	m.mu.Unlock()

	if wasRunning {
		m.opts.Metrics.JobStopped(reset.Kind)
	}
	m.persist(id)
	m.publish(reset, EventTypeStatus, "")
	m.opts.Logger.Info("Job reset", zap.String("job_id", id), zap.Bool("was_running", wasRunning))
	return reset, nil
}

// Cancel fails a running job with reason.
func (m *Manager) Cancel(id string, reason error) (job.Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return job.Job{}, ErrJobNotFound
	}
	if !e.job.Running() {
		cur := e.job
		m.mu.Unlock()
		return cur, ErrJobNotRunning
	}
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.gen++
	e.finishing = false
	e.job = e.job.Fail(reason, m.opts.Clock.Now())
	failed := e.job
	m.mu.Unlock()

	m.opts.Metrics.JobStopped(failed.Kind)
	m.persist(id)
	m.publish(failed, EventTypeError, failed.Error)
	return failed, nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return job.Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List() []job.Job {
	m.mu.RLock()
	out := make([]job.Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Restore adds previously persisted jobs that are not running. Jobs already
// known to the manager are left alone.
func (m *Manager) Restore(jobs []job.Job) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range jobs {
		if j.Running() {
			continue
		}
		if _, ok := m.jobs[j.ID]; ok {
			continue
		}
		e := &entry{job: j}
		if stored, ok := m.storedPayload(j); ok {
			e.payload = stored
		}
		m.jobs[j.ID] = e
		n++
	}
	return n
}

// Close stops all ticker goroutines, waits for them to exit and releases
// every payload still held.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, e := range m.jobs {
		if e.stop != nil {
			close(e.stop)
			e.stop = nil
		}
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	var held []Payload
	for _, e := range m.jobs {
		if e.payload != nil {
			held = append(held, e.payload)
			e.payload = nil
		}
	}
	m.mu.Unlock()

	for _, p := range held {
		if err := p.Release(); err != nil {
			m.opts.Logger.Warn("Failed to release payload", zap.Error(err))
		}
	}
}

// persist writes the current snapshot of id, so concurrent callers never
// leave an older state on disk.
func (m *Manager) persist(id string) {
	if m.opts.Registry == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	e, ok := m.jobs[id]
	var j job.Job
	if ok {
		j = e.job
	}
	m.mu.RUnlock()
	if !ok {
		return
	}

	if err := m.opts.Registry.SaveJob(j, m.opts.PID); err != nil {
		m.opts.Logger.Warn("Failed to persist job", zap.String("job_id", j.ID), zap.Error(err))
	}
}

func (m *Manager) publish(j job.Job, typ EventType, msg string) {
	ev := Event{
		JobID:    j.ID,
		Kind:     j.Kind,
		Type:     typ,
		Status:   j.Status,
		Progress: j.Progress,
		Message:  msg,
	}
	if typ == EventTypeResult {
		ev.Result = j.Result
	}
	m.opts.Events.Publish(ev)
}
