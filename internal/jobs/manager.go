package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/config"
	"github.com/printforge/gcode-triage/internal/pipeline"
)

var (
	// ErrRateLimited rejects a submission that exceeds the token bucket.
	ErrRateLimited = errors.New("submission rate limit exceeded")
	// ErrNotFound means no job holds the requested analysis id.
	ErrNotFound = errors.New("analysis job not found")
	// ErrAlreadySubmitted means the id is already owned by a job. The caller
	// gets the existing id back and should poll it; the submission is never
	// double-run.
	ErrAlreadySubmitted = errors.New("analysis already submitted")
)

// SubmitRequest is one analysis submission. AnalysisID may be empty, in
// which case the manager assigns one.
type SubmitRequest struct {
	AnalysisID string
	Raw        string
	FilePath   string
}

// Manager owns the job store and runs one worker goroutine per submission.
// The submitting caller gets the analysis id back immediately and polls.
type Manager struct {
	cfg      config.EngineConfig
	logger   *zap.Logger
	analyzer *pipeline.Analyzer
	store    *Store
	limiter  *rate.Limiter
	slots    chan struct{}
	wg       sync.WaitGroup
}

func NewManager(cfg config.EngineConfig, analyzer *pipeline.Analyzer, logger *zap.Logger) *Manager {
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}
	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = 1
	}
	submitRate := cfg.SubmitRate
	if submitRate <= 0 {
		submitRate = 10
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("jobs"),
		analyzer: analyzer,
		store:    NewStore(),
		limiter:  rate.NewLimiter(rate.Limit(submitRate), burst),
		slots:    make(chan struct{}, maxJobs),
	}
}

// Submit registers a new analysis and starts its worker. A duplicate id is
// treated as a status query: the existing id comes back with
// ErrAlreadySubmitted and nothing is re-run.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	id := req.AnalysisID
	if id == "" {
		id = uuid.NewString()
	}

	// A duplicate is a status query, not a new submission; it must not
	// consume a rate-limiter token or surface as ErrRateLimited.
	if _, ok := m.store.Get(id); ok {
		return id, ErrAlreadySubmitted
	}

	if !m.limiter.Allow() {
		return "", ErrRateLimited
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := newJob(id, cancel)
	if _, inserted := m.store.Insert(id, job); !inserted {
		cancel()
		return id, ErrAlreadySubmitted
	}

	m.logger.Info("Analysis submitted.",
		zap.String("analysis_id", id),
		zap.String("file", req.FilePath))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(jobCtx, job, req)
	}()
	return id, nil
}

// run drives one job through the pipeline. The segment stage publishes its
// output before the rule stage starts, so segments_ready is always
// observable before completed.
func (m *Manager) run(ctx context.Context, job *Job, req SubmitRequest) {
	// Respect the concurrency ceiling; the job stays pending in the queue.
	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		job.markCancelled()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Analysis worker panicked.",
				zap.String("analysis_id", job.snap.AnalysisID),
				zap.Any("recovered", r))
			job.fail(errors.New("internal pipeline failure"))
		}
	}()

	if !job.setRunning(schemas.StepSegmentExtraction, 5) {
		return
	}

	lines := m.analyzer.Parse(req.Raw)
	job.setProgress(25)
	if ctx.Err() != nil {
		job.markCancelled()
		return
	}

	seg, err := m.analyzer.ExtractSegments(ctx, lines)
	if err != nil {
		m.finishWithError(ctx, job, err)
		return
	}
	if !job.publishSegments(seg.Data, 60) {
		return
	}

	findings, plan, err := m.analyzer.RunRules(ctx, lines, seg, req.FilePath)
	if err != nil {
		m.finishWithError(ctx, job, err)
		return
	}
	job.setProgress(95)

	result := schemas.AnalysisResult{
		Segments:  seg.Data,
		Findings:  findings,
		PatchPlan: &plan,
	}
	if job.complete(result) {
		m.logger.Info("Analysis completed.",
			zap.String("analysis_id", job.snap.AnalysisID),
			zap.Int("findings", len(findings)),
			zap.Int("patches", plan.TotalPatches))
	}
}

func (m *Manager) finishWithError(ctx context.Context, job *Job, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		job.markCancelled()
		m.logger.Info("Analysis cancelled.", zap.String("analysis_id", job.snap.AnalysisID))
		return
	}
	job.fail(err)
	m.logger.Error("Analysis failed.",
		zap.String("analysis_id", job.snap.AnalysisID),
		zap.Error(err))
}

// Snapshot returns the current state of one job.
func (m *Manager) Snapshot(id string) (schemas.JobSnapshot, error) {
	job, ok := m.store.Get(id)
	if !ok {
		return schemas.JobSnapshot{}, ErrNotFound
	}
	return job.Snapshot(), nil
}

// Cancel requests cancellation of a running job. Cancelling a terminal job
// is a no-op.
func (m *Manager) Cancel(id string) error {
	job, ok := m.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	job.Cancel()
	return nil
}

// Purge drops terminal jobs older than the retention window and returns how
// many were removed.
func (m *Manager) Purge(now time.Time) int {
	retention := m.cfg.JobRetention
	if retention <= 0 {
		retention = time.Hour
	}
	removed := 0
	m.store.Range(func(id string, job *Job) bool {
		if since := job.terminalSince(); !since.IsZero() && now.Sub(since) > retention {
			m.store.Delete(id)
			removed++
		}
		return true
	})
	if removed > 0 {
		m.logger.Debug("Purged finished jobs.", zap.Int("removed", removed))
	}
	return removed
}

// Wait blocks until every worker goroutine has exited. Cancel the jobs first
// for a prompt shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// CancelAll cancels every live job.
func (m *Manager) CancelAll() {
	m.store.Range(func(id string, job *Job) bool {
		job.Cancel()
		return true
	})
}
