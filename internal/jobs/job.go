// Package jobs drives the analysis pipeline as cancellable background jobs.
// Each analysis id runs at most once at a time; the id is the mutual
// exclusion key. Progress is monotonic and the timeline append-only, so a
// poller never observes a job moving backwards.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/printforge/gcode-triage/api/schemas"
)

// Job is the mutable state of one analysis run. All access goes through the
// methods; the embedded snapshot is never handed out by reference.
type Job struct {
	mu         sync.Mutex
	snap       schemas.JobSnapshot
	cancel     context.CancelFunc
	finishedAt time.Time
}

func newJob(analysisID string, cancel context.CancelFunc) *Job {
	return &Job{
		snap: schemas.JobSnapshot{
			AnalysisID: analysisID,
			Status:     schemas.JobPending,
		},
		cancel: cancel,
	}
}

// Snapshot returns a copy of the current state.
func (j *Job) Snapshot() schemas.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cloneLocked()
}

func (j *Job) cloneLocked() schemas.JobSnapshot {
	snap := j.snap
	snap.Timeline = append([]schemas.TimelineEntry(nil), j.snap.Timeline...)
	return snap
}

// setRunning transitions into the running state for a named step. Returns
// false if the job is already terminal.
func (j *Job) setRunning(step string, progress int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return false
	}
	j.snap.Status = schemas.JobRunning
	j.snap.CurrentStep = step
	j.bumpProgressLocked(progress)
	return true
}

// setProgress raises the progress bar. Decreases are ignored; progress is
// monotonic per job.
func (j *Job) setProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return
	}
	j.bumpProgressLocked(progress)
}

func (j *Job) bumpProgressLocked(progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress > j.snap.Progress {
		j.snap.Progress = progress
	}
}

// publishSegments moves the job to segments_ready with the structural data
// attached and records the stage in the timeline.
func (j *Job) publishSegments(seg schemas.SegmentData, progress int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return false
	}
	segCopy := seg
	j.snap.Segments = &segCopy
	j.snap.Status = schemas.JobSegmentsReady
	j.snap.CurrentStep = schemas.StepRuleAnalysis
	j.bumpProgressLocked(progress)
	j.appendTimelineLocked(schemas.StepSegmentExtraction, "completed")
	return true
}

// complete finalizes the job with its result. segments_ready must already
// have been observed; complete refuses to fire from any other live state so
// the ordering guarantee holds even on a buggy caller.
func (j *Job) complete(result schemas.AnalysisResult) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status != schemas.JobSegmentsReady {
		return false
	}
	resCopy := result
	j.snap.Result = &resCopy
	j.snap.Status = schemas.JobCompleted
	j.snap.CurrentStep = ""
	j.snap.Progress = 100
	j.appendTimelineLocked(schemas.StepRuleAnalysis, "completed")
	j.finishedAt = time.Now()
	return true
}

// fail moves the job to the error state, discarding any partial result.
func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return
	}
	j.snap.Status = schemas.JobError
	j.snap.Error = err.Error()
	j.snap.Result = nil
	j.snap.CurrentStep = ""
	j.appendTimelineLocked(j.currentStepNameLocked(), "error")
	j.finishedAt = time.Now()
}

// markCancelled moves the job to the cancelled terminal state. Partial
// results are discarded; a cancelled job is never observable as completed.
func (j *Job) markCancelled() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return
	}
	j.snap.Status = schemas.JobCancelled
	j.snap.Result = nil
	j.snap.CurrentStep = ""
	j.appendTimelineLocked(j.currentStepNameLocked(), "cancelled")
	j.finishedAt = time.Now()
}

func (j *Job) currentStepNameLocked() string {
	if j.snap.CurrentStep != "" {
		return j.snap.CurrentStep
	}
	return schemas.StepSegmentExtraction
}

func (j *Job) appendTimelineLocked(label, status string) {
	j.snap.Timeline = append(j.snap.Timeline, schemas.TimelineEntry{
		Step:      len(j.snap.Timeline) + 1,
		Label:     label,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// Cancel requests cancellation of the running pipeline. Safe on terminal
// jobs.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// terminalSince reports when a terminal job finished. The zero time means
// the job is still live.
func (j *Job) terminalSince() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.snap.Status.Terminal() {
		return time.Time{}
	}
	return j.finishedAt
}
