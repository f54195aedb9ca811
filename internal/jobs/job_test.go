package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printforge/gcode-triage/api/schemas"
)

func TestJobLifecycle(t *testing.T) {
	j := newJob("a-1", nil)
	assert.Equal(t, schemas.JobPending, j.Snapshot().Status)

	require.True(t, j.setRunning(schemas.StepSegmentExtraction, 5))
	snap := j.Snapshot()
	assert.Equal(t, schemas.JobRunning, snap.Status)
	assert.Equal(t, schemas.StepSegmentExtraction, snap.CurrentStep)
	assert.Equal(t, 5, snap.Progress)

	require.True(t, j.publishSegments(schemas.SegmentData{TotalLines: 10}, 60))
	snap = j.Snapshot()
	assert.Equal(t, schemas.JobSegmentsReady, snap.Status)
	assert.Equal(t, schemas.StepRuleAnalysis, snap.CurrentStep)
	require.NotNil(t, snap.Segments)
	assert.Equal(t, 10, snap.Segments.TotalLines)

	require.True(t, j.complete(schemas.AnalysisResult{}))
	snap = j.Snapshot()
	assert.Equal(t, schemas.JobCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.NotNil(t, snap.Result)
	assert.False(t, j.terminalSince().IsZero())
}

func TestJobCompleteRequiresSegmentsReady(t *testing.T) {
	j := newJob("a-1", nil)
	j.setRunning(schemas.StepSegmentExtraction, 5)

	assert.False(t, j.complete(schemas.AnalysisResult{}),
		"completion without published segments is refused")
	assert.Equal(t, schemas.JobRunning, j.Snapshot().Status)
}

func TestJobProgressMonotonic(t *testing.T) {
	j := newJob("a-1", nil)
	j.setRunning(schemas.StepSegmentExtraction, 40)

	j.setProgress(20)
	assert.Equal(t, 40, j.Snapshot().Progress, "progress never moves backwards")

	j.setProgress(250)
	assert.Equal(t, 100, j.Snapshot().Progress, "progress is capped")
}

func TestJobFailDiscardsResult(t *testing.T) {
	j := newJob("a-1", nil)
	j.setRunning(schemas.StepSegmentExtraction, 5)
	j.publishSegments(schemas.SegmentData{}, 60)

	j.fail(errors.New("pipeline exploded"))
	snap := j.Snapshot()
	assert.Equal(t, schemas.JobError, snap.Status)
	assert.Equal(t, "pipeline exploded", snap.Error)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.CurrentStep)

	// Terminal states are immutable.
	assert.False(t, j.setRunning(schemas.StepRuleAnalysis, 90))
	assert.False(t, j.complete(schemas.AnalysisResult{}))
	j.markCancelled()
	assert.Equal(t, schemas.JobError, j.Snapshot().Status)
}

func TestJobCancelledDiscardsResult(t *testing.T) {
	j := newJob("a-1", nil)
	j.setRunning(schemas.StepSegmentExtraction, 5)
	j.publishSegments(schemas.SegmentData{}, 60)

	j.markCancelled()
	snap := j.Snapshot()
	assert.Equal(t, schemas.JobCancelled, snap.Status)
	assert.Nil(t, snap.Result)
	assert.False(t, j.publishSegments(schemas.SegmentData{}, 80))
}

func TestJobTimelineAppendOnly(t *testing.T) {
	j := newJob("a-1", nil)
	j.setRunning(schemas.StepSegmentExtraction, 5)
	j.publishSegments(schemas.SegmentData{}, 60)
	j.complete(schemas.AnalysisResult{})

	snap := j.Snapshot()
	require.Len(t, snap.Timeline, 2)
	for i, entry := range snap.Timeline {
		assert.Equal(t, i+1, entry.Step, "steps number from 1 in order")
		assert.Equal(t, "completed", entry.Status)
	}
}

func TestJobSnapshotIsACopy(t *testing.T) {
	j := newJob("a-1", nil)
	j.setRunning(schemas.StepSegmentExtraction, 5)
	j.publishSegments(schemas.SegmentData{}, 60)

	snap := j.Snapshot()
	require.Len(t, snap.Timeline, 1)
	snap.Timeline[0].Status = "tampered"
	snap.Progress = 0

	fresh := j.Snapshot()
	assert.Equal(t, "completed", fresh.Timeline[0].Status)
	assert.Equal(t, 60, fresh.Progress)
}

func TestStoreInsertIfAbsent(t *testing.T) {
	s := NewStore()
	first := newJob("a-1", nil)
	second := newJob("a-1", nil)

	owner, inserted := s.Insert("a-1", first)
	assert.True(t, inserted)
	assert.Same(t, first, owner)

	owner, inserted = s.Insert("a-1", second)
	assert.False(t, inserted)
	assert.Same(t, first, owner, "the losing insert sees the existing owner")
	assert.Equal(t, 1, s.Len())

	got, ok := s.Get("a-1")
	require.True(t, ok)
	assert.Same(t, first, got)

	s.Delete("a-1")
	_, ok = s.Get("a-1")
	assert.False(t, ok)
}

func TestStoreRangeEarlyStop(t *testing.T) {
	s := NewStore()
	s.Insert("a", newJob("a", nil))
	s.Insert("b", newJob("b", nil))
	s.Insert("c", newJob("c", nil))

	visited := 0
	s.Range(func(string, *Job) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}
