package schemas

import "time"

// -- Analysis Job Schemas --

// JobStatus is the externally observable lifecycle state of an analysis job.
type JobStatus string

const (
	JobPending       JobStatus = "pending"
	JobRunning       JobStatus = "running"
	JobSegmentsReady JobStatus = "segments_ready"
	JobCompleted     JobStatus = "completed"
	JobError         JobStatus = "error"
	JobCancelled     JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobCancelled
}

// Pipeline step names surfaced through CurrentStep and the timeline.
const (
	StepSegmentExtraction = "segment_extraction"
	StepRuleAnalysis      = "rule_analysis"
)

// TimelineEntry records the completion of one pipeline stage. Entries are
// append-only and observed in stage order by any poller.
type TimelineEntry struct {
	Step      int       `json:"step"`
	Label     string    `json:"label"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SegmentData is the structural half of an analysis, published at
// segments_ready so consumers can render boundaries and temperature data
// before the slower rule stage finishes.
type SegmentData struct {
	Boundaries SectionBoundaries  `json:"boundaries"`
	Events     []TemperatureEvent `json:"events"`
	Motion     MotionSummary      `json:"motion"`
	Context    PrinterContext     `json:"printer_context"`
	TotalLines int                `json:"total_lines"`
}

// AnalysisResult is the complete output of one pipeline run.
type AnalysisResult struct {
	Segments  SegmentData `json:"segments"`
	Findings  []Finding   `json:"findings"`
	PatchPlan *PatchPlan  `json:"patch_plan,omitempty"`
}

// JobSnapshot is the polling shape for one analysis job. Progress is 0-100
// and monotonically non-decreasing while the job runs.
type JobSnapshot struct {
	AnalysisID  string          `json:"analysis_id"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step,omitempty"`
	Timeline    []TimelineEntry `json:"timeline"`
	Segments    *SegmentData    `json:"segments,omitempty"` // set from segments_ready onward.
	Result      *AnalysisResult `json:"result,omitempty"`   // set only when completed.
	Error       string          `json:"error,omitempty"`
}
