package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionBoundariesClassification(t *testing.T) {
	b := SectionBoundaries{StartEnd: 10, BodyEnd: 90, TotalLines: 100}

	assert.Equal(t, SectionStart, b.Section(0))
	assert.Equal(t, SectionStart, b.Section(10))
	assert.Equal(t, SectionBody, b.Section(11))
	assert.Equal(t, SectionBody, b.Section(90))
	assert.Equal(t, SectionEnd, b.Section(91))
	assert.Equal(t, SectionEnd, b.Section(99))

	assert.True(t, b.NearEnd(85, 10))
	assert.False(t, b.NearEnd(75, 10))
}

func TestSeverityScoreDeduction(t *testing.T) {
	assert.Equal(t, 100, SeverityCritical.ScoreDeduction(), "critical forces the lowest grade")
	assert.Equal(t, 20, SeverityHigh.ScoreDeduction())
	assert.Equal(t, 7, SeverityMedium.ScoreDeduction())
	assert.Equal(t, 3, SeverityLow.ScoreDeduction())
	assert.Equal(t, 0, SeverityInfo.ScoreDeduction())
	assert.Equal(t, 0, Severity("bogus").ScoreDeduction())
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobCompleted, JobError, JobCancelled} {
		assert.True(t, s.Terminal(), "%s is terminal", s)
	}
	for _, s := range []JobStatus{JobPending, JobRunning, JobSegmentsReady} {
		assert.False(t, s.Terminal(), "%s is live", s)
	}
}

func TestFindingOverrideApply(t *testing.T) {
	f := Finding{
		ID:          "ISSUE-1",
		Severity:    SeverityHigh,
		Description: "original description",
	}

	adjusted := FindingOverride{Severity: SeverityLow}.Apply(f)
	assert.Equal(t, SeverityLow, adjusted.Severity)
	assert.Equal(t, "original description", adjusted.Description, "empty fields leave the original alone")

	adjusted = FindingOverride{Description: "human corrected"}.Apply(f)
	assert.Equal(t, SeverityHigh, adjusted.Severity)
	assert.Equal(t, "human corrected", adjusted.Description)

	assert.Equal(t, SeverityHigh, f.Severity, "the source finding is untouched")
}

func TestExportRequestDecoding(t *testing.T) {
	payload := []byte(`{
		"analysis_id": "a-1",
		"deltas": [
			{"line_index": 3, "action": "modify", "original_content": "M104 S150", "new_content": "M104 S180"},
			{"line_index": 7, "action": "insert_after", "new_content": "M109 S210"}
		],
		"include_header_comment": true,
		"strict": true
	}`)

	var req ExportRequest
	require.NoError(t, UnmarshalJSON(payload, &req))
	assert.Equal(t, "a-1", req.AnalysisID)
	require.Len(t, req.Deltas, 2)
	assert.Equal(t, DeltaModify, req.Deltas[0].Action)
	assert.Equal(t, "M104 S180", req.Deltas[0].NewContent)
	assert.Equal(t, DeltaInsertAfter, req.Deltas[1].Action)
	assert.True(t, req.Strict)
}
