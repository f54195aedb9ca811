package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/config"
)

const sampleColdFile = `; generated by PrusaSlicer
;LAYER:0
M104 S0
G1 X10 E0.5 F1800
G1 X20 E1.0
M104 S0
M84
`

const sampleCleanFile = `; generated by PrusaSlicer
M140 S60
M190 S60
M109 S210
;LAYER:0
G1 Z0.2 F600
G1 X10 E0.5 F1800
;LAYER:1
G1 X20 E1.0
M104 S0
M140 S0
M84
`

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	return NewAnalyzer(config.NewDefaultConfig(), zaptest.NewLogger(t))
}

func TestAnalyzeFlaggedFile(t *testing.T) {
	a := newAnalyzer(t)

	result, err := a.Analyze(context.Background(), sampleColdFile, "cold.gcode")
	require.NoError(t, err)

	require.Len(t, result.Findings, 3)
	assert.Equal(t, schemas.FindingColdExtrusion, result.Findings[0].Type)
	assert.Equal(t, "ISSUE-1", result.Findings[0].ID)
	assert.Equal(t, schemas.FindingEarlyTempOff, result.Findings[1].Type)
	assert.Equal(t, schemas.FindingMissingTempWait, result.Findings[2].Type)

	require.NotNil(t, result.PatchPlan)
	assert.Equal(t, "cold.gcode", result.PatchPlan.FilePath)
	assert.Equal(t, len(result.Findings), result.PatchPlan.TotalPatches,
		"exactly one patch per finding")
	for i, p := range result.PatchPlan.Patches {
		assert.Equal(t, result.Findings[i].ID, p.IssueID)
	}

	assert.Equal(t, len(a.Parse(sampleColdFile)), result.Segments.TotalLines)
	assert.Equal(t, "prusaslicer", result.Segments.Context.Slicer)
}

func TestAnalyzeCleanFile(t *testing.T) {
	a := newAnalyzer(t)

	result, err := a.Analyze(context.Background(), sampleCleanFile, "clean.gcode")
	require.NoError(t, err)

	assert.Empty(t, result.Findings)
	require.NotNil(t, result.PatchPlan)
	assert.Zero(t, result.PatchPlan.TotalPatches)
	assert.Equal(t, 1, result.Segments.Boundaries.LastLayer)
	assert.NotEmpty(t, result.Segments.Events)
}

func TestExtractSegments(t *testing.T) {
	a := newAnalyzer(t)
	lines := a.Parse(sampleCleanFile)

	seg, err := a.ExtractSegments(context.Background(), lines)
	require.NoError(t, err)

	assert.Equal(t, len(lines), seg.Data.TotalLines)
	assert.Equal(t, 4, seg.Data.Boundaries.StartEnd, "start ends at the LAYER:0 marker")
	assert.Len(t, seg.Data.Events, 5)
	assert.Equal(t, 30.0, seg.Data.Motion.Print.Max)
	require.NotNil(t, seg.Layers)
	assert.Equal(t, 1, seg.Layers.At(8))
}

func TestExtractSegmentsCancelledContext(t *testing.T) {
	a := newAnalyzer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.ExtractSegments(ctx, a.Parse(sampleCleanFile))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRulesCancelledContext(t *testing.T) {
	a := newAnalyzer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := a.RunRules(ctx, nil, Segments{}, "f.gcode")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	a := newAnalyzer(t)

	result, err := a.Analyze(context.Background(), "", "empty.gcode")
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
	assert.Equal(t, 1, result.Segments.TotalLines, "empty text still parses to one empty line")
}
