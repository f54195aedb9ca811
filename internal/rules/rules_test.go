package rules

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/events"
	"github.com/printforge/gcode-triage/internal/gcode"
	"github.com/printforge/gcode-triage/internal/sections"
)

// analyze runs the full segment pipeline over a script so rule tests see the
// same input shape the analyzer produces.
func analyze(t *testing.T, script string) Input {
	t.Helper()
	lines := gcode.Parse(strings.TrimLeft(script, "\n"))
	catalog := sections.NewMacroCatalog()
	boundaries, _ := sections.Detect(lines, catalog, sections.Config{})
	return Input{
		Lines:      lines,
		Events:     events.Temperatures(lines),
		Boundaries: boundaries,
		Motion:     events.Motion(lines),
		Context:    sections.DetectContext(lines, catalog),
		Catalog:    catalog,
		Config:     DefaultConfig(),
	}
}

// fixedInput builds an Input with hand-set boundaries for rules whose
// interesting cases sit far from any real boundary heuristic.
func fixedInput(script string, b schemas.SectionBoundaries) Input {
	lines := gcode.Parse(strings.TrimLeft(script, "\n"))
	return Input{
		Lines:      lines,
		Events:     events.Temperatures(lines),
		Boundaries: b,
		Motion:     events.Motion(lines),
		Context:    schemas.PrinterContext{Class: schemas.SpeedClassStandard},
		Catalog:    sections.NewMacroCatalog(),
		Config:     DefaultConfig(),
	}
}

func TestColdExtrusion(t *testing.T) {
	in := analyze(t, `
;LAYER:0
M104 S0
G1 X10 E0.5
G1 X20 E1.0
M104 S0`)

	drafts := checkColdExtrusion(in)
	require.Len(t, drafts, 1, "only the first cold move is flagged")
	assert.Equal(t, schemas.SeverityCritical, drafts[0].Severity)
	assert.Equal(t, 2, drafts[0].LineIndex)
	assert.Equal(t, "Cold extrusion", drafts[0].Title)
}

func TestColdExtrusionHeatedIsClean(t *testing.T) {
	in := analyze(t, `
M109 S210
;LAYER:0
G1 X10 E0.5`)
	assert.Empty(t, checkColdExtrusion(in))
}

func TestColdExtrusionMacroTempWins(t *testing.T) {
	// The macro declares the real target; the raw stream never shows it.
	in := analyze(t, `
START_PRINT EXTRUDER_TEMP=225 BED_TEMP=60
;LAYER:0
G1 X10 E0.5`)
	assert.Empty(t, checkColdExtrusion(in))
}

func TestColdExtrusionAuxNozzleIgnored(t *testing.T) {
	in := analyze(t, `
M109 S210
;LAYER:0
M104 S0 H2
G1 X10 E0.5`)
	assert.Empty(t, checkColdExtrusion(in), "H-parameter reset addresses a secondary nozzle")
}

func TestEarlyTempOff(t *testing.T) {
	in := fixedInput(`
M104 S210
G1 X1 E0.5
M104 S0
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 3, TotalLines: 4, LastExtrusionLine: 3})

	drafts := checkEarlyTempOff(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, schemas.SeverityHigh, drafts[0].Severity)
	assert.Equal(t, 2, drafts[0].LineIndex)
	assert.Equal(t, "M109 S210", drafts[0].FixProposal, "proposal restores the last known target")
}

func TestEarlyTempOffReheatIsClean(t *testing.T) {
	in := fixedInput(`
M104 S210
G1 X1 E0.5
M104 S0
M109 S210
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 4, TotalLines: 5, LastExtrusionLine: 4})
	assert.Empty(t, checkEarlyTempOff(in))
}

func TestEarlyTempOffPrimingResetSuppressed(t *testing.T) {
	// A shutdown directly followed by a temperature-setting macro is a
	// priming reset; macro recognition wins over the raw S0 pattern even
	// deep inside the body.
	in := fixedInput(`
M104 S210
G1 X1 E0.5
M104 S0
START_PRINT EXTRUDER_TEMP=225
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 4, TotalLines: 5, LastExtrusionLine: 4})
	assert.Empty(t, checkEarlyTempOff(in))
	assert.Empty(t, checkColdExtrusion(in))
}

func TestEarlyTempOffEndSectionIsClean(t *testing.T) {
	in := analyze(t, `
;LAYER:0
M104 S210
G1 X1 E0.5
M104 S0
M84`)
	assert.Empty(t, checkEarlyTempOff(in), "shutdown after the last extrusion is normal")
}

func TestBedTempOffEarly(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(";LAYER:0\nM140 S60\n")
	sb.WriteString("M140 S0\n") // line 2, far from the end
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&sb, "G1 X%d E%d\n", i, i+1)
	}
	sb.WriteString("M104 S0\nM140 S0\nM84\n")
	in := analyze(t, sb.String())

	drafts := checkBedTempOffEarly(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, schemas.SeverityLow, drafts[0].Severity)
	assert.Equal(t, 2, drafts[0].LineIndex)
}

func TestBedTempOffNearEndIsClean(t *testing.T) {
	in := fixedInput(`
M140 S60
G1 X1 E0.5
M140 S0
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 3, TotalLines: 4, LastExtrusionLine: 3})
	assert.Empty(t, checkBedTempOffEarly(in), "one line of remaining printing is below the threshold")
}

func TestLowTemp(t *testing.T) {
	in := fixedInput(`
M109 S210
G1 X1 E0.5
M104 S150
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 3, TotalLines: 4, LastExtrusionLine: 3})

	drafts := checkLowTemp(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, 2, drafts[0].LineIndex)
	assert.Equal(t, schemas.SeverityHigh, drafts[0].Severity)
	assert.Equal(t, "M104 S180", drafts[0].FixProposal)
}

func TestLowTempAuxNozzleIgnored(t *testing.T) {
	in := fixedInput(`
M109 S25 H140
G1 X1 E0.5`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 1, TotalLines: 2, LastExtrusionLine: 1})
	assert.Empty(t, checkLowTemp(in))
}

func TestRapidTempChange(t *testing.T) {
	in := fixedInput(`
M109 S250
G1 X1 E0.5
M104 S190
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 3, TotalLines: 4, LastExtrusionLine: 3})

	drafts := checkRapidTempChange(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, 2, drafts[0].LineIndex)
}

func TestRapidTempChangeShutdownNotCounted(t *testing.T) {
	in := fixedInput(`
M109 S250
G1 X1 E0.5
M104 S0
G1 X2 E1.0`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 3, TotalLines: 4, LastExtrusionLine: 3})
	assert.Empty(t, checkRapidTempChange(in), "a drop to zero is the early-off rule's business")
}

func TestBodyTempChanges(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("M109 S200\n;LAYER:0\n")
	for i := 0; i < 5; i++ {
		temp := 210 + 10*(i%2)
		fmt.Fprintf(&sb, "M104 S%d\nG1 X%d E%d\n", temp, i, i+1)
	}
	in := analyze(t, sb.String())

	drafts := checkBodyTempChanges(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, schemas.SeverityMedium, drafts[0].Severity)
	assert.Equal(t, 2, drafts[0].LineIndex, "finding points at the first change")
	assert.Contains(t, drafts[0].Description, "5 nozzle target changes")
}

func TestBodyTempChangesWithinLimit(t *testing.T) {
	in := analyze(t, `
M109 S210
;LAYER:0
M104 S220
G1 X1 E0.5
M104 S210
G1 X2 E1.0`)
	assert.Empty(t, checkBodyTempChanges(in), "two changes are under the limit")
}

func TestExcessiveSpeed(t *testing.T) {
	in := fixedInput(`
G1 X1 Y1 E0.5 F30000
G1 X50 Y50 F30000`, schemas.SectionBoundaries{StartEnd: 0, BodyEnd: 1, TotalLines: 2, LastExtrusionLine: 0})
	in.Boundaries.StartEnd = -1 // everything is body for this check

	drafts := checkExcessiveSpeed(in)
	require.Len(t, drafts, 2)
	assert.Equal(t, "Print speed over limit", drafts[0].Title)
	assert.Equal(t, 0, drafts[0].LineIndex)
	assert.Equal(t, "F9000", drafts[0].FixProposal)
	assert.Equal(t, "Travel speed over limit", drafts[1].Title)
	assert.Equal(t, "F12000", drafts[1].FixProposal)
}

func TestExcessiveSpeedHighSpeedClassIsClean(t *testing.T) {
	in := fixedInput(`
G1 X1 Y1 E0.5 F30000
G1 X50 Y50 F30000`, schemas.SectionBoundaries{StartEnd: -1, BodyEnd: 1, TotalLines: 2, LastExtrusionLine: 0})
	in.Context.Class = schemas.SpeedClassHighSpeed
	assert.Empty(t, checkExcessiveSpeed(in), "500 mm/s is at the high-speed ceiling, not over it")
}

func TestExcessiveSpeedFlagsOnlyFirstOffender(t *testing.T) {
	in := fixedInput(`
G1 X1 E0.5 F30000
G1 X2 E1.0
G1 X3 E1.5`, schemas.SectionBoundaries{StartEnd: -1, BodyEnd: 2, TotalLines: 3, LastExtrusionLine: 2})
	drafts := checkExcessiveSpeed(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, 0, drafts[0].LineIndex)
}

func TestMissingTempWait(t *testing.T) {
	in := analyze(t, `
M104 S210
;LAYER:0
G1 X1 E0.5`)

	drafts := checkMissingTempWait(in)
	require.Len(t, drafts, 1)
	assert.Equal(t, 2, drafts[0].LineIndex)
	assert.Equal(t, schemas.SeverityHigh, drafts[0].Severity)
}

func TestMissingTempWaitSatisfiedByWait(t *testing.T) {
	in := analyze(t, `
M109 S210
;LAYER:0
G1 X1 E0.5`)
	assert.Empty(t, checkMissingTempWait(in))
}

func TestMissingTempWaitSatisfiedByStartMacro(t *testing.T) {
	in := analyze(t, `
START_PRINT EXTRUDER_TEMP=225
G1 X1 E0.5`)
	assert.Empty(t, checkMissingTempWait(in), "the start macro waits internally")
}

func TestMissingTempWaitNoExtrusion(t *testing.T) {
	in := analyze(t, "G28\nM104 S210")
	assert.Empty(t, checkMissingTempWait(in))
}

func TestVendorExtension(t *testing.T) {
	in := analyze(t, `
;LAYER:0
M109 S25 H140
G9111 X210 Y60
G1 X1 E0.5`)

	drafts := checkVendorExtension(in)
	require.Len(t, drafts, 2)
	assert.Equal(t, 1, drafts[0].LineIndex)
	assert.Contains(t, drafts[0].Description, "H parameter")
	assert.Equal(t, 2, drafts[1].LineIndex)
	assert.Contains(t, drafts[1].Description, "G9111")
	for _, d := range drafts {
		assert.Equal(t, schemas.SeverityMedium, d.Severity)
	}
}

func TestEvaluateAssignsSequentialIDs(t *testing.T) {
	engine := NewEngine(Config{}, zaptest.NewLogger(t))
	in := analyze(t, `
;LAYER:0
M104 S0
G1 X10 E0.5
G1 X20 E1.0
M104 S0`)

	findings, err := engine.Evaluate(in)
	require.NoError(t, err)
	require.Len(t, findings, 3)

	assert.Equal(t, "ISSUE-1", findings[0].ID)
	assert.Equal(t, schemas.FindingColdExtrusion, findings[0].Type)
	assert.Equal(t, "ISSUE-2", findings[1].ID)
	assert.Equal(t, schemas.FindingEarlyTempOff, findings[1].Type)
	assert.Equal(t, "ISSUE-3", findings[2].ID)
	assert.Equal(t, schemas.FindingMissingTempWait, findings[2].Type)
}

func TestEvaluateCleanFile(t *testing.T) {
	engine := NewEngine(Config{}, zaptest.NewLogger(t))
	in := analyze(t, `
M140 S60
M190 S60
M109 S210
;LAYER:0
G1 Z0.2 F600
G1 X10 E0.5 F1800
G1 X20 E1.0
M104 S0
M140 S0
M84`)

	findings, err := engine.Evaluate(in)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestRunOneRecoversPanic(t *testing.T) {
	engine := NewEngine(Config{}, zaptest.NewLogger(t))
	rule := registeredRule{
		kind: schemas.FindingColdExtrusion,
		eval: func(Input) []draft { panic("boom") },
	}

	drafts, err := engine.runOne(rule, Input{})
	assert.Nil(t, drafts)

	var fault *PipelineFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, schemas.FindingColdExtrusion, fault.Rule)
	assert.Contains(t, fault.Error(), "boom")
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{MinBodyTemp: 200}.withDefaults()
	assert.Equal(t, 200.0, cfg.MinBodyTemp, "explicit value survives")
	assert.Equal(t, 50.0, cfg.RapidDropDelta)
	assert.Equal(t, 4, cfg.BodyTempChangeLimit)
	assert.Equal(t, 150.0, cfg.PrintSpeedLimit[schemas.SpeedClassStandard])
	assert.Equal(t, 700.0, cfg.TravelSpeedLimit[schemas.SpeedClassHighSpeed])
}
