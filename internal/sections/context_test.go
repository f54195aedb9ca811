package sections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printforge/gcode-triage/api/schemas"
)

func TestDetectContext(t *testing.T) {
	testCases := []struct {
		name      string
		script    string
		slicer    string
		firmware  string
		equipment string
		class     schemas.SpeedClass
	}{
		{
			name: "voron klipper export",
			script: `
; generated by OrcaSlicer
; printer notes: Voron 2.4
SET_PRESSURE_ADVANCE ADVANCE=0.04
G28`,
			slicer:    "orcaslicer",
			firmware:  "klipper",
			equipment: "voron",
			class:     schemas.SpeedClassHighSpeed,
		},
		{
			name: "bambu via header banner",
			script: `
; BambuStudio 1.9.0
; printer_model: X1C
M104 S220`,
			slicer:    "bambustudio",
			equipment: "bambulab",
			class:     schemas.SpeedClassHighSpeed,
		},
		{
			name: "bambu via H parameter only",
			script: `
G28
M109 S25 H140
G1 X1`,
			equipment: "bambulab",
			class:     schemas.SpeedClassHighSpeed,
		},
		{
			name: "plain marlin stays standard",
			script: `
; Generated with Cura
M104 S200
M109 S200
G28`,
			slicer: "cura",
			class:  schemas.SpeedClassStandard,
		},
		{
			name: "high speed comment promotes class",
			script: `
; profile: high-speed draft
G28`,
			class: schemas.SpeedClassHighSpeed,
		},
		{
			name:   "empty file",
			script: ``,
			class:  schemas.SpeedClassStandard,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lines := parseScript(t, tc.script)
			ctx := DetectContext(lines, NewMacroCatalog())
			assert.Equal(t, tc.slicer, ctx.Slicer)
			assert.Equal(t, tc.firmware, ctx.Firmware)
			assert.Equal(t, tc.equipment, ctx.Equipment)
			assert.Equal(t, tc.class, ctx.Class)
		})
	}
}

func TestDetectContextCapturesStartMacro(t *testing.T) {
	script := `
; OrcaSlicer
START_PRINT EXTRUDER_TEMP=225 BED_TEMP=60
G1 X1 E0.5`

	ctx := DetectContext(parseScript(t, script), NewMacroCatalog())
	require.NotNil(t, ctx.StartMacro)
	assert.Equal(t, 1, ctx.StartMacro.LineIndex)
	assert.Equal(t, "START_PRINT", ctx.StartMacro.Name)
	require.NotNil(t, ctx.StartMacro.ExtruderTemp)
	assert.Equal(t, 225.0, *ctx.StartMacro.ExtruderTemp)
	assert.Equal(t, "klipper", ctx.Firmware, "a start macro implies klipper")
}
