package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printforge/gcode-triage/api/schemas"
)

func TestParseLine(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		command string
		params  map[string]float64
		comment string
	}{
		{
			name:    "simple move",
			raw:     "G1 X10.5 Y-2 E0.04 F1800",
			command: "G1",
			params:  map[string]float64{"X": 10.5, "Y": -2, "E": 0.04, "F": 1800},
		},
		{
			name:    "temperature with comment",
			raw:     "M104 S210 ; heat up nozzle",
			command: "M104",
			params:  map[string]float64{"S": 210},
			comment: "heat up nozzle",
		},
		{
			name:    "comment only line",
			raw:     ";LAYER:0",
			comment: "LAYER:0",
		},
		{
			name: "blank line",
			raw:  "",
		},
		{
			name: "whitespace only",
			raw:  "   \t ",
		},
		{
			name:    "lowercase normalized",
			raw:     "g1 x5 e1",
			command: "G1",
			params:  map[string]float64{"X": 5, "E": 1},
		},
		{
			name:    "vendor macro is a command",
			raw:     "START_PRINT EXTRUDER_TEMP=225 BED_TEMP=60",
			command: "START_PRINT",
		},
		{
			name:    "bambu H parameter",
			raw:     "M109 S25 H140",
			command: "M109",
			params:  map[string]float64{"S": 25, "H": 140},
		},
		{
			name:    "malformed numeric token dropped, line survives",
			raw:     "G1 Xabc Y5",
			command: "G1",
			params:  map[string]float64{"Y": 5},
		},
		{
			name:    "duplicate parameter keeps first",
			raw:     "G1 X1 X9",
			command: "G1",
			params:  map[string]float64{"X": 1},
		},
		{
			name: "garbage has no command",
			raw:  "@@@!!",
		},
		{
			name: "leading digit is not a command",
			raw:  "1G X5",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			line := ParseLine(tc.raw, 7)
			assert.Equal(t, 7, line.Index)
			assert.Equal(t, tc.raw, line.Raw, "raw text must be preserved verbatim")
			assert.Equal(t, tc.command, line.Command)
			assert.Equal(t, tc.comment, line.Comment)
			if len(tc.params) == 0 {
				assert.Empty(t, line.Params)
			} else {
				assert.Equal(t, tc.params, line.Params)
			}
		})
	}
}

func TestParseIndexContinuity(t *testing.T) {
	text := "M104 S200\n\n; comment\nG1 X1 E1"
	lines := Parse(text)
	require.Len(t, lines, 4)
	for i, line := range lines {
		assert.Equal(t, i, line.Index, "indices must be dense and 0-based")
	}
	// Blank and comment-only lines are retained.
	assert.Empty(t, lines[1].Command)
	assert.Equal(t, "comment", lines[2].Comment)
}

func TestJoinRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"G1 X1",
		"G1 X1\n",
		"M104 S200\nG1 X1 E5\n;LAYER:1\n",
		"M104 S200\r\nG1 X1\r\n", // CR stays inside Raw
		"no newline at end\nat all",
		"\n\n\n",
		"  leading spaces kept \nand trailing\t",
	}
	for _, input := range inputs {
		assert.Equal(t, input, Join(Parse(input)), "round trip must be byte exact for %q", input)
	}
}

func TestLinesIsRestartable(t *testing.T) {
	seq := Lines("G1 X1\nG1 X2\nG1 X3")

	var first, second []schemas.Line
	for line := range seq {
		first = append(first, line)
	}
	for line := range seq {
		second = append(second, line)
	}
	require.Len(t, first, 3)
	assert.Equal(t, first, second, "a second pass must re-tokenize from the start")
}

func TestLinesEarlyStop(t *testing.T) {
	count := 0
	for range Lines("a\nb\nc\nd") {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestLineHelpers(t *testing.T) {
	move := ParseLine("G1 X10 E0.5", 0)
	assert.True(t, move.IsMove())
	assert.True(t, move.ExtrudesFilament())

	retract := ParseLine("G1 E-2", 0)
	assert.True(t, retract.IsMove())
	assert.False(t, retract.ExtrudesFilament(), "negative E is a retraction")

	travel := ParseLine("G0 X50 Y50", 0)
	assert.True(t, travel.IsMove())
	assert.False(t, travel.ExtrudesFilament())

	heat := ParseLine("M109 S210", 0)
	assert.False(t, heat.IsMove())
	s, ok := heat.Param("S")
	assert.True(t, ok)
	assert.Equal(t, 210.0, s)
}

func FuzzParseLineRoundTrip(f *testing.F) {
	f.Add("G1 X10.5 Y-2 E0.04 F1800")
	f.Add("M104 S210 ; heat")
	f.Add(";LAYER_CHANGE")
	f.Add("START_PRINT EXTRUDER=210 BED=60")
	f.Add("\x00\xff weird bytes")
	f.Add("G1 X1\r")

	f.Fuzz(func(t *testing.T, raw string) {
		line := ParseLine(raw, 0)
		if line.Raw != raw {
			t.Fatalf("raw not preserved: %q != %q", line.Raw, raw)
		}
		for key := range line.Params {
			if len(key) != 1 {
				t.Fatalf("param key %q is not single letter", key)
			}
		}
	})
}
