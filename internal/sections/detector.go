// Package sections classifies the lines of a print file into the START /
// BODY / END phases and builds the per-line layer map.
//
// Detection is a single forward pass plus a bounded backward scan near the
// tail. Vendor macro recognition takes precedence over raw command pattern
// matching: a temperature reset immediately before a START_PRINT call is a
// priming reset, not a shutdown, and macro-driven files must not be misread
// as "temperature never set".
package sections

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/printforge/gcode-triage/api/schemas"
)

// Config carries the tunable detection thresholds. The end-scan window and
// the macro lookahead are provisional values still under tuning; they are
// configuration, not constants.
type Config struct {
	MacroLookahead int // lines a start macro may trail a temperature reset.
	EndScanWindow  int // how far from the tail the END scan reaches.
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{MacroLookahead: 5, EndScanWindow: 500}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MacroLookahead <= 0 {
		c.MacroLookahead = d.MacroLookahead
	}
	if c.EndScanWindow <= 0 {
		c.EndScanWindow = d.EndScanWindow
	}
	return c
}

// LayerMap resolves a line index to the layer being printed there. Lines
// before the first layer marker (and the whole START section) map to 0.
type LayerMap struct {
	starts []layerStart // ascending by line.
}

type layerStart struct {
	line  int
	layer int
}

// At returns the layer index active at the given line.
func (m *LayerMap) At(line int) int {
	if m == nil || len(m.starts) == 0 {
		return 0
	}
	i := sort.Search(len(m.starts), func(i int) bool { return m.starts[i].line > line })
	if i == 0 {
		return 0
	}
	return m.starts[i-1].layer
}

// LastLayer returns the highest layer number seen, 0 when none.
func (m *LayerMap) LastLayer() (layer, line int) {
	for _, s := range m.starts {
		if s.layer >= layer {
			layer = s.layer
			line = s.line
		}
	}
	return layer, line
}

var (
	layerNumberRe = regexp.MustCompile(`(?i)^\s*LAYER[:\s]+(\d+)`)
	layerChangeRe = regexp.MustCompile(`(?i)^\s*(?:LAYER_CHANGE|CHANGE_LAYER)\b`)
)

// Start-of-print markers, matched against comment text, most specific first.
var startEndMarkers = []string{
	"MACHINE_START_GCODE_END",
	"START_GCODE_END",
	"START PRINTING OBJECT",
	"LAYER:0",
}

// Weaker fallbacks; these also occur deep inside bodies, so they only rule
// once the explicit markers failed.
var startFallbackMarkers = []string{
	"LAYER_CHANGE",
	"CHANGE_LAYER",
	"TYPE:",
	"Z:",
}

var endMarkers = []string{
	"END_GCODE",
	"END GCODE",
	"END OF GCODE",
	"EXECUTABLE_BLOCK_END",
	"FILAMENT END GCODE",
	"FILAMENT-SPECIFIC END G-CODE",
}

// Bare "END" must not match hotend/frontend.
var bareEndRe = regexp.MustCompile(`(?i)\bEND\b`)

// Detect runs the boundary state machine over a parsed file and returns the
// immutable boundaries plus the layer map. The boundaries satisfy
// 0 <= StartEnd <= BodyEnd < TotalLines for any non-empty input.
func Detect(lines []schemas.Line, catalog *MacroCatalog, cfg Config) (schemas.SectionBoundaries, *LayerMap) {
	cfg = cfg.withDefaults()
	total := len(lines)
	if total == 0 {
		return schemas.SectionBoundaries{}, &LayerMap{}
	}

	layers, lastExtrusion := scanForward(lines)
	lastLayer, lastLayerLine := layers.LastLayer()

	b := schemas.SectionBoundaries{
		TotalLines:        total,
		LastLayer:         lastLayer,
		LastLayerLine:     lastLayerLine,
		LastExtrusionLine: lastExtrusion,
	}

	b.StartEnd = detectStartEnd(lines, catalog, &b)
	b.BodyEnd = detectBodyEnd(lines, catalog, cfg, &b)

	// Clamp into the documented invariant.
	if b.BodyEnd >= total {
		b.BodyEnd = total - 1
	}
	if b.BodyEnd < b.StartEnd {
		b.BodyEnd = b.StartEnd
	}
	if b.StartEnd >= total {
		b.StartEnd = total - 1
	}
	return b, layers
}

// scanForward collects the layer map and the last positive-extrusion line in
// one pass.
func scanForward(lines []schemas.Line) (*LayerMap, int) {
	layers := &LayerMap{}
	lastExtrusion := 0
	for _, line := range lines {
		if line.Comment != "" {
			if m := layerNumberRe.FindStringSubmatch(line.Comment); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					layers.starts = append(layers.starts, layerStart{line: line.Index, layer: n})
				}
			} else if layerChangeRe.MatchString(line.Comment) {
				next := 0
				if len(layers.starts) > 0 {
					next = layers.starts[len(layers.starts)-1].layer + 1
				}
				layers.starts = append(layers.starts, layerStart{line: line.Index, layer: next})
			}
		}
		if line.ExtrudesFilament() {
			lastExtrusion = line.Index
		}
	}
	return layers, lastExtrusion
}

func detectStartEnd(lines []schemas.Line, catalog *MacroCatalog, b *schemas.SectionBoundaries) int {
	total := len(lines)

	// Vendor start macro wins over comment markers: macro-driven slicers put
	// the real preamble boundary at the macro call, and priming resets just
	// before it belong to START.
	for _, line := range lines {
		if line.Index >= headerScanLimit {
			break
		}
		if effect, ok := catalog.Lookup(line.Command); ok && effect.SetsTemperature {
			return line.Index
		}
	}

	for _, marker := range startEndMarkers {
		for _, line := range lines {
			if line.Comment == "" {
				continue
			}
			if strings.Contains(strings.ToUpper(line.Comment), marker) {
				return line.Index
			}
		}
	}

	for _, line := range lines {
		if line.Comment == "" {
			continue
		}
		upper := strings.ToUpper(line.Comment)
		for _, marker := range startFallbackMarkers {
			if strings.HasPrefix(upper, marker) {
				return line.Index
			}
		}
	}

	// No marker at all: the first sub-millimeter Z move is the first layer.
	limit := total
	if limit > headerScanLimit {
		limit = headerScanLimit
	}
	for _, line := range lines[:limit] {
		if line.IsMove() {
			if z, ok := line.Param("Z"); ok && z > 0 && z < 1 {
				b.LowConfidence = true
				return line.Index
			}
		}
	}

	b.LowConfidence = true
	if total < 100 {
		return 0
	}
	return 100
}

func detectBodyEnd(lines []schemas.Line, catalog *MacroCatalog, cfg Config, b *schemas.SectionBoundaries) int {
	total := len(lines)
	searchStart := total - cfg.EndScanWindow
	if searchStart < 0 {
		searchStart = 0
	}

	// 1. Vendor end macro.
	for i := total - 1; i >= searchStart; i-- {
		if effect, ok := catalog.Lookup(lines[i].Command); ok && effect.EndsPrint {
			return i - 1
		}
	}

	// 2. First temperature-off after the last extrusion.
	if b.LastExtrusionLine > 0 {
		for i := b.LastExtrusionLine + 1; i < total; i++ {
			if isTempOff(lines[i]) {
				return i - 1
			}
		}
	}

	// 3. Explicit END comment within the tail window.
	for i := searchStart; i < total; i++ {
		c := lines[i].Comment
		if c == "" {
			continue
		}
		upper := strings.ToUpper(c)
		for _, marker := range endMarkers {
			if strings.Contains(upper, marker) {
				return i - 1
			}
		}
		if bareEndRe.MatchString(c) && !strings.Contains(upper, "HOTEND") && !strings.Contains(upper, "FRONTEND") {
			return i - 1
		}
	}

	// 4. Backward: temperature-off, then rewind to the extrusion before it.
	for i := total - 1; i >= searchStart; i-- {
		if !isTempOff(lines[i]) {
			continue
		}
		for j := i - 1; j >= searchStart; j-- {
			if lines[j].IsMove() && lines[j].HasParam("E") {
				return j
			}
		}
		return i - 1
	}

	// 5. Backward: motor-disable or re-home as the shutdown anchor.
	for i := total - 1; i >= searchStart; i-- {
		cmd := lines[i].Command
		if cmd == "M84" || cmd == "M18" || cmd == "G28" {
			for j := i - 1; j >= searchStart; j-- {
				if lines[j].IsMove() && lines[j].HasParam("E") {
					return j
				}
			}
			break
		}
	}

	// 6. Heuristic fallbacks only from here on.
	b.LowConfidence = true
	if b.LastExtrusionLine > 0 {
		end := b.LastExtrusionLine + 50
		if end > total-1 {
			end = total - 1
		}
		return end
	}

	tail := total / 20
	if tail < 10 {
		tail = 10
	}
	if tail > 50 {
		tail = 50
	}
	if total-tail < 0 {
		return total - 1
	}
	return total - tail
}

func isTempOff(line schemas.Line) bool {
	switch line.Command {
	case "M104", "M109", "M140", "M190":
		s, ok := line.Param("S")
		return ok && s == 0
	}
	return false
}
