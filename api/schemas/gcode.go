package schemas

// -- G-code Document Schemas --

// Line is one physical line of a G-code file. Raw preserves the original
// text exactly (including trailing whitespace, carriage returns and the
// comment), so joining every Raw with the original separator reproduces the
// input byte for byte. Lines are immutable once parsed.
type Line struct {
	Index   int                `json:"index"` // 0-based, stable for the lifetime of the file.
	Raw     string             `json:"raw"`
	Command string             `json:"command,omitempty"` // e.g. "G1", "M104", "START_PRINT". Empty when the line has no parsable command.
	Params  map[string]float64 `json:"params,omitempty"`  // single-letter key -> numeric value.
	Comment string             `json:"comment,omitempty"` // text after ';', without the semicolon.
}

// Param returns the numeric value for a single-letter parameter key.
func (l Line) Param(key string) (float64, bool) {
	v, ok := l.Params[key]
	return v, ok
}

// HasParam reports whether the line carries the given parameter.
func (l Line) HasParam(key string) bool {
	_, ok := l.Params[key]
	return ok
}

// IsMove reports whether the line is a G0/G1 motion command.
func (l Line) IsMove() bool {
	return l.Command == "G0" || l.Command == "G1"
}

// ExtrudesFilament reports whether the line is a move with a positive E value.
func (l Line) ExtrudesFilament() bool {
	if !l.IsMove() {
		return false
	}
	e, ok := l.Params["E"]
	return ok && e > 0
}

// TemperatureEvent is one M104/M109/M140/M190 occurrence, ordered by LineIndex.
type TemperatureEvent struct {
	LineIndex  int      `json:"line_index"`
	Command    string   `json:"command"`
	TargetTemp float64  `json:"target_temp"`
	HValue     *float64 `json:"h_value,omitempty"` // Bambu/Orca multi-nozzle extension.
}

// IsNozzle reports whether the event targets the hotend (M104/M109).
func (e TemperatureEvent) IsNozzle() bool {
	return e.Command == "M104" || e.Command == "M109"
}

// IsBed reports whether the event targets the bed (M140/M190).
func (e TemperatureEvent) IsBed() bool {
	return e.Command == "M140" || e.Command == "M190"
}

// IsWait reports whether the event blocks until the target is reached.
func (e TemperatureEvent) IsWait() bool {
	return e.Command == "M109" || e.Command == "M190"
}

// Section identifies the coarse phase of a print file a line belongs to.
type Section string

const (
	SectionStart Section = "START"
	SectionBody  Section = "BODY"
	SectionEnd   Section = "END"
)

// SectionBoundaries holds the detected half-open ranges over line indices.
// Immutable after detection. Invariant: 0 <= StartEnd <= BodyEnd < TotalLines
// for any non-empty file.
type SectionBoundaries struct {
	StartEnd   int `json:"start_end"` // last line index of the START section.
	BodyEnd    int `json:"body_end"`  // last line index of the BODY section.
	TotalLines int `json:"total_lines"`

	LastLayer         int `json:"last_layer"`
	LastLayerLine     int `json:"last_layer_line"`
	LastExtrusionLine int `json:"last_extrusion_line"`

	// LowConfidence is set when no explicit marker was found and a heuristic
	// fallback decided a boundary.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Section classifies a line index into START/BODY/END.
func (b SectionBoundaries) Section(lineIndex int) Section {
	switch {
	case lineIndex <= b.StartEnd:
		return SectionStart
	case lineIndex <= b.BodyEnd:
		return SectionBody
	default:
		return SectionEnd
	}
}

// NearEnd reports whether a line sits within threshold lines of the END
// boundary. Used by rules to discount shutdown patterns.
func (b SectionBoundaries) NearEnd(lineIndex, threshold int) bool {
	return lineIndex > b.BodyEnd-threshold
}

// SpeedClass parametrizes the excessive-speed thresholds.
type SpeedClass string

const (
	SpeedClassStandard  SpeedClass = "standard"
	SpeedClassHighSpeed SpeedClass = "high_speed"
)

// SpeedStats summarizes feed-rate samples in mm/s.
type SpeedStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_mms"`
	Max   float64 `json:"max_mms"`
	Avg   float64 `json:"avg_mms"`
}

// MotionSummary is the feed-rate picture of a file, split into print moves
// (positive E) and travel moves (no E, or G0).
type MotionSummary struct {
	Print  SpeedStats `json:"print"`
	Travel SpeedStats `json:"travel"`

	FirstExtrusionLine int `json:"first_extrusion_line"` // -1 when the file never extrudes.
	LastExtrusionLine  int `json:"last_extrusion_line"`
}

// PrinterContext is what the header of a file reveals about the machine that
// will run it. It parametrizes rule thresholds and macro awareness, never
// suppresses whole rules.
type PrinterContext struct {
	Slicer    string     `json:"slicer,omitempty"`
	Firmware  string     `json:"firmware,omitempty"`
	Equipment string     `json:"equipment,omitempty"`
	Class     SpeedClass `json:"speed_class"`

	// StartMacro is populated when a vendor start macro (START_PRINT,
	// PRINT_START) was observed.
	StartMacro *StartMacroCall `json:"start_macro,omitempty"`
}

// StartMacroCall records an observed vendor start-macro invocation.
type StartMacroCall struct {
	LineIndex    int      `json:"line_index"`
	Name         string   `json:"name"`
	Raw          string   `json:"raw"`
	ExtruderTemp *float64 `json:"extruder_temp,omitempty"`
	BedTemp      *float64 `json:"bed_temp,omitempty"`
}
