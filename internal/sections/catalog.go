package sections

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/printforge/gcode-triage/api/schemas"
)

// MacroEffect declares what a vendor macro does on the printer, independent
// of what the surrounding G-code shows. The boundary detector and the rules
// consult effects, never macro names directly, so the catalog can grow
// without touching the state machine.
type MacroEffect struct {
	SetsTemperature  bool
	WaitsTemperature bool
	EndsPrint        bool
}

// MacroCatalog maps vendor macro command names to their declared effects.
type MacroCatalog struct {
	entries map[string]MacroEffect
}

// NewMacroCatalog returns the built-in catalog covering the Klipper macro
// dialect. Names are matched against the parsed Command token, uppercase.
func NewMacroCatalog() *MacroCatalog {
	return &MacroCatalog{entries: map[string]MacroEffect{
		"START_PRINT": {SetsTemperature: true, WaitsTemperature: true},
		"PRINT_START": {SetsTemperature: true, WaitsTemperature: true},
		"END_PRINT":   {EndsPrint: true},
		"PRINT_END":   {EndsPrint: true},
	}}
}

// Lookup returns the effect for a command name, if the catalog knows it.
func (c *MacroCatalog) Lookup(command string) (MacroEffect, bool) {
	e, ok := c.entries[command]
	return e, ok
}

// Register adds or replaces a macro entry.
func (c *MacroCatalog) Register(name string, effect MacroEffect) {
	c.entries[strings.ToUpper(name)] = effect
}

var (
	macroExtruderTempRe = regexp.MustCompile(`(?i)EXTRUDER(?:_TEMP)?\s*=\s*(\d+(?:\.\d+)?)`)
	macroBedTempRe      = regexp.MustCompile(`(?i)BED(?:_TEMP)?\s*=\s*(\d+(?:\.\d+)?)`)
)

// ParseStartMacro extracts the temperature parameters of a start-macro call
// from its raw text. Klipper macros take KEY=VALUE arguments, which the
// single-letter tokenizer deliberately leaves alone.
func ParseStartMacro(line schemas.Line) *schemas.StartMacroCall {
	call := &schemas.StartMacroCall{
		LineIndex: line.Index,
		Name:      line.Command,
		Raw:       strings.TrimSpace(line.Raw),
	}
	if m := macroExtruderTempRe.FindStringSubmatch(line.Raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			call.ExtruderTemp = &v
		}
	}
	if m := macroBedTempRe.FindStringSubmatch(line.Raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			call.BedTemp = &v
		}
	}
	return call
}
