// Package rules holds the anomaly rule engine. Every rule is a pure function
// of the parsed file, the temperature event stream and the detected section
// boundaries. Rules never read each other's output, so the result set is
// deterministic regardless of how the registry is ordered internally; finding
// IDs follow emission order.
package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/sections"
)

// Config carries the rule thresholds. Zero values fall back to the stock
// defaults so a partially filled config is still usable.
type Config struct {
	MinBodyTemp         float64 // floor for a plausible BODY print temperature. °C.
	RapidDropDelta      float64 // nozzle drop treated as a thermal shock. °C.
	BodyTempChangeLimit int     // BODY target changes tolerated before flagging.
	MacroLookahead      int     // lines a start macro may trail a priming reset.
	BedOffRemainingMin  int     // lines of remaining extrusion that make a bed-off early.

	// Per-class speed ceilings in mm/s.
	PrintSpeedLimit  map[schemas.SpeedClass]float64
	TravelSpeedLimit map[schemas.SpeedClass]float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinBodyTemp:         180,
		RapidDropDelta:      50,
		BodyTempChangeLimit: 4,
		MacroLookahead:      5,
		BedOffRemainingMin:  100,
		PrintSpeedLimit: map[schemas.SpeedClass]float64{
			schemas.SpeedClassStandard:  150,
			schemas.SpeedClassHighSpeed: 500,
		},
		TravelSpeedLimit: map[schemas.SpeedClass]float64{
			schemas.SpeedClassStandard:  200,
			schemas.SpeedClassHighSpeed: 700,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinBodyTemp <= 0 {
		c.MinBodyTemp = d.MinBodyTemp
	}
	if c.RapidDropDelta <= 0 {
		c.RapidDropDelta = d.RapidDropDelta
	}
	if c.BodyTempChangeLimit <= 0 {
		c.BodyTempChangeLimit = d.BodyTempChangeLimit
	}
	if c.MacroLookahead <= 0 {
		c.MacroLookahead = d.MacroLookahead
	}
	if c.BedOffRemainingMin <= 0 {
		c.BedOffRemainingMin = d.BedOffRemainingMin
	}
	if len(c.PrintSpeedLimit) == 0 {
		c.PrintSpeedLimit = d.PrintSpeedLimit
	}
	if len(c.TravelSpeedLimit) == 0 {
		c.TravelSpeedLimit = d.TravelSpeedLimit
	}
	return c
}

// Input is everything a rule may look at.
type Input struct {
	Lines      []schemas.Line
	Events     []schemas.TemperatureEvent
	Boundaries schemas.SectionBoundaries
	Motion     schemas.MotionSummary
	Context    schemas.PrinterContext
	Catalog    *sections.MacroCatalog
	Config     Config
}

// PipelineFault reports a rule that panicked mid-evaluation. It is the only
// way rule evaluation fails: every rule is total over well-formed input, so a
// fault marks a bug, not a bad file, and the job that hit it goes to error.
type PipelineFault struct {
	Rule      schemas.FindingType
	Recovered any
}

func (e *PipelineFault) Error() string {
	return fmt.Sprintf("rule %s panicked: %v", e.Rule, e.Recovered)
}

// draft is a Finding before the engine assigns its ID.
type draft struct {
	Type        schemas.FindingType
	Severity    schemas.Severity
	LineIndex   int
	Title       string
	Description string
	FixProposal string
}

type ruleFunc func(Input) []draft

type registeredRule struct {
	kind schemas.FindingType
	eval ruleFunc
}

// registry fixes the emission order of findings. The order is part of the
// observable contract because IDs are assigned sequentially.
var registry = []registeredRule{
	{schemas.FindingColdExtrusion, checkColdExtrusion},
	{schemas.FindingEarlyTempOff, checkEarlyTempOff},
	{schemas.FindingBedTempOffEarly, checkBedTempOffEarly},
	{schemas.FindingLowTemp, checkLowTemp},
	{schemas.FindingRapidTempChange, checkRapidTempChange},
	{schemas.FindingBodyTempChanges, checkBodyTempChanges},
	{schemas.FindingExcessiveSpeed, checkExcessiveSpeed},
	{schemas.FindingMissingTempWait, checkMissingTempWait},
	{schemas.FindingVendorExtension, checkVendorExtension},
}

// Engine evaluates the rule registry over one analyzed file.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// NewEngine builds an engine with the given thresholds.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), logger: logger.Named("rules")}
}

// Evaluate runs every registered rule and returns the findings in emission
// order with IDs assigned. A panicking rule aborts the run with a
// PipelineFault; no partial finding set is returned.
func (e *Engine) Evaluate(in Input) ([]schemas.Finding, error) {
	in.Config = e.cfg
	if in.Catalog == nil {
		in.Catalog = sections.NewMacroCatalog()
	}

	var findings []schemas.Finding
	for _, rule := range registry {
		drafts, err := e.runOne(rule, in)
		if err != nil {
			return nil, err
		}
		for _, d := range drafts {
			findings = append(findings, schemas.Finding{
				ID:          fmt.Sprintf("ISSUE-%d", len(findings)+1),
				Type:        d.Type,
				Severity:    d.Severity,
				LineIndex:   d.LineIndex,
				Title:       d.Title,
				Description: d.Description,
				FixProposal: d.FixProposal,
			})
		}
		if len(drafts) > 0 {
			e.logger.Debug("Rule matched.",
				zap.String("rule", string(rule.kind)),
				zap.Int("findings", len(drafts)))
		}
	}
	return findings, nil
}

func (e *Engine) runOne(rule registeredRule, in Input) (drafts []draft, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Rule panicked.",
				zap.String("rule", string(rule.kind)),
				zap.Any("recovered", r))
			drafts = nil
			err = &PipelineFault{Rule: rule.kind, Recovered: r}
		}
	}()
	return rule.eval(in), nil
}

// --- shared helpers ---

// macroHeatsWithin reports whether a temperature-setting vendor macro occurs
// in the window lines after from. Raw M104 S0 / M140 S0 right before a
// START_PRINT call is a priming reset, and macro recognition must win over
// the raw pattern.
func macroHeatsWithin(in Input, from, window int) bool {
	limit := from + window
	if limit >= len(in.Lines) {
		limit = len(in.Lines) - 1
	}
	for i := from + 1; i <= limit; i++ {
		if effect, ok := in.Catalog.Lookup(in.Lines[i].Command); ok && effect.SetsTemperature {
			return true
		}
	}
	return false
}

// isAuxNozzle reports whether a heater line carries the multi-nozzle H
// extension; such lines address a secondary hotend and never describe the
// main nozzle's state.
func isAuxNozzle(line schemas.Line) bool {
	return line.HasParam("H")
}

func isNozzleCmd(cmd string) bool { return cmd == "M104" || cmd == "M109" }
func isBedCmd(cmd string) bool    { return cmd == "M140" || cmd == "M190" }

// --- rules ---

// checkColdExtrusion replays the nozzle target line by line and flags the
// first positive-E move in BODY while the target is stone cold.
func checkColdExtrusion(in Input) []draft {
	target := 0.0
	macroManaged := false
	lastZeroSet := -1

	for i, line := range in.Lines {
		if effect, ok := in.Catalog.Lookup(line.Command); ok && effect.SetsTemperature {
			if call := sections.ParseStartMacro(line); call != nil && call.ExtruderTemp != nil {
				target = *call.ExtruderTemp
			} else {
				macroManaged = true
			}
		}
		if isNozzleCmd(line.Command) && !isAuxNozzle(line) {
			if s, ok := line.Param("S"); ok {
				target = s
				if s == 0 {
					lastZeroSet = i
				}
			}
		}
		if !line.ExtrudesFilament() {
			continue
		}
		if in.Boundaries.Section(line.Index) != schemas.SectionBody {
			continue
		}
		if macroManaged || target != 0 {
			continue
		}
		if lastZeroSet >= 0 && macroHeatsWithin(in, lastZeroSet, in.Config.MacroLookahead) {
			continue
		}
		return []draft{{
			Type:        schemas.FindingColdExtrusion,
			Severity:    schemas.SeverityCritical,
			LineIndex:   line.Index,
			Title:       "Cold extrusion",
			Description: fmt.Sprintf("Filament is extruded at line %d while the nozzle target temperature is 0", line.Index),
			FixProposal: "Set and wait for a printing temperature (M109) before this move",
		}}
	}
	return nil
}

// checkEarlyTempOff flags a nozzle shutdown inside BODY that is followed by
// more extrusion without a reheat in between.
func checkEarlyTempOff(in Input) []draft {
	var out []draft
	priorTarget := 0.0 // last nonzero nozzle target seen before the shutdown.
	lastNonzero := 0.0

	for i, line := range in.Lines {
		if isNozzleCmd(line.Command) && !isAuxNozzle(line) {
			if s, ok := line.Param("S"); ok && s > 0 {
				lastNonzero = s
			}
		}
		if !isNozzleCmd(line.Command) || isAuxNozzle(line) {
			continue
		}
		s, ok := line.Param("S")
		if !ok || s != 0 {
			continue
		}
		if in.Boundaries.Section(line.Index) != schemas.SectionBody {
			continue
		}
		if macroHeatsWithin(in, i, in.Config.MacroLookahead) {
			continue
		}
		priorTarget = lastNonzero
		if reheat, extrudes := scanAfterShutdown(in, i); extrudes && !reheat {
			proposal := "Insert M109 with the intended printing temperature after this line"
			if priorTarget > 0 {
				proposal = fmt.Sprintf("M109 S%g", priorTarget)
			}
			out = append(out, draft{
				Type:        schemas.FindingEarlyTempOff,
				Severity:    schemas.SeverityHigh,
				LineIndex:   line.Index,
				Title:       "Nozzle turned off before printing finished",
				Description: fmt.Sprintf("Nozzle target set to 0 at line %d with extrusion still ahead", line.Index),
				FixProposal: proposal,
			})
		}
	}
	return out
}

// scanAfterShutdown looks past a shutdown line and reports whether a reheat
// arrives before the next extrusion, and whether extrusion arrives at all.
func scanAfterShutdown(in Input, from int) (reheat, extrudes bool) {
	for i := from + 1; i < len(in.Lines); i++ {
		line := in.Lines[i]
		if effect, ok := in.Catalog.Lookup(line.Command); ok && effect.SetsTemperature {
			return true, false
		}
		if isNozzleCmd(line.Command) && !isAuxNozzle(line) {
			if s, ok := line.Param("S"); ok && s > 0 {
				return true, false
			}
		}
		if line.ExtrudesFilament() {
			return false, true
		}
	}
	return false, false
}

// checkBedTempOffEarly flags a bed shutdown in BODY with a substantial amount
// of printing still ahead. Adhesion loss mid-print warps the part but does
// not damage hardware.
func checkBedTempOffEarly(in Input) []draft {
	var out []draft
	for _, line := range in.Lines {
		if !isBedCmd(line.Command) {
			continue
		}
		s, ok := line.Param("S")
		if !ok || s != 0 {
			continue
		}
		if in.Boundaries.Section(line.Index) != schemas.SectionBody {
			continue
		}
		remaining := in.Boundaries.LastExtrusionLine - line.Index
		if remaining < in.Config.BedOffRemainingMin {
			continue
		}
		out = append(out, draft{
			Type:        schemas.FindingBedTempOffEarly,
			Severity:    schemas.SeverityLow,
			LineIndex:   line.Index,
			Title:       "Bed turned off early",
			Description: fmt.Sprintf("Bed target set to 0 at line %d with %d lines of printing remaining", line.Index, remaining),
			FixProposal: "Move the bed shutdown into the end sequence",
		})
	}
	return out
}

// checkLowTemp flags BODY nozzle targets below the plausible printing floor.
func checkLowTemp(in Input) []draft {
	var out []draft
	for _, ev := range in.Events {
		if !ev.IsNozzle() || ev.HValue != nil {
			continue
		}
		if in.Boundaries.Section(ev.LineIndex) != schemas.SectionBody {
			continue
		}
		if ev.TargetTemp <= 0 || ev.TargetTemp >= in.Config.MinBodyTemp {
			continue
		}
		out = append(out, draft{
			Type:        schemas.FindingLowTemp,
			Severity:    schemas.SeverityHigh,
			LineIndex:   ev.LineIndex,
			Title:       "Printing temperature too low",
			Description: fmt.Sprintf("Nozzle target %g°C at line %d is below the %g°C minimum", ev.TargetTemp, ev.LineIndex, in.Config.MinBodyTemp),
			FixProposal: fmt.Sprintf("%s S%g", ev.Command, in.Config.MinBodyTemp),
		})
	}
	return out
}

// checkRapidTempChange flags steep nozzle drops between consecutive targets
// inside BODY. Shutdowns (target 0) are the early_temp_off rule's business.
func checkRapidTempChange(in Input) []draft {
	var out []draft
	prev := 0.0
	for _, ev := range in.Events {
		if !ev.IsNozzle() || ev.HValue != nil {
			continue
		}
		if in.Boundaries.Section(ev.LineIndex) == schemas.SectionBody &&
			prev > 0 && ev.TargetTemp > 0 && prev-ev.TargetTemp >= in.Config.RapidDropDelta {
			out = append(out, draft{
				Type:        schemas.FindingRapidTempChange,
				Severity:    schemas.SeverityHigh,
				LineIndex:   ev.LineIndex,
				Title:       "Rapid temperature drop",
				Description: fmt.Sprintf("Nozzle target drops %g°C to %g°C at line %d", prev-ev.TargetTemp, ev.TargetTemp, ev.LineIndex),
			})
		}
		prev = ev.TargetTemp
	}
	return out
}

// checkBodyTempChanges counts distinct nozzle target changes in BODY. Events
// past the last extrusion are shutdown traffic misattributed by a fuzzy
// boundary and are not counted.
func checkBodyTempChanges(in Input) []draft {
	count := 0
	firstChange := -1
	prev := -1.0
	for _, ev := range in.Events {
		if !ev.IsNozzle() || ev.HValue != nil {
			continue
		}
		if in.Boundaries.Section(ev.LineIndex) != schemas.SectionBody {
			prev = ev.TargetTemp
			continue
		}
		if ev.LineIndex > in.Boundaries.LastExtrusionLine {
			continue
		}
		if prev >= 0 && ev.TargetTemp != prev {
			count++
			if firstChange < 0 {
				firstChange = ev.LineIndex
			}
		}
		prev = ev.TargetTemp
	}
	if count <= in.Config.BodyTempChangeLimit {
		return nil
	}
	return []draft{{
		Type:        schemas.FindingBodyTempChanges,
		Severity:    schemas.SeverityMedium,
		LineIndex:   firstChange,
		Title:       "Frequent temperature changes while printing",
		Description: fmt.Sprintf("%d nozzle target changes in the print body (limit %d)", count, in.Config.BodyTempChangeLimit),
	}}
}

// checkExcessiveSpeed replays the modal feed rate and flags the first print
// move and the first travel move over the class ceiling. Print and travel
// ceilings are separate; a fast travel is not a fast print.
func checkExcessiveSpeed(in Input) []draft {
	printLimit := in.Config.PrintSpeedLimit[in.Context.Class]
	travelLimit := in.Config.TravelSpeedLimit[in.Context.Class]
	if printLimit <= 0 {
		printLimit = in.Config.PrintSpeedLimit[schemas.SpeedClassStandard]
	}
	if travelLimit <= 0 {
		travelLimit = in.Config.TravelSpeedLimit[schemas.SpeedClassStandard]
	}

	var out []draft
	feed := 0.0 // mm/min
	flaggedPrint, flaggedTravel := false, false
	for _, line := range in.Lines {
		if !line.IsMove() {
			continue
		}
		if f, ok := line.Param("F"); ok && f > 0 {
			feed = f
		}
		if feed <= 0 || in.Boundaries.Section(line.Index) != schemas.SectionBody {
			continue
		}
		if !line.HasParam("X") && !line.HasParam("Y") && !line.HasParam("Z") && !line.HasParam("E") {
			continue
		}
		mms := feed / 60.0
		if line.ExtrudesFilament() {
			if !flaggedPrint && mms > printLimit {
				flaggedPrint = true
				out = append(out, draft{
					Type:        schemas.FindingExcessiveSpeed,
					Severity:    schemas.SeverityMedium,
					LineIndex:   line.Index,
					Title:       "Print speed over limit",
					Description: fmt.Sprintf("Print move at %.0f mm/s exceeds the %.0f mm/s ceiling for %s printers", mms, printLimit, in.Context.Class),
					FixProposal: fmt.Sprintf("F%.0f", printLimit*60),
				})
			}
		} else if !flaggedTravel && mms > travelLimit {
			flaggedTravel = true
			out = append(out, draft{
				Type:        schemas.FindingExcessiveSpeed,
				Severity:    schemas.SeverityMedium,
				LineIndex:   line.Index,
				Title:       "Travel speed over limit",
				Description: fmt.Sprintf("Travel move at %.0f mm/s exceeds the %.0f mm/s ceiling for %s printers", mms, travelLimit, in.Context.Class),
				FixProposal: fmt.Sprintf("F%.0f", travelLimit*60),
			})
		}
		if flaggedPrint && flaggedTravel {
			break
		}
	}
	return out
}

// checkMissingTempWait flags extrusion that starts before any blocking heat
// command. A recognized start macro waits internally, so its presence
// satisfies the check.
func checkMissingTempWait(in Input) []draft {
	first := in.Motion.FirstExtrusionLine
	if first < 0 {
		return nil
	}
	if in.Context.StartMacro != nil && in.Context.StartMacro.LineIndex < first {
		return nil
	}
	for _, ev := range in.Events {
		if ev.LineIndex >= first {
			break
		}
		if ev.IsNozzle() && ev.IsWait() && ev.TargetTemp > 0 {
			return nil
		}
	}
	return []draft{{
		Type:        schemas.FindingMissingTempWait,
		Severity:    schemas.SeverityHigh,
		LineIndex:   first,
		Title:       "Extrusion before temperature wait",
		Description: fmt.Sprintf("First extrusion at line %d occurs before any M109 wait", first),
		FixProposal: "Insert an M109 wait before the first extrusion",
	}}
}

// checkVendorExtension flags lines carrying vendor-specific syntax. These
// always route to manual review; the analyzer does not pretend to know what
// a vendor extension means on a foreign machine.
func checkVendorExtension(in Input) []draft {
	var out []draft
	for _, ev := range in.Events {
		if ev.HValue == nil {
			continue
		}
		out = append(out, draft{
			Type:        schemas.FindingVendorExtension,
			Severity:    schemas.SeverityMedium,
			LineIndex:   ev.LineIndex,
			Title:       "Vendor temperature extension",
			Description: fmt.Sprintf("%s with H parameter at line %d is a multi-nozzle vendor extension", ev.Command, ev.LineIndex),
		})
	}
	for _, line := range in.Lines {
		if line.Command != "G9111" {
			continue
		}
		out = append(out, draft{
			Type:        schemas.FindingVendorExtension,
			Severity:    schemas.SeverityMedium,
			LineIndex:   line.Index,
			Title:       "Vendor temperature command",
			Description: fmt.Sprintf("G9111 at line %d is a vendor-specific temperature command", line.Index),
		})
	}
	return out
}
