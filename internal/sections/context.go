package sections

import (
	"regexp"

	"github.com/printforge/gcode-triage/api/schemas"
)

// How many leading lines header detection inspects. Slicer banners and
// printer_model comments all live at the top of the file.
const headerScanLimit = 500

type headerPattern struct {
	name string
	re   *regexp.Regexp
}

var slicerPatterns = []headerPattern{
	{"bambustudio", regexp.MustCompile(`(?i)BambuStudio`)},
	{"orcaslicer", regexp.MustCompile(`(?i)OrcaSlicer`)},
	{"prusaslicer", regexp.MustCompile(`(?i)PrusaSlicer`)},
	{"cura", regexp.MustCompile(`(?i)Cura_SteamEngine|Generated with Cura`)},
	{"superslicer", regexp.MustCompile(`(?i)SuperSlicer`)},
	{"ideamaker", regexp.MustCompile(`(?i)ideaMaker`)},
}

var equipmentPatterns = []headerPattern{
	{"bambulab", regexp.MustCompile(`(?i)Bambu\s*Lab|; printer_model\s*[:=]\s*(?:X1|P1|A1)`)},
	{"voron", regexp.MustCompile(`(?i)\bVoron\b|\bTrident\b`)},
	{"ratrig", regexp.MustCompile(`(?i)RatRig|V-Core|V-Minion`)},
	{"prusa", regexp.MustCompile(`(?i); printer_model\s*[:=]\s*(?:MK|Mini|XL)`)},
	{"creality", regexp.MustCompile(`(?i)Creality|\bEnder[\s-]?\d`)},
}

// Klipper-only commands whose presence marks the firmware even when no start
// macro exists.
var klipperEvidence = map[string]struct{}{
	"SET_PRESSURE_ADVANCE":   {},
	"SET_VELOCITY_LIMIT":     {},
	"SET_RETRACTION":         {},
	"SET_GCODE_OFFSET":       {},
	"SET_HEATER_TEMPERATURE": {},
	"TURN_OFF_HEATERS":       {},
	"BED_MESH_CALIBRATE":     {},
	"BED_MESH_PROFILE":       {},
	"QUAD_GANTRY_LEVEL":      {},
	"Z_TILT_ADJUST":          {},
	"EXCLUDE_OBJECT":         {},
	"RESPOND":                {},
}

// Equipment classes that ship fast motion systems; they move the
// excessive-speed rule onto the high-speed thresholds.
var highSpeedEquipment = map[string]struct{}{
	"bambulab": {},
	"voron":    {},
	"ratrig":   {},
}

var highSpeedCommentRe = regexp.MustCompile(`(?i)high[\s_-]?speed`)

// DetectContext inspects the file header and command stream for slicer,
// firmware and equipment markers, and derives the speed class. The class
// only parametrizes the excessive-speed thresholds; no rule is suppressed by
// context alone.
func DetectContext(lines []schemas.Line, catalog *MacroCatalog) schemas.PrinterContext {
	ctx := schemas.PrinterContext{Class: schemas.SpeedClassStandard}

	limit := len(lines)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}

	highSpeedComment := false
	for _, line := range lines[:limit] {
		raw := line.Raw
		if ctx.Slicer == "" {
			for _, p := range slicerPatterns {
				if p.re.MatchString(raw) {
					ctx.Slicer = p.name
					break
				}
			}
		}
		if ctx.Equipment == "" {
			for _, p := range equipmentPatterns {
				if p.re.MatchString(raw) {
					ctx.Equipment = p.name
					break
				}
			}
		}
		if !highSpeedComment && line.Comment != "" && highSpeedCommentRe.MatchString(line.Comment) {
			highSpeedComment = true
		}

		if ctx.Firmware == "" {
			if _, ok := klipperEvidence[line.Command]; ok {
				ctx.Firmware = "klipper"
			}
		}
		if ctx.StartMacro == nil {
			if effect, ok := catalog.Lookup(line.Command); ok && effect.SetsTemperature {
				ctx.StartMacro = ParseStartMacro(line)
				ctx.Firmware = "klipper"
			}
		}
	}

	// Bambu vendor syntax (H parameter on temperature commands) also marks
	// the equipment even without a header banner.
	if ctx.Equipment == "" {
		for _, line := range lines[:limit] {
			if (line.Command == "M104" || line.Command == "M109") && line.HasParam("H") {
				ctx.Equipment = "bambulab"
				break
			}
		}
	}

	if _, fast := highSpeedEquipment[ctx.Equipment]; fast || highSpeedComment {
		ctx.Class = schemas.SpeedClassHighSpeed
	}
	return ctx
}
