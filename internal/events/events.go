// Package events extracts the ordered temperature event stream and the
// motion summary from a parsed print file.
package events

import (
	"github.com/printforge/gcode-triage/api/schemas"
)

// Temperatures returns every heater command in file order. Commands without
// a parsable S target are skipped; an H parameter (multi-nozzle vendor
// extension) is carried through untouched.
func Temperatures(lines []schemas.Line) []schemas.TemperatureEvent {
	var events []schemas.TemperatureEvent
	for _, line := range lines {
		switch line.Command {
		case "M104", "M109", "M140", "M190":
		default:
			continue
		}
		target, ok := line.Param("S")
		if !ok {
			continue
		}
		ev := schemas.TemperatureEvent{
			LineIndex:  line.Index,
			Command:    line.Command,
			TargetTemp: target,
		}
		if h, ok := line.Param("H"); ok {
			hv := h
			ev.HValue = &hv
		}
		events = append(events, ev)
	}
	return events
}

// speedAccum folds mm/s samples into running stats.
type speedAccum struct {
	count int
	min   float64
	max   float64
	sum   float64
}

func (a *speedAccum) add(mms float64) {
	if a.count == 0 || mms < a.min {
		a.min = mms
	}
	if mms > a.max {
		a.max = mms
	}
	a.sum += mms
	a.count++
}

func (a *speedAccum) stats() schemas.SpeedStats {
	s := schemas.SpeedStats{Count: a.count, Min: a.min, Max: a.max}
	if a.count > 0 {
		s.Avg = a.sum / float64(a.count)
	}
	return s
}

// Motion walks the file once with the modal feed rate and splits samples
// into print moves (positive E) and travel moves. F values arrive in mm/min
// and are reported in mm/s. A feed rate is sampled once per move it applies
// to, not once per F occurrence, so a single fast travel followed by slow
// perimeters is weighted honestly.
func Motion(lines []schemas.Line) schemas.MotionSummary {
	summary := schemas.MotionSummary{FirstExtrusionLine: -1, LastExtrusionLine: -1}
	var print, travel speedAccum

	currentFeed := 0.0 // mm/min, modal.
	for _, line := range lines {
		if !line.IsMove() {
			continue
		}
		if f, ok := line.Param("F"); ok && f > 0 {
			currentFeed = f
		}
		extrudes := line.ExtrudesFilament()
		if extrudes {
			if summary.FirstExtrusionLine < 0 {
				summary.FirstExtrusionLine = line.Index
			}
			summary.LastExtrusionLine = line.Index
		}
		// Only moves that actually travel somewhere sample the feed rate;
		// bare "G1 F9000" just updates the modal state.
		if !line.HasParam("X") && !line.HasParam("Y") && !line.HasParam("Z") && !line.HasParam("E") {
			continue
		}
		if currentFeed <= 0 {
			continue
		}
		mms := currentFeed / 60.0
		if extrudes {
			print.add(mms)
		} else {
			travel.add(mms)
		}
	}

	summary.Print = print.stats()
	summary.Travel = travel.stats()
	return summary
}
