// Package gcode tokenizes raw G-code text into structured lines.
//
// Parsing is total: malformed input never fails, it degrades. A line that
// cannot be tokenized keeps its full text in Raw with no Command, so index
// continuity and byte fidelity survive any input.
package gcode

import (
	"iter"
	"strconv"
	"strings"

	"github.com/printforge/gcode-triage/api/schemas"
)

// Separator is the line separator assumed for splitting and joining. CR/LF
// normalization is the caller's responsibility; a CR left before the
// separator stays inside Raw so round trips remain exact.
const Separator = "\n"

// ParseLine tokenizes one physical line. Never fails; unparsable tokens
// degrade to an empty Command with the text preserved in Raw.
func ParseLine(raw string, index int) schemas.Line {
	line := schemas.Line{Index: index, Raw: raw}

	code := raw
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		code = raw[:i]
		line.Comment = strings.TrimSpace(raw[i+1:])
	}

	fields := strings.Fields(code)
	if len(fields) == 0 {
		return line
	}

	cmd := strings.ToUpper(fields[0])
	if !validCommand(cmd) {
		return line
	}
	line.Command = cmd

	for _, tok := range fields[1:] {
		key := tok[:1]
		if key[0] >= 'a' && key[0] <= 'z' {
			key = strings.ToUpper(key)
		}
		if key[0] < 'A' || key[0] > 'Z' {
			continue
		}
		val, err := strconv.ParseFloat(tok[1:], 64)
		if err != nil {
			// Malformed numeric token: dropped from Params, line survives.
			continue
		}
		if line.Params == nil {
			line.Params = make(map[string]float64)
		}
		if _, dup := line.Params[key]; !dup {
			line.Params[key] = val
		}
	}
	return line
}

// validCommand accepts standard G-code words (G1, M104, T0) and vendor macro
// names (START_PRINT, SET_PRESSURE_ADVANCE).
func validCommand(cmd string) bool {
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		case c == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(cmd) > 0
}

// Lines returns a lazy, restartable sequence of parsed lines. Ranging over
// it again re-tokenizes from the start; each pass is single-sweep and O(line
// length) per line.
func Lines(text string) iter.Seq[schemas.Line] {
	return func(yield func(schemas.Line) bool) {
		rest := text
		index := 0
		for {
			nl := strings.IndexByte(rest, '\n')
			if nl < 0 {
				yield(ParseLine(rest, index))
				return
			}
			if !yield(ParseLine(rest[:nl], index)) {
				return
			}
			rest = rest[nl+1:]
			index++
		}
	}
}

// Parse materializes the full line slice for random access. The slice is
// append-only during parsing and immutable afterwards.
func Parse(text string) []schemas.Line {
	lines := make([]schemas.Line, 0, strings.Count(text, "\n")+1)
	for line := range Lines(text) {
		lines = append(lines, line)
	}
	return lines
}

// Join reassembles the original text from parsed lines. For any input,
// Join(Parse(text)) == text byte for byte.
func Join(lines []schemas.Line) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteString(Separator)
		}
		sb.WriteString(l.Raw)
	}
	return sb.String()
}
