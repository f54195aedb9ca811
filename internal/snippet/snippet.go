// Package snippet extracts bounded line windows around findings. The output
// feeds the external explanation stage, which works on excerpts, never the
// whole file.
package snippet

import (
	"fmt"
	"strings"

	"github.com/printforge/gcode-triage/api/schemas"
)

const (
	defaultWindow = 50
	defaultMax    = 200
)

// Extractor formats numbered excerpts of a parsed file.
type Extractor struct {
	Window   int // lines on each side of the center.
	MaxLines int // hard cap on the excerpt size.
}

func NewExtractor() *Extractor {
	return &Extractor{Window: defaultWindow, MaxLines: defaultMax}
}

// Around returns the window centered on the given line index, formatted one
// line per row as "index: content". The window shrinks at file edges and is
// re-centered when it would exceed the cap.
func (e *Extractor) Around(lines []schemas.Line, center int) string {
	total := len(lines)
	if total == 0 {
		return ""
	}
	if center < 0 {
		center = 0
	}
	if center >= total {
		center = total - 1
	}

	window := e.Window
	if window <= 0 {
		window = defaultWindow
	}
	maxLines := e.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMax
	}

	start := center - window
	end := center + window + 1
	if end-start > maxLines {
		half := maxLines / 2
		start = center - half
		end = center + half
	}
	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}

	var b strings.Builder
	for _, line := range lines[start:end] {
		fmt.Fprintf(&b, "%d: %s\n", line.Index, strings.TrimSpace(line.Raw))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ForFinding is Around anchored at a finding's line.
func (e *Extractor) ForFinding(lines []schemas.Line, f schemas.Finding) string {
	return e.Around(lines, f.LineIndex)
}
