// Package delta applies line-delta sets to an original file as a single
// streaming pass. The input is consumed line by line and the output produced
// line by line; the full transformed file is never materialized, which keeps
// exports of very large files flat in memory.
//
// All delta indices refer to the immutable original numbering. Insertions do
// not shift later references, so a batch applies in one O(n) pass no matter
// how the client ordered it.
package delta

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/api/schemas"
)

// ConflictError reports two deltas addressing the same original line. The
// batch is rejected before any output is produced.
type ConflictError struct {
	LineIndex int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting deltas for line %d", e.LineIndex)
}

// MismatchError reports an optimistic-concurrency guard failure in strict
// mode: a modify/delete delta carried original_content that no longer
// matches the file.
type MismatchError struct {
	LineIndex int
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("delta guard mismatch at line %d", e.LineIndex)
}

// ValidationError reports a structurally invalid delta.
type ValidationError struct {
	LineIndex int
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid delta for line %d: %s", e.LineIndex, e.Reason)
}

const maxWarnings = 10

// plan is the per-action view of a validated delta batch.
type plan struct {
	modify       map[int]schemas.LineDelta
	remove       map[int]schemas.LineDelta
	insertBefore map[int]string
	insertAfter  map[int]string
	indices      map[int]struct{}
}

// compile validates a batch and groups it by action. Any two deltas on the
// same original line conflict, including an insert paired with a modify;
// clients that want both must merge them client-side.
func compile(deltas []schemas.LineDelta) (*plan, error) {
	p := &plan{
		modify:       make(map[int]schemas.LineDelta),
		remove:       make(map[int]schemas.LineDelta),
		insertBefore: make(map[int]string),
		insertAfter:  make(map[int]string),
		indices:      make(map[int]struct{}, len(deltas)),
	}
	for _, d := range deltas {
		if d.LineIndex < 0 {
			return nil, &ValidationError{LineIndex: d.LineIndex, Reason: "negative line index"}
		}
		if _, dup := p.indices[d.LineIndex]; dup {
			return nil, &ConflictError{LineIndex: d.LineIndex}
		}
		p.indices[d.LineIndex] = struct{}{}

		switch d.Action {
		case schemas.DeltaModify:
			if d.NewContent == "" {
				return nil, &ValidationError{LineIndex: d.LineIndex, Reason: "modify requires new_content"}
			}
			p.modify[d.LineIndex] = d
		case schemas.DeltaDelete:
			p.remove[d.LineIndex] = d
		case schemas.DeltaInsertBefore:
			if d.NewContent == "" {
				return nil, &ValidationError{LineIndex: d.LineIndex, Reason: "insert_before requires new_content"}
			}
			p.insertBefore[d.LineIndex] = d.NewContent
		case schemas.DeltaInsertAfter:
			if d.NewContent == "" {
				return nil, &ValidationError{LineIndex: d.LineIndex, Reason: "insert_after requires new_content"}
			}
			p.insertAfter[d.LineIndex] = d.NewContent
		default:
			return nil, &ValidationError{LineIndex: d.LineIndex, Reason: fmt.Sprintf("unknown action %q", d.Action)}
		}
	}
	return p, nil
}

// Merger streams delta sets onto original files.
type Merger struct {
	logger *zap.Logger
}

func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{logger: logger.Named("delta")}
}

// Options control one merge pass.
type Options struct {
	// Strict escalates a guard mismatch from a skipped delta to a failed
	// batch.
	Strict bool
}

// Apply streams r to w with the delta batch applied. The original is treated
// as read-only; concurrent merges over the same source are safe.
//
// A guard mismatch skips the single delta and records a warning, unless
// Strict is set, in which case the pass aborts with a MismatchError. Deltas
// addressing lines past the end of the file are counted as skipped.
func (m *Merger) Apply(r io.Reader, w io.Writer, deltas []schemas.LineDelta, opts Options) (schemas.ExportStats, error) {
	stats := schemas.ExportStats{}

	p, err := compile(deltas)
	if err != nil {
		return stats, err
	}

	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	applied := make(map[int]struct{}, len(p.indices))

	idx := 0
	for {
		raw, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return stats, fmt.Errorf("reading original: %w", readErr)
		}
		if raw == "" && readErr == io.EOF {
			break
		}
		stats.TotalLines++
		terminator := ""
		content := raw
		if strings.HasSuffix(raw, "\n") {
			terminator = "\n"
			content = raw[:len(raw)-1]
		}

		if text, ok := p.insertBefore[idx]; ok {
			if err := writeLine(bw, text); err != nil {
				return stats, err
			}
			applied[idx] = struct{}{}
			stats.AppliedDeltas++
		}

		switch {
		case hasDelta(p.remove, idx):
			d := p.remove[idx]
			ok, err := m.checkGuard(&stats, d, content, opts)
			if err != nil {
				return stats, err
			}
			if ok {
				applied[idx] = struct{}{}
				stats.AppliedDeltas++
				// Deleted: nothing written, insert_after still honored below.
			} else if _, err := bw.WriteString(raw); err != nil {
				return stats, err
			}
		case hasDelta(p.modify, idx):
			d := p.modify[idx]
			ok, err := m.checkGuard(&stats, d, content, opts)
			if err != nil {
				return stats, err
			}
			if ok {
				if _, err := bw.WriteString(d.NewContent); err != nil {
					return stats, err
				}
				// Keep the original terminator so a final line without a
				// newline stays without one.
				if _, err := bw.WriteString(terminator); err != nil {
					return stats, err
				}
				applied[idx] = struct{}{}
				stats.AppliedDeltas++
			} else if _, err := bw.WriteString(raw); err != nil {
				return stats, err
			}
		default:
			if _, err := bw.WriteString(raw); err != nil {
				return stats, err
			}
		}

		if text, ok := p.insertAfter[idx]; ok {
			// An insertion after the final unterminated line forces a newline
			// onto that line first.
			if terminator == "" {
				if _, err := bw.WriteString("\n"); err != nil {
					return stats, err
				}
			}
			if err := writeLine(bw, text); err != nil {
				return stats, err
			}
			applied[idx] = struct{}{}
			stats.AppliedDeltas++
		}

		idx++
		if readErr == io.EOF {
			break
		}
	}

	// Anything left addressed a line the file does not have. Guard-skipped
	// deltas were already counted during the pass.
	var unreachable []int
	for i := range p.indices {
		if _, ok := applied[i]; !ok && i >= idx {
			unreachable = append(unreachable, i)
		}
	}
	sort.Ints(unreachable)
	for _, i := range unreachable {
		stats.SkippedDeltas++
		if len(stats.Warnings) < maxWarnings {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("delta for line %d is past the end of the file (%d lines)", i, idx))
		}
	}

	if err := bw.Flush(); err != nil {
		return stats, err
	}
	m.logger.Debug("Delta merge complete.",
		zap.Int("total_lines", stats.TotalLines),
		zap.Int("applied", stats.AppliedDeltas),
		zap.Int("skipped", stats.SkippedDeltas))
	return stats, nil
}

// checkGuard compares the optimistic-concurrency guard for one delta. A bare
// trailing CR difference is tolerated; everything else is a mismatch.
func (m *Merger) checkGuard(stats *schemas.ExportStats, d schemas.LineDelta, content string, opts Options) (bool, error) {
	if d.OriginalContent == "" {
		return true, nil
	}
	want := strings.TrimSuffix(d.OriginalContent, "\n")
	got := content
	if want == got || strings.TrimSuffix(want, "\r") == strings.TrimSuffix(got, "\r") {
		return true, nil
	}
	if opts.Strict {
		return false, &MismatchError{LineIndex: d.LineIndex, Expected: want, Actual: got}
	}
	stats.SkippedDeltas++
	if len(stats.Warnings) < maxWarnings {
		stats.Warnings = append(stats.Warnings, fmt.Sprintf("delta for line %d skipped: original content changed", d.LineIndex))
	}
	m.logger.Warn("Delta guard mismatch, skipping.", zap.Int("line_index", d.LineIndex))
	return false, nil
}

func hasDelta(m map[int]schemas.LineDelta, idx int) bool {
	_, ok := m[idx]
	return ok
}

func writeLine(w *bufio.Writer, text string) error {
	if _, err := w.WriteString(text); err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") {
		return w.WriteByte('\n')
	}
	return nil
}

// WriteHeader emits the optional modification-history comment block that
// precedes an exported file.
func WriteHeader(w io.Writer, deltas []schemas.LineDelta, originalFilename string, now time.Time) error {
	var b strings.Builder
	b.WriteString("; ============================================\n")
	b.WriteString("; Modified by gtriage\n")
	fmt.Fprintf(&b, "; Date: %s\n", now.Format("2006-01-02 15:04:05"))
	if originalFilename != "" {
		fmt.Fprintf(&b, "; Original: %s\n", originalFilename)
	}
	fmt.Fprintf(&b, "; Applied %d changes\n", len(deltas))
	b.WriteString("; ============================================\n")

	var modified, deleted, inserted int
	for _, d := range deltas {
		switch d.Action {
		case schemas.DeltaModify:
			modified++
		case schemas.DeltaDelete:
			deleted++
		case schemas.DeltaInsertBefore, schemas.DeltaInsertAfter:
			inserted++
		}
	}
	if modified > 0 {
		fmt.Fprintf(&b, "; - Modified: %d lines\n", modified)
	}
	if deleted > 0 {
		fmt.Fprintf(&b, "; - Deleted: %d lines\n", deleted)
	}
	if inserted > 0 {
		fmt.Fprintf(&b, "; - Inserted: %d lines\n", inserted)
	}
	b.WriteString("; ============================================\n;\n")

	_, err := io.WriteString(w, b.String())
	return err
}
