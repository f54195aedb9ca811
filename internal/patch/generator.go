// Package patch turns findings into a patch plan. Every finding yields
// exactly one patch; findings with no safe automatic fix still get a review
// patch so the plan is fully traceable back to the finding set.
package patch

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/sections"
)

// Generator builds patch plans.
type Generator struct {
	logger *zap.Logger
}

func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{logger: logger.Named("patch")}
}

// Generate produces one Patch per Finding. Autofix is only allowed for pure
// insertions and unambiguous single-value substitutions; anything touching
// vendor syntax or requiring judgment about intended temperatures is routed
// to review.
func (g *Generator) Generate(findings []schemas.Finding, lines []schemas.Line, layers *sections.LayerMap, filePath string) schemas.PatchPlan {
	plan := schemas.PatchPlan{FilePath: filePath}

	for _, f := range findings {
		p := g.patchFor(f, lines)
		p.ID = fmt.Sprintf("PATCH-%03d", len(plan.Patches)+1)
		p.IssueID = f.ID
		p.IssueType = f.Type
		p.LineIndex = f.LineIndex
		p.Line = f.LineIndex + 1
		p.Layer = layers.At(f.LineIndex)
		if f.LineIndex >= 0 && f.LineIndex < len(lines) {
			p.Original = lines[f.LineIndex].Raw
		}
		if p.Reason == "" {
			p.Reason = f.Description
		}
		plan.Patches = append(plan.Patches, p)

		if p.AutofixAllowed {
			plan.EstimatedImprovement += f.Severity.ScoreDeduction()
		}
	}

	plan.TotalPatches = len(plan.Patches)
	if plan.EstimatedImprovement > 90 {
		plan.EstimatedImprovement = 90
	}
	g.logger.Debug("Patch plan generated.",
		zap.Int("patches", plan.TotalPatches),
		zap.Int("estimated_improvement", plan.EstimatedImprovement))
	return plan
}

// patchFor decides the action for one finding. The returned patch carries
// only the action-specific fields; the caller fills identity and position
// metadata.
func (g *Generator) patchFor(f schemas.Finding, lines []schemas.Line) schemas.Patch {
	switch f.Type {
	case schemas.FindingEarlyTempOff:
		// Pure insertion of a wait with a known prior target is the one
		// unambiguous temperature fix.
		if cmd := extractCommandProposal(f.FixProposal); cmd != "" {
			return schemas.Patch{
				Action:         schemas.PatchActionAdd,
				Position:       schemas.PositionAfter,
				Modified:       cmd,
				Reason:         f.Description,
				AutofixAllowed: true,
			}
		}
		return reviewPatch(f)

	case schemas.FindingLowTemp:
		// Single numeric substitution on the offending line.
		if cmd := extractCommandProposal(f.FixProposal); cmd != "" {
			return schemas.Patch{
				Action:         schemas.PatchActionModify,
				Position:       schemas.PositionReplace,
				Modified:       cmd,
				Reason:         f.Description,
				AutofixAllowed: true,
			}
		}
		return reviewPatch(f)

	case schemas.FindingExcessiveSpeed:
		// Rewrite the F word in place when the line parses cleanly.
		if f.LineIndex >= 0 && f.LineIndex < len(lines) {
			if modified, ok := rewriteFeed(lines[f.LineIndex], f.FixProposal); ok {
				return schemas.Patch{
					Action:         schemas.PatchActionModify,
					Position:       schemas.PositionReplace,
					Modified:       modified,
					Reason:         f.Description,
					AutofixAllowed: true,
				}
			}
		}
		return reviewPatch(f)

	case schemas.FindingVendorExtension:
		// Vendor syntax is never autofixed.
		return reviewPatch(f)

	default:
		// cold_extrusion, missing_temp_wait, rapid changes and the rest need
		// judgment about the intended temperature.
		return reviewPatch(f)
	}
}

func reviewPatch(f schemas.Finding) schemas.Patch {
	return schemas.Patch{
		Action:         schemas.PatchActionReview,
		Reason:         f.Description,
		AutofixAllowed: false,
	}
}

// extractCommandProposal returns the fix proposal when it is a literal
// G-code command (e.g. "M109 S210") rather than prose.
func extractCommandProposal(proposal string) string {
	proposal = strings.TrimSpace(proposal)
	if proposal == "" {
		return ""
	}
	first, _, _ := strings.Cut(proposal, " ")
	if len(first) < 2 {
		return ""
	}
	c := first[0]
	if c != 'M' && c != 'G' {
		return ""
	}
	for _, r := range first[1:] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return proposal
}

// rewriteFeed replaces the F word of a move with the proposed one,
// preserving the rest of the line including any comment.
func rewriteFeed(line schemas.Line, proposal string) (string, bool) {
	proposal = strings.TrimSpace(proposal)
	if !strings.HasPrefix(proposal, "F") || !line.HasParam("F") {
		return "", false
	}
	fields := strings.Fields(stripComment(line.Raw))
	replaced := false
	for i, field := range fields {
		if strings.HasPrefix(strings.ToUpper(field), "F") && len(field) > 1 {
			fields[i] = proposal
			replaced = true
			break
		}
	}
	if !replaced {
		return "", false
	}
	out := strings.Join(fields, " ")
	if line.Comment != "" {
		out += " ;" + line.Comment
	}
	return out, true
}

func stripComment(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		return raw[:i]
	}
	return raw
}
