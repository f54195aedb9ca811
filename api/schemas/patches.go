package schemas

// -- Patch Schemas --

// PatchAction is what a patch does to its target line.
type PatchAction string

const (
	PatchActionAdd    PatchAction = "add"
	PatchActionModify PatchAction = "modify"
	PatchActionDelete PatchAction = "delete"
	PatchActionReview PatchAction = "review" // no safe automatic fix; human judgment required.
)

// PatchPosition says where the Modified text lands relative to the original
// line. Required for add/modify, empty for review.
type PatchPosition string

const (
	PositionBefore  PatchPosition = "before"
	PositionAfter   PatchPosition = "after"
	PositionReplace PatchPosition = "replace"
)

// Patch is a proposed edit linked to at most one Finding.
//
// Invariants: exactly one Patch references a given Finding id; AutofixAllowed
// false forces Action "review", which forces Modified empty.
type Patch struct {
	ID        string `json:"id"`       // "PATCH-{n:03d}".
	IssueID   string `json:"issue_id"` // linked Finding id; empty when no safe patch exists.
	LineIndex int    `json:"line_index"`
	Line      int    `json:"line"`  // 1-based human line number.
	Layer     int    `json:"layer"` // layer the line prints, 0 in START/END.

	Original string        `json:"original"` // verbatim line text captured at generation time.
	Modified string        `json:"modified,omitempty"`
	Action   PatchAction   `json:"action"`
	Position PatchPosition `json:"position,omitempty"`

	Reason         string      `json:"reason"`
	IssueType      FindingType `json:"issue_type"`
	AutofixAllowed bool        `json:"autofix_allowed"`
}

// Delta converts an auto-appliable patch into the equivalent line-delta
// against the original numbering. Returns false for review patches.
func (p Patch) Delta() (LineDelta, bool) {
	if !p.AutofixAllowed {
		return LineDelta{}, false
	}
	d := LineDelta{LineIndex: p.LineIndex, OriginalContent: p.Original, NewContent: p.Modified}
	switch {
	case p.Action == PatchActionDelete:
		d.Action = DeltaDelete
		d.NewContent = ""
	case p.Action == PatchActionAdd && p.Position == PositionBefore:
		d.Action = DeltaInsertBefore
		d.OriginalContent = ""
	case p.Action == PatchActionAdd:
		d.Action = DeltaInsertAfter
		d.OriginalContent = ""
	case p.Action == PatchActionModify:
		d.Action = DeltaModify
	default:
		return LineDelta{}, false
	}
	return d, true
}

// PatchPlan is the ordered set of patches for one file.
type PatchPlan struct {
	FilePath     string  `json:"file_path"`
	TotalPatches int     `json:"total_patches"`
	Patches      []Patch `json:"patches"`

	// EstimatedImprovement is the heuristic quality-score delta if every
	// autofix-allowed patch were applied.
	EstimatedImprovement int `json:"estimated_improvement"`
}
