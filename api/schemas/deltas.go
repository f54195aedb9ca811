package schemas

// -- Delta Schemas --

// DeltaAction is the kind of edit a LineDelta applies.
type DeltaAction string

const (
	DeltaModify       DeltaAction = "modify"
	DeltaDelete       DeltaAction = "delete"
	DeltaInsertBefore DeltaAction = "insert_before"
	DeltaInsertAfter  DeltaAction = "insert_after"
)

// LineDelta is one edit instruction against the original line numbering.
// Indices always reference the immutable original indexing, never a
// post-edit renumbering; that is what lets a batch apply in one O(n) pass
// regardless of ordering.
type LineDelta struct {
	LineIndex int         `json:"line_index"`
	Action    DeltaAction `json:"action"`

	// OriginalContent is an optional optimistic-concurrency guard: when set,
	// it must match the current line's raw text for the delta to apply.
	OriginalContent string `json:"original_content,omitempty"`
	NewContent      string `json:"new_content,omitempty"` // required for modify/insert.
}

// ExportRequest asks for the original file with a delta set applied.
type ExportRequest struct {
	AnalysisID           string      `json:"analysis_id"`
	Deltas               []LineDelta `json:"deltas"`
	Filename             string      `json:"filename,omitempty"`
	IncludeHeaderComment bool        `json:"include_header_comment,omitempty"`

	// Strict escalates a single-delta content mismatch to a batch failure.
	Strict bool `json:"strict,omitempty"`
}

// ExportStats reports what a merge pass actually did.
type ExportStats struct {
	TotalLines    int      `json:"total_lines"`
	AppliedDeltas int      `json:"applied_deltas"`
	SkippedDeltas int      `json:"skipped_deltas"`
	Warnings      []string `json:"warnings,omitempty"`
}
