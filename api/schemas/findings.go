package schemas

// -- Finding Schemas --

// Severity represents the severity level of a detected anomaly, ranging from
// critical to informational. The values are lowercase to keep wire and
// storage representations aligned.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ScoreDeduction returns the quality-score penalty the expert-assessment
// consumer applies for one finding of this severity. Critical dominates: it
// forces the lowest grade regardless of the remaining score, so its numeric
// deduction is the full scale.
func (s Severity) ScoreDeduction() int {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 7
	case SeverityLow:
		return 3
	default:
		return 0
	}
}

// FindingType is the closed vocabulary of anomaly kinds the rule engine emits.
type FindingType string

const (
	FindingColdExtrusion   FindingType = "cold_extrusion"
	FindingEarlyTempOff    FindingType = "early_temp_off"
	FindingExcessiveSpeed  FindingType = "excessive_speed"
	FindingBodyTempChanges FindingType = "excessive_body_temp_changes"
	FindingVendorExtension FindingType = "vendor_extension"
	FindingMissingTempWait FindingType = "missing_temp_wait"
	FindingRapidTempChange FindingType = "rapid_temp_change"
	FindingBedTempOffEarly FindingType = "bed_temp_off_early"
	FindingLowTemp         FindingType = "low_temp"
)

// Finding is one rule violation. Findings are produced once per analysis run
// and never mutated in place; re-analysis produces a fresh set with fresh IDs.
type Finding struct {
	ID          string      `json:"id"` // "ISSUE-{n}", 1-based, stable within one run.
	Type        FindingType `json:"type"`
	Severity    Severity    `json:"severity"`
	LineIndex   int         `json:"line_index"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	FixProposal string      `json:"fix_proposal,omitempty"`
}

// FindingOverride is the severity/description correction an external
// explanation stage may hand back. Applying one produces an adjusted copy;
// it never re-runs detection.
type FindingOverride struct {
	FindingID   string   `json:"finding_id"`
	Severity    Severity `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Apply returns a copy of f with the override's non-empty fields replacing
// the originals.
func (o FindingOverride) Apply(f Finding) Finding {
	if o.Severity != "" {
		f.Severity = o.Severity
	}
	if o.Description != "" {
		f.Description = o.Description
	}
	return f
}
