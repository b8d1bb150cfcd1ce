package privacy

import "regexp"

// Severity is an informational weight carried through to results for UI use
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity maps a free-form label onto a Severity, defaulting to medium
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	}
	return SeverityMedium
}

// Validator confirms or rejects a syntactically matched candidate.
// Validators must be pure and must return false rather than panic on
// malformed input.
type Validator func(raw string) bool

// PatternRule is a single detection rule in the registry. When Shrink is
// set and the validator rejects a match, shorter prefixes of the match
// that end before a separator are tried, longest first.
type PatternRule struct {
	Type      string
	Priority  int
	Pattern   *regexp.Regexp
	Validator Validator
	Severity  Severity
	Shrink    bool
}

// Candidate is an unresolved match produced by the scanner. Offsets are
// codepoint offsets into the scanned text, end-exclusive.
type Candidate struct {
	RuleType   string
	Priority   int
	Start      int
	End        int
	RawText    string
	Severity   Severity
	Confidence float64
}

// Detection is a resolved, non-overlapping match with its placeholder
type Detection struct {
	Type        string   `json:"type"`
	Original    string   `json:"original"`
	Placeholder string   `json:"placeholder"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
}

// DetectionResult is the immutable output of one detection pass
type DetectionResult struct {
	RedactedText string         `json:"redactedText"`
	Detections   []Detection    `json:"detections"`
	Stats        map[string]int `json:"stats"`
	Backend      string         `json:"backend,omitempty"`
	// Unavailable marks a degraded pass (remote failure). It is never a
	// reason to block submission; callers may show a warning.
	Unavailable bool `json:"unavailable,omitempty"`
}

// EmptyResult returns a result with no detections for text
func EmptyResult(text string) DetectionResult {
	return DetectionResult{
		RedactedText: text,
		Detections:   []Detection{},
		Stats:        map[string]int{},
	}
}

// HasDetections reports whether the pass found anything
func (r DetectionResult) HasDetections() bool {
	return len(r.Detections) > 0
}
