package etl

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DataRecord is one labelled example from an evaluation corpus.
// ExpectedTypes is a comma-separated list of rule types the text contains.
type DataRecord struct {
	Text          string `parquet:"text" json:"text"`
	ExpectedTypes string `parquet:"expected_types" json:"expected_types"`
}

// Expected returns the normalised, de-duplicated expected types in sorted order
func (r DataRecord) Expected() []string {
	seen := make(map[string]bool)
	var types []string
	for _, t := range strings.Split(r.ExpectedTypes, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TypeScore tallies type-level hits for one rule type
type TypeScore struct {
	TruePositives  int64 `json:"true_positives"`
	FalsePositives int64 `json:"false_positives"`
	FalseNegatives int64 `json:"false_negatives"`
}

// Precision returns TP / (TP + FP), or 0 with no positives
func (s TypeScore) Precision() float64 {
	return ratio(s.TruePositives, s.TruePositives+s.FalsePositives)
}

// Recall returns TP / (TP + FN), or 0 with nothing expected
func (s TypeScore) Recall() float64 {
	return ratio(s.TruePositives, s.TruePositives+s.FalseNegatives)
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// EvaluationResult is the outcome of evaluating one corpus
type EvaluationResult struct {
	TotalRecords     int64                 `json:"total_records"`
	Evaluated        int64                 `json:"evaluated"`
	Invalid          int64                 `json:"invalid"`
	Overall          TypeScore             `json:"overall"`
	ByType           map[string]*TypeScore `json:"by_type"`
	FeedbackRecorded int64                 `json:"feedback_recorded"`
	Duration         time.Duration         `json:"duration"`
	DetectionTime    time.Duration         `json:"detection_time"`
	Errors           []string              `json:"errors,omitempty"`
}

func newEvaluationResult() *EvaluationResult {
	return &EvaluationResult{ByType: make(map[string]*TypeScore)}
}

func (r *EvaluationResult) score(ruleType string) *TypeScore {
	s, ok := r.ByType[ruleType]
	if !ok {
		s = &TypeScore{}
		r.ByType[ruleType] = s
	}
	return s
}

// Config contains evaluation pipeline configuration
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ValidateData   bool `yaml:"validate_data" mapstructure:"validate_data"`     // true
	MaxTextLength  int  `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
	DryRun         bool `yaml:"dry_run" mapstructure:"dry_run"`
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime        time.Time `json:"start_time"`
	RecordsRead      int64     `json:"records_read"`
	RecordsValid     int64     `json:"records_valid"`
	RecordsInvalid   int64     `json:"records_invalid"`
	CurrentBatch     int64     `json:"current_batch"`
	FeedbackRecorded int64     `json:"feedback_recorded"`
	ProcessingRate   float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatCSV // Default to CSV
	}
}
