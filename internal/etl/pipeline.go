package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/report-sentinel/internal/feedback"
	"github.com/raaihank/report-sentinel/internal/privacy"
)

// ErrNoRecords reports a corpus with nothing to evaluate
var ErrNoRecords = errors.New("corpus contains no valid records")

// FeedbackSink receives misses found during evaluation
type FeedbackSink interface {
	RecordFeedback(kind feedback.Kind, text, detectionType, context string)
}

// Pipeline evaluates a detection engine against labelled corpora
type Pipeline struct {
	engine privacy.Engine
	sink   FeedbackSink
	config *Config
	logger *zap.Logger
	stats  *ProcessingStats
	mu     sync.RWMutex
}

// NewPipeline creates a new evaluation pipeline. sink may be nil, in which
// case misses are only counted.
func NewPipeline(engine privacy.Engine, sink FeedbackSink, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = &Config{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.MaxTextLength <= 0 {
		config.MaxTextLength = 10000
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		engine: engine,
		sink:   sink,
		config: config,
		logger: logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile evaluates a corpus file (CSV, Parquet, or JSON lines)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*EvaluationResult, error) {
	format := DetectFileFormat(filePath)

	p.logger.Info("Starting evaluation pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount),
		zap.Bool("dry_run", p.config.DryRun))

	start := time.Now()
	result := newEvaluationResult()
	p.resetStats()

	file, err := os.Open(filePath)
	if err != nil {
		return result, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, file, result)
	case FormatParquet:
		err = p.processParquet(ctx, file, result)
	case FormatJSONL:
		err = p.processJSONL(ctx, file, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	p.logger.Info("Evaluation completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("evaluated", result.Evaluated),
		zap.Int64("invalid", result.Invalid),
		zap.Float64("precision", result.Overall.Precision()),
		zap.Float64("recall", result.Overall.Recall()),
		zap.Int64("feedback_recorded", result.FeedbackRecorded),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// processCSV reads a CSV corpus with a header row naming text and expected_types
func (p *Pipeline) processCSV(ctx context.Context, r io.Reader, result *EvaluationResult) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	textCol, typesCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "text":
			textCol = i
		case "expected_types":
			typesCol = i
		}
	}
	if textCol < 0 {
		return fmt.Errorf("CSV header has no text column: %v", header)
	}
	p.logger.Debug("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.TotalRecords++
				result.Invalid++
				continue
			}

			record := &DataRecord{}
			if textCol < len(row) {
				record.Text = row[textCol]
			}
			if typesCol >= 0 && typesCol < len(row) {
				record.ExpectedTypes = row[typesCol]
			}
			batch = p.appendValid(batch, record, result)
		}
		return batch, nil
	}, result)
}

// processParquet reads a Parquet corpus
func (p *Pipeline) processParquet(ctx context.Context, file *os.File, result *EvaluationResult) error {
	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			batch = p.appendValid(batch, &record, result)
		}
		return batch, nil
	}, result)
}

// processJSONL reads one JSON object per line
func (p *Pipeline) processJSONL(ctx context.Context, r io.Reader, result *EvaluationResult) error {
	decoder := json.NewDecoder(r)

	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				// a syntax error leaves the decoder unusable
				return batch, fmt.Errorf("failed to read JSON record: %w", err)
			}
			batch = p.appendValid(batch, &record, result)
		}
		return batch, nil
	}, result)
}

func (p *Pipeline) appendValid(batch []*DataRecord, record *DataRecord, result *EvaluationResult) []*DataRecord {
	p.mu.Lock()
	p.stats.RecordsRead++
	valid := p.validateRecord(record)
	if valid {
		p.stats.RecordsValid++
	} else {
		p.stats.RecordsInvalid++
	}
	p.mu.Unlock()

	result.TotalRecords++
	if !valid {
		result.Invalid++
		return batch
	}
	return append(batch, record)
}

// processBatches evaluates data in batches using the provided reader function
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), result *EvaluationResult) error {
	lastReport := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, readErr := readBatch()
		if len(batch) > 0 {
			if err := p.processBatch(ctx, batch, result); err != nil {
				return err
			}
		}
		if readErr != nil {
			return readErr
		}
		if len(batch) == 0 {
			return nil // End of file
		}

		if result.Evaluated-lastReport >= int64(p.config.ProgressReport) {
			lastReport = result.Evaluated
			p.reportProgress(result)
		}
	}
}

// outcome is the type-level comparison for one record
type outcome struct {
	truePositives  []string
	falsePositives []privacy.Detection
	falseNegatives []string
}

// processBatch evaluates one batch across the worker pool, then merges the
// outcomes in record order
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord, result *EvaluationResult) error {
	start := time.Now()
	outcomes := make([]outcome, len(batch))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.config.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.evaluate(ctx, batch[i])
			}
		}()
	}

	var cancelled error
dispatch:
	for i := range batch {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	result.DetectionTime += time.Since(start)

	if cancelled != nil {
		return cancelled
	}

	for i, o := range outcomes {
		p.merge(batch[i], o, result)
	}

	p.mu.Lock()
	p.stats.CurrentBatch++
	p.mu.Unlock()

	return nil
}

// evaluate runs detection on one record and compares detected types with
// the expected ones
func (p *Pipeline) evaluate(ctx context.Context, record *DataRecord) outcome {
	detected := p.engine.Detect(ctx, record.Text)

	expected := make(map[string]bool)
	for _, t := range record.Expected() {
		expected[t] = true
	}

	var o outcome
	found := make(map[string]bool)
	for _, d := range detected.Detections {
		if found[d.Type] {
			continue
		}
		found[d.Type] = true
		if expected[d.Type] {
			o.truePositives = append(o.truePositives, d.Type)
		} else {
			o.falsePositives = append(o.falsePositives, d)
		}
	}
	for _, t := range record.Expected() {
		if !found[t] {
			o.falseNegatives = append(o.falseNegatives, t)
		}
	}
	sort.Strings(o.truePositives)

	return o
}

// merge tallies an outcome and records its misses
func (p *Pipeline) merge(record *DataRecord, o outcome, result *EvaluationResult) {
	result.Evaluated++

	for _, t := range o.truePositives {
		result.Overall.TruePositives++
		result.score(t).TruePositives++
	}
	for _, d := range o.falsePositives {
		result.Overall.FalsePositives++
		result.score(d.Type).FalsePositives++
		p.record(feedback.KindFalsePositive, d.Original, d.Type, record.Text, result)
	}
	for _, t := range o.falseNegatives {
		result.Overall.FalseNegatives++
		result.score(t).FalseNegatives++
		p.record(feedback.KindFalseNegative, record.Text, t, "", result)
	}
}

func (p *Pipeline) record(kind feedback.Kind, text, detectionType, surrounding string, result *EvaluationResult) {
	if p.config.DryRun || p.sink == nil {
		return
	}
	p.sink.RecordFeedback(kind, text, detectionType, surrounding)
	result.FeedbackRecorded++

	p.mu.Lock()
	p.stats.FeedbackRecorded++
	p.mu.Unlock()
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	if !p.config.ValidateData {
		return true
	}

	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text")
		return false
	}

	if len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		return false
	}

	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *EvaluationResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	if elapsed > 0 {
		p.stats.ProcessingRate = float64(result.Evaluated) / elapsed.Seconds()
	}
	rate := p.stats.ProcessingRate
	p.mu.Unlock()

	p.logger.Info("Evaluation progress",
		zap.Int64("records_evaluated", result.Evaluated),
		zap.Int64("records_invalid", result.Invalid),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
