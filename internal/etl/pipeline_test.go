package etl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raaihank/report-sentinel/internal/feedback"
	"github.com/raaihank/report-sentinel/internal/privacy"
)

type recordedFeedback struct {
	kind          feedback.Kind
	text          string
	detectionType string
	context       string
}

type memorySink struct {
	mu      sync.Mutex
	entries []recordedFeedback
}

func (s *memorySink) RecordFeedback(kind feedback.Kind, text, detectionType, surrounding string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, recordedFeedback{kind, text, detectionType, surrounding})
}

var corpus = []DataRecord{
	{Text: "mail john.doe@example.com", ExpectedTypes: "EMAIL"},
	{Text: "server 10.0.0.1 down", ExpectedTypes: ""},
	{Text: "call 07911 123456", ExpectedTypes: "phone_uk_mobile, NI_NUMBER"},
	{Text: "   ", ExpectedTypes: "EMAIL"},
}

func newPipeline(t *testing.T, sink FeedbackSink, cfg *Config) *Pipeline {
	t.Helper()
	return NewPipeline(privacy.NewLocalEngine(privacy.DefaultRegistry()), sink, cfg, zaptest.NewLogger(t))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func assertCorpusResult(t *testing.T, result *EvaluationResult) {
	t.Helper()

	assert.Equal(t, int64(4), result.TotalRecords)
	assert.Equal(t, int64(3), result.Evaluated)
	assert.Equal(t, int64(1), result.Invalid)

	assert.Equal(t, TypeScore{TruePositives: 2, FalsePositives: 1, FalseNegatives: 1}, result.Overall)
	assert.InDelta(t, 2.0/3.0, result.Overall.Precision(), 1e-9)
	assert.InDelta(t, 2.0/3.0, result.Overall.Recall(), 1e-9)

	require.Contains(t, result.ByType, "IP_ADDRESS")
	assert.Equal(t, int64(1), result.ByType["IP_ADDRESS"].FalsePositives)
	require.Contains(t, result.ByType, "NI_NUMBER")
	assert.Equal(t, int64(1), result.ByType["NI_NUMBER"].FalseNegatives)
	assert.Equal(t, 1.0, result.ByType["EMAIL"].Precision())
}

func TestProcessCSV(t *testing.T) {
	path := writeFile(t, "corpus.csv", `id,text,expected_types
1,mail john.doe@example.com,EMAIL
2,server 10.0.0.1 down,
3,call 07911 123456,"phone_uk_mobile, NI_NUMBER"
4,   ,EMAIL
`)
	sink := &memorySink{}

	result, err := newPipeline(t, sink, &Config{ValidateData: true, WorkerCount: 2}).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assertCorpusResult(t, result)

	require.Len(t, sink.entries, 2)
	assert.Equal(t, recordedFeedback{feedback.KindFalsePositive, "10.0.0.1", "IP_ADDRESS", "server 10.0.0.1 down"}, sink.entries[0])
	assert.Equal(t, recordedFeedback{feedback.KindFalseNegative, "call 07911 123456", "NI_NUMBER", ""}, sink.entries[1])
	assert.Equal(t, int64(2), result.FeedbackRecorded)
}

func TestProcessCSVRequiresTextColumn(t *testing.T) {
	path := writeFile(t, "corpus.csv", "body,expected_types\nhello,\n")

	_, err := newPipeline(t, nil, nil).ProcessFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text column")
}

func TestProcessJSONL(t *testing.T) {
	path := writeFile(t, "corpus.jsonl", strings.Join([]string{
		`{"text":"mail john.doe@example.com","expected_types":"EMAIL"}`,
		`{"text":"server 10.0.0.1 down"}`,
		`{"text":"call 07911 123456","expected_types":"phone_uk_mobile, NI_NUMBER"}`,
		`{"text":"   ","expected_types":"EMAIL"}`,
	}, "\n"))

	result, err := newPipeline(t, &memorySink{}, &Config{ValidateData: true, BatchSize: 2}).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assertCorpusResult(t, result)
}

func TestProcessJSONLMalformed(t *testing.T) {
	path := writeFile(t, "corpus.jsonl", "{\"text\":\"mail a@example.com\",\"expected_types\":\"EMAIL\"}\n{oops\n")

	result, err := newPipeline(t, nil, nil).ProcessFile(context.Background(), path)
	require.Error(t, err)
	// records read before the bad line are still evaluated
	assert.Equal(t, int64(1), result.Evaluated)
}

func TestProcessParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewGenericWriter[DataRecord](f)
	_, err = w.Write(corpus)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	result, err := newPipeline(t, &memorySink{}, &Config{ValidateData: true}).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assertCorpusResult(t, result)
}

func TestDryRunRecordsNothing(t *testing.T) {
	path := writeFile(t, "corpus.csv", "text,expected_types\nserver 10.0.0.1 down,\n")
	sink := &memorySink{}

	result, err := newPipeline(t, sink, &Config{DryRun: true}).ProcessFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Overall.FalsePositives)
	assert.Empty(t, sink.entries)
	assert.Zero(t, result.FeedbackRecorded)
}

func TestProcessFileCancelled(t *testing.T) {
	path := writeFile(t, "corpus.csv", "text,expected_types\nmail a@example.com,EMAIL\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, nil, nil).ProcessFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetStats(t *testing.T) {
	path := writeFile(t, "corpus.csv", "text,expected_types\nmail a@example.com,EMAIL\n,EMAIL\n")
	p := newPipeline(t, nil, &Config{ValidateData: true})

	_, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	stats := p.GetStats()
	assert.Equal(t, int64(2), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.RecordsValid)
	assert.Equal(t, int64(1), stats.RecordsInvalid)
}

func TestExpected(t *testing.T) {
	r := DataRecord{ExpectedTypes: " email,IP_ADDRESS,, Email "}
	assert.Equal(t, []string{"EMAIL", "IP_ADDRESS"}, r.Expected())
	assert.Empty(t, DataRecord{}.Expected())
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"corpus.csv":     FormatCSV,
		"corpus.CSV":     FormatCSV,
		"corpus.parquet": FormatParquet,
		"corpus.jsonl":   FormatJSONL,
		"corpus.json":    FormatJSONL,
		"corpus":         FormatCSV,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectFileFormat(name), name)
	}
}

func TestTypeScoreEmpty(t *testing.T) {
	var s TypeScore
	assert.Zero(t, s.Precision())
	assert.Zero(t, s.Recall())
}
