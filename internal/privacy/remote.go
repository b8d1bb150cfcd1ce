package privacy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

var (
	// ErrRemoteStatus is returned for non-2xx responses from the service
	ErrRemoteStatus = errors.New("remote detection service returned an error status")
	// ErrRemotePayload is returned when the response cannot be understood
	ErrRemotePayload = errors.New("malformed remote detection payload")
)

const maxRemoteResponseBytes = 8 << 20

// ResponseCache stores raw service responses keyed by request digest.
// Implementations treat their own failures as misses.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// RemoteOptions are forwarded to the external service on each call
type RemoteOptions struct {
	EnableAI            bool
	ConfidenceThreshold float64
	EntityTypes         []string
}

// RemoteEngine delegates detection to an external service and normalises
// its answer into the local result shape.
type RemoteEngine struct {
	endpoint string
	apiKey   string
	client   *http.Client
	registry *Registry
	cache    ResponseCache
	defaults RemoteOptions
	logger   *zap.Logger
}

// RemoteConfig configures a RemoteEngine
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	// Timeout bounds the whole round trip; a timeout is a transport failure
	Timeout  time.Duration
	Client   *http.Client
	Registry *Registry
	Cache    ResponseCache
	Defaults RemoteOptions
}

type remoteRequest struct {
	Text                string   `json:"text"`
	EnableAI            bool     `json:"enable_ai"`
	EntityTypes         []string `json:"entity_types,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
}

type remotePosition struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

type remoteDetection struct {
	Type       string          `json:"type"`
	Value      string          `json:"value"`
	Position   *remotePosition `json:"position"`
	Severity   string          `json:"severity"`
	Confidence *float64        `json:"confidence"`
}

type remoteResponse struct {
	Detections *[]remoteDetection `json:"detections"`
}

// NewRemoteEngine creates a remote engine
func NewRemoteEngine(cfg RemoteConfig, logger *zap.Logger) (*RemoteEngine, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("remote detection endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	return &RemoteEngine{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		registry: registry,
		cache:    cfg.Cache,
		defaults: cfg.Defaults,
		logger:   logger,
	}, nil
}

// Detect implements Engine using the engine's default options
func (e *RemoteEngine) Detect(ctx context.Context, text string) DetectionResult {
	return e.DetectWith(ctx, text, e.defaults)
}

// DetectWith calls the service with opts. Any transport or parse failure
// is logged and degrades to an empty result marked Unavailable.
func (e *RemoteEngine) DetectWith(ctx context.Context, text string, opts RemoteOptions) DetectionResult {
	result, err := e.Fetch(ctx, text, opts)
	if err != nil {
		e.logger.Warn("Remote detection unavailable, returning empty result",
			zap.String("endpoint", e.endpoint),
			zap.Int("text_length", len(text)),
			zap.Error(err),
		)
		result = EmptyResult(text)
		result.Backend = string(BackendRemote)
		result.Unavailable = true
	}
	return result
}

// Fetch performs one service round trip and returns the normalised result
func (e *RemoteEngine) Fetch(ctx context.Context, text string, opts RemoteOptions) (DetectionResult, error) {
	if strings.TrimSpace(text) == "" {
		result := EmptyResult(text)
		result.Backend = string(BackendRemote)
		return result, nil
	}

	body, err := json.Marshal(remoteRequest{
		Text:                text,
		EnableAI:            opts.EnableAI,
		EntityTypes:         opts.EntityTypes,
		ConfidenceThreshold: opts.ConfidenceThreshold,
	})
	if err != nil {
		return DetectionResult{}, fmt.Errorf("encode remote request: %w", err)
	}

	key := requestDigest(body)
	payload, cached := e.cacheGet(ctx, key)
	if !cached {
		payload, err = e.post(ctx, body)
		if err != nil {
			return DetectionResult{}, err
		}
	}

	var resp remoteResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return DetectionResult{}, fmt.Errorf("%w: %v", ErrRemotePayload, err)
	}
	if resp.Detections == nil {
		return DetectionResult{}, fmt.Errorf("%w: missing detections", ErrRemotePayload)
	}

	if !cached && e.cache != nil {
		e.cache.Set(ctx, key, payload)
	}

	result := Redact(text, Resolve(OrderByPriority(e.normalize(text, *resp.Detections, opts.ConfidenceThreshold))))
	result.Backend = string(BackendRemote)
	return result, nil
}

func (e *RemoteEngine) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.Get(ctx, key)
}

func (e *RemoteEngine) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote detection request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read remote response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrRemoteStatus, resp.StatusCode)
	}

	return payload, nil
}

// normalize maps service detections into candidates over text. Spans are
// codepoint offsets. A span that disagrees with its value is re-anchored on
// the unclaimed occurrence of the value nearest the reported start, and
// dropped if the value does not occur.
func (e *RemoteEngine) normalize(text string, detections []remoteDetection, threshold float64) []Candidate {
	runes := []rune(text)
	candidates := make([]Candidate, 0, len(detections))
	claimed := make(map[span]bool, len(detections))

	for _, d := range detections {
		confidence := 1.0
		if d.Confidence != nil {
			confidence = *d.Confidence
		}
		if confidence < threshold {
			continue
		}

		sp, ok := locateSpan(text, runes, d, claimed)
		if !ok {
			continue
		}
		claimed[sp] = true

		ruleType := NormalizeType(d.Type)
		priority, _ := e.registry.Priority(ruleType)

		candidates = append(candidates, Candidate{
			RuleType:   ruleType,
			Priority:   priority,
			Start:      sp.start,
			End:        sp.end,
			RawText:    string(runes[sp.start:sp.end]),
			Severity:   ParseSeverity(strings.ToLower(d.Severity)),
			Confidence: confidence,
		})
	}

	return candidates
}

func locateSpan(text string, runes []rune, d remoteDetection, claimed map[span]bool) (span, bool) {
	reported := 0
	if d.Position != nil && d.Position.Start != nil && d.Position.End != nil {
		start, end := *d.Position.Start, *d.Position.End
		if start >= 0 && end <= len(runes) && start < end {
			if d.Value == "" || string(runes[start:end]) == d.Value {
				return span{start, end}, true
			}
		}
		reported = start
	}

	if d.Value == "" {
		return span{}, false
	}

	width := utf8.RuneCountInString(d.Value)
	best, found, bestClaimed := span{}, false, true
	for from := 0; from < len(text); {
		idx := strings.Index(text[from:], d.Value)
		if idx < 0 {
			break
		}
		at := from + idx
		start := runeOffset(text, at)
		sp := span{start, start + width}

		// unclaimed beats claimed, then nearest to the reported start wins
		taken := claimed[sp]
		switch {
		case !found,
			bestClaimed && !taken,
			bestClaimed == taken && distance(start, reported) < distance(best.start, reported):
			best, found, bestClaimed = sp, true, taken
		}

		_, size := utf8.DecodeRuneInString(text[at:])
		from = at + size
	}

	return best, found
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

var remoteTypeAliases = map[string]string{
	"EMAIL_ADDRESS":      TypeEmail,
	"PHONE":              TypePhoneInternational,
	"PHONE_NUMBER":       TypePhoneInternational,
	"MOBILE":             TypePhoneUKMobile,
	"UK_MOBILE":          TypePhoneUKMobile,
	"LANDLINE":           TypePhoneUKLandline,
	"CREDITCARD":         TypeCreditCard,
	"CARD":               TypeCreditCard,
	"CARD_NUMBER":        TypeCreditCard,
	"IP":                 TypeIPAddress,
	"IPV4":               TypeIPAddress,
	"NI":                 TypeNINumber,
	"NINO":               TypeNINumber,
	"NATIONAL_INSURANCE": TypeNINumber,
	"NHS":                TypeNHSNumber,
	"POSTCODE":           TypeUKPostcode,
	"POSTAL_CODE":        TypeUKPostcode,
	"ADDRESS":            TypeStreetAddress,
	"DOB":                TypeDate,
	"DATE_OF_BIRTH":      TypeDate,
	"CASE_ID":            TypeCaseTrackingID,
	"BANK_ACCOUNT":       TypeIBAN,
}

// NormalizeType converts a service label such as "creditCard",
// "phone-number" or "email" into the engine's upper snake case vocabulary.
func NormalizeType(label string) string {
	var b strings.Builder
	var prev rune
	for _, r := range strings.TrimSpace(label) {
		switch {
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			b.WriteByte('_')
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		default:
			r = '_'
			if prev != '_' && b.Len() > 0 {
				b.WriteRune(r)
			}
		}
		prev = r
	}

	normalized := strings.Trim(b.String(), "_")
	if normalized == "" {
		return "PII"
	}
	if alias, ok := remoteTypeAliases[normalized]; ok {
		return alias
	}
	if alias, ok := remoteTypeAliases[strings.ReplaceAll(normalized, "_", "")]; ok {
		return alias
	}
	return normalized
}

func requestDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
