package privacy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const remoteReport = "Contact me at john.doe@example.com, ring 07911 123456"

const remotePayload = `{
	"detections": [
		{"type": "email", "value": "john.doe@example.com", "position": {"start": 14, "end": 34}, "severity": "HIGH", "confidence": 0.99},
		{"type": "phoneNumber", "value": "07911 123456", "position": {"start": 0, "end": 0}},
		{"type": "ssn", "value": "not in the text"},
		{"type": "creditCard", "value": "Contact", "confidence": 0.1},
		{"type": "ip", "position": {"start": 100, "end": 120}}
	]
}`

type memoryResponseCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memoryResponseCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *memoryResponseCache) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
}

func newTestRemote(t *testing.T, url string, cache ResponseCache) *RemoteEngine {
	t.Helper()
	engine, err := NewRemoteEngine(RemoteConfig{
		Endpoint: url,
		APIKey:   "secret",
		Timeout:  time.Second,
		Cache:    cache,
		Defaults: RemoteOptions{ConfidenceThreshold: 0.5},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return engine
}

func staticServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteNormalizesResponse(t *testing.T) {
	srv := staticServer(t, http.StatusOK, remotePayload, nil)
	result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), remoteReport)

	assert.False(t, result.Unavailable)
	assert.Equal(t, string(BackendRemote), result.Backend)
	assert.Equal(t, "Contact me at [EMAIL_1], ring [PHONE_INTERNATIONAL_1]", result.RedactedText)
	require.Len(t, result.Detections, 2)

	email := result.Detections[0]
	assert.Equal(t, TypeEmail, email.Type)
	assert.Equal(t, 14, email.Start)
	assert.Equal(t, 34, email.End)
	assert.Equal(t, SeverityHigh, email.Severity)
	assert.InDelta(t, 0.99, email.Confidence, 1e-9)

	phone := result.Detections[1]
	assert.Equal(t, TypePhoneInternational, phone.Type)
	assert.Equal(t, "07911 123456", phone.Original)
	assert.Equal(t, 41, phone.Start)
	assert.Equal(t, SeverityMedium, phone.Severity)
	assert.Equal(t, 1.0, phone.Confidence)

	assert.Equal(t, remoteReport, Restore(result))
}

func TestRemoteRequestShape(t *testing.T) {
	type captured struct {
		method string
		auth   string
		body   map[string]interface{}
	}
	requests := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{method: r.Method, auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		requests <- c
		_, _ = w.Write([]byte(`{"detections": []}`))
	}))
	defer srv.Close()

	engine := newTestRemote(t, srv.URL, nil)
	result := engine.DetectWith(context.Background(), "hello", RemoteOptions{
		EnableAI:            true,
		ConfidenceThreshold: 0.7,
		EntityTypes:         []string{"EMAIL"},
	})

	assert.False(t, result.Unavailable)
	assert.Equal(t, "hello", result.RedactedText)

	got := <-requests
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, "hello", got.body["text"])
	assert.Equal(t, true, got.body["enable_ai"])
	assert.Equal(t, 0.7, got.body["confidence_threshold"])
	assert.Equal(t, []interface{}{"EMAIL"}, got.body["entity_types"])
}

func TestRemoteFailuresDegrade(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error": "boom"}`},
		{"unauthorized", http.StatusUnauthorized, ``},
		{"malformed json", http.StatusOK, `{"detections": [`},
		{"missing detections", http.StatusOK, `{"results": []}`},
		{"wrong shape", http.StatusOK, `{"detections": "none"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := staticServer(t, tt.status, tt.body, nil)
			result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), remoteReport)

			assert.True(t, result.Unavailable)
			assert.Equal(t, remoteReport, result.RedactedText)
			assert.Empty(t, result.Detections)
			assert.Equal(t, string(BackendRemote), result.Backend)
		})
	}
}

func TestRemoteFetchErrors(t *testing.T) {
	srv := staticServer(t, http.StatusBadGateway, ``, nil)
	_, err := newTestRemote(t, srv.URL, nil).Fetch(context.Background(), remoteReport, RemoteOptions{})
	assert.ErrorIs(t, err, ErrRemoteStatus)

	srv = staticServer(t, http.StatusOK, `{}`, nil)
	_, err = newTestRemote(t, srv.URL, nil).Fetch(context.Background(), remoteReport, RemoteOptions{})
	assert.ErrorIs(t, err, ErrRemotePayload)
}

func TestRemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := newTestRemote(t, url, nil).Detect(context.Background(), remoteReport)
	assert.True(t, result.Unavailable)
	assert.Equal(t, remoteReport, result.RedactedText)
}

func TestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	engine, err := NewRemoteEngine(RemoteConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	result := engine.Detect(context.Background(), remoteReport)
	assert.True(t, result.Unavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRemoteCache(t *testing.T) {
	var hits int32
	srv := staticServer(t, http.StatusOK, remotePayload, &hits)
	cache := &memoryResponseCache{}
	engine := newTestRemote(t, srv.URL, cache)

	first := engine.Detect(context.Background(), remoteReport)
	second := engine.Detect(context.Background(), remoteReport)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, first, second)

	// failures are never cached
	bad := staticServer(t, http.StatusInternalServerError, ``, nil)
	failing := newTestRemote(t, bad.URL, cache)
	failing.Detect(context.Background(), "other text")
	cache.mu.Lock()
	assert.Len(t, cache.data, 1)
	cache.mu.Unlock()
}

func TestRemoteEmptyTextSkipsService(t *testing.T) {
	var hits int32
	srv := staticServer(t, http.StatusOK, remotePayload, &hits)
	result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), "   ")

	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	assert.Equal(t, "   ", result.RedactedText)
	assert.False(t, result.Unavailable)
}

func TestRemoteUnknownTypeKeepsLabel(t *testing.T) {
	srv := staticServer(t, http.StatusOK, `{"detections": [
		{"type": "employeeBadge", "value": "B-7781"},
		{"type": "email", "value": "b@example.com"}
	]}`, nil)

	result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), "B-7781 mailed b@example.com")
	require.Len(t, result.Detections, 2)
	assert.Equal(t, "EMPLOYEE_BADGE", result.Detections[0].Type)
	assert.Equal(t, "[EMPLOYEE_BADGE_1] mailed [EMAIL_1]", result.RedactedText)
}

func TestRemoteOverlapsResolvedByPriority(t *testing.T) {
	srv := staticServer(t, http.StatusOK, `{"detections": [
		{"type": "reference", "value": "CASE-2024-000123 raised"},
		{"type": "case_tracking_id", "value": "CASE-2024-000123"}
	]}`, nil)

	result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), "CASE-2024-000123 raised")
	require.Len(t, result.Detections, 1)
	assert.Equal(t, TypeCaseTrackingID, result.Detections[0].Type)
	assert.Equal(t, "[CASE_TRACKING_ID_1] raised", result.RedactedText)
}

func TestRemoteRepeatedValuesAnchorSeparately(t *testing.T) {
	// offsets counted in UTF-16 units drift by one after the emoji
	text := "😀 a@example.com and a@example.com"
	srv := staticServer(t, http.StatusOK, `{"detections": [
		{"type": "email", "value": "a@example.com", "position": {"start": 3, "end": 16}},
		{"type": "email", "value": "a@example.com", "position": {"start": 21, "end": 34}}
	]}`, nil)

	result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), text)
	require.Len(t, result.Detections, 2)
	assert.Equal(t, 2, result.Detections[0].Start)
	assert.Equal(t, 20, result.Detections[1].Start)
	assert.Equal(t, "😀 [EMAIL_1] and [EMAIL_2]", result.RedactedText)
	assert.Equal(t, text, Restore(result))
}

func TestRemoteRepeatedValuesWithoutPositions(t *testing.T) {
	srv := staticServer(t, http.StatusOK, `{"detections": [
		{"type": "ip", "value": "10.0.0.1"},
		{"type": "ip", "value": "10.0.0.1"},
		{"type": "ip", "value": "10.0.0.1"}
	]}`, nil)

	result := newTestRemote(t, srv.URL, nil).Detect(context.Background(), "10.0.0.1 then 10.0.0.1")
	require.Len(t, result.Detections, 2)
	assert.Equal(t, "[IP_ADDRESS_1] then [IP_ADDRESS_2]", result.RedactedText)
}

func TestNewRemoteEngineRequiresEndpoint(t *testing.T) {
	_, err := NewRemoteEngine(RemoteConfig{Endpoint: "  "}, nil)
	assert.Error(t, err)
}

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"email":            TypeEmail,
		"Email Address":    TypeEmail,
		"creditCard":       TypeCreditCard,
		"phone-number":     TypePhoneInternational,
		"IPv4":             TypeIPAddress,
		"nino":             TypeNINumber,
		"custom_thing":     "CUSTOM_THING",
		"employeeBadge":    "EMPLOYEE_BADGE",
		"":                 "PII",
		"  ":               "PII",
		"case_tracking_id": TypeCaseTrackingID,
	}

	for in, want := range tests {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}
