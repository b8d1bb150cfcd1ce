package privacy

import (
	"context"
	"strings"
)

// Backend identifies a detection implementation
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// ParseBackend normalises a configured backend name. ok is false for
// anything that is not a known backend; callers fall back to local.
func ParseBackend(s string) (Backend, bool) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendLocal:
		return BackendLocal, true
	case BackendRemote:
		return BackendRemote, true
	}
	return BackendLocal, false
}

// Engine is the contract shared by the local and remote backends. Detect
// never fails: a backend that cannot produce detections returns an empty
// result for text.
type Engine interface {
	Detect(ctx context.Context, text string) DetectionResult
}

// LocalEngine runs Scan, Resolve and Redact in process. It holds no
// mutable state and is safe for concurrent use.
type LocalEngine struct {
	registry *Registry
}

// NewLocalEngine creates a local engine over registry
func NewLocalEngine(registry *Registry) *LocalEngine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &LocalEngine{registry: registry}
}

// Detect implements Engine
func (e *LocalEngine) Detect(_ context.Context, text string) DetectionResult {
	if text == "" {
		result := EmptyResult(text)
		result.Backend = string(BackendLocal)
		return result
	}

	candidates := Scan(text, e.registry.rules)
	result := Redact(text, Resolve(candidates))
	result.Backend = string(BackendLocal)
	return result
}

// Registry returns the rule registry backing the engine
func (e *LocalEngine) Registry() *Registry {
	return e.registry
}
