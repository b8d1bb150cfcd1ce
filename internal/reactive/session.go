package reactive

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/raaihank/report-sentinel/internal/privacy"
	"go.uber.org/zap"
)

// State is the controller state of a Session
type State int

const (
	StateIdle State = iota
	StatePending
	StateDetecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateDetecting:
		return "detecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Update is one published detection result
type Update struct {
	Version uint64
	Result  privacy.DetectionResult
}

// PublishFunc receives published updates. It is called with the session
// lock held and must not block or call back into the session.
type PublishFunc func(Update)

// Config configures a Session. DebounceFunc, when set, is read on every
// Input so a reloaded delay reaches open sessions; Debounce is used otherwise.
type Config struct {
	Debounce     time.Duration
	DebounceFunc func() time.Duration
	Clock        Clock
	Logger       *zap.Logger
}

// Session debounces edits to one text field, runs detection on the latest
// input and publishes results in input order. Results computed from input
// that has since been superseded are discarded.
type Session struct {
	engine   privacy.Engine
	publish  PublishFunc
	debounce   time.Duration
	debounceFn func() time.Duration
	clock      Clock
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	latest    uint64
	inFlight  uint64
	published uint64
	timer     Timer
	closed    bool
}

// NewSession creates a session in the Idle state
func NewSession(engine privacy.Engine, publish PublishFunc, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if publish == nil {
		publish = func(Update) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		engine:   engine,
		publish:  publish,
		debounce:   cfg.Debounce,
		debounceFn: cfg.DebounceFunc,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
	}
}

// Input records a new version of the field text and returns its version.
// Empty or whitespace-only text publishes an empty result immediately.
// Input on a closed session is ignored and returns 0.
func (s *Session) Input(text string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	s.latest++
	version := s.latest
	s.stopTimer()

	if strings.TrimSpace(text) == "" {
		s.state = StateIdle
		s.emit(version, privacy.EmptyResult(text))
		return version
	}

	s.state = StatePending
	s.timer = s.clock.AfterFunc(s.delay(), func() {
		s.run(version, text)
	})
	return version
}

func (s *Session) delay() time.Duration {
	d := s.debounce
	if s.debounceFn != nil {
		d = s.debounceFn()
	}
	if d < 0 {
		return 0
	}
	return d
}

// run executes one detection for version once its debounce has elapsed
func (s *Session) run(version uint64, text string) {
	s.mu.Lock()
	if s.closed || version != s.latest {
		// superseded between firing and acquiring the lock
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.inFlight = version
	s.state = StateDetecting
	ctx := s.ctx
	s.mu.Unlock()

	result := s.engine.Detect(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || version != s.latest {
		s.logger.Debug("Discarding stale detection result",
			zap.Uint64("version", version),
			zap.Uint64("latest", s.latest),
		)
		return
	}
	s.state = StateIdle
	s.emit(version, result)
}

// emit publishes under s.mu, never moving backwards
func (s *Session) emit(version uint64, result privacy.DetectionResult) {
	if version <= s.published {
		return
	}
	s.published = version
	s.publish(Update{Version: version, Result: result})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Close stops any pending timer and abandons in-flight work. Nothing is
// published after Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.state = StateClosed
	s.stopTimer()
	s.cancel()
}

// State returns the current controller state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Versions returns the latest input, in-flight and published versions
func (s *Session) Versions() (latest, inFlight, published uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.inFlight, s.published
}
