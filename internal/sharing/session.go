// Package sharing implements continuous real-time location sharing: a
// session that follows a position source and republishes the sender's
// geohash whenever it changes and on a fixed heartbeat.
package sharing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/spotstr/internal/geo"
)

// DefaultHeartbeat is the resend interval for an unchanged geohash.
const DefaultHeartbeat = 30 * time.Second

var (
	// ErrAlreadyActive is returned by Start when a session is running.
	ErrAlreadyActive = errors.New("sharing session already active")

	// ErrNoPosition is returned when the source has no fix to share.
	ErrNoPosition = errors.New("no position available")
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SendFunc publishes geohash for the session. ctx is cancelled by Stop.
type SendFunc func(ctx context.Context, geohash string, pos Position) error

// Status is a snapshot of the session.
type Status struct {
	State           State     `json:"-"`
	StateName       string    `json:"state"`
	Sender          string    `json:"sender,omitempty"`
	Receiver        string    `json:"receiver,omitempty"`
	CurrentGeohash  string    `json:"current_geohash,omitempty"`
	LastSentGeohash string    `json:"last_sent_geohash,omitempty"`
	EventCount      int       `json:"event_count"`
	Updates         int       `json:"updates"`
	LastError       string    `json:"last_error,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
}

// Config controls a Session.
type Config struct {
	// Precision of published geohashes. Default: geo.DefaultPrecision.
	Precision int
	// Heartbeat is the resend interval. Default: DefaultHeartbeat.
	Heartbeat time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Session is a continuous sharing session. The zero value is not usable;
// create one with NewSession. A Session can be started again after Stop.
type Session struct {
	source    PositionSource
	precision int
	heartbeat time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	status  Status
	lastPos Position
	cancel  context.CancelFunc
	watch   WatchID
	onStop  func()
	done    chan struct{}

	obsMu     sync.Mutex
	observers map[int]func(Status)
	nextObs   int
}

// NewSession creates an idle session reading from source.
func NewSession(source PositionSource, cfg Config) *Session {
	if cfg.Precision <= 0 {
		cfg.Precision = geo.DefaultPrecision
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		source:    source,
		precision: cfg.Precision,
		heartbeat: cfg.Heartbeat,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		status:    Status{State: StateIdle},
		observers: make(map[int]func(Status)),
	}
}

// Start begins sharing from sender to receiver. send is called with each new
// geohash and on every heartbeat. onStop is called once when the session
// ends, either by Stop or because ctx was cancelled. The session is Active
// once the first position arrives.
func (s *Session) Start(ctx context.Context, sender, receiver string, send SendFunc, onStop func()) error {
	s.mu.Lock()
	if s.status.State != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	positions := make(chan Position, 1)
	s.status = Status{
		State:     StateStarting,
		Sender:    sender,
		Receiver:  receiver,
		StartedAt: s.clock.Now(),
	}
	s.cancel = cancel
	s.onStop = onStop
	s.done = make(chan struct{})
	s.watch = s.source.Watch(func(p Position) { offerLatest(positions, p) })
	done := s.done
	s.mu.Unlock()

	s.logger.Info("continuous sharing started",
		slog.String("sender", sender),
		slog.String("receiver", receiver),
		slog.Duration("heartbeat", s.heartbeat))
	s.metrics.SetActive(true)
	s.notify()

	go func() {
		s.run(runCtx, positions, send, done)
		s.expire(done)
	}()
	return nil
}

// offerLatest replaces any undelivered fix with p.
func offerLatest(ch chan Position, p Position) {
	for {
		select {
		case ch <- p:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *Session) run(ctx context.Context, positions <-chan Position, send SendFunc, done chan struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(s.heartbeat)
	defer ticker.Stop()

	if pos, err := s.source.CurrentPosition(ctx); err == nil {
		s.handlePosition(ctx, pos, send)
	} else if ctx.Err() == nil {
		s.logger.Warn("failed to get initial position", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-positions:
			if ctx.Err() != nil {
				return
			}
			s.handlePosition(ctx, pos, send)
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			gh, pos := s.status.CurrentGeohash, s.lastPos
			s.mu.Unlock()
			if gh != "" {
				s.deliver(ctx, gh, pos, send, triggerHeartbeat)
			}
		}
	}
}

func (s *Session) handlePosition(ctx context.Context, pos Position, send SendFunc) {
	gh := geo.Encode(pos.Lat, pos.Lng, s.precision)

	s.mu.Lock()
	s.status.CurrentGeohash = gh
	s.status.Updates++
	s.lastPos = pos
	if s.status.State == StateStarting {
		s.status.State = StateActive
	}
	changed := gh != s.status.LastSentGeohash
	s.mu.Unlock()
	s.notify()

	if changed {
		s.logger.Debug("geohash changed", slog.String("geohash", gh))
		s.deliver(ctx, gh, pos, send, triggerChange)
	}
}

// deliver sends gh and records it as last sent only on success. Results
// that arrive after Stop are discarded.
func (s *Session) deliver(ctx context.Context, gh string, pos Position, send SendFunc, trigger string) {
	err := send(ctx, gh, pos)
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastSentGeohash = gh
		s.status.EventCount++
		s.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.IncSend(trigger, false)
		s.logger.Warn("failed to send location update",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()))
	} else {
		s.metrics.IncSend(trigger, true)
	}
	s.notify()
}

// Stop ends the session, waits for in-flight work to observe the
// cancellation and calls onStop. Calling Stop on an idle or stopping
// session is a no-op. Stop must not be called from a SendFunc.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status.State == StateIdle || s.status.State == StateStopping {
		s.mu.Unlock()
		return
	}
	cancel, watch, done, onStop := s.claimLocked()
	s.mu.Unlock()
	s.notify()

	cancel()
	s.source.ClearWatch(watch)
	<-done
	s.finish(onStop)
}

// expire tears down a session whose parent context ended without Stop.
// done identifies the run that exited.
func (s *Session) expire(done chan struct{}) {
	s.mu.Lock()
	if s.done != done || s.status.State == StateIdle || s.status.State == StateStopping {
		s.mu.Unlock()
		return
	}
	cancel, watch, _, onStop := s.claimLocked()
	s.mu.Unlock()
	s.notify()

	s.logger.Info("parent context ended")
	cancel()
	s.source.ClearWatch(watch)
	s.finish(onStop)
}

// claimLocked moves the session to Stopping and hands the caller what it
// needs to tear it down. Must be called with s.mu held.
func (s *Session) claimLocked() (context.CancelFunc, WatchID, chan struct{}, func()) {
	s.status.State = StateStopping
	cancel, watch, done, onStop := s.cancel, s.watch, s.done, s.onStop
	s.cancel, s.onStop = nil, nil
	return cancel, watch, done, onStop
}

func (s *Session) finish(onStop func()) {
	s.mu.Lock()
	s.status = Status{State: StateIdle}
	s.lastPos = Position{}
	s.mu.Unlock()

	s.metrics.SetActive(false)
	s.logger.Info("continuous sharing stopped")
	if onStop != nil {
		onStop()
	}
	s.notify()
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.StateName = st.State.String()
	return st
}

// Subscribe registers fn for status changes and returns a func that removes it.
func (s *Session) Subscribe(fn func(Status)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) notify() {
	st := s.Status()
	s.obsMu.Lock()
	fns := make([]func(Status), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}
