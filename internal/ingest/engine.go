// Package ingest turns raw relay events into the local location store:
// classification, addressable dedup, and batched decryption of private
// events with every known account and group identity.
package ingest

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/signer"
)

// DefaultDebounce is the quiet period before a decryption sweep runs.
const DefaultDebounce = 100 * time.Millisecond

// Decrypter decrypts a ciphertext on behalf of an owned identity.
// *signer.Dispatcher satisfies it.
type Decrypter interface {
	Decrypt(ctx context.Context, receiver signer.Identity, senderPubkey, ciphertext string) (string, error)
}

// Sink receives every version of an event the store accepts.
type Sink interface {
	Save(ctx context.Context, evt *location.Event) error
}

// Config controls ingestion behaviour.
type Config struct {
	// ReplaceOnlyNewer drops deliveries older than the stored version of
	// the same address. When false the last delivery always wins.
	ReplaceOnlyNewer bool

	// Debounce coalesces ingestions and identity changes into one sweep.
	Debounce time.Duration

	// SinkTimeout bounds each Sink.Save call.
	SinkTimeout time.Duration
}

// DefaultConfig returns the default ingestion config.
func DefaultConfig() Config {
	return Config{
		ReplaceOnlyNewer: true,
		Debounce:         DefaultDebounce,
		SinkTimeout:      5 * time.Second,
	}
}

// Stats summarizes the store.
type Stats struct {
	Events    int   `json:"events"`
	Encrypted int   `json:"encrypted"`
	Sweeps    int64 `json:"sweeps"`
	Decrypted int64 `json:"decrypted"`
}

// Observer is called with a fresh snapshot after every store change.
type Observer func(snapshot []*location.Event)

// Engine owns the location store.
type Engine struct {
	cfg       Config
	decrypter Decrypter
	sink      Sink
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	events map[string]*location.Event

	keysMu   sync.RWMutex
	accounts []signer.Identity
	groups   []signer.Identity

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	baseCtx   atomic.Pointer[context.Context]
	debounced func(func())

	sweeps    atomic.Int64
	decrypted atomic.Int64
}

// NewEngine creates an Engine. sink and metrics may be nil.
func NewEngine(cfg Config, decrypter Decrypter, sink Sink, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	e := &Engine{
		cfg:       cfg,
		decrypter: decrypter,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
		events:    make(map[string]*location.Event),
		observers: make(map[int]Observer),
		debounced: debounce.New(cfg.Debounce),
	}
	ctx := context.Background()
	e.baseCtx.Store(&ctx)
	return e
}

// Start sets the context used by scheduled sweeps. Sweeps are skipped once
// ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.baseCtx.Store(&ctx)
}

// Filter returns the relay filter that selects location events.
func Filter() nostr.Filters {
	return nostr.Filters{{Kinds: []int{location.KindPublic, location.KindPrivate}}}
}

// HandleRelayEvent adapts Ingest to relay.EventFunc.
func (e *Engine) HandleRelayEvent(relayURL string, evt *nostr.Event) {
	e.Ingest(relayURL, evt)
}

// Ingest adds a raw relay event to the store and reports whether it was
// accepted. Unknown kinds, re-deliveries of the stored event and, with
// ReplaceOnlyNewer, older versions are ignored.
func (e *Engine) Ingest(relayURL string, evt *nostr.Event) bool {
	if evt == nil || !location.IsLocationKind(evt.Kind) {
		e.metrics.IncIngested(outcomeIgnored)
		return false
	}
	le, err := location.FromNostr(evt)
	if err != nil {
		e.metrics.IncIngested(outcomeIgnored)
		return false
	}
	le.Relay = relayURL

	e.mu.Lock()
	if cur, ok := e.events[le.ID]; ok {
		if cur.EventID == le.EventID {
			e.mu.Unlock()
			e.metrics.IncIngested(outcomeDuplicate)
			return false
		}
		if e.cfg.ReplaceOnlyNewer && le.CreatedAt < cur.CreatedAt {
			e.mu.Unlock()
			e.logger.Debug("dropping stale location event",
				slog.String("id", le.ID),
				slog.Int64("created_at", le.CreatedAt),
				slog.Int64("stored_created_at", cur.CreatedAt))
			e.metrics.IncIngested(outcomeStale)
			return false
		}
	}
	e.events[le.ID] = le
	size := len(e.events)
	e.mu.Unlock()

	e.metrics.IncIngested(outcomeAccepted)
	e.metrics.SetStoreSize(size)
	e.logger.Debug("location event stored",
		slog.String("id", le.ID),
		slog.String("relay", relayURL),
		slog.Bool("encrypted", le.Encrypted()))

	e.save(le)
	e.notify()

	if le.Encrypted() && e.hasIdentities() {
		e.ScheduleSweep()
	}
	return true
}

// AddAccount registers an owned account identity and schedules a sweep.
// Identities are tried in registration order. Duplicates are ignored.
func (e *Engine) AddAccount(id signer.Identity) {
	e.addIdentity(&e.accounts, id)
}

// AddGroup registers a group identity and schedules a sweep. Groups are
// tried after every account.
func (e *Engine) AddGroup(id signer.Identity) {
	e.addIdentity(&e.groups, id)
}

func (e *Engine) addIdentity(list *[]signer.Identity, id signer.Identity) {
	e.keysMu.Lock()
	for _, existing := range *list {
		if existing.PublicKey() == id.PublicKey() {
			e.keysMu.Unlock()
			return
		}
	}
	*list = append(*list, id)
	e.keysMu.Unlock()

	e.ScheduleSweep()
}

// RemoveIdentity forgets an account or group by public key.
func (e *Engine) RemoveIdentity(pubkey string) {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	e.accounts = without(e.accounts, pubkey)
	e.groups = without(e.groups, pubkey)
}

func without(list []signer.Identity, pubkey string) []signer.Identity {
	out := list[:0:0]
	for _, id := range list {
		if id.PublicKey() != pubkey {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) hasIdentities() bool {
	e.keysMu.RLock()
	defer e.keysMu.RUnlock()
	return len(e.accounts)+len(e.groups) > 0
}

// ScheduleSweep requests a decryption sweep after the debounce period.
// Calls during the quiet period collapse into one sweep.
func (e *Engine) ScheduleSweep() {
	e.debounced(func() {
		ctx := *e.baseCtx.Load()
		if ctx.Err() != nil {
			return
		}
		e.Sweep(ctx)
	})
}

// Snapshot returns copies of all stored events, newest first.
func (e *Engine) Snapshot() []*location.Event {
	e.mu.RLock()
	out := make([]*location.Event, 0, len(e.events))
	for _, le := range e.events {
		out = append(out, le.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of the event stored under the addressable id.
func (e *Engine) Get(id string) (*location.Event, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	le, ok := e.events[id]
	if !ok {
		return nil, false
	}
	return le.Clone(), true
}

// Clear empties the store.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.events = make(map[string]*location.Event)
	e.mu.Unlock()
	e.metrics.SetStoreSize(0)
	e.notify()
}

// Stats returns store counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{
		Events:    len(e.events),
		Sweeps:    e.sweeps.Load(),
		Decrypted: e.decrypted.Load(),
	}
	for _, le := range e.events {
		if le.Encrypted() {
			s.Encrypted++
		}
	}
	return s
}

// Subscribe registers fn for store changes and returns a func that removes it.
func (e *Engine) Subscribe(fn Observer) func() {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()

	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.obsMu.Lock()
	if len(e.observers) == 0 {
		e.obsMu.Unlock()
		return
	}
	fns := make([]Observer, 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()

	snap := e.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (e *Engine) save(le *location.Event) {
	if e.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(*e.baseCtx.Load(), e.cfg.SinkTimeout)
	defer cancel()
	if err := e.sink.Save(ctx, le.Clone()); err != nil {
		e.logger.Warn("failed to archive location event",
			slog.String("id", le.ID),
			slog.String("error", err.Error()))
	}
}
