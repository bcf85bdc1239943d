package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/ingest"
	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/signer"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustKey(t *testing.T) *signer.LocalKey {
	t.Helper()
	k, err := signer.GenerateLocalKey()
	if err != nil {
		t.Fatalf("GenerateLocalKey() error = %v", err)
	}
	return k
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rr).Error.Code
}

// fakeStore is an in-memory LocationStore.
type fakeStore struct {
	mu        sync.Mutex
	events    map[string]*location.Event
	observers []ingest.Observer
}

func newFakeStore(events ...*location.Event) *fakeStore {
	s := &fakeStore{events: make(map[string]*location.Event)}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) Snapshot() []*location.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*location.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func (s *fakeStore) Get(id string) (*location.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (s *fakeStore) Stats() ingest.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ingest.Stats{Events: len(s.events)}
}

func (s *fakeStore) Subscribe(fn ingest.Observer) func() {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
	return func() {}
}

func (s *fakeStore) put(e *location.Event) {
	s.mu.Lock()
	s.events[e.ID] = e
	obs := append([]ingest.Observer(nil), s.observers...)
	s.mu.Unlock()
	snap := s.Snapshot()
	for _, fn := range obs {
		fn(snap)
	}
}

// fakePublisher records published events and accepts or rejects by URL.
type fakePublisher struct {
	mu     sync.Mutex
	events []*nostr.Event
	reject map[string]bool
}

func (f *fakePublisher) Publish(_ context.Context, evt *nostr.Event, urls []string) []relay.Ack {
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.mu.Unlock()
	acks := make([]relay.Ack, len(urls))
	for i, u := range urls {
		acks[i].URL = u
		if f.reject[u] {
			acks[i].Err = relay.ErrRejected
		}
	}
	return acks
}

func (f *fakePublisher) published() []*nostr.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*nostr.Event(nil), f.events...)
}
