package contacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/validate"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() (*Registry, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	return NewRegistry(clk), clk
}

func testPubkey(t *testing.T) (hex, npub string) {
	t.Helper()
	key, err := signer.GenerateLocalKey()
	if err != nil {
		t.Fatalf("GenerateLocalKey() error = %v", err)
	}
	npub, err = key.Npub()
	if err != nil {
		t.Fatalf("Npub() error = %v", err)
	}
	return key.PublicKey(), npub
}

func TestRegistry_AddByNpubOrHex(t *testing.T) {
	r, clk := newTestRegistry()
	hexA, npubA := testPubkey(t)
	hexB, npubB := testPubkey(t)

	a, err := r.Add(npubA, "  Alice ")
	if err != nil {
		t.Fatalf("Add(npub) error = %v", err)
	}
	if a.ID != npubA || a.Pubkey != hexA || a.CustomName != "Alice" {
		t.Errorf("Add(npub) = %+v", a)
	}
	if !a.CreatedAt.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, clk.Now())
	}

	b, err := r.Add(strings.ToUpper(hexB), "")
	if err != nil {
		t.Fatalf("Add(hex) error = %v", err)
	}
	if b.ID != npubB || b.Pubkey != hexB || b.CustomName != "" {
		t.Errorf("Add(hex) = %+v", b)
	}

	// The same key in the other encoding is still a duplicate.
	if _, err := r.Add(hexA, "again"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Add(duplicate) error = %v, want ErrDuplicate", err)
	}
	if _, err := r.Add("npub1garbage", ""); !errors.Is(err, signer.ErrInvalidKey) {
		t.Errorf("Add(garbage) error = %v, want ErrInvalidKey", err)
	}
	if _, err := r.Add(hexA[:10], ""); !errors.Is(err, signer.ErrInvalidKey) {
		t.Errorf("Add(short hex) error = %v, want ErrInvalidKey", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != npubA || list[1].ID != npubB {
		t.Errorf("List() = %+v", list)
	}
}

func TestRegistry_AddMany(t *testing.T) {
	r, _ := newTestRegistry()
	hexA, npubA := testPubkey(t)
	hexB, _ := testPubkey(t)

	res := r.AddMany([]string{npubA, " ", hexB, "not-a-key", hexA})
	if len(res.Added) != 2 {
		t.Fatalf("Added = %+v, want 2 contacts", res.Added)
	}
	if want := []string{"not-a-key", hexA}; len(res.Failed) != 2 || res.Failed[0] != want[0] || res.Failed[1] != want[1] {
		t.Errorf("Failed = %v, want %v", res.Failed, want)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	empty := r.AddMany(nil)
	if empty.Added == nil || empty.Failed == nil {
		t.Error("AddMany(nil) should return empty, non-nil slices")
	}
}

func TestRegistry_RenameGetDelete(t *testing.T) {
	r, _ := newTestRegistry()
	hexA, npubA := testPubkey(t)
	if _, err := r.Add(npubA, "Alice"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	c, err := r.Rename(hexA, "Ally")
	if err != nil || c.CustomName != "Ally" {
		t.Fatalf("Rename() = %+v, %v", c, err)
	}
	if c, _ := r.Rename(npubA, "  "); c.CustomName != "" {
		t.Errorf("Rename(blank) = %q, want cleared", c.CustomName)
	}
	if _, err := r.Rename(npubA, "a\nb"); !errors.Is(err, validate.ErrInvalidCharacters) {
		t.Errorf("Rename(control) error = %v", err)
	}
	if _, err := r.Rename("npub1missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename(missing) error = %v, want ErrNotFound", err)
	}

	// Returned contacts are copies.
	got, _ := r.Get(npubA)
	got.CustomName = "mutated"
	if again, _ := r.Get(npubA); again.CustomName == "mutated" {
		t.Error("Get() returned a shared pointer")
	}

	if pk, ok := r.PublicKey(npubA); !ok || pk != hexA {
		t.Errorf("PublicKey() = %q, %v", pk, ok)
	}
	if !r.Delete(npubA) {
		t.Fatal("Delete() = false")
	}
	if r.Delete(hexA) {
		t.Error("second Delete() = true")
	}
	if _, ok := r.PublicKey(npubA); ok {
		t.Error("deleted contact still resolves")
	}
}

type fakeQuerier struct {
	events []*nostr.Event
	role   relay.Role
	kinds  []int
}

func (q *fakeQuerier) Fetch(_ context.Context, role relay.Role, filters nostr.Filters, _ time.Duration) []*nostr.Event {
	q.role = role
	if len(filters) > 0 {
		q.kinds = filters[0].Kinds
	}
	return q.events
}

func TestFollowImporter_NewestListWins(t *testing.T) {
	me, _ := testPubkey(t)
	a, _ := testPubkey(t)
	b, _ := testPubkey(t)
	c, _ := testPubkey(t)

	q := &fakeQuerier{events: []*nostr.Event{
		{PubKey: me, Kind: nostr.KindFollowList, CreatedAt: 100, Tags: nostr.Tags{{"p", c}}},
		{PubKey: me, Kind: nostr.KindFollowList, CreatedAt: 200, Tags: nostr.Tags{
			{"p", a, "wss://relay.example.com", "alice"},
			{"p", a},
			{"p", "zz"},
			{"p"},
			{"e", b},
			{"p", me},
			{"p", b},
		}},
		{PubKey: c, Kind: nostr.KindFollowList, CreatedAt: 999, Tags: nostr.Tags{{"p", c}}},
	}}
	f := NewFollowImporter(q, time.Second, newTestLogger())

	follows, err := f.Follows(context.Background(), me)
	if err != nil {
		t.Fatalf("Follows() error = %v", err)
	}
	if len(follows) != 2 || follows[0] != a || follows[1] != b {
		t.Errorf("Follows() = %v, want [%s %s]", follows, a, b)
	}
	if q.role != relay.RoleProfile || len(q.kinds) != 1 || q.kinds[0] != nostr.KindFollowList {
		t.Errorf("query role=%s kinds=%v", q.role, q.kinds)
	}

	r, _ := newTestRegistry()
	if _, err := r.Add(b, "Bob"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	res, err := f.Import(context.Background(), r, me)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(res.Added) != 1 || res.Added[0].Pubkey != a || len(res.Failed) != 1 || res.Failed[0] != b {
		t.Errorf("Import() = %+v", res)
	}
	if got, _ := r.Get(b); got.CustomName != "Bob" {
		t.Errorf("existing contact renamed to %q", got.CustomName)
	}
}

func TestFollowImporter_NoList(t *testing.T) {
	me, _ := testPubkey(t)
	tests := []struct {
		name   string
		events []*nostr.Event
	}{
		{"nothing returned", nil},
		{"other author", []*nostr.Event{{PubKey: "someone", Kind: nostr.KindFollowList, Tags: nostr.Tags{{"p", me}}}}},
		{"no p tags", []*nostr.Event{{PubKey: me, Kind: nostr.KindFollowList}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFollowImporter(&fakeQuerier{events: tt.events}, 0, nil)
			if _, err := f.Follows(context.Background(), me); !errors.Is(err, ErrNoFollowList) {
				t.Errorf("Follows() error = %v, want ErrNoFollowList", err)
			}
		})
	}
}
