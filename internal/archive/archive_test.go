package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/spotstr/internal/location"
)

func publicEvent(id, eventID string, createdAt int64, geohash string) *location.Event {
	return &location.Event{
		ID:        id,
		EventID:   eventID,
		Kind:      location.KindPublic,
		CreatedAt: createdAt,
		Sender:    "alice",
		Geohash:   geohash,
		Tags:      location.TagMap{"g": {geohash}},
	}
}

func privateEvent(id, eventID string, createdAt int64) *location.Event {
	return &location.Event{
		ID:         id,
		EventID:    eventID,
		Kind:       location.KindPrivate,
		CreatedAt:  createdAt,
		Sender:     "alice",
		Receiver:   "bob",
		Geohash:    location.EncryptedGeohash,
		Ciphertext: "AgDf...",
	}
}

func decrypted(evt *location.Event, geohash string) *location.Event {
	d := evt.Clone()
	d.Geohash = geohash
	d.Ciphertext = ""
	d.Tags = location.TagMap{"g": {geohash}}
	return d
}

// runRepositoryContract exercises the behavior every Repository must have.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("guard", func(t *testing.T) {
		enc := privateEvent("30473:alice:home", "e2", 200)
		tests := []struct {
			name        string
			saves       []*location.Event
			wantEventID string
			wantGeohash string
		}{
			{
				name:        "newer replaces",
				saves:       []*location.Event{publicEvent("a", "e1", 100, "u33d"), publicEvent("a", "e2", 200, "u33e")},
				wantEventID: "e2", wantGeohash: "u33e",
			},
			{
				name:        "older is ignored",
				saves:       []*location.Event{publicEvent("a", "e2", 200, "u33e"), publicEvent("a", "e1", 100, "u33d")},
				wantEventID: "e2", wantGeohash: "u33e",
			},
			{
				name:        "decrypted replaces encrypted",
				saves:       []*location.Event{enc, decrypted(enc, "etgfm089")},
				wantEventID: "e2", wantGeohash: "etgfm089",
			},
			{
				name:        "encrypted never downgrades decrypted",
				saves:       []*location.Event{decrypted(enc, "etgfm089"), enc},
				wantEventID: "e2", wantGeohash: "etgfm089",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := newRepo(t)
				for _, evt := range tt.saves {
					if err := repo.Save(ctx, evt); err != nil {
						t.Fatalf("Save() error = %v", err)
					}
				}
				got, err := repo.Get(ctx, tt.saves[0].ID)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.EventID != tt.wantEventID || got.Geohash != tt.wantGeohash {
					t.Errorf("stored = %s/%s, want %s/%s", got.EventID, got.Geohash, tt.wantEventID, tt.wantGeohash)
				}
			})
		}
	})

	t.Run("roundtrip", func(t *testing.T) {
		repo := newRepo(t)
		enc := privateEvent("30473:alice:work", "e9", 300)
		enc.Expiry = 400
		enc.Relay = "wss://relay.example"
		if err := repo.Save(ctx, enc); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := repo.Get(ctx, enc.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Ciphertext != enc.Ciphertext || got.Receiver != "bob" || got.Expiry != 400 || got.Relay != enc.Relay {
			t.Errorf("got %+v", got)
		}
		if got.Tags != nil {
			t.Errorf("encrypted row has tags %v", got.Tags)
		}
		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list and expire", func(t *testing.T) {
		repo := newRepo(t)
		a := publicEvent("a", "e1", 100, "u33d")
		b := publicEvent("b", "e2", 300, "u33e")
		b.Expiry = 500
		c := privateEvent("c", "e3", 200)
		for _, evt := range []*location.Event{a, b, c} {
			if err := repo.Save(ctx, evt); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}

		all, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 3 || all[0].ID != "b" || all[1].ID != "c" || all[2].ID != "a" {
			t.Errorf("List() order = %v", ids(all))
		}

		forBob, _ := repo.List(ctx, Filter{Receiver: "bob"})
		if len(forBob) != 1 || forBob[0].ID != "c" {
			t.Errorf("List(receiver) = %v", ids(forBob))
		}
		recent, _ := repo.List(ctx, Filter{Since: 200, Limit: 1})
		if len(recent) != 1 || recent[0].ID != "b" {
			t.Errorf("List(since, limit) = %v", ids(recent))
		}
		live, _ := repo.List(ctx, Filter{ExcludeExpiredAt: 500})
		if len(live) != 2 {
			t.Errorf("List(exclude expired) = %v", ids(live))
		}

		n, err := repo.DeleteExpired(ctx, 600)
		if err != nil || n != 1 {
			t.Errorf("DeleteExpired() = %d, %v", n, err)
		}
		if _, err := repo.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expired row still present: %v", err)
		}
	})
}

func ids(events []*location.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, func(*testing.T) Repository { return NewMemoryRepository() })
}

func TestMemoryRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	evt := publicEvent("a", "e1", 100, "u33d")
	_ = repo.Save(ctx, evt)
	evt.Tags["g"][0] = "mutated"

	got, _ := repo.Get(ctx, "a")
	if got.Tags.Get("g") != "u33d" {
		t.Errorf("stored tags aliased caller's map: %v", got.Tags)
	}
}
