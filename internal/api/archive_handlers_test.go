package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/onnwee/spotstr/internal/archive"
	"github.com/onnwee/spotstr/internal/location"
)

func TestArchiveHandlers(t *testing.T) {
	alice, bob := mustKey(t), mustKey(t)
	repo := archive.NewMemoryRepository()
	ctx := context.Background()
	for _, e := range []*location.Event{
		{ID: "a", EventID: "e1", Kind: location.KindPublic, CreatedAt: 100, Sender: alice.PublicKey(), Geohash: "u4pru"},
		{ID: "b", EventID: "e2", Kind: location.KindPrivate, CreatedAt: 200, Sender: alice.PublicKey(), Receiver: bob.PublicKey(), Geohash: location.EncryptedGeohash},
		{ID: "c", EventID: "e3", Kind: location.KindPublic, CreatedAt: 300, Sender: bob.PublicKey(), Geohash: "ezs42"},
	} {
		if err := repo.Save(ctx, e); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	router := NewRouter(RouterConfig{Logger: newTestLogger(), Archive: NewArchiveHandlers(repo)})

	tests := []struct {
		target     string
		wantStatus int
		wantIDs    []string
	}{
		{"/archive", http.StatusOK, []string{"c", "b", "a"}},
		{"/archive?sender=" + alice.PublicKey(), http.StatusOK, []string{"b", "a"}},
		{"/archive?receiver=" + bob.PublicKey(), http.StatusOK, []string{"b"}},
		{"/archive?since=200&limit=1", http.StatusOK, []string{"c"}},
		{"/archive?sender=" + mustKey(t).PublicKey(), http.StatusOK, []string{}},
		{"/archive?since=yesterday", http.StatusBadRequest, nil},
		{"/archive?limit=0", http.StatusBadRequest, nil},
		{"/archive?receiver=bob", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		rr := doJSON(t, router, http.MethodGet, tt.target, nil)
		if rr.Code != tt.wantStatus {
			t.Errorf("%s status = %d, want %d", tt.target, rr.Code, tt.wantStatus)
			continue
		}
		if tt.wantStatus != http.StatusOK {
			continue
		}
		got := decode[ListArchiveResponse](t, rr).Locations
		if got == nil || len(got) != len(tt.wantIDs) {
			t.Errorf("%s = %d locations, want %v", tt.target, len(got), tt.wantIDs)
			continue
		}
		for i, id := range tt.wantIDs {
			if got[i].ID != id {
				t.Errorf("%s [%d] = %s, want %s", tt.target, i, got[i].ID, id)
			}
		}
	}
}
