package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/onnwee/spotstr/internal/profile"
)

type fakeProfiles struct {
	profiles  map[string]*profile.Profile
	refreshed []string
	err       error
}

func (f *fakeProfiles) Get(_ context.Context, pk string) (*profile.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.profiles[pk]; ok {
		return p, nil
	}
	return nil, profile.ErrNotFound
}

func (f *fakeProfiles) Refresh(ctx context.Context, pk string) (*profile.Profile, error) {
	f.refreshed = append(f.refreshed, pk)
	return f.Get(ctx, pk)
}

func TestProfileHandlers(t *testing.T) {
	alice := mustKey(t)
	npub, _ := alice.Npub()
	src := &fakeProfiles{profiles: map[string]*profile.Profile{alice.PublicKey(): {Pubkey: alice.PublicKey(), Name: "alice"}}}
	router := NewRouter(RouterConfig{Logger: newTestLogger(), Profiles: NewProfileHandlers(src)})

	rr := doJSON(t, router, http.MethodGet, "/profiles/"+npub, nil)
	if rr.Code != http.StatusOK || decode[profile.Profile](t, rr).Name != "alice" {
		t.Errorf("get = %d %s", rr.Code, rr.Body.String())
	}
	if len(src.refreshed) != 0 {
		t.Error("plain get should not refresh")
	}
	doJSON(t, router, http.MethodGet, "/profiles/"+alice.PublicKey()+"?refresh=true", nil)
	if len(src.refreshed) != 1 {
		t.Error("refresh=true should bypass the cache")
	}

	if rr := doJSON(t, router, http.MethodGet, "/profiles/"+mustKey(t).PublicKey(), nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown profile status = %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/profiles/nope", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad key status = %d", rr.Code)
	}
	src.err = errors.New("relays down")
	if rr := doJSON(t, router, http.MethodGet, "/profiles/"+npub, nil); rr.Code != http.StatusBadGateway {
		t.Errorf("fetch error status = %d", rr.Code)
	}
}
