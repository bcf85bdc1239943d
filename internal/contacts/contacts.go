// Package contacts keeps the address book of public keys that locations
// can be shared with. Contacts carry no secret; they are receivers only.
package contacts

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/validate"
)

var (
	ErrDuplicate = errors.New("contact already exists")
	ErrNotFound  = errors.New("contact not found")
)

// Contact is a known public key with an optional display name.
type Contact struct {
	// ID is the contact npub.
	ID         string    `json:"id"`
	Pubkey     string    `json:"pubkey"`
	CustomName string    `json:"custom_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BulkResult reports which keys AddMany accepted.
type BulkResult struct {
	Added  []Contact `json:"added"`
	Failed []string  `json:"failed"`
}

// Registry holds contacts in insertion order.
type Registry struct {
	clock clock.Clock

	mu       sync.RWMutex
	contacts []*Contact
}

// NewRegistry creates an empty registry. A nil clock uses the wall clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{clock: clk}
}

// Add stores the contact for an npub or hex public key. customName may be
// empty.
func (r *Registry) Add(key, customName string) (Contact, error) {
	pk, err := signer.ParsePublicKey(key)
	if err != nil {
		return Contact{}, err
	}
	name, err := validName(customName)
	if err != nil {
		return Contact{}, err
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return Contact{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.Pubkey == pk {
			return Contact{}, ErrDuplicate
		}
	}
	c := &Contact{ID: npub, Pubkey: pk, CustomName: name, CreatedAt: r.clock.Now()}
	r.contacts = append(r.contacts, c)
	return *c, nil
}

// AddMany adds every non-blank key without a name. Keys that are invalid or
// already known are reported in Failed.
func (r *Registry) AddMany(keys []string) BulkResult {
	res := BulkResult{Added: []Contact{}, Failed: []string{}}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		c, err := r.Add(key, "")
		if err != nil {
			res.Failed = append(res.Failed, key)
			continue
		}
		res.Added = append(res.Added, c)
	}
	return res
}

// Get returns the contact with id (npub) or hex public key.
func (r *Registry) Get(id string) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.findLocked(id); c != nil {
		return *c, true
	}
	return Contact{}, false
}

// PublicKey returns the hex public key for id.
func (r *Registry) PublicKey(id string) (string, bool) {
	c, ok := r.Get(id)
	return c.Pubkey, ok
}

// Rename sets the custom name. An empty name clears it.
func (r *Registry) Rename(id, customName string) (Contact, error) {
	name, err := validName(customName)
	if err != nil {
		return Contact{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.findLocked(id)
	if c == nil {
		return Contact{}, ErrNotFound
	}
	c.CustomName = name
	return *c, nil
}

// Delete removes a contact and reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.contacts {
		if c.ID == id || c.Pubkey == id {
			r.contacts = append(r.contacts[:i], r.contacts[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the contacts in insertion order.
func (r *Registry) List() []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contact, len(r.contacts))
	for i, c := range r.contacts {
		out[i] = *c
	}
	return out
}

// Len returns the number of contacts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contacts)
}

func (r *Registry) findLocked(id string) *Contact {
	id = strings.TrimSpace(id)
	for _, c := range r.contacts {
		if c.ID == id || c.Pubkey == strings.ToLower(id) {
			return c
		}
	}
	return nil
}

func validName(name string) (string, error) {
	return validate.String(name, validate.StringConstraints{
		MaxLength:  validate.MaxNameLength,
		AllowEmpty: true,
		TrimSpace:  true,
		NoControl:  true,
	})
}
