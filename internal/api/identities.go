package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/onnwee/spotstr/internal/signer"
)

// IdentityResolver finds an owned identity by npub or hex public key.
// *signer.Keyring and *groups.Registry satisfy it.
type IdentityResolver interface {
	Resolve(key string) (signer.Identity, bool)
}

// Resolvers tries each resolver in order.
type Resolvers []IdentityResolver

// Resolve returns the first match.
func (rs Resolvers) Resolve(key string) (signer.Identity, bool) {
	for _, r := range rs {
		if r == nil {
			continue
		}
		if id, ok := r.Resolve(key); ok {
			return id, true
		}
	}
	return nil, false
}

// Receiver reference prefixes accepted by ReceiverResolver.
const (
	ReceiverContactPrefix = "contact:"
	ReceiverGroupPrefix   = "group:"
)

var (
	ErrUnknownReceiver = errors.New("receiver not found")
	ErrInvalidReceiver = errors.New("receiver must be an npub, hex public key, contact:<id> or group:<id>")
)

// PublicKeyBook maps an entry id to a hex public key.
// *contacts.Registry and *groups.Registry satisfy it.
type PublicKeyBook interface {
	PublicKey(id string) (string, bool)
}

// ReceiverResolver turns a receiver reference into a hex public key.
// A reference is a bare npub or hex key, or an id prefixed with
// ReceiverContactPrefix or ReceiverGroupPrefix. A nil book leaves that
// prefix unresolvable.
type ReceiverResolver struct {
	Contacts PublicKeyBook
	Groups   PublicKeyBook
}

// Resolve returns the hex public key for ref.
func (rr ReceiverResolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	var book PublicKeyBook
	var id string
	switch {
	case strings.HasPrefix(ref, ReceiverContactPrefix):
		book, id = rr.Contacts, strings.TrimPrefix(ref, ReceiverContactPrefix)
	case strings.HasPrefix(ref, ReceiverGroupPrefix):
		book, id = rr.Groups, strings.TrimPrefix(ref, ReceiverGroupPrefix)
	default:
		pk, err := signer.ParsePublicKey(ref)
		if err != nil {
			return "", ErrInvalidReceiver
		}
		return pk, nil
	}
	if book == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownReceiver, ref)
	}
	pk, ok := book.PublicKey(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownReceiver, ref)
	}
	return pk, nil
}

func writeReceiverError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrUnknownReceiver) {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeUnknownReceiver, err.Error())
		return
	}
	WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidKey, "Receiver must be an npub, hex public key, contact:<id> or group:<id>")
}
