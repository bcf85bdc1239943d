package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// LocalKey is an identity whose secret key is held in process. Group
// identities are always LocalKeys. Conversation keys are cached per peer.
type LocalKey struct {
	secret string
	pub    string

	mu       sync.Mutex
	convKeys map[string][32]byte
}

// NewLocalKey creates a LocalKey from an nsec or hex secret key.
func NewLocalKey(secret string) (*LocalKey, error) {
	sk, err := ParseSecretKey(secret)
	if err != nil {
		return nil, err
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &LocalKey{
		secret:   sk,
		pub:      pk,
		convKeys: make(map[string][32]byte),
	}, nil
}

// GenerateLocalKey creates a LocalKey with a fresh random secret.
func GenerateLocalKey() (*LocalKey, error) {
	return NewLocalKey(nostr.GeneratePrivateKey())
}

func (k *LocalKey) PublicKey() string      { return k.pub }
func (k *LocalKey) Capability() Capability { return CapabilityInline }

// SecretHex returns the hex secret key.
func (k *LocalKey) SecretHex() string { return k.secret }

// Nsec returns the bech32 secret key.
func (k *LocalKey) Nsec() (string, error) {
	return nip19.EncodePrivateKey(k.secret)
}

// Npub returns the bech32 public key.
func (k *LocalKey) Npub() (string, error) {
	return nip19.EncodePublicKey(k.pub)
}

// SignEvent sets the event author to this key and signs it.
func (k *LocalKey) SignEvent(_ context.Context, evt *nostr.Event) error {
	evt.PubKey = k.pub
	if err := evt.Sign(k.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return nil
}

// Encrypt encrypts plaintext for recipientPubkey with NIP-44.
func (k *LocalKey) Encrypt(_ context.Context, recipientPubkey, plaintext string) (string, error) {
	ck, err := k.conversationKey(recipientPubkey)
	if err != nil {
		return "", err
	}
	ct, err := nip44.Encrypt(plaintext, ck)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return ct, nil
}

// Decrypt decrypts a NIP-44 payload from senderPubkey.
func (k *LocalKey) Decrypt(_ context.Context, senderPubkey, ciphertext string) (string, error) {
	ck, err := k.conversationKey(senderPubkey)
	if err != nil {
		return "", err
	}
	pt, err := nip44.Decrypt(ciphertext, ck)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}

func (k *LocalKey) conversationKey(peer string) ([32]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if ck, ok := k.convKeys[peer]; ok {
		return ck, nil
	}
	ck, err := nip44.GenerateConversationKey(peer, k.secret)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: conversation key for %s: %v", ErrInvalidKey, short(peer), err)
	}
	k.convKeys[peer] = ck
	return ck, nil
}
