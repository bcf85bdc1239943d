package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Dispatcher routes encryption requests according to the sender's declared
// capability. Inline identities answer in one call; clipboard identities go
// through their bridge and are bounded by its timeout.
type Dispatcher struct {
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Encrypt encrypts plaintext from sender to recipientPubkey.
// Errors wrap ErrEncryptionFailed, ErrEncryptionTimeout or ErrUnsupportedCapability.
func (d *Dispatcher) Encrypt(ctx context.Context, sender Identity, recipientPubkey, plaintext string) (string, error) {
	if sender == nil {
		return "", ErrUnsupportedCapability
	}

	switch sender.Capability() {
	case CapabilityInline, CapabilityClipboard:
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCapability, short(sender.PublicKey()))
	}

	ct, err := sender.Encrypt(ctx, recipientPubkey, plaintext)
	if err != nil {
		d.logger.Warn("location encryption failed",
			slog.String("sender", short(sender.PublicKey())),
			slog.String("capability", sender.Capability().String()),
			slog.String("error", err.Error()))
		if errors.Is(err, ErrEncryptionTimeout) || errors.Is(err, ErrEncryptionFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return ct, nil
}

// Decrypt decrypts ciphertext authored by senderPubkey using the receiver identity.
// Errors wrap ErrDecryptionFailed or ErrUnsupportedCapability.
func (d *Dispatcher) Decrypt(ctx context.Context, receiver Identity, senderPubkey, ciphertext string) (string, error) {
	if receiver == nil {
		return "", ErrUnsupportedCapability
	}

	switch receiver.Capability() {
	case CapabilityInline, CapabilityClipboard:
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCapability, short(receiver.PublicKey()))
	}

	pt, err := receiver.Decrypt(ctx, senderPubkey, ciphertext)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}
