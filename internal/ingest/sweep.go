package ingest

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/tracing"
)

// candidate is an owned identity that may decrypt an event, paired with
// the public key on the other side of the conversation.
type candidate struct {
	id   signer.Identity
	peer string
	role string
}

// Sweep tries to decrypt every stored private event that is still
// encrypted and returns how many were decrypted.
//
// Receiver matches are tried first, accounts before groups in registration
// order, then identities that authored the event. A failure with one
// candidate moves on to the next. Results are applied only if the stored
// entry is still the same encrypted delivery.
func (e *Engine) Sweep(ctx context.Context) int {
	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "decrypt_sweep")
	defer endSpan(nil)

	e.sweeps.Add(1)
	e.metrics.IncSweeps()

	pending := e.pending()
	if len(pending) == 0 {
		return 0
	}

	e.keysMu.RLock()
	accounts := append([]signer.Identity(nil), e.accounts...)
	groups := append([]signer.Identity(nil), e.groups...)
	e.keysMu.RUnlock()

	decrypted := 0
	for _, le := range pending {
		if ctx.Err() != nil {
			break
		}
		tags, ok := e.decryptOne(ctx, le, candidates(le, accounts, groups))
		if !ok {
			continue
		}
		if updated := e.apply(le, tags); updated != nil {
			decrypted++
			e.save(updated)
		}
	}

	tracing.SetAttributes(ctx,
		attribute.Int("ingest.pending", len(pending)),
		attribute.Int("ingest.decrypted", decrypted))
	e.metrics.ObserveSweep(time.Since(start).Seconds())

	if decrypted > 0 {
		e.decrypted.Add(int64(decrypted))
		e.logger.Debug("decryption sweep finished",
			slog.Int("pending", len(pending)),
			slog.Int("decrypted", decrypted))
		e.notify()
	}
	return decrypted
}

func (e *Engine) pending() []*location.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*location.Event
	for _, le := range e.events {
		if le.Encrypted() && le.Ciphertext != "" {
			out = append(out, le.Clone())
		}
	}
	return out
}

func candidates(le *location.Event, accounts, groups []signer.Identity) []candidate {
	var out []candidate
	add := func(list []signer.Identity, match, peer, role string) {
		for _, id := range list {
			if id.Capability() == signer.CapabilityNone {
				continue
			}
			if id.PublicKey() == match {
				out = append(out, candidate{id: id, peer: peer, role: role})
			}
		}
	}
	add(accounts, le.Receiver, le.Sender, "account")
	add(groups, le.Receiver, le.Sender, "group")
	// NIP-44 conversation keys are symmetric, so the author can read its own
	// private events using the receiver as the peer.
	if le.Sender != le.Receiver {
		add(accounts, le.Sender, le.Receiver, "author")
		add(groups, le.Sender, le.Receiver, "author")
	}
	return out
}

func (e *Engine) decryptOne(ctx context.Context, le *location.Event, cands []candidate) (location.TagMap, bool) {
	for _, c := range cands {
		plaintext, err := e.decrypter.Decrypt(ctx, c.id, c.peer, le.Ciphertext)
		if err != nil {
			e.metrics.IncDecrypt(false)
			e.logger.Debug("decryption candidate failed",
				slog.String("id", le.ID),
				slog.String("role", c.role),
				slog.String("error", err.Error()))
			continue
		}
		tags, err := location.DecodePayload(plaintext)
		if err != nil {
			e.metrics.IncDecrypt(false)
			e.logger.Debug("decrypted payload is invalid",
				slog.String("id", le.ID),
				slog.String("error", err.Error()))
			continue
		}
		e.metrics.IncDecrypt(true)
		return tags, true
	}
	return nil, false
}

// apply swaps in the decrypted version of le if the store still holds the
// same encrypted delivery.
func (e *Engine) apply(le *location.Event, tags location.TagMap) *location.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.events[le.ID]
	if !ok || cur.EventID != le.EventID || !cur.Encrypted() {
		return nil
	}
	updated := cur.Clone()
	updated.ApplyPayload(tags)
	e.events[le.ID] = updated
	return updated.Clone()
}
