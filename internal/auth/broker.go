// Package auth implements the one-time credential broker that authorizes
// cross-service calls. Every credential is single-use and time-bounded: the
// secret lives in a shared ephemeral store under its key until it is redeemed
// (an atomic get-and-delete) or its TTL lapses.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned by KV.GetDel when no value exists under the key.
var ErrNotFound = errors.New("auth: key not found")

// KV is the ephemeral store backing the broker. GetDel must be atomic so two
// concurrent redemption attempts can never both succeed.
type KV interface {
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
}

// Credential is a single-use key/secret pair.
type Credential struct {
	Key    string
	Secret string
}

// Broker issues and redeems one-time credentials.
type Broker struct {
	kv  KV
	log *slog.Logger
}

// NewBroker creates a credential broker over the given store.
func NewBroker(kv KV, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{kv: kv, log: log}
}

// Issue generates an unguessable key/secret pair and stores the secret under
// the key with the given TTL. The caller transmits both to the callee
// out-of-band, as request headers.
func (b *Broker) Issue(ctx context.Context, ttl time.Duration) (Credential, error) {
	key, err := randomToken()
	if err != nil {
		return Credential{}, err
	}
	secret, err := randomToken()
	if err != nil {
		return Credential{}, err
	}
	if err := b.kv.SetEx(ctx, key, secret, ttl); err != nil {
		return Credential{}, fmt.Errorf("storing credential: %w", err)
	}
	return Credential{Key: key, Secret: secret}, nil
}

// Redeem authorizes a request iff a secret existed under the key and matches
// the supplied one. The get-and-delete makes redemption single-use; any
// failure, including an unreachable store, denies access.
func (b *Broker) Redeem(ctx context.Context, key, suppliedSecret string) bool {
	if key == "" || suppliedSecret == "" {
		return false
	}
	stored, err := b.kv.GetDel(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			b.log.Error("credential store unreachable, denying", "error", err)
		}
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(suppliedSecret)) == 1
}

// randomToken returns 128 bits of randomness, hex-encoded.
func randomToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
