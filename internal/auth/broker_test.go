package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memKV is an in-memory KV with atomic get-and-delete.
type memKV struct {
	mu    sync.Mutex
	items map[string]string
	err   error
}

func newMemKV() *memKV {
	return &memKV{items: make(map[string]string)}
}

func (m *memKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items[key] = value
	return nil
}

func (m *memKV) GetDel(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	value, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(m.items, key)
	return value, nil
}

func TestBroker_IssueGeneratesDistinctTokens(t *testing.T) {
	b := NewBroker(newMemKV(), nil)

	cred, err := b.Issue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(cred.Key) != 32 || len(cred.Secret) != 32 {
		t.Fatalf("expected 128-bit hex tokens, got key=%q secret=%q", cred.Key, cred.Secret)
	}
	if cred.Key == cred.Secret {
		t.Fatal("key and secret must differ")
	}

	other, err := b.Issue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if other.Key == cred.Key {
		t.Fatal("two issued credentials share a key")
	}
}

func TestBroker_RedeemSucceedsAtMostOnce(t *testing.T) {
	b := NewBroker(newMemKV(), nil)

	cred, err := b.Issue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if !b.Redeem(context.Background(), cred.Key, cred.Secret) {
		t.Fatal("first redemption should succeed")
	}
	if b.Redeem(context.Background(), cred.Key, cred.Secret) {
		t.Fatal("second redemption with the same key must fail")
	}
}

func TestBroker_RedeemDeniesMismatchedSecret(t *testing.T) {
	kv := newMemKV()
	b := NewBroker(kv, nil)

	cred, err := b.Issue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if b.Redeem(context.Background(), cred.Key, "wrong") {
		t.Fatal("mismatched secret must be denied")
	}
	// The mismatch consumed the credential: even the right secret is
	// now useless.
	if b.Redeem(context.Background(), cred.Key, cred.Secret) {
		t.Fatal("credential should be consumed by the failed attempt")
	}
}

func TestBroker_RedeemFailsClosed(t *testing.T) {
	kv := newMemKV()
	b := NewBroker(kv, nil)

	cred, err := b.Issue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	kv.err = errors.New("connection refused")
	if b.Redeem(context.Background(), cred.Key, cred.Secret) {
		t.Fatal("unreachable store must deny")
	}
}

func TestBroker_RedeemDeniesEmptyInputs(t *testing.T) {
	b := NewBroker(newMemKV(), nil)
	if b.Redeem(context.Background(), "", "") {
		t.Fatal("empty credentials must be denied")
	}
	if b.Redeem(context.Background(), "absent", "secret") {
		t.Fatal("unknown key must be denied")
	}
}

func TestBroker_ConcurrentRedemptionSingleWinner(t *testing.T) {
	b := NewBroker(newMemKV(), nil)

	cred, err := b.Issue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const attempts = 50
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- b.Redeem(context.Background(), cred.Key, cred.Secret)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", wins)
	}
}
