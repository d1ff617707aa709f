package queue

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/efebarandurmaz/corpusd/internal/auth"
)

// ReloadTrigger tells the retrieval service to reload its vector-store handle
// after an index mutation. Each trigger is authorized by a freshly issued
// one-time credential.
type ReloadTrigger struct {
	broker     *auth.Broker
	serviceURL string
	ttl        time.Duration
	client     *http.Client
}

// NewReloadTrigger creates a trigger against the retrieval service.
func NewReloadTrigger(broker *auth.Broker, serviceURL string, ttl time.Duration) *ReloadTrigger {
	return &ReloadTrigger{
		broker:     broker,
		serviceURL: serviceURL,
		ttl:        ttl,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Trigger issues a credential and POSTs the reload. The call is bounded; its
// failure is the caller's to log, not escalate.
func (t *ReloadTrigger) Trigger(ctx context.Context) error {
	cred, err := t.broker.Issue(ctx, t.ttl)
	if err != nil {
		return fmt.Errorf("issuing reload credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serviceURL+"/retriever/reload", nil)
	if err != nil {
		return err
	}
	req.Header.Set(auth.HeaderKey, cred.Key)
	req.Header.Set(auth.HeaderSecret, cred.Secret)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("reload trigger: unexpected status %s", resp.Status)
	}
	return nil
}
