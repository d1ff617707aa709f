package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Outcome values reported upstream per document.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// StatusReporter tells the upstream API how an indexing job ended. Reports
// are best-effort side notifications: a failed report is logged by the
// caller, never retried, and never rolls back the index mutation.
type StatusReporter struct {
	baseURL string
	client  *http.Client
}

// NewStatusReporter creates a reporter against the upstream status API.
func NewStatusReporter(baseURL string) *StatusReporter {
	return &StatusReporter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Report sends PATCH /internal/documents/{id}/status with the outcome.
func (r *StatusReporter) Report(ctx context.Context, documentID int, status string) error {
	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/documents/%d/status", r.baseURL, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status report: unexpected status %s", resp.Status)
	}
	return nil
}
