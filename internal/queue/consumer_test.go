package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDequeuer serves jobs from a channel and blocks on context
// cancellation once the script runs out.
type scriptedDequeuer struct {
	jobs chan job
	errs chan error
}

func newScriptedDequeuer() *scriptedDequeuer {
	return &scriptedDequeuer{jobs: make(chan job, 32), errs: make(chan error, 32)}
}

func (s *scriptedDequeuer) push(queue, payload string) {
	s.jobs <- job{queue: queue, payload: payload}
}

func (s *scriptedDequeuer) fail(err error) {
	s.errs <- err
}

func (s *scriptedDequeuer) Dequeue(ctx context.Context) (string, string, error) {
	// Scripted errors surface before queued jobs so tests can order them.
	select {
	case err := <-s.errs:
		return "", "", err
	default:
	}
	select {
	case j := <-s.jobs:
		return j.queue, j.payload, nil
	case err := <-s.errs:
		return "", "", err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

type lifecycleCall struct {
	op  string // "add" or "delete"
	key string
}

// fakeLifecycle records calls and serves canned outcomes.
type fakeLifecycle struct {
	mu      sync.Mutex
	calls   []lifecycleCall
	paths   []string
	titles  []string
	addErr  error
	deleted bool
	delErr  error
	done    chan struct{}
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{done: make(chan struct{}, 32)}
}

func (f *fakeLifecycle) Add(ctx context.Context, path, documentKey, title, category string) error {
	f.mu.Lock()
	f.calls = append(f.calls, lifecycleCall{op: "add", key: documentKey})
	f.paths = append(f.paths, path)
	f.titles = append(f.titles, title)
	f.mu.Unlock()
	f.done <- struct{}{}
	return f.addErr
}

func (f *fakeLifecycle) Delete(ctx context.Context, documentKey string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, lifecycleCall{op: "delete", key: documentKey})
	f.mu.Unlock()
	f.done <- struct{}{}
	return f.deleted, f.delErr
}

func (f *fakeLifecycle) snapshot() []lifecycleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lifecycleCall(nil), f.calls...)
}

type reportCall struct {
	documentID int
	status     string
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []reportCall
}

func (f *fakeReporter) Report(ctx context.Context, documentID int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reportCall{documentID: documentID, status: status})
	return nil
}

func (f *fakeReporter) snapshot() []reportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reportCall(nil), f.calls...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
}

func (f *fakeNotifier) Trigger(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func (f *fakeNotifier) triggers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func testConfig() ConsumerConfig {
	return ConsumerConfig{
		IndexQueue:   "document-indexing-queue",
		DeindexQueue: "document-deindexing-queue",
		DocumentsDir: "/data/documents",
		Backoff:      10 * time.Millisecond,
	}
}

// runConsumer runs c until stop is called, then waits for Run to return.
func runConsumer(t *testing.T, c *Consumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func waitFor(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for call %d of %d", i+1, n)
		}
	}
}

func TestConsumer_IndexJobSuccess(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	rep := &fakeReporter{}
	not := &fakeNotifier{}
	c := NewConsumer(dq, docs, rep, not, testConfig(), nil)

	stop := runConsumer(t, c)
	dq.push("document-indexing-queue",
		`{"documentId": 42, "storedName": "uuid_report.pdf", "originalFilename": "report.pdf", "category": "finance"}`)
	waitFor(t, docs.done, 1)
	stop()

	calls := docs.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, lifecycleCall{op: "add", key: "42"}, calls[0])
	assert.Equal(t, "/data/documents/uuid_report.pdf", docs.paths[0])
	assert.Equal(t, "report.pdf", docs.titles[0])

	require.Len(t, rep.snapshot(), 1)
	assert.Equal(t, reportCall{documentID: 42, status: StatusSuccess}, rep.snapshot()[0])
	assert.Equal(t, 1, not.triggers())
}

func TestConsumer_IndexJobFailureReportsFailure(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	docs.addErr = errors.New("file missing")
	rep := &fakeReporter{}
	not := &fakeNotifier{}
	c := NewConsumer(dq, docs, rep, not, testConfig(), nil)

	stop := runConsumer(t, c)
	dq.push("document-indexing-queue", `{"documentId": 7, "storedName": "x", "originalFilename": "x"}`)
	waitFor(t, docs.done, 1)
	stop()

	require.Len(t, rep.snapshot(), 1)
	assert.Equal(t, reportCall{documentID: 7, status: StatusFailure}, rep.snapshot()[0])
	assert.Zero(t, not.triggers(), "no reload on failure")
}

func TestConsumer_MalformedPayloadDroppedSilently(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	rep := &fakeReporter{}
	not := &fakeNotifier{}
	c := NewConsumer(dq, docs, rep, not, testConfig(), nil)

	stop := runConsumer(t, c)
	dq.push("document-indexing-queue", `{not json`)
	dq.push("document-deindexing-queue", `also not json`)
	// A well-formed job behind the poison messages still processes.
	dq.push("document-deindexing-queue", `{"documentId": 9}`)
	waitFor(t, docs.done, 1)
	stop()

	calls := docs.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, lifecycleCall{op: "delete", key: "9"}, calls[0])
	// A dropped poison message reports nothing upstream.
	require.Len(t, rep.snapshot(), 1)
	assert.Equal(t, 9, rep.snapshot()[0].documentID)
}

func TestConsumer_DeindexReloadOnlyWhenDeleted(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	docs.deleted = false
	rep := &fakeReporter{}
	not := &fakeNotifier{}
	c := NewConsumer(dq, docs, rep, not, testConfig(), nil)

	stop := runConsumer(t, c)
	dq.push("document-deindexing-queue", `{"documentId": 5}`)
	waitFor(t, docs.done, 1)
	stop()

	// Absent document: SUCCESS is still reported, but nothing changed in
	// the index so no reload fires.
	require.Len(t, rep.snapshot(), 1)
	assert.Equal(t, reportCall{documentID: 5, status: StatusSuccess}, rep.snapshot()[0])
	assert.Zero(t, not.triggers())
}

func TestConsumer_JobsProcessInArrivalOrder(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	docs.deleted = true
	c := NewConsumer(dq, docs, &fakeReporter{}, &fakeNotifier{}, testConfig(), nil)

	stop := runConsumer(t, c)
	dq.push("document-indexing-queue", `{"documentId": 1, "storedName": "a", "originalFilename": "a"}`)
	dq.push("document-deindexing-queue", `{"documentId": 1}`)
	dq.push("document-indexing-queue", `{"documentId": 2, "storedName": "b", "originalFilename": "b"}`)
	waitFor(t, docs.done, 3)
	stop()

	want := []lifecycleCall{
		{op: "add", key: "1"},
		{op: "delete", key: "1"},
		{op: "add", key: "2"},
	}
	assert.Equal(t, want, docs.snapshot())
}

func TestConsumer_BacksOffAfterDequeueError(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	c := NewConsumer(dq, docs, &fakeReporter{}, &fakeNotifier{}, testConfig(), nil)

	stop := runConsumer(t, c)
	start := time.Now()
	dq.fail(errors.New("connection reset"))
	time.Sleep(2 * time.Millisecond) // let the loop pick up the error first
	dq.push("document-deindexing-queue", `{"documentId": 3}`)
	waitFor(t, docs.done, 1)
	elapsed := time.Since(start)
	stop()

	// The loop survives the transport error and resumes after the backoff.
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	require.Len(t, docs.snapshot(), 1)
}

func TestConsumer_RunReturnsOnCancel(t *testing.T) {
	dq := newScriptedDequeuer()
	c := NewConsumer(dq, newFakeLifecycle(), nil, nil, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConsumer_NilReporterAndNotifierAreOptional(t *testing.T) {
	dq := newScriptedDequeuer()
	docs := newFakeLifecycle()
	docs.deleted = true
	c := NewConsumer(dq, docs, nil, nil, testConfig(), nil)

	stop := runConsumer(t, c)
	dq.push("document-deindexing-queue", `{"documentId": 11}`)
	waitFor(t, docs.done, 1)
	stop()

	require.Len(t, docs.snapshot(), 1)
}
