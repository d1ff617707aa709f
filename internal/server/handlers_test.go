package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/corpusd/internal/auth"
	"github.com/efebarandurmaz/corpusd/internal/chat"
	"github.com/efebarandurmaz/corpusd/internal/llm"
	"github.com/efebarandurmaz/corpusd/internal/retriever"
	"github.com/efebarandurmaz/corpusd/internal/vector"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memKV struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemKV() *memKV { return &memKV{items: make(map[string]string)} }

func (m *memKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memKV) GetDel(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	if !ok {
		return "", auth.ErrNotFound
	}
	delete(m.items, key)
	return value, nil
}

type stubSearcher struct {
	results []vector.SearchResult
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string, k int, category string) ([]vector.SearchResult, error) {
	return s.results, s.err
}

type stubProvider struct{ tokens []string }

func (p *stubProvider) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.TokenFunc) error {
	for _, tok := range p.tokens {
		if err := fn(tok); err != nil {
			return err
		}
	}
	return nil
}

func (p *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (p *stubProvider) Name() string { return "stub" }

type nopStore struct{}

func (nopStore) Add(ctx context.Context, chunks []vector.Chunk) error { return nil }
func (nopStore) DeleteByKey(ctx context.Context, key string) (uint64, error) {
	return 0, nil
}
func (nopStore) SimilaritySearch(ctx context.Context, q string, k int, f vector.Filter) ([]vector.SearchResult, error) {
	return nil, nil
}
func (nopStore) KeywordSearch(ctx context.Context, q string, k int, f vector.Filter) ([]vector.SearchResult, error) {
	return nil, nil
}
func (nopStore) Close() error { return nil }

func chatHandler(t *testing.T, searcher *stubSearcher, tokens []string, ready bool) (*ChatHandler, *auth.Broker) {
	t.Helper()
	broker := auth.NewBroker(newMemKV(), nil)
	svc := chat.NewService(searcher, &stubProvider{tokens: tokens}, chat.Options{TopK: 4}, nil)
	return &ChatHandler{
		Service: svc,
		Broker:  broker,
		Ready:   func() bool { return ready },
		Log:     testLogger(),
	}, broker
}

func issue(t *testing.T, broker *auth.Broker) auth.Credential {
	t.Helper()
	cred, err := broker.Issue(context.Background(), time.Minute)
	require.NoError(t, err)
	return cred
}

func postChat(t *testing.T, h http.Handler, cred auth.Credential, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(body))
	req.Header.Set(auth.HeaderKey, cred.Key)
	req.Header.Set(auth.HeaderSecret, cred.Secret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler_HeadReflectsReadiness(t *testing.T) {
	h, _ := chatHandler(t, &stubSearcher{}, nil, true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/chats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h, _ = chatHandler(t, &stubSearcher{}, nil, false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/chats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatHandler_HeadNeedsNoCredential(t *testing.T) {
	h, _ := chatHandler(t, &stubSearcher{}, nil, true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/chats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatHandler_PostStreamsNDJSON(t *testing.T) {
	searcher := &stubSearcher{results: []vector.SearchResult{{
		Chunk: vector.Chunk{
			ID:   "c1",
			Text: "relevant excerpt",
			Metadata: vector.Metadata{
				SourceTitle: "550e8400-e29b-41d4-a716-446655440000_manual.pdf",
				PageNumber:  2,
			},
		},
	}}}
	h, broker := chatHandler(t, searcher, []string{"Answer", " text"}, true)

	rec := postChat(t, h, issue(t, broker), `{"query": "how?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(rec.Body)
	var last map[string]any
	for scanner.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "each line must be one JSON object")
		types = append(types, ev["type"].(string))
		last = ev
	}
	assert.Equal(t, []string{"token", "token", "sources"}, types)

	sources := last["data"].([]any)
	require.Len(t, sources, 1)
	src := sources[0].(map[string]any)
	assert.Equal(t, "manual.pdf", src["fileName"])
	assert.Equal(t, float64(2), src["pageNumber"])
}

func TestChatHandler_NoSourcesLineWhenRetrievalEmpty(t *testing.T) {
	h, broker := chatHandler(t, &stubSearcher{}, []string{"I do not know"}, true)

	rec := postChat(t, h, issue(t, broker), `{"query": "anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"sources"`)
}

func TestChatHandler_PostRequiresCredential(t *testing.T) {
	h, _ := chatHandler(t, &stubSearcher{}, nil, true)
	rec := postChat(t, h, auth.Credential{Key: "bogus", Secret: "bogus"}, `{"query": "q"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatHandler_CredentialIsSingleUse(t *testing.T) {
	h, broker := chatHandler(t, &stubSearcher{}, []string{"ok"}, true)
	cred := issue(t, broker)

	first := postChat(t, h, cred, `{"query": "q"}`)
	assert.Equal(t, http.StatusOK, first.Code)

	second := postChat(t, h, cred, `{"query": "q"}`)
	assert.Equal(t, http.StatusUnauthorized, second.Code)
}

func TestChatHandler_UnreadyPostIs503(t *testing.T) {
	h, broker := chatHandler(t, &stubSearcher{}, nil, false)
	rec := postChat(t, h, issue(t, broker), `{"query": "q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatHandler_UnreadyPostKeepsCredential(t *testing.T) {
	h, broker := chatHandler(t, &stubSearcher{}, nil, false)
	cred := issue(t, broker)

	rec := postChat(t, h, cred, `{"query": "q"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The 503 must not consume the single-use credential; the caller can
	// retry with it once the reload finishes.
	assert.True(t, broker.Redeem(context.Background(), cred.Key, cred.Secret),
		"credential must survive an unready rejection")
}

func TestChatHandler_BadBodyIs400(t *testing.T) {
	h, broker := chatHandler(t, &stubSearcher{}, nil, true)

	rec := postChat(t, h, issue(t, broker), `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postChat(t, h, issue(t, broker), `{"query": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func newReloader(build retriever.BuildFunc) *retriever.Reloader {
	return retriever.NewReloader(build, 0, testLogger())
}

func TestReloadHandler_Success(t *testing.T) {
	h := &ReloadHandler{
		Reloader: newReloader(func(ctx context.Context) (vector.Store, error) {
			return nopStore{}, nil
		}),
		Log: testLogger(),
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retriever/reload", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReloadHandler_BuildFailureIs500(t *testing.T) {
	h := &ReloadHandler{
		Reloader: newReloader(func(ctx context.Context) (vector.Store, error) {
			return nil, errors.New("collection missing")
		}),
		Log: testLogger(),
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retriever/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to reload retriever")
}

func TestReloadHandler_GetIs405(t *testing.T) {
	h := &ReloadHandler{Reloader: newReloader(nil), Log: testLogger()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retriever/reload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRagRouter_ReloadBehindAuth(t *testing.T) {
	broker := auth.NewBroker(newMemKV(), nil)
	chatH, _ := chatHandler(t, &stubSearcher{}, nil, true)
	reloadH := &ReloadHandler{
		Reloader: newReloader(func(ctx context.Context) (vector.Store, error) {
			return nopStore{}, nil
		}),
		Log: testLogger(),
	}
	router := NewRagRouter(chatH, reloadH, broker)

	// No credential: denied before the handler runs.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/retriever/reload", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cred, err := broker.Issue(context.Background(), time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/retriever/reload", nil)
	req.Header.Set(auth.HeaderKey, cred.Key)
	req.Header.Set(auth.HeaderSecret, cred.Secret)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
