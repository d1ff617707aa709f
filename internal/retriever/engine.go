package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/efebarandurmaz/corpusd/internal/observability"
	"github.com/efebarandurmaz/corpusd/internal/vector"
)

// ErrNotReady means no vector-store handle has been loaded yet.
var ErrNotReady = errors.New("retriever: not ready")

// HandleSource supplies the current vector-store handle.
type HandleSource interface {
	Store() (vector.Store, bool)
}

// Engine performs hybrid search: vector and keyword legs run concurrently and
// their ranked lists fuse with Reciprocal Rank Fusion.
type Engine struct {
	handles HandleSource
	rrfK    int
	log     *slog.Logger
}

// NewEngine creates a hybrid retrieval engine. rrfK is the RRF constant
// controlling how strongly top ranks dominate.
func NewEngine(handles HandleSource, rrfK int, log *slog.Logger) *Engine {
	if rrfK <= 0 {
		rrfK = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{handles: handles, rrfK: rrfK, log: log}
}

// Search runs both legs scoped by the optional category and returns the top-k
// fused results. One failing leg degrades to the other; both failing is an
// error.
func (e *Engine) Search(ctx context.Context, query string, k int, category string) ([]vector.SearchResult, error) {
	store, ok := e.handles.Store()
	if !ok {
		return nil, ErrNotReady
	}

	ctx, span := observability.StartSearchSpan(ctx, category)
	defer span.End()

	filter := vector.Filter{Category: category}

	var (
		vecResults, kwResults []vector.SearchResult
		vecErr, kwErr         error
		wg                    sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vecResults, vecErr = store.SimilaritySearch(ctx, query, k, filter)
	}()
	go func() {
		defer wg.Done()
		kwResults, kwErr = store.KeywordSearch(ctx, query, k, filter)
	}()
	wg.Wait()

	if vecErr != nil && kwErr != nil {
		err := fmt.Errorf("hybrid search: vector: %w; keyword: %v", vecErr, kwErr)
		observability.RecordError(span, err)
		return nil, err
	}
	if vecErr != nil {
		e.log.Warn("vector leg failed, keyword results only", "error", vecErr)
	}
	if kwErr != nil {
		e.log.Warn("keyword leg failed, vector results only", "error", kwErr)
	}

	if len(vecResults) == 0 && len(kwResults) == 0 {
		observability.RecordSearchMetrics(span, 0, 0, 0)
		return nil, nil
	}

	fused := fuse(e.rrfK, vecResults, kwResults)
	if len(fused) > k {
		fused = fused[:k]
	}
	observability.RecordSearchMetrics(span, len(vecResults), len(kwResults), len(fused))
	return fused, nil
}

// fuse applies Reciprocal Rank Fusion across the ranked lists: a result at
// 0-indexed rank r contributes 1/(k+r) to its identity's running total.
// Identity is the chunk ID, falling back to raw text when absent. Ties keep
// first-seen order across the concatenation of the lists.
func fuse(k int, lists ...[]vector.SearchResult) []vector.SearchResult {
	type fusedResult struct {
		result vector.SearchResult
		score  float64
	}

	index := make(map[string]int)
	var order []fusedResult

	for _, list := range lists {
		for rank, res := range list {
			id := res.Chunk.ID
			if id == "" {
				id = res.Chunk.Text
			}
			contribution := 1.0 / float64(k+rank)
			if i, seen := index[id]; seen {
				order[i].score += contribution
				continue
			}
			index[id] = len(order)
			order = append(order, fusedResult{result: res, score: contribution})
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })

	fused := make([]vector.SearchResult, len(order))
	for i, fr := range order {
		fused[i] = vector.SearchResult{Chunk: fr.result.Chunk, Score: fr.score}
	}
	return fused
}
