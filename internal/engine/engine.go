// Package engine orchestrates retrieval: it fans a query out to the
// vector, keyword, and graph subsystems concurrently, fuses their scores,
// resolves conflicting memories, and serves paginated pages through the
// result cache.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.helix.recall/internal/cache"
	"dev.helix.recall/internal/conflict"
	"dev.helix.recall/internal/fusion"
	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/index/keyword"
	"dev.helix.recall/internal/memory"
	"dev.helix.recall/internal/reminder"
)

// Config holds engine tuning knobs.
type Config struct {
	// CandidateLimit is how many candidates each subsystem is asked for.
	CandidateLimit int
	// SubsystemTimeout bounds each fan-out call independently.
	SubsystemTimeout time.Duration
	// GraphMaxDepth bounds graph traversal.
	GraphMaxDepth int
	// RerankTopN is how many head results the second-pass rerank may touch.
	RerankTopN int
	// DefaultPageSize and MaxPageSize clamp client pagination.
	DefaultPageSize int
	MaxPageSize     int
	// ConflictRetries bounds supersession write retries.
	ConflictRetries int
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() Config {
	return Config{
		CandidateLimit:   50,
		SubsystemTimeout: 2 * time.Second,
		GraphMaxDepth:    3,
		RerankTopN:       10,
		DefaultPageSize:  10,
		MaxPageSize:      100,
		ConflictRetries:  3,
	}
}

// Embedder is the slice of the embedding client the engine needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine is the retrieval orchestrator.
type Engine struct {
	store     memory.Store
	vector    index.VectorIndex
	keyword   index.KeywordIndex
	graph     index.GraphIndex
	embedder  Embedder
	ranker    *fusion.Ranker
	resolver  *conflict.Resolver
	cache     cache.ResultCache
	scheduler *reminder.Scheduler
	config    Config
	logger    *logrus.Logger
	metrics   *Metrics
}

// New creates an engine. vector, embedder, and cache are required; keyword
// and graph may be nil, in which case the corresponding toggles are inert.
func New(
	store memory.Store,
	vector index.VectorIndex,
	kw index.KeywordIndex,
	graph index.GraphIndex,
	embedder Embedder,
	resultCache cache.ResultCache,
	config Config,
	logger *logrus.Logger,
	metrics *Metrics,
) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if config.CandidateLimit <= 0 {
		config = DefaultEngineConfig()
	}
	return &Engine{
		store:     store,
		vector:    vector,
		keyword:   kw,
		graph:     graph,
		embedder:  embedder,
		ranker:    fusion.NewRanker(logger),
		resolver:  conflict.NewResolver(store, conflict.NewEntityTopicKeyer(), config.ConflictRetries, logger),
		cache:     resultCache,
		scheduler: reminder.NewScheduler(store, logger),
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// subsystemResult carries one fan-out leg's outcome. A nil refs slice with
// err == nil means the leg was disabled; a failed leg records err and the
// nil slice drops its weight from the fusion denominator.
type subsystemResult struct {
	refs    []index.ScoredRef
	err     error
	enabled bool
}

// Search runs one retrieval request end to end.
func (e *Engine) Search(ctx context.Context, userID, query string, opts *memory.SearchOptions, page memory.PaginationParams) (*memory.PaginatedResults, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSearch(time.Since(start)) }()

	if userID == "" {
		return nil, &memory.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if opts == nil {
		opts = memory.DefaultSearchOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	page = page.Clamp(e.config.DefaultPageSize, e.config.MaxPageSize)

	normalized := normalizeQuery(query)
	key := cache.Key{
		UserID:      userID,
		Query:       normalized,
		Fingerprint: cache.Fingerprint(opts),
		Offset:      page.Offset,
		Limit:       page.Limit,
	}
	if cached, ok := e.cache.Get(ctx, key); ok {
		return cached, nil
	}

	var result *memory.PaginatedResults
	var err error
	if normalized == "" {
		result, err = e.browse(ctx, userID, opts, page)
	} else {
		result, err = e.retrieve(ctx, userID, normalized, opts, page)
	}
	if err != nil {
		return nil, err
	}

	// Degraded pages are a transient outage artifact; caching one would pin
	// the outage for a TTL after recovery.
	if !result.Degraded {
		e.cache.Put(ctx, key, result)
	}
	return result, nil
}

// retrieve is the ranked path for a non-empty query.
func (e *Engine) retrieve(ctx context.Context, userID, query string, opts *memory.SearchOptions, page memory.PaginationParams) (*memory.PaginatedResults, error) {
	vecRes, kwRes, graphRes := e.fanOut(ctx, userID, query, opts)

	anyEnabled := vecRes.enabled || kwRes.enabled || graphRes.enabled
	allFailed := anyEnabled &&
		(!vecRes.enabled || vecRes.err != nil) &&
		(!kwRes.enabled || kwRes.err != nil) &&
		(!graphRes.enabled || graphRes.err != nil)
	if allFailed {
		e.metrics.Degraded()
		e.logger.WithField("user", userID).Warn("All retrieval subsystems failed, serving degraded response")
		return &memory.PaginatedResults{
			Results:  []memory.SearchResult{},
			Offset:   page.Offset,
			Limit:    page.Limit,
			Degraded: true,
		}, nil
	}

	weights := fusion.Weights{
		Vector:  opts.VectorWeight,
		Keyword: opts.KeywordWeight,
		Graph:   opts.GraphWeight,
	}
	candidates := e.ranker.Fuse(vecRes.refs, kwRes.refs, graphRes.refs, weights)

	results, err := e.hydrate(ctx, userID, candidates, opts)
	if err != nil {
		return nil, err
	}

	if opts.EnableConflictResolution {
		results = e.resolveConflicts(ctx, userID, results)
	}

	e.ranker.Sort(results)
	if opts.Rerank {
		e.ranker.Rerank(results, e.config.RerankTopN)
	}

	return paginate(results, page), nil
}

// fanOut queries the enabled subsystems concurrently, each under its own
// timeout. Subsystem errors are absorbed: the leg reports err and fusion
// proceeds without it.
func (e *Engine) fanOut(ctx context.Context, userID, query string, opts *memory.SearchOptions) (vec, kw, graph subsystemResult) {
	limit := e.config.CandidateLimit
	g := new(errgroup.Group)

	vec.enabled = e.vector != nil && opts.VectorWeight > 0
	if vec.enabled {
		g.Go(func() error {
			subCtx, cancel := context.WithTimeout(ctx, e.config.SubsystemTimeout)
			defer cancel()
			embedding, err := e.embedder.EmbedQuery(subCtx, query)
			if err == nil {
				vec.refs, err = e.vector.Search(subCtx, userID, embedding, limit, opts.Filters)
			}
			if err != nil {
				vec.refs, vec.err = nil, err
				e.metrics.SubsystemFailure("vector")
				e.logger.WithError(err).Warn("Vector search failed")
			} else if vec.refs == nil {
				vec.refs = []index.ScoredRef{}
			}
			return nil
		})
	}

	kw.enabled = e.keyword != nil && opts.EnableHybridSearch && opts.KeywordWeight > 0
	if kw.enabled {
		g.Go(func() error {
			subCtx, cancel := context.WithTimeout(ctx, e.config.SubsystemTimeout)
			defer cancel()
			refs, err := e.keyword.Search(subCtx, userID, query, limit, opts.Filters)
			if err != nil {
				kw.err = err
				e.metrics.SubsystemFailure("keyword")
				e.logger.WithError(err).Warn("Keyword search failed")
				return nil
			}
			if refs == nil {
				refs = []index.ScoredRef{}
			}
			kw.refs = refs
			return nil
		})
	}

	graph.enabled = e.graph != nil && opts.EnableGraphSearch && opts.GraphWeight > 0
	if graph.enabled {
		g.Go(func() error {
			subCtx, cancel := context.WithTimeout(ctx, e.config.SubsystemTimeout)
			defer cancel()
			refs, err := e.graph.Search(subCtx, userID, keyword.Tokenize(query), limit, e.config.GraphMaxDepth)
			if err != nil {
				graph.err = err
				e.metrics.SubsystemFailure("graph")
				e.logger.WithError(err).Warn("Graph search failed")
				return nil
			}
			if refs == nil {
				refs = []index.ScoredRef{}
			}
			graph.refs = refs
			return nil
		})
	}

	_ = g.Wait()
	return vec, kw, graph
}

// hydrate loads candidate items from the store and applies post-filters.
// Superseded items are dropped regardless of toggles: a resolved conflict
// stays resolved.
func (e *Engine) hydrate(ctx context.Context, userID string, candidates []fusion.Candidate, opts *memory.SearchOptions) ([]*memory.SearchResult, error) {
	if len(candidates) == 0 {
		return []*memory.SearchResult{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	items, err := e.store.GetMany(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*memory.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	results := make([]*memory.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		item, ok := byID[c.ID]
		if !ok || item.Superseded() || !opts.Filters.Match(item) {
			continue
		}
		results = append(results, &memory.SearchResult{
			Item:         item,
			VectorScore:  c.VectorScore,
			KeywordScore: c.KeywordScore,
			GraphScore:   c.GraphScore,
			FinalScore:   c.FinalScore,
		})
	}
	return results, nil
}

func (e *Engine) resolveConflicts(ctx context.Context, userID string, results []*memory.SearchResult) []*memory.SearchResult {
	items := make([]*memory.Item, len(results))
	for i, r := range results {
		items[i] = r.Item
	}
	kept := e.resolver.Resolve(ctx, userID, items)
	keep := make(map[string]bool, len(kept))
	for _, item := range kept {
		keep[item.ID] = true
	}

	out := results[:0]
	for _, r := range results {
		if keep[r.Item.ID] {
			out = append(out, r)
		}
	}
	return out
}

// browse serves an empty query: the user's most recently updated items with
// no relevance scores.
func (e *Engine) browse(ctx context.Context, userID string, opts *memory.SearchOptions, page memory.PaginationParams) (*memory.PaginatedResults, error) {
	items, err := e.store.ListByUser(ctx, userID, &memory.ListOptions{SortBy: "updated_at", Order: "desc"})
	if err != nil {
		return nil, err
	}

	results := make([]*memory.SearchResult, 0, len(items))
	for _, item := range items {
		if item.Superseded() || !opts.Filters.Match(item) {
			continue
		}
		results = append(results, &memory.SearchResult{Item: item})
	}
	return paginate(results, page), nil
}

// paginate slices one page out of the full ranked list and assigns global
// ranks. TotalEstimated is the post-resolution candidate count.
func paginate(results []*memory.SearchResult, page memory.PaginationParams) *memory.PaginatedResults {
	total := len(results)
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	pageResults := make([]memory.SearchResult, 0, end-start)
	for i := start; i < end; i++ {
		r := *results[i]
		r.Rank = i + 1
		pageResults = append(pageResults, r)
	}

	return &memory.PaginatedResults{
		Results:        pageResults,
		TotalEstimated: total,
		Offset:         page.Offset,
		Limit:          page.Limit,
	}
}

// Remember writes a new memory item: the store is the source of truth, and
// the retrieval indexes are updated best effort. Index failures are logged
// and the item remains retrievable once reindexed; a store failure fails the
// whole write.
func (e *Engine) Remember(ctx context.Context, item *memory.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Kind == "" {
		item.Kind = memory.KindFact
	}
	if item.Confidence == 0 {
		item.Confidence = 1.0
	}
	if len(item.Keywords) == 0 {
		item.Keywords = keyword.Tokenize(item.Content)
	}

	if len(item.Embedding) == 0 && e.embedder != nil {
		embeddingVec, err := e.embedder.EmbedQuery(ctx, item.Content)
		if err != nil {
			e.logger.WithError(err).Warn("Failed to embed memory content")
		} else {
			item.Embedding = embeddingVec
		}
	}

	if err := e.store.Add(ctx, item); err != nil {
		return err
	}
	e.metrics.Write()

	if e.vector != nil && len(item.Embedding) > 0 {
		if err := e.vector.Upsert(ctx, item); err != nil {
			e.logger.WithError(err).WithField("item", item.ID).Warn("Vector index update failed")
		}
	}
	if e.keyword != nil {
		if err := e.keyword.Index(ctx, item); err != nil {
			e.logger.WithError(err).WithField("item", item.ID).Warn("Keyword index update failed")
		}
	}
	if e.graph != nil && len(item.Entities) > 0 {
		if err := e.graph.AddItem(ctx, item); err != nil {
			e.logger.WithError(err).WithField("item", item.ID).Warn("Graph index update failed")
		}
	}

	if err := e.cache.Invalidate(ctx, item.UserID); err != nil {
		e.logger.WithError(err).WithField("user", item.UserID).Warn("Cache invalidation failed")
	}
	return nil
}

// DueReminders returns the user's due, unconsumed reminders.
func (e *Engine) DueReminders(ctx context.Context, userID string, now time.Time, limit int) ([]*memory.Item, error) {
	return e.scheduler.Due(ctx, userID, now, limit)
}

// ConsumeReminder marks a reminder delivered and drops the user's cached
// pages so reminder listings refresh.
func (e *Engine) ConsumeReminder(ctx context.Context, userID, id string) error {
	if err := e.store.ConsumeReminder(ctx, userID, id); err != nil {
		return err
	}
	if err := e.cache.Invalidate(ctx, userID); err != nil {
		e.logger.WithError(err).WithField("user", userID).Warn("Cache invalidation failed")
	}
	return nil
}

// normalizeQuery canonicalizes a query for matching and cache keying.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(q))), " ")
}
