package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.recall/internal/cache"
	"dev.helix.recall/internal/embedding"
	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/index/graph"
	"dev.helix.recall/internal/index/keyword"
	"dev.helix.recall/internal/memory"
)

// countingVector wraps a vector index and counts searches, to observe cache
// hits from the outside.
type countingVector struct {
	index.VectorIndex
	searches atomic.Int64
}

func (c *countingVector) Search(ctx context.Context, userID string, embedding []float32, limit int, filters *memory.Filters) ([]index.ScoredRef, error) {
	c.searches.Add(1)
	return c.VectorIndex.Search(ctx, userID, embedding, limit, filters)
}

type failingVector struct{}

func (failingVector) Search(context.Context, string, []float32, int, *memory.Filters) ([]index.ScoredRef, error) {
	return nil, errors.New("vector backend unavailable")
}
func (failingVector) Upsert(context.Context, *memory.Item) error { return nil }
func (failingVector) Delete(context.Context, string, string) error { return nil }

type failingGraph struct{}

func (failingGraph) Search(context.Context, string, []string, int, int) ([]index.ScoredRef, error) {
	return nil, errors.New("graph backend unavailable")
}
func (failingGraph) AddItem(context.Context, *memory.Item) error { return nil }

type testEngine struct {
	*Engine
	store  *memory.InMemoryStore
	vector *countingVector
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := memory.NewInMemoryStore()
	vector := &countingVector{VectorIndex: index.NewLocalVectorIndex()}
	eng := New(
		store,
		vector,
		keyword.New(),
		graph.NewMemoryGraph(),
		embedding.NewLocalEmbedder(256),
		cache.NewMemoryCache(time.Minute, logger, nil),
		DefaultEngineConfig(),
		logger,
		nil,
	)
	return &testEngine{Engine: eng, store: store, vector: vector}
}

func remember(t *testing.T, e *testEngine, content string, entities ...string) *memory.Item {
	t.Helper()
	item := &memory.Item{
		UserID:   "alice",
		Content:  content,
		Kind:     memory.KindFact,
		Entities: entities,
	}
	require.NoError(t, e.Remember(context.Background(), item))
	return item
}

func TestEngine_SearchFindsRelevantMemory(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cat := remember(t, e, "the cat's name is Whiskers", "Whiskers")
	remember(t, e, "the quarterly report deadline moved to Friday")
	remember(t, e, "favorite lunch spot is the ramen place")

	page, err := e.Search(ctx, "alice", "cat name", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	assert.Equal(t, cat.ID, page.Results[0].Item.ID)
	assert.Equal(t, 1, page.Results[0].Rank)
	assert.False(t, page.Degraded)
}

func TestEngine_SearchIsUserScoped(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	remember(t, e, "secret project codename is bluebird")

	page, err := e.Search(ctx, "bob", "secret project", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestEngine_PaginationNoSkipNoDuplicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, content := range []string{
		"coffee order flat white",
		"coffee shop on fifth street",
		"coffee machine descaling due",
		"coffee beans from the roastery",
		"coffee budget for the office",
	} {
		remember(t, e, content)
	}

	seen := make(map[string]int)
	var total int
	for offset := 0; ; offset += 2 {
		page, err := e.Search(ctx, "alice", "coffee", nil, memory.PaginationParams{Limit: 2, Offset: offset})
		require.NoError(t, err)
		total = page.TotalEstimated
		if len(page.Results) == 0 {
			break
		}
		for i, r := range page.Results {
			seen[r.Item.ID]++
			assert.Equal(t, offset+i+1, r.Rank)
		}
	}

	assert.Equal(t, 5, total)
	assert.Len(t, seen, 5)
	for id, count := range seen {
		assert.Equal(t, 1, count, "item %s appeared %d times", id, count)
	}
}

func TestEngine_PaginationClamp(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	remember(t, e, "a single fact about tea")

	page, err := e.Search(ctx, "alice", "tea", nil, memory.PaginationParams{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig().DefaultPageSize, page.Limit)

	page, err = e.Search(ctx, "alice", "tea", nil, memory.PaginationParams{Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig().MaxPageSize, page.Limit)

	page, err = e.Search(ctx, "alice", "tea", nil, memory.PaginationParams{Limit: 10, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Offset)
	require.NotEmpty(t, page.Results)
	assert.Equal(t, 1, page.Results[0].Rank)
}

func TestEngine_SearchRequiresUser(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Search(context.Background(), "", "anything", nil, memory.PaginationParams{})
	require.Error(t, err)
	assert.True(t, memory.IsValidation(err))
}

func TestEngine_InvalidWeightsRejected(t *testing.T) {
	e := newTestEngine(t)

	opts := memory.DefaultSearchOptions()
	opts.VectorWeight = 2.0
	_, err := e.Search(context.Background(), "alice", "anything", opts, memory.PaginationParams{})
	require.Error(t, err)
	assert.True(t, memory.IsValidation(err))
}

func TestEngine_CacheHitSkipsSubsystems(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	remember(t, e, "the dentist appointment is in March")

	first, err := e.Search(ctx, "alice", "dentist", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	before := e.vector.searches.Load()

	second, err := e.Search(ctx, "alice", "dentist", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, before, e.vector.searches.Load(), "second identical query must be served from cache")
	assert.Equal(t, first.TotalEstimated, second.TotalEstimated)
	require.Len(t, second.Results, len(first.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].Item.ID, second.Results[i].Item.ID)
	}
}

func TestEngine_DifferentOptionsBypassCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	remember(t, e, "gym sessions on tuesday evenings")

	_, err := e.Search(ctx, "alice", "gym", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	before := e.vector.searches.Load()

	opts := memory.DefaultSearchOptions()
	opts.KeywordWeight = 0.3
	_, err = e.Search(ctx, "alice", "gym", opts, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Greater(t, e.vector.searches.Load(), before)
}

func TestEngine_WriteInvalidatesCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	remember(t, e, "the garden needs watering")

	page, err := e.Search(ctx, "alice", "garden", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)

	remember(t, e, "planted tomatoes in the garden bed")

	page, err = e.Search(ctx, "alice", "garden", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2, "new write must be visible immediately")
}

func TestEngine_HybridToggleDisablesKeyword(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	remember(t, e, "piano recital in the spring")

	opts := memory.DefaultSearchOptions()
	opts.EnableHybridSearch = false
	opts.EnableGraphSearch = false

	page, err := e.Search(ctx, "alice", "piano recital", opts, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	for _, r := range page.Results {
		assert.Nil(t, r.KeywordScore)
		assert.Nil(t, r.GraphScore)
		assert.NotNil(t, r.VectorScore)
	}
}

func TestEngine_ConflictResolutionInSearch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	older := remember(t, e, "favorite color is blue")
	time.Sleep(5 * time.Millisecond) // distinct updated_at
	newer := remember(t, e, "favorite color is green")

	page, err := e.Search(ctx, "alice", "favorite color", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)

	ids := make([]string, 0, len(page.Results))
	for _, r := range page.Results {
		ids = append(ids, r.Item.ID)
	}
	assert.Contains(t, ids, newer.ID)
	assert.NotContains(t, ids, older.ID)

	// The losing fact is durably superseded.
	got, err := e.store.Get(ctx, "alice", older.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.SupersededBy)
}

func TestEngine_SupersededStaysHiddenWithResolutionOff(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	older := remember(t, e, "favorite color is blue")
	time.Sleep(5 * time.Millisecond)
	remember(t, e, "favorite color is green")

	// First search resolves and persists the supersession.
	_, err := e.Search(ctx, "alice", "favorite color", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)

	opts := memory.DefaultSearchOptions()
	opts.EnableConflictResolution = false
	page, err := e.Search(ctx, "alice", "favorite color", opts, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	for _, r := range page.Results {
		assert.NotEqual(t, older.ID, r.Item.ID, "superseded items never resurface")
	}
}

func TestEngine_DegradedWhenAllSubsystemsFail(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := memory.NewInMemoryStore()
	memCache := cache.NewMemoryCache(time.Minute, logger, nil)

	eng := New(store, failingVector{}, keyword.New(), failingGraph{},
		embedding.NewLocalEmbedder(64), memCache, DefaultEngineConfig(), logger, nil)

	opts := memory.DefaultSearchOptions()
	opts.EnableHybridSearch = false // keyword off, vector and graph both fail

	page, err := eng.Search(context.Background(), "alice", "anything", opts, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.True(t, page.Degraded)
	assert.Empty(t, page.Results)

	// Degraded pages are not cached: recovery is visible immediately.
	_, ok := memCache.Get(context.Background(), cache.Key{
		UserID: "alice", Query: "anything", Fingerprint: cache.Fingerprint(opts), Offset: 0, Limit: 10,
	})
	assert.False(t, ok)
}

func TestEngine_PartialFailureDegradesGracefully(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := memory.NewInMemoryStore()

	eng := New(store, index.NewLocalVectorIndex(), keyword.New(), failingGraph{},
		embedding.NewLocalEmbedder(256), cache.NewMemoryCache(time.Minute, logger, nil),
		DefaultEngineConfig(), logger, nil)

	require.NoError(t, eng.Remember(context.Background(), &memory.Item{
		UserID: "alice", Content: "hiking trip to the lake", Kind: memory.KindFact,
	}))

	page, err := eng.Search(context.Background(), "alice", "hiking lake", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	assert.False(t, page.Degraded)
	for _, r := range page.Results {
		assert.Nil(t, r.GraphScore, "failed subsystem contributes no subscore")
	}
}

func TestEngine_VectorOnlyWeightsMatchVectorRanking(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	remember(t, e, "the cat sleeps on the windowsill")
	remember(t, e, "cat food is in the pantry")
	remember(t, e, "the car needs an oil change")

	embedder := embedding.NewLocalEmbedder(256)
	queryVec, err := embedder.EmbedQuery(ctx, "cat food")
	require.NoError(t, err)
	raw, err := e.vector.VectorIndex.Search(ctx, "alice", queryVec, 50, nil)
	require.NoError(t, err)

	opts := memory.DefaultSearchOptions()
	opts.KeywordWeight = 0
	opts.GraphWeight = 0

	page, err := e.Search(ctx, "alice", "cat food", opts, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, len(raw))
	for i, r := range page.Results {
		assert.Equal(t, raw[i].ID, r.Item.ID, "fused order must match the vector index's own ranking")
	}
}

func TestEngine_KeywordOnlySurvivesVectorAndGraphFailure(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := memory.NewInMemoryStore()
	kw := keyword.New()

	eng := New(store, failingVector{}, kw, failingGraph{},
		embedding.NewLocalEmbedder(64), cache.NewMemoryCache(time.Minute, logger, nil),
		DefaultEngineConfig(), logger, nil)

	require.NoError(t, eng.Remember(context.Background(), &memory.Item{
		UserID: "alice", Content: "dentist appointment in March", Kind: memory.KindFact,
	}))

	page, err := eng.Search(context.Background(), "alice", "dentist", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.False(t, page.Degraded)
	assert.NotNil(t, page.Results[0].KeywordScore)
	assert.Nil(t, page.Results[0].VectorScore)
	assert.Nil(t, page.Results[0].GraphScore)
}

func TestEngine_EmptyQueryBrowsesMostRecent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	remember(t, e, "first memory")
	time.Sleep(5 * time.Millisecond)
	latest := remember(t, e, "second memory")

	page, err := e.Search(ctx, "alice", "   ", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, latest.ID, page.Results[0].Item.ID)
	assert.Zero(t, page.Results[0].FinalScore)
	assert.Nil(t, page.Results[0].VectorScore)
}

func TestEngine_Reminders(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(5 * time.Hour)
	require.NoError(t, e.Remember(ctx, &memory.Item{
		UserID: "alice", Content: "call the plumber", Kind: memory.KindReminder, DueAt: &past,
	}))
	require.NoError(t, e.Remember(ctx, &memory.Item{
		UserID: "alice", Content: "renew passport", Kind: memory.KindReminder, DueAt: &future,
	}))

	due, err := e.DueReminders(ctx, "alice", now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "call the plumber", due[0].Content)

	require.NoError(t, e.ConsumeReminder(ctx, "alice", due[0].ID))

	due, err = e.DueReminders(ctx, "alice", now, 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.ErrorIs(t, e.ConsumeReminder(ctx, "alice", "no-such-id"), memory.ErrNotFound)
}

func TestEngine_ConsumeReminderInvalidatesCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	item := &memory.Item{
		UserID: "alice", Content: "water the office plants", Kind: memory.KindReminder, DueAt: &past,
	}
	require.NoError(t, e.Remember(ctx, item))

	page, err := e.Search(ctx, "alice", "plants", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	assert.Nil(t, page.Results[0].Item.ConsumedAt)
	before := e.vector.searches.Load()

	require.NoError(t, e.ConsumeReminder(ctx, "alice", item.ID))

	page, err = e.Search(ctx, "alice", "plants", nil, memory.PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Greater(t, e.vector.searches.Load(), before, "consumption must drop the cached page")
	require.NotEmpty(t, page.Results)
	assert.NotNil(t, page.Results[0].Item.ConsumedAt)
}

func TestEngine_RememberFillsDefaults(t *testing.T) {
	e := newTestEngine(t)
	item := &memory.Item{UserID: "alice", Content: "default handling check"}
	require.NoError(t, e.Remember(context.Background(), item))

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, memory.KindFact, item.Kind)
	assert.Equal(t, 1.0, item.Confidence)
	assert.NotEmpty(t, item.Keywords)
	assert.NotEmpty(t, item.Embedding)
	assert.False(t, item.CreatedAt.IsZero())
}
