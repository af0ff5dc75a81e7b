// Package graph implements the relational index: memory items connected to
// the entities a query mentions, scored by traversal distance. The production
// backend is Neo4j; MemoryGraph provides the same contract in process.
package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/memory"
)

// Config configures the Neo4j connection.
type Config struct {
	URI      string        `json:"uri"`
	Username string        `json:"username"`
	Password string        `json:"password"`
	Database string        `json:"database"`
	Timeout  time.Duration `json:"timeout"`
}

// DefaultConfig returns defaults for a local Neo4j.
func DefaultConfig() *Config {
	return &Config{
		URI:      "bolt://localhost:7687",
		Username: "neo4j",
		Database: "neo4j",
		Timeout:  10 * time.Second,
	}
}

// Neo4jIndex is the Neo4j-backed implementation of index.GraphIndex. Items
// are (:MemoryItem) nodes linked to (:Entity) nodes by [:MENTIONS] edges;
// traversal follows MENTIONS in both directions so items sharing an entity
// are reachable at depth 2.
type Neo4jIndex struct {
	driver neo4j.DriverWithContext
	config *Config
	logger *logrus.Logger
}

// NewNeo4j creates a Neo4j graph index.
func NewNeo4j(config *Config, logger *logrus.Logger) (*Neo4jIndex, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, neo4j.BasicAuth(config.Username, config.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	return &Neo4jIndex{driver: driver, config: config, logger: logger}, nil
}

// Close releases the driver.
func (g *Neo4jIndex) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// AddItem merges the item node, its entity nodes, and the MENTIONS edges.
func (g *Neo4jIndex) AddItem(ctx context.Context, item *memory.Item) error {
	if len(item.Entities) == 0 {
		return nil
	}

	cypher := `
		MERGE (m:MemoryItem {id: $id, user_id: $userID})
		WITH m
		UNWIND $entities AS name
		MERGE (e:Entity {name: name, user_id: $userID})
		MERGE (m)-[:MENTIONS]->(e)`

	_, err := neo4j.ExecuteQuery(ctx, g.driver, cypher,
		map[string]any{
			"id":       item.ID,
			"userID":   item.UserID,
			"entities": item.Entities,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.config.Database),
	)
	if err != nil {
		return fmt.Errorf("failed to register item in graph: %w", err)
	}
	return nil
}

// Search returns items connected to any of the given entities within
// maxDepth hops, scored by 1/(shortest hop count). A direct mention scores
// 1.0, an item one entity removed scores 0.5, and so on.
func (g *Neo4jIndex) Search(ctx context.Context, userID string, entities []string, limit, maxDepth int) ([]index.ScoredRef, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	// Path length cannot be parameterized in Cypher.
	cypher := fmt.Sprintf(`
		MATCH (e:Entity {user_id: $userID}) WHERE e.name IN $entities
		MATCH p = (m:MemoryItem {user_id: $userID})-[:MENTIONS*1..%d]-(e)
		RETURN m.id AS id, min(length(p)) AS dist
		ORDER BY dist ASC, id ASC
		LIMIT $limit`, maxDepth)

	result, err := neo4j.ExecuteQuery(ctx, g.driver, cypher,
		map[string]any{
			"userID":   userID,
			"entities": entities,
			"limit":    limit,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.config.Database),
	)
	if err != nil {
		return nil, fmt.Errorf("graph search failed: %w", err)
	}

	refs := make([]index.ScoredRef, 0, len(result.Records))
	for _, record := range result.Records {
		id, _ := record.Get("id")
		dist, _ := record.Get("dist")
		idStr, ok := id.(string)
		if !ok {
			continue
		}
		distInt, ok := dist.(int64)
		if !ok || distInt <= 0 {
			continue
		}
		refs = append(refs, index.ScoredRef{ID: idStr, Score: 1.0 / float64(distInt)})
	}

	g.logger.WithFields(logrus.Fields{
		"entities": len(entities),
		"results":  len(refs),
	}).Debug("Graph search completed")

	return refs, nil
}

// sortRefs orders refs by score descending, id ascending for determinism.
func sortRefs(refs []index.ScoredRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].ID < refs[j].ID
	})
}
