package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Store behavior against a live database is covered by the shared contract
// the in-memory store also satisfies; here we pin the query-building helpers.

func TestOrderClause(t *testing.T) {
	assert.Equal(t, "updated_at DESC, id ASC", orderClause("", ""))
	assert.Equal(t, "updated_at ASC, id ASC", orderClause("updated_at", "asc"))
	assert.Equal(t, "created_at DESC, id ASC", orderClause("created_at", "desc"))
	assert.Equal(t, "created_at ASC, id ASC", orderClause("created_at", "asc"))
	// Unknown columns fall back to updated_at rather than interpolating input.
	assert.Equal(t, "updated_at DESC, id ASC", orderClause("; DROP TABLE", ""))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.URL)
	assert.Positive(t, cfg.MaxConns)
	assert.Positive(t, cfg.ConnectTimeout)
}
