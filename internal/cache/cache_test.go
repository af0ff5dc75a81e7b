package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dev.helix.recall/internal/memory"
)

func TestKey_StringStableAndDistinct(t *testing.T) {
	a := Key{UserID: "alice", Query: "cat", Fingerprint: "fp1", Offset: 0, Limit: 10}
	same := Key{UserID: "alice", Query: "cat", Fingerprint: "fp1", Offset: 0, Limit: 10}
	assert.Equal(t, a.String(), same.String())

	differentPage := a
	differentPage.Offset = 10
	assert.NotEqual(t, a.String(), differentPage.String())

	differentOpts := a
	differentOpts.Fingerprint = "fp2"
	assert.NotEqual(t, a.String(), differentOpts.String())
}

func TestFingerprint_CoversOptions(t *testing.T) {
	base := memory.DefaultSearchOptions()
	assert.Equal(t, Fingerprint(base), Fingerprint(memory.DefaultSearchOptions()))

	weighted := memory.DefaultSearchOptions()
	weighted.KeywordWeight = 0.4
	assert.NotEqual(t, Fingerprint(base), Fingerprint(weighted))

	filtered := memory.DefaultSearchOptions()
	filtered.Filters = &memory.Filters{Kinds: []memory.Kind{memory.KindFact}}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(filtered))
}
