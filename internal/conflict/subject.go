package conflict

import (
	"sort"
	"strings"

	"dev.helix.recall/internal/memory"
)

// EntityTopicKeyer is the default SubjectKeyer. The key combines the item's
// normalized entity set with the attribute phrase of its content: the tokens
// preceding the first copular verb ("is"/"are") or colon, minus stopwords.
// "User's favorite color is blue" and "favorite color: green" both key to
// "favorite|color", so they land in the same conflict group regardless of the
// asserted value.
type EntityTopicKeyer struct {
	stopwords map[string]bool
}

// NewEntityTopicKeyer creates the default keyer.
func NewEntityTopicKeyer() *EntityTopicKeyer {
	stopwords := make(map[string]bool)
	for _, w := range []string{
		"a", "an", "the", "my", "your", "his", "her", "their", "our",
		"user", "users", "s", "of", "for", "to", "in",
	} {
		stopwords[w] = true
	}
	return &EntityTopicKeyer{stopwords: stopwords}
}

// Key derives the subject key. Items whose content has no attribute phrase
// and no entities produce an empty key and are never grouped.
func (k *EntityTopicKeyer) Key(item *memory.Item) string {
	// Only facts and preferences assert subject/value pairs worth resolving.
	if item.Kind != memory.KindFact && item.Kind != memory.KindPreference {
		return ""
	}

	topic := k.attributePhrase(item.Content)
	if topic == "" {
		return ""
	}

	parts := make([]string, 0, len(item.Entities)+1)
	for _, e := range item.Entities {
		name := strings.ToLower(strings.TrimSpace(e))
		if name != "" {
			parts = append(parts, name)
		}
	}
	sort.Strings(parts)
	parts = append(parts, topic)
	return strings.Join(parts, "|")
}

// attributePhrase returns the normalized tokens before the first "is"/"are"
// or colon.
func (k *EntityTopicKeyer) attributePhrase(content string) string {
	lower := strings.ToLower(content)

	cut := -1
	if i := strings.Index(lower, ":"); i >= 0 {
		cut = i
	}
	for _, verb := range []string{" is ", " are "} {
		if i := strings.Index(lower, verb); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return ""
	}

	var kept []string
	for _, tok := range tokenize(lower[:cut]) {
		if !k.stopwords[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "|")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}
