package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalizer folds trivial rephrasings of a query into one canonical form
// so that they collide on the same cache key. Normalization lower-cases,
// folds configured synonyms, strips configured semantically-null phrases
// (politeness prefixes and the like), and collapses whitespace. It is
// idempotent: Normalize(Normalize(q)) == Normalize(q).
type Normalizer struct {
	stopPhrases [][]string        // each phrase pre-tokenized
	synonyms    map[string]string // token -> canonical replacement
}

// NewNormalizer builds a Normalizer from the configured stop phrases and
// synonym map. Synonym replacement values are resolved through the map at
// construction time so chained entries cannot break idempotence.
func NewNormalizer(stopPhrases []string, synonyms map[string]string) *Normalizer {
	n := &Normalizer{
		synonyms: make(map[string]string, len(synonyms)),
	}
	for _, p := range stopPhrases {
		toks := tokenize(strings.ToLower(p))
		if len(toks) > 0 {
			n.stopPhrases = append(n.stopPhrases, toks)
		}
	}
	for from, to := range synonyms {
		from = strings.ToLower(strings.TrimSpace(from))
		if from == "" {
			continue
		}
		n.synonyms[from] = n.resolve(strings.ToLower(to), synonyms)
	}
	return n
}

// resolve chases a replacement value through the synonym map until it is a
// fixed point, with a hop cap against cycles.
func (n *Normalizer) resolve(to string, synonyms map[string]string) string {
	for hops := 0; hops < len(synonyms); hops++ {
		next, ok := synonyms[strings.ToLower(strings.TrimSpace(to))]
		if !ok {
			break
		}
		to = strings.ToLower(next)
	}
	return strings.Join(tokenize(to), " ")
}

// Normalize returns the canonical form of a query.
func (n *Normalizer) Normalize(query string) string {
	toks := tokenize(strings.ToLower(query))

	// Fold synonyms token by token. Replacements may be multi-word.
	folded := make([]string, 0, len(toks))
	for _, t := range toks {
		if repl, ok := n.synonyms[t]; ok {
			folded = append(folded, strings.Fields(repl)...)
		} else {
			folded = append(folded, t)
		}
	}

	// Strip stop phrases until none match; removing one phrase can make
	// another contiguous.
	for {
		stripped, removed := n.stripOnce(folded)
		folded = stripped
		if !removed {
			break
		}
	}

	return strings.Join(folded, " ")
}

// stripOnce removes the first occurrence of any stop phrase and reports
// whether a removal happened.
func (n *Normalizer) stripOnce(toks []string) ([]string, bool) {
	for i := 0; i < len(toks); i++ {
		for _, phrase := range n.stopPhrases {
			if matchesAt(toks, i, phrase) {
				out := make([]string, 0, len(toks)-len(phrase))
				out = append(out, toks[:i]...)
				out = append(out, toks[i+len(phrase):]...)
				return out, true
			}
		}
	}
	return toks, false
}

func matchesAt(toks []string, i int, phrase []string) bool {
	if i+len(phrase) > len(toks) {
		return false
	}
	for j, p := range phrase {
		if toks[i+j] != p {
			return false
		}
	}
	return true
}

// tokenize splits on anything that is not a letter, digit, or in-word
// apostrophe. Punctuation therefore never survives into the canonical form.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Key derives the exact-match cache key from a normalized query and its
// category.
func Key(normalized, category string) string {
	sum := sha256.Sum256([]byte(normalized + "|" + category))
	return hex.EncodeToString(sum[:])
}
