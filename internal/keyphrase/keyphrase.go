// Package keyphrase implements the black-box "list of texts -> label"
// keyphrase extractor named in the specification. KeyBERT (the reference
// implementation's collaborator) has no Go equivalent in the retrieval
// pack, so this substitutes bleve's bundled English analyzer — tokenizer,
// stopword filter, and stemmer — as the linguistic front end, then ranks
// stemmed n-grams by frequency, which stands in for KeyBERT's
// embedding-similarity scoring. This is a legitimate black-box
// substitution per the specification's "deliberately out of scope"
// framing, not an attempt to reproduce KeyBERT's semantics exactly.
package keyphrase

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/registry"
)

// Extractor derives a short topic label from a cluster's member texts.
type Extractor interface {
	Extract(texts []string) (string, error)
}

// weakWords mirrors original_source/backend/analyzer.py's hardcoded
// stoplist: a top keyphrase that is exactly one of these words triggers a
// fallback to the runner-up, whatever the runner-up is.
var weakWords = map[string]bool{
	"like": true, "consists": true, "include": true,
	"contains": true, "called": true, "known": true,
}

// BleveExtractor is the one concrete Extractor this system ships.
type BleveExtractor struct {
	cache *registry.Cache
}

// New constructs a BleveExtractor backed by bleve's "en" analyzer.
func New() *BleveExtractor {
	return &BleveExtractor{cache: registry.NewCache()}
}

// Extract joins every text it is given (limiting the context to the first
// few documents is the caller's responsibility), analyzes them with bleve's
// English pipeline, and returns the top-ranked 1-2 word phrase in
// Title_Case form, spelled with the first source word seen for each stem.
func (e *BleveExtractor) Extract(texts []string) (string, error) {
	joined := strings.Join(texts, " ")
	if strings.TrimSpace(joined) == "" {
		return "Misc", nil
	}

	analyzer, err := e.cache.AnalyzerNamed("en")
	if err != nil {
		return "Cluster", nil
	}

	tokens := analyzer.Analyze([]byte(joined))
	terms := make([]string, 0, len(tokens))
	surface := make(map[string]string) // stem -> first lowercased source word
	for _, tok := range tokens {
		term := string(tok.Term)
		if term == "" || !hasLetter(term) {
			continue
		}
		terms = append(terms, term)
		if _, seen := surface[term]; !seen && tok.Start >= 0 && tok.Start < tok.End && tok.End <= len(joined) {
			if word := strings.ToLower(joined[tok.Start:tok.End]); !strings.ContainsAny(word, "'’") {
				surface[term] = word
			}
		}
	}
	if len(terms) == 0 {
		return "Misc", nil
	}

	candidates := rank(terms)
	if len(candidates) == 0 {
		return "Misc", nil
	}
	for i, c := range candidates {
		words := strings.Fields(c)
		for j, w := range words {
			if s, ok := surface[w]; ok {
				words[j] = s
			}
		}
		candidates[i] = strings.Join(words, " ")
	}

	top := candidates[0]
	if weakWords[strings.ToLower(top)] {
		if len(candidates) > 1 {
			top = candidates[1]
		} else {
			return "General_Topic", nil
		}
	}

	return toLabel(top), nil
}

// rank counts unigram and bigram frequency and returns candidate phrases
// ordered by descending count, longest-first on ties (bigrams carry more
// signal than a bare unigram, matching KeyBERT's (1,2) ngram_range
// preference).
func rank(terms []string) []string {
	unigrams := make(map[string]int)
	bigrams := make(map[string]int)

	for i, t := range terms {
		unigrams[t]++
		if i+1 < len(terms) {
			bigrams[t+" "+terms[i+1]]++
		}
	}

	type scored struct {
		phrase string
		count  int
		words  int
	}
	var all []scored
	for p, c := range bigrams {
		if c > 1 {
			all = append(all, scored{p, c, 2})
		}
	}
	for p, c := range unigrams {
		all = append(all, scored{p, c, 1})
	}

	// Stable-ish ranking: higher count first, bigrams before unigrams on
	// ties (approximates MMR's preference for more specific phrases).
	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			a, b := all[j-1], all[j]
			if b.count > a.count || (b.count == a.count && b.words > a.words) {
				all[j-1], all[j] = all[j], all[j-1]
			} else {
				break
			}
		}
	}

	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.phrase
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// toLabel converts "quantum tunneling" to "Quantum_Tunneling", matching
// original_source/backend/analyzer.py's whitespace-to-underscore,
// Title Case conversion.
func toLabel(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, "_")
}
