package retrieval

import "strings"

// LexicalScorer produces a keyword relevance signal in [0, 1].
type LexicalScorer interface {
	Score(query, text string) float32
}

// KeywordScorer scores the fraction of the query's content words that
// appear in the text. Stop words and punctuation are ignored.
type KeywordScorer struct{}

var _ LexicalScorer = KeywordScorer{}

// Score returns matched query words / query words, or 0 when the query has
// no content words.
func (KeywordScorer) Score(query, text string) float32 {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return 0
	}

	docWords := tokenizeAndFilter(text)
	docWordSet := make(map[string]bool, len(docWords))
	for _, word := range docWords {
		docWordSet[word] = true
	}

	seen := make(map[string]bool, len(queryWords))
	matched, total := 0, 0
	for _, qWord := range queryWords {
		if seen[qWord] {
			continue
		}
		seen[qWord] = true
		total++
		if docWordSet[qWord] {
			matched++
		}
	}
	return float32(matched) / float32(total)
}

// Stop words to filter out when matching keywords
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "which": true, "how": true, "does": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}
