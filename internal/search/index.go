// Package search provides a deterministic, concurrency-safe in-memory
// full-text index over thread text. Documents are upserted as threads
// change and ranked by how much of the query they cover.
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring is query coverage |Q ∩ D| / |Q|, with Jaccard similarity
// |Q ∩ D| / |Q ∪ D| breaking ties in favor of tighter documents.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Result is a ranked document with its score and a matching snippet.
type Result struct {
	ID      string  `json:"id"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Option configures an Index.
type Option func(*config)

type config struct {
	stopwords    map[string]struct{}
	snippetRunes int
}

func defaultConfig() config {
	return config{
		stopwords: toSet([]string{
			"a", "an", "and", "are", "for", "i", "in", "is", "it", "my", "of",
			"on", "or", "the", "to", "we", "you", "your", "this", "that", "with",
		}),
		snippetRunes: 160,
	}
}

// WithStopwords replaces the default stop-word list. An empty list
// disables stop-word removal.
func WithStopwords(words []string) Option {
	return func(c *config) { c.stopwords = toSet(words) }
}

// WithSnippetRunes bounds snippet length.
func WithSnippetRunes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.snippetRunes = n
		}
	}
}

type doc struct {
	version  int64
	segments []string
	tokens   map[string]struct{}
}

// Index is safe for concurrent use.
type Index struct {
	cfg  config
	mu   sync.RWMutex
	docs map[string]doc
}

// New returns an empty index.
func New(opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Index{cfg: cfg, docs: map[string]doc{}}
}

// Upsert stores the segments (subject, message bodies) of document id at
// version. Older versions never overwrite newer ones.
func (i *Index) Upsert(id string, version int64, segments []string) {
	segs := make([]string, 0, len(segments))
	toks := map[string]struct{}{}
	for _, s := range segments {
		s = strings.TrimSpace(normalizeWhitespace(s))
		if s == "" {
			continue
		}
		segs = append(segs, s)
		for t := range tokenize(s, i.cfg.stopwords) {
			toks[t] = struct{}{}
		}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if cur, ok := i.docs[id]; ok && cur.version > version {
		return
	}
	i.docs[id] = doc{version: version, segments: segs, tokens: toks}
}

// Remove deletes a document.
func (i *Index) Remove(id string) {
	i.mu.Lock()
	delete(i.docs, id)
	i.mu.Unlock()
}

// Version reports the indexed version of id.
func (i *Index) Version(id string) (int64, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.docs[id]
	return d.version, ok
}

// Len is the number of indexed documents.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// TopK returns up to k best-matching documents; k <= 0 means 10.
func (i *Index) TopK(q string, k int) []Result {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	type scored struct {
		id      string
		d       doc
		score   float64
		jaccard float64
	}
	i.mu.RLock()
	buf := make([]scored, 0, k*2)
	for id, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := len(qTokens) + len(d.tokens) - over
		buf = append(buf, scored{
			id:      id,
			d:       d,
			score:   float64(over) / float64(len(qTokens)),
			jaccard: float64(over) / float64(union),
		})
	}
	i.mu.RUnlock()
	if len(buf) == 0 {
		return nil
	}

	sort.Slice(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].jaccard != buf[b].jaccard {
			return buf[a].jaccard > buf[b].jaccard
		}
		return buf[a].id < buf[b].id
	})
	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for n := 0; n < k; n++ {
		out[n] = Result{
			ID:      buf[n].id,
			Score:   buf[n].score,
			Snippet: i.snippet(buf[n].d, qTokens),
		}
	}
	return out
}

// snippet picks the segment with the most query tokens.
func (i *Index) snippet(d doc, q map[string]struct{}) string {
	best, bestOver := "", 0
	for _, s := range d.segments {
		if n := overlap(q, tokenize(s, i.cfg.stopwords)); n > bestOver {
			best, bestOver = s, n
		}
	}
	if utf8.RuneCountInString(best) > i.cfg.snippetRunes {
		r := []rune(best)
		best = strings.TrimSpace(string(r[:i.cfg.snippetRunes])) + "…"
	}
	return best
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fold lowercases s and strips combining marks, so "Café" and "cafe"
// index to the same word.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.ToLower(s)
}

// Tokenize returns the distinct folded words of s in first-seen order,
// without stop-word removal.
func Tokenize(s string) []string {
	words := wordRE.FindAllString(fold(s), -1)
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}
