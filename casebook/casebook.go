// Package casebook implements the case memory: an append-only archive
// of completed runs with similarity-based retrieval.
//
// Retrieval ranks stored cases by keyword overlap with the current
// request, weighted by a recency decay so that newer experience wins at
// equal overlap. Ties break on final quality score. The engine must
// tolerate an empty result set (cold start).
package casebook

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pithecene-io/crucible/store"
	"github.com/pithecene-io/crucible/types"
)

// DefaultHalfLife is the recency decay half-life.
const DefaultHalfLife = 30 * 24 * time.Hour

// scanLimit bounds how many recent cases a retrieval scans.
const scanLimit = 500

// Book is the case memory over the durable store.
type Book struct {
	store    *store.Store
	halfLife time.Duration
	now      func() time.Time
}

// Option configures a Book.
type Option func(*Book)

// WithHalfLife overrides the recency decay half-life.
func WithHalfLife(d time.Duration) Option {
	return func(b *Book) { b.halfLife = d }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// New creates a case memory over st.
func New(st *store.Store, opts ...Option) *Book {
	b := &Book{store: st, halfLife: DefaultHalfLife, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record appends a case. Invoked after the run reaches a terminal state;
// never blocks the run it came from.
func (b *Book) Record(ctx context.Context, c types.Case) error {
	if c.RecordedAt.IsZero() {
		c.RecordedAt = b.now()
	}
	if c.Fingerprint == "" {
		return fmt.Errorf("case %s has empty fingerprint", c.ID)
	}
	return b.store.AppendCase(ctx, c)
}

// ScoredCase is a retrieved case with its similarity score.
type ScoredCase struct {
	Case       types.Case
	Similarity float64
}

// FindSimilar returns up to k cases ranked by similarity to the request
// text. Returns an empty slice when nothing overlaps.
func (b *Book) FindSimilar(ctx context.Context, requestText string, k int) ([]ScoredCase, error) {
	if k <= 0 {
		return nil, nil
	}

	keywords := Keywords(requestText)
	if len(keywords) == 0 {
		return nil, nil
	}

	cases, err := b.store.RecentCases(ctx, scanLimit)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}

	now := b.now()
	scored := make([]ScoredCase, 0, len(cases))
	for _, c := range cases {
		overlap := jaccard(keywords, fieldSet(c.Fingerprint))
		if overlap == 0 {
			continue
		}
		scored = append(scored, ScoredCase{
			Case:       c,
			Similarity: overlap * b.decay(now.Sub(c.RecordedAt)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Case.FinalScore > scored[j].Case.FinalScore
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Stats returns aggregate statistics over the archive.
func (b *Book) Stats(ctx context.Context) (store.CaseStats, error) {
	return b.store.Stats(ctx)
}

// decay returns the recency weight for a case of the given age.
func (b *Book) decay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(b.halfLife))
}

// Fingerprint reduces a request to its sorted keyword set, space-joined.
// Deterministic so the same request always produces the same fingerprint.
// A request whose words are all stopwords falls back to the normalized
// raw text so terminal runs still record a case.
func Fingerprint(requestText string) string {
	kw := Keywords(requestText)
	if len(kw) == 0 {
		return strings.Join(strings.Fields(strings.ToLower(requestText)), " ")
	}
	sorted := make([]string, 0, len(kw))
	for w := range kw {
		sorted = append(sorted, w)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// stopwords are excluded from fingerprints and similarity.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"build": {}, "by": {}, "can": {}, "create": {}, "for": {}, "from": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "make": {}, "me": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "please": {}, "should": {}, "simple": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "want": {}, "with": {},
}

// Keywords extracts the normalized keyword set of a text: lowercase,
// punctuation-split, stopwords and single characters removed.
func Keywords(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func fieldSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard is |a∩b| / |a∪b|; 0 when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
