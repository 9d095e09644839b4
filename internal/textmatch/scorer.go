package textmatch

import (
	"math"
	"slices"
)

// Weights controls how the individual similarity signals are combined.
type Weights struct {
	Cosine          float64
	Jaccard         float64
	Keyword         float64
	ConfidenceBoost float64
}

// DefaultWeights returns the production signal weights.
func DefaultWeights() Weights {
	return Weights{
		Cosine:          0.4,
		Jaccard:         0.3,
		Keyword:         0.3,
		ConfidenceBoost: 0.1,
	}
}

// Document is anything a question can be scored against.
type Document struct {
	// Text is tokenized when Tokens is empty.
	Text string
	// Tokens are pre-computed (unexpanded) tokens, e.g. a stored question_tokens column.
	Tokens     []string
	Keywords   []string
	Confidence float64
}

// Query is a pre-processed question that can be scored against many documents
// without re-tokenizing it each time.
type Query struct {
	Text     string
	tokens   []string
	expanded []string
	set      map[string]struct{}
	tf       map[string]float64
}

// NewQuery tokenizes and expands text once.
func NewQuery(text string) *Query {
	tokens := Tokenize(text)
	expanded := Expand(tokens)
	return &Query{
		Text:     text,
		tokens:   tokens,
		expanded: expanded,
		set:      TokenSet(expanded),
		tf:       termFrequencies(expanded),
	}
}

// Tokens returns the unexpanded tokens of the query.
func (q *Query) Tokens() []string {
	return q.tokens
}

// Empty reports whether the query has no significant tokens.
func (q *Query) Empty() bool {
	return len(q.tokens) == 0
}

// Scored pairs an input index with its score.
type Scored struct {
	Index int
	Score float64
}

// Scorer computes multi-signal similarity between questions and documents.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the default weights.
func NewScorer() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// NewScorerWithWeights creates a scorer with custom weights.
func NewScorerWithWeights(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Score returns the similarity of query to doc in [0,1].
func (s *Scorer) Score(query string, doc Document) float64 {
	return s.ScoreQuery(NewQuery(query), doc)
}

// ScoreQuery scores a prepared query against doc.
func (s *Scorer) ScoreQuery(q *Query, doc Document) float64 {
	if q == nil || q.Empty() {
		return 0
	}

	docTokens := doc.Tokens
	if len(docTokens) == 0 {
		docTokens = Tokenize(doc.Text)
	}
	docExpanded := Expand(docTokens)

	cosine := cosineSimilarity(q.tf, termFrequencies(docExpanded))
	jaccard := jaccardSimilarity(q.set, TokenSet(docExpanded))
	keyword := keywordMatch(q.set, doc.Keywords)

	score := s.weights.Cosine*cosine +
		s.weights.Jaccard*jaccard +
		s.weights.Keyword*keyword +
		s.weights.ConfidenceBoost*clamp01(doc.Confidence)

	return clamp01(score)
}

// FindSimilar scores every document, keeps those scoring at least minScore,
// and returns at most topK of them ordered by descending score. Equal scores
// keep their input order. A topK of zero or less means no limit.
func (s *Scorer) FindSimilar(query string, docs []Document, topK int, minScore float64) []Scored {
	return s.FindSimilarQuery(NewQuery(query), docs, topK, minScore)
}

// FindSimilarQuery is FindSimilar for a prepared query.
func (s *Scorer) FindSimilarQuery(q *Query, docs []Document, topK int, minScore float64) []Scored {
	results := make([]Scored, 0, len(docs))
	for i, doc := range docs {
		score := s.ScoreQuery(q, doc)
		if score < minScore {
			continue
		}
		results = append(results, Scored{Index: i, Score: score})
	}

	slices.SortStableFunc(results, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func termFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return tf
	}
	for _, t := range tokens {
		tf[t]++
	}
	n := float64(len(tokens))
	for t := range tf {
		tf[t] /= n
	}
	return tf
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for t, va := range a {
		normA += va * va
		if vb, ok := b[t]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// keywordMatch is the fraction of keywords whose tokens all occur in the
// expanded query. Keywords that reduce to no tokens never match.
func keywordMatch(querySet map[string]struct{}, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matched := 0
	for _, kw := range keywords {
		tokens := Tokenize(kw)
		if len(tokens) == 0 {
			continue
		}
		all := true
		for _, t := range tokens {
			if _, ok := querySet[t]; !ok {
				all = false
				break
			}
		}
		if all {
			matched++
		}
	}
	ratio := float64(matched) / float64(len(keywords))
	return math.Min(ratio, 1.0)
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
