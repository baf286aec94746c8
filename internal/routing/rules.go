package routing

import (
	"regexp"
	"strings"

	"github.com/jonathan/courseware-agent/internal/catalog"
	"github.com/jonathan/courseware-agent/internal/types"
)

// Keyword weights. A multi-word phrase is stronger evidence than a single word.
const (
	phraseScore     = 0.8
	wordScore       = 0.55
	extraMatchScore = 0.1
	maxKeywordScore = 0.95
)

// ruleSet holds compiled keyword matchers per pipeline.
type ruleSet struct {
	pipelines []catalog.Pipeline
	keywords  map[types.ArtifactType][]keyword
}

type keyword struct {
	phrase bool
	re     *regexp.Regexp
}

func newRuleSet(c *catalog.Catalog) *ruleSet {
	rs := &ruleSet{pipelines: c.Pipelines, keywords: make(map[types.ArtifactType][]keyword)}
	for _, p := range c.Pipelines {
		for _, kw := range p.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			words := strings.Fields(kw)
			for i, w := range words {
				words[i] = regexp.QuoteMeta(w)
			}
			rs.keywords[p.Name] = append(rs.keywords[p.Name], keyword{
				phrase: len(words) > 1,
				re:     regexp.MustCompile(`\b` + strings.Join(words, `\s+`) + `\b`),
			})
		}
	}
	return rs
}

// Score rates every pipeline against the request text and attached files.
// Scores are in [0,1] and returned in catalog order.
func (rs *ruleSet) Score(text string, files []types.SourceDocument) []Candidate {
	lower := strings.ToLower(text)
	out := make([]Candidate, 0, len(rs.pipelines))
	for _, p := range rs.pipelines {
		score := keywordScore(rs.keywords[p.Name], lower) + fileBoost(p.FileHints, files)
		if score > 1 {
			score = 1
		}
		out = append(out, Candidate{Pipeline: p.Name, Score: score})
	}
	return out
}

func keywordScore(keywords []keyword, text string) float64 {
	var best float64
	matches := 0
	for _, kw := range keywords {
		if !kw.re.MatchString(text) {
			continue
		}
		matches++
		s := wordScore
		if kw.phrase {
			s = phraseScore
		}
		if s > best {
			best = s
		}
	}
	if matches == 0 {
		return 0
	}
	score := best + float64(matches-1)*extraMatchScore
	if score > maxKeywordScore {
		score = maxKeywordScore
	}
	return score
}

// fileBoost adds each hint's boost once when any file matches it.
func fileBoost(hints []catalog.FileHint, files []types.SourceDocument) float64 {
	var boost float64
	for _, h := range hints {
		for _, f := range files {
			if h.Matches(f) {
				boost += h.Boost
				break
			}
		}
	}
	return boost
}
