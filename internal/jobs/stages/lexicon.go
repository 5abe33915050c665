package stages

import (
	"sort"
	"strings"
	"unicode"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
	"github.com/archivolt/mnemos/internal/platform/envutil"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "have": true, "will": true, "they": true, "their": true,
	"them": true, "were": true, "been": true, "which": true, "when": true,
	"what": true, "there": true, "into": true, "also": true, "more": true,
}

// lexicon builds the run's canonical vocabulary: term frequencies over all
// content units, with the most frequent terms staged as lexicon-pool entities
// so they appear in the graph.
func (s *Stages) lexicon(rctx *runtime.Context) (map[string]any, error) {
	units, err := s.deps.Units.ListByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("list units: %v", err)
	}

	counts := map[string]int{}
	for _, u := range units {
		for _, tok := range tokenize(u.Text) {
			counts[tok]++
		}
	}
	if err := s.deps.Lexicon.UpsertTerms(rctx.DB, rctx.Run.ID, counts); err != nil {
		return nil, pipeerr.Transientf("persist lexicon terms: %v", err)
	}

	rec, err := s.deps.Rights.ForRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.InvalidDataf("lexicon before rights: %v", err)
	}

	topN := envutil.Int("LEXICON_TOP_TERMS", 25)
	staged := 0
	for _, term := range topTerms(counts, topN) {
		ent := domain.StagedEntity{
			RunID:          rctx.Run.ID,
			Pool:           domain.PoolLexicon,
			CanonicalKey:   domain.CanonicalKey(term),
			Label:          term,
			ReprText:       term,
			Confidence:     1.0,
			RightsRecordID: &rec.ID,
		}
		if err := s.deps.Staged.UpsertEntities(rctx.DB, []domain.StagedEntity{ent}); err != nil {
			return nil, pipeerr.Transientf("stage lexicon entity: %v", err)
		}
		staged++
	}

	return map[string]any{
		"eligible":       len(units),
		"processed":      len(units),
		"distinct_terms": len(counts),
		"staged_terms":   staged,
	}, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) < 4 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func topTerms(counts map[string]int, n int) []string {
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
