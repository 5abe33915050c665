package stages

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

// literacy measures how readable and how lexically rich the ingested corpus
// is. The numbers land in the stage metrics and in a deliverable so they
// survive the run.
func (s *Stages) literacy(rctx *runtime.Context) (map[string]any, error) {
	units, err := s.deps.Units.ListByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("list units: %v", err)
	}

	totalWords := 0
	totalSentences := 0
	vocab := map[string]bool{}
	for _, u := range units {
		words := strings.Fields(u.Text)
		totalWords += len(words)
		totalSentences += countSentences(u.Text)
		for _, w := range tokenize(u.Text) {
			vocab[w] = true
		}
	}

	avgWordsPerUnit := 0.0
	avgWordsPerSentence := 0.0
	richness := 0.0
	if len(units) > 0 {
		avgWordsPerUnit = float64(totalWords) / float64(len(units))
	}
	if totalSentences > 0 {
		avgWordsPerSentence = float64(totalWords) / float64(totalSentences)
	}
	if totalWords > 0 {
		richness = float64(len(vocab)) / float64(totalWords)
	}

	report := map[string]any{
		"units":                  len(units),
		"total_words":            totalWords,
		"total_sentences":        totalSentences,
		"avg_words_per_unit":     avgWordsPerUnit,
		"avg_words_per_sentence": avgWordsPerSentence,
		"vocabulary_size":        len(vocab),
		"lexical_richness":       richness,
	}
	raw, merr := json.Marshal(report)
	if merr != nil {
		return nil, pipeerr.InvalidDataf("encode literacy report: %v", merr)
	}
	err = s.deps.Deliverables.Upsert(rctx.DB, &domain.Deliverable{
		RunID:   rctx.Run.ID,
		Kind:    domain.DeliverableLiteracyReport,
		Payload: datatypes.JSON(raw),
	})
	if err != nil {
		return nil, pipeerr.Transientf("persist literacy report: %v", err)
	}

	metrics := map[string]any{
		"eligible":  len(units),
		"processed": len(units),
	}
	for k, v := range report {
		metrics[k] = v
	}
	return metrics, nil
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			n++
		}
	}
	if n == 0 && strings.TrimSpace(text) != "" {
		n = 1
	}
	return n
}
