package gateways

import (
	"context"
	"strings"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// HeuristicExtractor is the zero-dependency fallback used when no extraction
// service is configured. It treats each content unit's first sentence as a
// practical-pool entity and links consecutive units with connects_to. Good
// enough for local development and pipeline tests; not for production.
type HeuristicExtractor struct {
	log *logger.Logger
}

func NewHeuristicExtractor(baseLog *logger.Logger) *HeuristicExtractor {
	return &HeuristicExtractor{log: baseLog.With("gateway", "HeuristicExtraction")}
}

func (h *HeuristicExtractor) Extract(ctx context.Context, units []domain.ContentUnit) (ExtractionResult, error) {
	var out ExtractionResult
	var prevLabel string
	for _, u := range units {
		label := firstSentence(u.Text)
		if label == "" {
			continue
		}
		out.Entities = append(out.Entities, ExtractedEntity{
			Pool:       string(domain.PoolPractical),
			Label:      label,
			ReprText:   u.Text,
			Confidence: 0.5,
		})
		if prevLabel != "" && prevLabel != label {
			out.Relations = append(out.Relations, ExtractedRelation{
				SourcePool:  string(domain.PoolPractical),
				SourceLabel: prevLabel,
				TargetPool:  string(domain.PoolPractical),
				TargetLabel: label,
				Verb:        "connects_to",
				Confidence:  0.5,
			})
		}
		prevLabel = label
	}
	return out, nil
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for _, stop := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(text, stop); i >= 0 {
			text = text[:i]
		}
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return strings.TrimSpace(strings.TrimSuffix(text, "."))
}
