package stages

import (
	"encoding/json"
	"strings"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

// intake normalizes source items into content units: one unit per paragraph.
// Existing units for the run are cleared first so a retried intake starts
// from scratch instead of appending.
func (s *Stages) intake(rctx *runtime.Context) (map[string]any, error) {
	items, err := s.deps.Sources.ListByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("list source items: %v", err)
	}
	if len(items) == 0 {
		return nil, pipeerr.InvalidDataf("run has no source items")
	}

	if err := s.deps.Units.DeleteByRun(rctx.DB, rctx.Run.ID); err != nil {
		return nil, pipeerr.Transientf("clear previous units: %v", err)
	}

	var units []domain.ContentUnit
	skipped := 0
	for _, item := range items {
		text := itemText(item)
		if text == "" {
			skipped++
			rctx.Log.Warn("source item has no extractable text", "source_item_id", item.ID, "uri", item.URI)
			continue
		}
		for seq, para := range splitParagraphs(text) {
			units = append(units, domain.ContentUnit{
				RunID:        rctx.Run.ID,
				SourceItemID: item.ID,
				Seq:          seq,
				Text:         para,
			})
		}
	}

	if err := s.deps.Units.CreateBatch(rctx.DB, units); err != nil {
		return nil, pipeerr.Transientf("persist content units: %v", err)
	}

	return map[string]any{
		"eligible":      len(items),
		"processed":     len(items) - skipped,
		"units_created": len(units),
		"items_skipped": skipped,
	}, nil
}

// itemText pulls the raw text out of a source item. Inline text rides in the
// metadata document; title is the fallback for stub items.
func itemText(item domain.SourceItem) string {
	if len(item.Metadata) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(item.Metadata, &meta); err == nil {
			if t, ok := meta["text"].(string); ok && strings.TrimSpace(t) != "" {
				return t
			}
		}
	}
	return strings.TrimSpace(item.Title)
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
