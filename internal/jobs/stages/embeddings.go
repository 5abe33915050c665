package stages

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

const embeddingBatchSize = 64

// embeddings vectorizes every staged entity's representative text. Vectors
// are keyed on the entity's merge identity, so reruns overwrite in place.
func (s *Stages) embeddings(rctx *runtime.Context) (map[string]any, error) {
	ents, err := s.deps.Staged.ListEntitiesByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("list staged entities: %v", err)
	}

	embedded := 0
	for start := 0; start < len(ents); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(ents))
		batch := ents[start:end]

		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.ReprText
			if texts[i] == "" {
				texts[i] = e.Label
			}
		}

		vectors, err := s.deps.Embedder.Embed(rctx.DB.Ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, pipeerr.InvalidDataf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}

		embs := make([]domain.EntityEmbedding, 0, len(batch))
		for i, e := range batch {
			raw, merr := json.Marshal(vectors[i])
			if merr != nil {
				return nil, pipeerr.InvalidDataf("encode vector for %s/%s: %v", e.Pool, e.CanonicalKey, merr)
			}
			embs = append(embs, domain.EntityEmbedding{
				RunID:        rctx.Run.ID,
				Pool:         e.Pool,
				CanonicalKey: e.CanonicalKey,
				Dims:         len(vectors[i]),
				Vector:       datatypes.JSON(raw),
			})
		}
		if err := s.deps.Embeddings.Upsert(rctx.DB, embs); err != nil {
			return nil, pipeerr.Transientf("persist embeddings: %v", err)
		}
		embedded += len(embs)
	}

	return map[string]any{
		"eligible":  len(ents),
		"processed": embedded,
	}, nil
}
