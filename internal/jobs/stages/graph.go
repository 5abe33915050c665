package stages

import (
	"github.com/archivolt/mnemos/internal/jobs/runtime"
	"github.com/archivolt/mnemos/internal/pipeerr"
)

// graph hands the run to the assembler. The integrity report travels in the
// stage metrics; a failed report does not fail the run, it fails the gates.
func (s *Stages) graph(rctx *runtime.Context) (map[string]any, error) {
	staged, err := s.deps.Staged.CountEntitiesByRun(rctx.DB, rctx.Run.ID)
	if err != nil {
		return nil, pipeerr.Transientf("count staged entities: %v", err)
	}

	res, err := s.deps.Assembler.Assemble(rctx.DB, rctx.Run.ID)
	if err != nil {
		if pipeerr.IsTransient(err) || pipeerr.IsInvalidData(err) {
			return nil, err
		}
		return nil, pipeerr.Transientf("assemble graph: %v", err)
	}

	metrics := res.Metrics()
	metrics["eligible"] = staged
	metrics["processed"] = res.NodesLoaded
	return metrics, nil
}
