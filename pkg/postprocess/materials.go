package postprocess

import (
	"context"

	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// removeRedundantMaterials merges materials whose properties are equal
// apart from the name and drops materials no mesh uses. The first
// material of each equal group keeps its name. Mesh material indices are
// remapped.
func (p *Pipeline) removeRedundantMaterials(_ context.Context, s *scene.Scene) error {
	used := make([]bool, len(s.Materials))
	for _, m := range s.Meshes {
		used[m.MaterialIndex] = true
	}

	remap := make([]int, len(s.Materials))
	kept := make([]*scene.Material, 0, len(s.Materials))
	for i, mat := range s.Materials {
		remap[i] = -1
		if !used[i] {
			continue
		}
		for j, k := range kept {
			if k.Equal(mat) {
				remap[i] = j
				break
			}
		}
		if remap[i] < 0 {
			remap[i] = len(kept)
			kept = append(kept, mat)
		}
	}

	if removed := len(s.Materials) - len(kept); removed > 0 {
		p.log.Debug("removed redundant materials",
			zap.Int("before", len(s.Materials)),
			zap.Int("after", len(kept)))
	}
	s.Materials = kept
	for _, m := range s.Meshes {
		m.MaterialIndex = remap[m.MaterialIndex]
	}
	return nil
}
