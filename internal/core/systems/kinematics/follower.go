package kinematics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
)

// follower is rigidly attached to its source: current = source * offset.
type follower struct {
	name      string
	sourceIdx int
	idx       int
	offset    mgl64.Mat4
}

func (b *builder) buildFollowers() []follower {
	out := make([]follower, 0, len(b.templates.Followers))
	for _, t := range b.templates.Followers {
		source, sourceIdx, ok := b.anchor(t.Source)
		if !ok {
			continue
		}
		target, idx, ok := b.anchor(t.Follower)
		if !ok {
			continue
		}
		out = append(out, follower{
			name:      t.Follower,
			sourceIdx: sourceIdx,
			idx:       idx,
			offset:    geom.InvertRigid(source.DefaultTransform).Mul4(target.DefaultTransform),
		})
	}
	return out
}

// apply runs after every driver, so the source already holds its pose for this angle.
func (f *follower) apply(pose []assembly.PartTransform) {
	pose[f.idx].Transform = pose[f.sourceIdx].Transform.Mul4(f.offset)
}
