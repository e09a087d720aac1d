package assembly

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

type visitState uint8

const (
	unvisited visitState = iota
	resolving
	resolved
)

// resolveDefaults walks every parent chain once. A cycle is broken by handing
// back the part's partially resolved transform.
func (a *Assembly) resolveDefaults() []mgl64.Mat4 {
	cache := make([]mgl64.Mat4, len(a.parts))
	state := make([]visitState, len(a.parts))
	for i, part := range a.parts {
		cache[i] = part.AnchorTransform
	}
	for i := range a.parts {
		a.resolveDefault(i, cache, state)
	}
	return cache
}

func (a *Assembly) resolveDefault(index int, cache []mgl64.Mat4, state []visitState) mgl64.Mat4 {
	switch state[index] {
	case resolved:
		return cache[index]
	case resolving:
		a.logger.Error("Cycle detected while resolving transforms",
			log.String("part", a.parts[index].Name))
		return cache[index]
	}

	state[index] = resolving
	part := a.parts[index]
	transform := part.AnchorTransform
	if part.parentIndex >= 0 {
		parent := a.resolveDefault(part.parentIndex, cache, state)
		if part.hasRelative {
			transform = parent.Mul4(part.relative)
		}
	}
	cache[index] = transform
	state[index] = resolved
	return transform
}
