// File: internal/registry/lifecycle.go
package registry

import "github.com/draagonlabs/evoforge/api/schemas"

// allowedTransitions is the lifecycle edge set. The only backward edge is
// TESTING -> DRAFT, taken when a behavior fails its test gate and needs
// rework before another attempt.
var allowedTransitions = map[schemas.Lifecycle][]schemas.Lifecycle{
	schemas.LifecycleDraft:      {schemas.LifecycleTesting},
	schemas.LifecycleTesting:    {schemas.LifecycleStaging, schemas.LifecycleDraft},
	schemas.LifecycleStaging:    {schemas.LifecycleActive},
	schemas.LifecycleActive:     {schemas.LifecycleDeprecated},
	schemas.LifecycleDeprecated: {schemas.LifecycleRetired},
	schemas.LifecycleRetired:    nil,
}

// TransitionAllowed reports whether the lifecycle edge from -> to exists.
func TransitionAllowed(from, to schemas.Lifecycle) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
