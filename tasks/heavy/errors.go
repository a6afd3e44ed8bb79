package heavy

import "errors"

// ErrEvictedDueToPriority is delivered when a queued task is displaced
// from the admission queue by a higher-priority arrival, or when the
// arrival itself is rejected for not outranking the eviction candidate
// (spec.md §4.6, §7).
var ErrEvictedDueToPriority = errors.New("tasks/heavy: evicted due to priority")

// ErrCancelled is delivered on Cancel.
var ErrCancelled = errors.New("tasks/heavy: cancelled")
