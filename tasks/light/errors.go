package light

import "errors"

// ErrEvictedDueToPriority is delivered to a task's subscribers when the
// task is displaced from the admission queue to make room for a
// higher-priority arrival, or when the new arrival itself is rejected
// because it isn't higher priority than the eviction candidate
// (spec.md §4.5, §7).
var ErrEvictedDueToPriority = errors.New("tasks/light: evicted due to priority")

// ErrCancelled is delivered when Cancel removes a queued task or
// detaches subscribers from a running one.
var ErrCancelled = errors.New("tasks/light: cancelled")

// ErrKeyMissingFromBatch is delivered to a subscriber of a key that a
// multi provider's batch call succeeded for overall but whose returned
// map omitted that particular key.
var ErrKeyMissingFromBatch = errors.New("tasks/light: multi provider did not return a result for key")
