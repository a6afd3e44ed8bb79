package boundedcache

import "errors"

// ErrInvalidKey is returned when a key is rejected by Options.KeyValidator
// (spec.md §7's InvalidKey).
var ErrInvalidKey = errors.New("boundedcache: invalid key")

// ErrNotStorable is returned by Set when a value's cost alone exceeds
// Options.MemoryLimitBytes; no eviction is attempted in that case
// (spec.md §7's NotStorable).
var ErrNotStorable = errors.New("boundedcache: value cost exceeds memory limit")
