// Package idgen generates TracingIDs: 64-bit monotonically increasing
// identifiers used to tag statistics/reset boundaries (spec.md §3).
package idgen

import (
	"time"

	"github.com/flightcache/flightcache/internal/util"
)

// TracingID is a 64-bit identifier, monotonically increasing within one
// Factory's lifetime.
type TracingID uint64

// Factory produces TracingIDs. Each Factory mixes a wall-clock-derived
// high half, captured once at construction, with a sequential low-half
// counter, so that IDs minted by different Factory instances (e.g. two
// BoundedCache instances created moments apart) do not overlap even
// though each counter individually starts at zero.
type Factory struct {
	epoch   uint64 // captured once; upper 32 bits of the minted ID
	counter util.PaddedAtomicUint64
}

// NewFactory returns a Factory disambiguated by the current wall time.
func NewFactory() *Factory {
	const mask32 = 1<<32 - 1
	return &Factory{epoch: (uint64(time.Now().UnixNano()) & mask32) << 32}
}

// Next returns the next TracingID from f. Safe for concurrent use.
func (f *Factory) Next() TracingID {
	n := f.counter.Add(1)
	return TracingID(f.epoch | n)
}

// Reset zeroes the counter, starting a fresh ID range from the same
// epoch: the next ID minted repeats the first ID this Factory ever
// returned.
func (f *Factory) Reset() {
	f.counter.Store(0)
}
