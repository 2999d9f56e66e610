package engine

import (
	"sync/atomic"
)

// BusyState is the single busy flag shared between a caller and its generator.
// The zero value is idle and ready to use.
type BusyState struct {
	busy atomic.Bool
}

// NewBusyState returns an idle busy state.
func NewBusyState() *BusyState {
	return &BusyState{}
}

// TryAcquire marks the state busy. It returns false if it already was.
func (b *BusyState) TryAcquire() bool {
	return b.busy.CompareAndSwap(false, true)
}

// Release marks the state idle.
func (b *BusyState) Release() {
	b.busy.Store(false)
}

// Busy reports whether an invocation currently holds the state.
// Hosts use it to disable their trigger.
func (b *BusyState) Busy() bool {
	return b.busy.Load()
}
