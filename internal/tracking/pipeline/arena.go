package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Slot is a value that can mark itself as unused.
type Slot interface {
	IsEmpty() bool
}

// SlotArena is a fixed-stride slot array: seed i owns slots
// [i*stride, (i+1)*stride). Workers fill their own window and report how
// many slots they used through the shared atomic counter.
type SlotArena[T Slot] struct {
	stride int
	slots  []T
	count  atomic.Int64
}

// NewSlotArena allocates seeds*stride slots, all set to empty.
func NewSlotArena[T Slot](seeds, stride int, empty T) *SlotArena[T] {
	a := &SlotArena[T]{stride: stride, slots: make([]T, seeds*stride)}
	for i := range a.slots {
		a.slots[i] = empty
	}
	return a
}

// Len is the total number of slots.
func (a *SlotArena[T]) Len() int { return len(a.slots) }

// Window returns the slots owned by seed.
func (a *SlotArena[T]) Window(seed int) []T {
	return a.slots[seed*a.stride : (seed+1)*a.stride]
}

// Add adds n to the filled-slot counter.
func (a *SlotArena[T]) Add(n int) {
	if n > 0 {
		a.count.Add(int64(n))
	}
}

// Count returns the number of filled slots reported so far.
func (a *SlotArena[T]) Count() int { return int(a.count.Load()) }

// Compact copies every non-empty slot into a dense slice. Each kept slot
// takes its destination index from one atomic increment, so the output
// order depends on the executor.
func (a *SlotArena[T]) Compact(ctx context.Context, ex Executor) ([]T, error) {
	dst := make([]T, a.Count())
	var next atomic.Int64
	var overflow atomic.Bool
	err := ex.Run(ctx, len(a.slots), func(i int) {
		if a.slots[i].IsEmpty() {
			return
		}
		k := next.Add(1) - 1
		if k >= int64(len(dst)) {
			overflow.Store(true)
			return
		}
		dst[k] = a.slots[i]
	})
	if err != nil {
		return nil, err
	}
	if overflow.Load() {
		return nil, fmt.Errorf("slot arena holds %d filled slots but counted %d", next.Load(), len(dst))
	}
	return dst[:next.Load()], nil
}

// Release drops the slot storage once the compacted copy has been taken.
func (a *SlotArena[T]) Release() {
	a.slots = nil
}
