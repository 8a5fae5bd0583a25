package arena

import (
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
)

// Heap is an Allocator backed by the Go heap. Unlike Arena it supports
// individual Dealloc; freed handles are recycled most-recently-freed first.
type Heap[T any] struct {
	storage []T
	freed   []bool
	gaps    []Handle
	limit   int
}

// NewHeap creates a heap allocator. A limit of zero means unbounded.
func NewHeap[T any](limit int) *Heap[T] {
	var zero T

	return &Heap[T]{
		storage: []T{zero},
		freed:   []bool{true},
		limit:   limit,
	}
}

// Alloc returns a zeroed slot, reusing a freed one when available.
func (hp *Heap[T]) Alloc() (Handle, error) {
	var zero T

	if n := len(hp.gaps); n > 0 {
		h := hp.gaps[n-1]
		hp.gaps = hp.gaps[:n-1]
		hp.storage[h] = zero
		hp.freed[h] = false

		return h, nil
	}

	next := len(hp.storage) - 1
	if hp.limit > 0 && next >= hp.limit {
		return Null, fmt.Errorf("%w: heap limit %d", ErrCapacityExceeded, hp.limit)
	}

	if uint64(next) >= MaxCapacity {
		return Null, fmt.Errorf("%w: handle space exhausted", ErrCapacityExceeded)
	}

	hp.storage = append(hp.storage, zero)
	hp.freed = append(hp.freed, false)

	return Handle(safeconv.MustIntToUint32(next + 1)), nil
}

// Resolve returns the live slot addressed by h.
func (hp *Heap[T]) Resolve(h Handle) (*T, error) {
	if int(h) >= len(hp.storage) || hp.freed[h] {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}

	return &hp.storage[h], nil
}

// Dealloc releases h for reuse.
func (hp *Heap[T]) Dealloc(h Handle) error {
	if int(h) >= len(hp.storage) || hp.freed[h] {
		return fmt.Errorf("%w: double free or unknown handle %d", ErrInvalidHandle, h)
	}

	var zero T

	hp.storage[h] = zero
	hp.freed[h] = true
	hp.gaps = append(hp.gaps, h)

	return nil
}

// Len returns the number of slots ever handed out, freed ones included.
func (hp *Heap[T]) Len() int {
	return len(hp.storage) - 1
}

// Used returns the number of live slots.
func (hp *Heap[T]) Used() int {
	return hp.Len() - len(hp.gaps)
}

// Each calls fn for every live slot in handle order.
func (hp *Heap[T]) Each(fn func(h Handle, v *T)) {
	for idx := 1; idx < len(hp.storage); idx++ {
		if hp.freed[idx] {
			continue
		}

		fn(Handle(safeconv.MustIntToUint32(idx)), &hp.storage[idx])
	}
}

// Place stores v at exactly h, growing the heap and marking skipped slots as freed.
// Used to restore a persisted heap with its original handles.
func (hp *Heap[T]) Place(h Handle, v T) error {
	if h == Null {
		return fmt.Errorf("%w: null", ErrInvalidHandle)
	}

	if hp.limit > 0 && int(h) > hp.limit || uint64(h) > MaxCapacity {
		return fmt.Errorf("%w: handle %d beyond heap limit %d", ErrCapacityExceeded, h, hp.limit)
	}

	for len(hp.storage) <= int(h) {
		var zero T

		hp.storage = append(hp.storage, zero)
		hp.freed = append(hp.freed, true)
		hp.gaps = append(hp.gaps, Handle(safeconv.MustIntToUint32(len(hp.storage)-1)))
	}

	if !hp.freed[h] {
		return fmt.Errorf("%w: slot %d already live", ErrInvalidHandle, h)
	}

	for idx, gap := range hp.gaps {
		if gap == h {
			hp.gaps = append(hp.gaps[:idx], hp.gaps[idx+1:]...)

			break
		}
	}

	hp.storage[h] = v
	hp.freed[h] = false

	return nil
}
