// Package arena provides fixed-capacity node storage addressed by small integer
// handles, so that node graphs can be copied, compacted and persisted as flat arrays.
package arena

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
)

// Handle addresses a slot. The zero Handle is the null reference.
type Handle uint32

// Null is the reserved "no node" handle.
const Null Handle = 0

// MaxCapacity is the largest number of slots an arena can address.
// Handle math.MaxUint32 is kept free so that callers can use it as a sentinel.
const MaxCapacity = math.MaxUint32 - 1

// Sentinel errors.
var (
	ErrOutOfMemory      = errors.New("arena: requested capacity cannot be addressed")
	ErrCapacityExceeded = errors.New("arena: capacity exceeded")
	ErrInvalidHandle    = errors.New("arena: invalid handle")
	ErrDestroyed        = errors.New("arena: use after destroy")
)

// Allocator is the handle-based allocation surface shared by Arena and Heap.
type Allocator[T any] interface {
	Alloc() (Handle, error)
	Resolve(h Handle) (*T, error)
	Len() int
}

// Arena is an append-only slot allocator with a capacity fixed at creation.
// Handles are never reused; only bulk Reset and Destroy release slots.
type Arena[T any] struct {
	// slots[0] is reserved for Null; len(slots)-1 is the allocation cursor.
	slots    []T
	capacity int
}

// New creates an arena able to hold capacity slots of T.
func New[T any](capacity int) (*Arena[T], error) {
	if capacity < 0 || uint64(capacity) > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d", ErrOutOfMemory, capacity)
	}

	size := int(reflect.TypeFor[T]().Size())
	if !safeconv.MulFits(capacity+1, max(size, 1)) {
		return nil, fmt.Errorf("%w: %d slots of %d bytes", ErrOutOfMemory, capacity, size)
	}

	return &Arena[T]{
		slots:    make([]T, 1, capacity+1),
		capacity: capacity,
	}, nil
}

// Alloc reserves the next zeroed slot.
func (a *Arena[T]) Alloc() (Handle, error) {
	if a.slots == nil {
		return Null, ErrDestroyed
	}

	next := len(a.slots) - 1
	if next >= a.capacity {
		return Null, fmt.Errorf("%w: %d of %d slots in use", ErrCapacityExceeded, next, a.capacity)
	}

	var zero T

	a.slots = append(a.slots, zero)

	return Handle(safeconv.MustIntToUint32(next + 1)), nil
}

// Resolve returns the slot addressed by h, or ErrInvalidHandle when h was never allocated.
func (a *Arena[T]) Resolve(h Handle) (*T, error) {
	if h == Null || int(h) >= len(a.slots) {
		return nil, fmt.Errorf("%w: %d (next %d)", ErrInvalidHandle, h, a.Len())
	}

	return &a.slots[h], nil
}

// At is Resolve for handles the caller already knows to be valid. It panics otherwise.
func (a *Arena[T]) At(h Handle) *T {
	slot, err := a.Resolve(h)
	if err != nil {
		panic(err)
	}

	return slot
}

// Len returns the number of allocated slots (the allocation cursor).
func (a *Arena[T]) Len() int {
	if a == nil || a.slots == nil {
		return 0
	}

	return len(a.slots) - 1
}

// Cap returns the fixed capacity.
func (a *Arena[T]) Cap() int {
	return a.capacity
}

// Free returns the number of slots still available.
func (a *Arena[T]) Free() int {
	return a.capacity - a.Len()
}

// Slots returns the allocated slots in handle order; Slots()[i] holds Handle(i+1).
// The slice aliases arena storage.
func (a *Arena[T]) Slots() []T {
	if a.slots == nil {
		return nil
	}

	return a.slots[1:]
}

// Load replaces the arena contents with records, record i becoming Handle(i+1).
func (a *Arena[T]) Load(records []T) error {
	if a.slots == nil {
		return ErrDestroyed
	}

	if len(records) > a.capacity {
		return fmt.Errorf("%w: %d records for capacity %d", ErrCapacityExceeded, len(records), a.capacity)
	}

	a.slots = a.slots[:1]
	a.slots = append(a.slots, records...)

	return nil
}

// Reset drops every slot while keeping the backing storage.
func (a *Arena[T]) Reset() {
	if a.slots == nil {
		return
	}

	clear(a.slots[1:])
	a.slots = a.slots[:1]
}

// Destroy releases the backing storage. It is safe to call more than once and on nil.
func (a *Arena[T]) Destroy() {
	if a == nil {
		return
	}

	a.slots = nil
}
