// Package itree provides an AVL-balanced interval tree keyed by interval
// start and augmented with the maximum end of each subtree.
//
// The tree counts rather than reports: Count and Exact return how many
// stored intervals satisfy a predicate, Within additionally materializes a
// bounded number of matches.
package itree

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
)

// Field widths of the node record.
const (
	PositionBits = 28
	SampleBits   = 29

	// MaxPosition is the largest storable start or end coordinate.
	MaxPosition = 1<<PositionBits - 1
	// MaxSample is the largest storable sample identifier.
	MaxSample = 1<<SampleBits - 1
)

// Sentinel errors.
var (
	ErrCapacityExceeded = avl.ErrCapacityExceeded
	ErrOverflow         = safeconv.ErrOverflow
	ErrInvertedInterval = errors.New("itree: interval end precedes start")
)

// Interval is one stored node: the half-open range [Start, End), the owning
// sample and an entity payload. Max is maintained by the tree.
type Interval[P any] struct {
	Start   uint32
	End     uint32
	Max     uint32
	Sample  uint32
	Payload P
}

// Weigh returns how many times iv counts towards a query result; zero
// rejects it.
type Weigh[P any] func(iv *Interval[P]) uint64

// Tree is an interval tree over payloads of type P.
type Tree[P any] struct {
	nodes *avl.Tree[Interval[P]]
}

func compareStart[P any](a, b *Interval[P]) int {
	return cmp.Compare(a.Start, b.Start)
}

func augmentMax[P any](iv, left, right *Interval[P]) {
	iv.Max = iv.End

	if left != nil {
		iv.Max = max(iv.Max, left.Max)
	}

	if right != nil {
		iv.Max = max(iv.Max, right.Max)
	}
}

// New creates an empty tree with room for capacity intervals.
func New[P any](capacity int) (*Tree[P], error) {
	nodes, err := avl.New(capacity, compareStart[P], augmentMax[P])
	if err != nil {
		return nil, fmt.Errorf("itree: %w", err)
	}

	return &Tree[P]{nodes: nodes}, nil
}

// CheckBounds validates the field widths of an interval.
func CheckBounds(start, end, sample uint32) error {
	switch {
	case start > MaxPosition || end > MaxPosition:
		return fmt.Errorf("%w: position %d-%d exceeds %d", ErrOverflow, start, end, MaxPosition)
	case sample > MaxSample:
		return fmt.Errorf("%w: sample %d exceeds %d", ErrOverflow, sample, MaxSample)
	case end < start:
		return fmt.Errorf("%w: %d-%d", ErrInvertedInterval, start, end)
	}

	return nil
}

// Insert stores iv. The tree is unchanged on error.
func (t *Tree[P]) Insert(iv Interval[P]) (arena.Handle, error) {
	err := CheckBounds(iv.Start, iv.End, iv.Sample)
	if err != nil {
		return arena.Null, err
	}

	return t.nodes.Insert(iv)
}

// Count returns the weighted number of stored intervals containing
// [start, end), restricted to samples admitted by subset.
func (t *Tree[P]) Count(start, end uint32, subset *avl.Multiset, weigh Weigh[P]) uint64 {
	return t.count(t.nodes.Root(), start, end, subset, weigh)
}

func (t *Tree[P]) count(h arena.Handle, start, end uint32, subset *avl.Multiset, weigh Weigh[P]) uint64 {
	if h == arena.Null {
		return 0
	}

	node := t.nodes.Node(h)
	iv := &node.Item

	if iv.Max < end {
		return 0
	}

	if iv.Start > start {
		return t.count(node.Child[0], start, end, subset, weigh)
	}

	var total uint64
	if iv.End >= end && subset.Admits(iv.Sample) {
		total = weigh(iv)
	}

	return total +
		t.count(node.Child[0], start, end, subset, weigh) +
		t.count(node.Child[1], start, end, subset, weigh)
}

// Exact returns the weighted number of stored intervals equal to
// [start, end), restricted to samples admitted by subset.
func (t *Tree[P]) Exact(start, end uint32, subset *avl.Multiset, weigh Weigh[P]) uint64 {
	return t.exact(t.nodes.Root(), start, end, subset, weigh)
}

func (t *Tree[P]) exact(h arena.Handle, start, end uint32, subset *avl.Multiset, weigh Weigh[P]) uint64 {
	if h == arena.Null {
		return 0
	}

	node := t.nodes.Node(h)
	iv := &node.Item

	switch {
	case iv.Max < end:
		return 0
	case iv.Start > start:
		return t.exact(node.Child[0], start, end, subset, weigh)
	case iv.Start < start:
		return t.exact(node.Child[1], start, end, subset, weigh)
	}

	// Rotations may leave equal starts on either side.
	var total uint64
	if iv.End == end && subset.Admits(iv.Sample) {
		total = weigh(iv)
	}

	return total +
		t.exact(node.Child[0], start, end, subset, weigh) +
		t.exact(node.Child[1], start, end, subset, weigh)
}

// Within collects stored intervals lying inside [start, end] in start
// order. At most limit matches are materialized; the returned total counts
// every match.
func (t *Tree[P]) Within(start, end uint32, subset *avl.Multiset, limit int) ([]Interval[P], uint64) {
	var (
		out   []Interval[P]
		total uint64
	)

	t.within(t.nodes.Root(), start, end, func(iv *Interval[P]) {
		if !subset.Admits(iv.Sample) {
			return
		}

		total++

		if len(out) < limit {
			out = append(out, *iv)
		}
	})

	return out, total
}

func (t *Tree[P]) within(h arena.Handle, start, end uint32, visit func(*Interval[P])) {
	if h == arena.Null {
		return
	}

	node := t.nodes.Node(h)
	iv := &node.Item

	if iv.Max < start {
		return
	}

	if iv.Start >= start {
		t.within(node.Child[0], start, end, visit)
	}

	if iv.Start > end {
		return
	}

	if iv.Start >= start && iv.End <= end {
		visit(iv)
	}

	t.within(node.Child[1], start, end, visit)
}

// Remove drops every interval whose sample is in subset, calling release
// for each dropped interval, and rebuilds the tree. A nil subset removes
// nothing. It returns the number removed.
func (t *Tree[P]) Remove(subset *avl.Multiset, release func(iv *Interval[P])) int {
	if subset == nil || subset.Len() == 0 {
		return 0
	}

	return t.nodes.Rebuild(func(iv *Interval[P]) bool {
		if !subset.IsElement(iv.Sample) {
			return true
		}

		if release != nil {
			release(iv)
		}

		return false
	})
}

// Reorder compacts the backing arena; see avl.Tree.Reorder.
func (t *Tree[P]) Reorder() error {
	return t.nodes.Reorder()
}

// Walk visits live intervals in start order until fn returns false.
func (t *Tree[P]) Walk(fn func(iv *Interval[P]) bool) {
	t.nodes.Walk(func(_ arena.Handle, iv *Interval[P]) bool {
		return fn(iv)
	})
}

// Len returns the number of live intervals.
func (t *Tree[P]) Len() int { return t.nodes.Len() }

// Dead returns the number of tombstoned slots.
func (t *Tree[P]) Dead() int { return t.nodes.Dead() }

// Cap returns the capacity.
func (t *Tree[P]) Cap() int { return t.nodes.Cap() }

// Height returns the tree height.
func (t *Tree[P]) Height() int { return t.nodes.Height() }

// Validate checks the balancing invariants and the max augmentation.
func (t *Tree[P]) Validate() error {
	err := t.nodes.Validate()
	if err != nil {
		return err
	}

	var bad error

	t.nodes.Walk(func(h arena.Handle, iv *Interval[P]) bool {
		node := t.nodes.Node(h)
		want := iv.End

		for _, child := range node.Child {
			if child != arena.Null {
				want = max(want, t.nodes.Node(child).Item.Max)
			}
		}

		if iv.Max != want {
			bad = fmt.Errorf("%w: max %d at handle %d, want %d", avl.ErrInvariant, iv.Max, h, want)

			return false
		}

		return true
	})

	return bad
}

// Destroy releases the storage.
func (t *Tree[P]) Destroy() {
	t.nodes.Destroy()
}
