// Package avl implements an AVL-balanced binary search tree stored in a
// fixed-capacity arena.
//
// Tree is the shared balancing engine: callers supply an ordering and an
// optional augmentation hook, and the engine keeps both the AVL invariant and
// the augmentation consistent across insertions, bulk rebuilds and compaction.
// Duplicate keys are kept as distinct nodes; equal keys descend right.
//
// Nodes are never deleted one by one. Rebuild drops a filtered set of nodes
// and relinks the survivors into a balanced shape (O(n)); the dropped slots
// stay allocated as tombstones until Reorder copies the live nodes into a
// fresh, dense arena (O(n)).
package avl

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
)

// maxDepth bounds the height of an AVL tree addressable by 32-bit handles
// (1.44 * log2(2^32) < 48).
const maxDepth = 64

// Sentinel errors.
var (
	// ErrCapacityExceeded is the arena error, re-exported for callers of this package.
	ErrCapacityExceeded = arena.ErrCapacityExceeded
	// ErrInvariant reports a structural check failure.
	ErrInvariant = errors.New("avl: invariant violated")
)

// Node is one tree slot: two child handles, the balance factor
// (height(right) - height(left)) and the caller's item.
type Node[T any] struct {
	Child   [2]arena.Handle
	Balance int8
	Item    T
}

// Compare orders items. A non-negative result sends a sits right of b.
type Compare[T any] func(a, b *T) int

// Augment recomputes derived fields of item from its children; absent
// children are nil.
type Augment[T any] func(item, left, right *T)

// Tree is an AVL tree over items of type T.
type Tree[T any] struct {
	nodes   *arena.Arena[Node[T]]
	root    arena.Handle
	dead    int
	cmp     Compare[T]
	augment Augment[T]
}

// New creates an empty tree able to hold capacity nodes. augment may be nil.
func New[T any](capacity int, cmp Compare[T], augment Augment[T]) (*Tree[T], error) {
	nodes, err := arena.New[Node[T]](capacity)
	if err != nil {
		return nil, fmt.Errorf("avl: %w", err)
	}

	return &Tree[T]{nodes: nodes, cmp: cmp, augment: augment}, nil
}

// Len returns the number of live items.
func (t *Tree[T]) Len() int {
	return t.nodes.Len() - t.dead
}

// Slots returns the number of allocated node slots, tombstones included.
func (t *Tree[T]) Slots() int {
	return t.nodes.Len()
}

// Dead returns the number of tombstoned slots awaiting Reorder.
func (t *Tree[T]) Dead() int {
	return t.dead
}

// Cap returns the node capacity.
func (t *Tree[T]) Cap() int {
	return t.nodes.Cap()
}

// Root returns the root handle, arena.Null for an empty tree.
func (t *Tree[T]) Root() arena.Handle {
	return t.root
}

// Node returns the node addressed by h. It panics on an invalid handle.
func (t *Tree[T]) Node(h arena.Handle) *Node[T] {
	return t.nodes.At(h)
}

// Destroy releases the node storage. Safe to call more than once.
func (t *Tree[T]) Destroy() {
	t.nodes.Destroy()
	t.root = arena.Null
	t.dead = 0
}

// Insert adds item and rebalances. On ErrCapacityExceeded the tree is unchanged.
func (t *Tree[T]) Insert(item T) (arena.Handle, error) {
	h, err := t.nodes.Alloc()
	if err != nil {
		return arena.Null, fmt.Errorf("avl insert: %w", err)
	}

	fresh := t.nodes.At(h)
	fresh.Item = item
	t.touch(h)

	if t.root == arena.Null {
		t.root = h

		return h, nil
	}

	var (
		path [maxDepth]arena.Handle
		dirs [maxDepth]uint8
	)

	// top indexes the lowest ancestor with a non-zero balance; it is the only
	// node that can become unbalanced.
	depth, top := 0, 0

	for cursor := t.root; ; {
		node := t.nodes.At(cursor)

		var dir uint8
		if t.cmp(&fresh.Item, &node.Item) >= 0 {
			dir = 1
		}

		if node.Balance != 0 {
			top = depth
		}

		doAssert(depth < maxDepth)

		path[depth], dirs[depth] = cursor, dir
		depth++

		if node.Child[dir] == arena.Null {
			node.Child[dir] = h

			break
		}

		cursor = node.Child[dir]
	}

	for idx := depth - 1; idx >= 0; idx-- {
		t.touch(path[idx])
	}

	// Nodes strictly below top were balanced and now lean towards the new leaf.
	for idx := top + 1; idx < depth; idx++ {
		t.nodes.At(path[idx]).Balance += sign(dirs[idx])
	}

	pivot := t.nodes.At(path[top])
	delta := sign(dirs[top])

	switch pivot.Balance {
	case 0:
		pivot.Balance = delta
	case -delta:
		pivot.Balance = 0
	default:
		subtree := t.rebalance(path[top], dirs[top])
		if top == 0 {
			t.root = subtree
		} else {
			t.nodes.At(path[top-1]).Child[dirs[top-1]] = subtree
		}
	}

	return h, nil
}

// rebalance restores the invariant at h whose dir side became two levels
// taller, and returns the new subtree root.
func (t *Tree[T]) rebalance(h arena.Handle, dir uint8) arena.Handle {
	node := t.nodes.At(h)
	delta := sign(dir)
	childH := node.Child[dir]
	child := t.nodes.At(childH)

	if child.Balance == delta {
		top := t.rotate(h, dir)
		node.Balance = 0
		child.Balance = 0

		return top
	}

	grandH := child.Child[1-dir]
	grand := t.nodes.At(grandH)

	node.Child[dir] = t.rotate(childH, 1-dir)
	top := t.rotate(h, dir)

	switch grand.Balance {
	case delta:
		node.Balance, child.Balance = -delta, 0
	case 0:
		node.Balance, child.Balance = 0, 0
	default:
		node.Balance, child.Balance = 0, delta
	}

	grand.Balance = 0

	return top
}

// rotate lifts the child on side dir above h and returns it. Balance factors
// are left to the caller; augmentation is recomputed bottom-up.
func (t *Tree[T]) rotate(h arena.Handle, dir uint8) arena.Handle {
	node := t.nodes.At(h)
	childH := node.Child[dir]
	child := t.nodes.At(childH)

	node.Child[dir] = child.Child[1-dir]
	child.Child[1-dir] = h

	t.touch(h)
	t.touch(childH)

	return childH
}

// touch recomputes the augmentation of h from its children.
func (t *Tree[T]) touch(h arena.Handle) {
	if t.augment == nil {
		return
	}

	node := t.nodes.At(h)

	var left, right *T

	if node.Child[0] != arena.Null {
		left = &t.nodes.At(node.Child[0]).Item
	}

	if node.Child[1] != arena.Null {
		right = &t.nodes.At(node.Child[1]).Item
	}

	t.augment(&node.Item, left, right)
}

// Walk visits live items in order. Returning false stops the walk.
func (t *Tree[T]) Walk(fn func(h arena.Handle, item *T) bool) {
	t.walk(t.root, fn)
}

func (t *Tree[T]) walk(h arena.Handle, fn func(arena.Handle, *T) bool) bool {
	if h == arena.Null {
		return true
	}

	node := t.nodes.At(h)

	return t.walk(node.Child[0], fn) && fn(h, &node.Item) && t.walk(node.Child[1], fn)
}

// Height returns the height of the tree; an empty tree has height 0.
func (t *Tree[T]) Height() int {
	return t.height(t.root)
}

func (t *Tree[T]) height(h arena.Handle) int {
	if h == arena.Null {
		return 0
	}

	node := t.nodes.At(h)

	return 1 + max(t.height(node.Child[0]), t.height(node.Child[1]))
}

// Rebuild drops every item for which keep returns false and relinks the
// survivors into a perfectly balanced tree over the same slots. Dropped
// slots become tombstones. It returns the number of dropped items.
func (t *Tree[T]) Rebuild(keep func(item *T) bool) int {
	live := make([]arena.Handle, 0, t.Len())
	removed := 0

	t.Walk(func(h arena.Handle, item *T) bool {
		if keep(item) {
			live = append(live, h)
		} else {
			removed++
		}

		return true
	})

	if removed == 0 {
		return 0
	}

	t.dead += removed
	t.root, _ = t.build(live)

	return removed
}

// build links sorted handles into a balanced subtree and returns its root and height.
func (t *Tree[T]) build(handles []arena.Handle) (arena.Handle, int) {
	if len(handles) == 0 {
		return arena.Null, 0
	}

	mid := len(handles) / 2
	left, leftHeight := t.build(handles[:mid])
	right, rightHeight := t.build(handles[mid+1:])

	node := t.nodes.At(handles[mid])
	node.Child = [2]arena.Handle{left, right}
	node.Balance = int8(rightHeight - leftHeight)
	t.touch(handles[mid])

	return handles[mid], 1 + max(leftHeight, rightHeight)
}

// Reorder compacts the arena: live nodes are copied in order into a fresh
// arena of the same capacity and every child handle is rewritten. The tree
// is only modified once the copy has fully succeeded.
func (t *Tree[T]) Reorder() error {
	if t.dead == 0 {
		return nil
	}

	fresh, err := arena.New[Node[T]](t.nodes.Cap())
	if err != nil {
		return fmt.Errorf("avl reorder: %w", err)
	}

	remap := make([]arena.Handle, t.nodes.Len()+1)

	var copyErr error

	t.Walk(func(h arena.Handle, _ *T) bool {
		nh, allocErr := fresh.Alloc()
		if allocErr != nil {
			copyErr = allocErr

			return false
		}

		*fresh.At(nh) = *t.nodes.At(h)
		remap[h] = nh

		return true
	})

	if copyErr != nil {
		fresh.Destroy()

		return fmt.Errorf("avl reorder: %w", copyErr)
	}

	slots := fresh.Slots()
	for idx := range slots {
		slots[idx].Child[0] = remap[slots[idx].Child[0]]
		slots[idx].Child[1] = remap[slots[idx].Child[1]]
	}

	t.nodes.Destroy()
	t.nodes = fresh
	t.root = remap[t.root]
	t.dead = 0

	return nil
}

// Validate checks ordering, stored balance factors, the AVL height bound and
// that every live slot is reachable exactly once.
func (t *Tree[T]) Validate() error {
	state := &validation[T]{seen: make([]bool, t.nodes.Len()+1)}

	_, err := t.validate(t.root, state)
	if err != nil {
		return err
	}

	if state.count != t.Len() {
		return fmt.Errorf("%w: %d reachable nodes, %d live", ErrInvariant, state.count, t.Len())
	}

	return nil
}

type validation[T any] struct {
	prev  *T
	seen  []bool
	count int
}

func (t *Tree[T]) validate(h arena.Handle, state *validation[T]) (int, error) {
	if h == arena.Null {
		return 0, nil
	}

	node, err := t.nodes.Resolve(h)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvariant, err)
	}

	if state.seen[h] {
		return 0, fmt.Errorf("%w: handle %d linked twice", ErrInvariant, h)
	}

	state.seen[h] = true
	state.count++

	leftHeight, err := t.validate(node.Child[0], state)
	if err != nil {
		return 0, err
	}

	if state.prev != nil && t.cmp(&node.Item, state.prev) < 0 {
		return 0, fmt.Errorf("%w: order broken at handle %d", ErrInvariant, h)
	}

	state.prev = &node.Item

	rightHeight, err := t.validate(node.Child[1], state)
	if err != nil {
		return 0, err
	}

	diff := rightHeight - leftHeight
	if diff < -1 || diff > 1 || int(node.Balance) != diff {
		return 0, fmt.Errorf("%w: handle %d balance %d, heights %d/%d",
			ErrInvariant, h, node.Balance, leftHeight, rightHeight)
	}

	return 1 + max(leftHeight, rightHeight), nil
}

func sign(dir uint8) int8 {
	if dir == 0 {
		return -1
	}

	return 1
}

func doAssert(condition bool) {
	if !condition {
		panic("avl internal assertion failed")
	}
}
