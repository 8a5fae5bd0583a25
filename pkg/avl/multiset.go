package avl

import (
	"cmp"
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
)

// Multiset is a balanced multiset of uint32 values, used as a sample-ID
// subset filter. A nil *Multiset admits every value.
type Multiset struct {
	tree *Tree[uint32]
}

func compareUint32(a, b *uint32) int {
	return cmp.Compare(*a, *b)
}

// NewMultiset creates an empty multiset with room for capacity values.
func NewMultiset(capacity int) (*Multiset, error) {
	tree, err := New(capacity, compareUint32, nil)
	if err != nil {
		return nil, err
	}

	return &Multiset{tree: tree}, nil
}

// MultisetOf builds a multiset sized exactly for values.
func MultisetOf(values ...uint32) (*Multiset, error) {
	set, err := NewMultiset(len(values))
	if err != nil {
		return nil, err
	}

	for _, value := range values {
		err = set.Insert(value)
		if err != nil {
			return nil, err
		}
	}

	return set, nil
}

// Insert adds value; duplicates are kept.
func (m *Multiset) Insert(value uint32) error {
	_, err := m.tree.Insert(value)
	if err != nil {
		return fmt.Errorf("multiset: %w", err)
	}

	return nil
}

// IsElement reports whether value occurs at least once.
func (m *Multiset) IsElement(value uint32) bool {
	for h := m.tree.Root(); h != arena.Null; {
		node := m.tree.Node(h)

		switch {
		case value == node.Item:
			return true
		case value < node.Item:
			h = node.Child[0]
		default:
			h = node.Child[1]
		}
	}

	return false
}

// Admits reports whether value passes the filter; a nil multiset admits all.
func (m *Multiset) Admits(value uint32) bool {
	return m == nil || m.IsElement(value)
}

// Values returns the values in ascending order, duplicates included.
func (m *Multiset) Values() []uint32 {
	out := make([]uint32, 0, m.tree.Len())

	m.tree.Walk(func(_ arena.Handle, item *uint32) bool {
		out = append(out, *item)

		return true
	})

	return out
}

// Len returns the number of stored values; zero for a nil multiset.
func (m *Multiset) Len() int {
	if m == nil {
		return 0
	}

	return m.tree.Len()
}

// Height returns the tree height.
func (m *Multiset) Height() int {
	return m.tree.Height()
}

// Destroy releases the storage.
func (m *Multiset) Destroy() {
	m.tree.Destroy()
}
