package avl

import (
	"bytes"
	"cmp"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
)

// sized carries a subtree-size augmentation to exercise the hook.
type sized struct {
	key  uint32
	size uint32
}

func compareSized(a, b *sized) int {
	return cmp.Compare(a.key, b.key)
}

func augmentSized(item, left, right *sized) {
	item.size = 1
	if left != nil {
		item.size += left.size
	}

	if right != nil {
		item.size += right.size
	}
}

var sizedSchema = Schema[sized]{
	Kind:   persist.KindMultiset,
	Fields: 1,
	Encode: func(item *sized, row []uint32) { row[0] = item.key },
	Decode: func(row []uint32, item *sized) error {
		item.key = row[0]

		return nil
	},
}

func newSizedTree(t *testing.T, capacity int, keys ...uint32) *Tree[sized] {
	t.Helper()

	tree, err := New(capacity, compareSized, augmentSized)
	require.NoError(t, err)

	for _, key := range keys {
		_, err = tree.Insert(sized{key: key})
		require.NoError(t, err)
	}

	return tree
}

func keysOf(tree *Tree[sized]) []uint32 {
	var out []uint32

	tree.Walk(func(_ arena.Handle, item *sized) bool {
		out = append(out, item.key)

		return true
	})

	return out
}

// requireSizes checks the augmentation of every reachable node.
func requireSizes(t *testing.T, tree *Tree[sized], h arena.Handle) uint32 {
	t.Helper()

	if h == arena.Null {
		return 0
	}

	node := tree.Node(h)
	want := 1 + requireSizes(t, tree, node.Child[0]) + requireSizes(t, tree, node.Child[1])
	require.Equal(t, want, node.Item.size, "size at handle %d", h)

	return want
}

func heightBound(n int) int {
	return int(math.Floor(1.4405*math.Log2(float64(n)+2) - 0.3277))
}

// pseudoRandomKeys yields a deterministic scrambled sequence.
func pseudoRandomKeys(n int) []uint32 {
	keys := make([]uint32, n)
	state := uint32(2463534242)

	for idx := range keys {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		keys[idx] = state % 1000
	}

	return keys
}

// TestInsert_KeepsInvariants verifies ordering, balance and augmentation
// across insertion orders that trigger every rotation case.
func TestInsert_KeepsInvariants(t *testing.T) {
	t.Parallel()

	ascending := make([]uint32, 500)
	descending := make([]uint32, 500)
	zigzag := make([]uint32, 500)

	for idx := range ascending {
		ascending[idx] = uint32(idx)
		descending[idx] = uint32(500 - idx)

		if idx%2 == 0 {
			zigzag[idx] = uint32(idx)
		} else {
			zigzag[idx] = uint32(1000 - idx)
		}
	}

	tests := []struct {
		name string
		keys []uint32
	}{
		{name: "ascending", keys: ascending},
		{name: "descending", keys: descending},
		{name: "zigzag", keys: zigzag},
		{name: "scrambled with duplicates", keys: pseudoRandomKeys(2000)},
		{name: "left-right case", keys: []uint32{30, 10, 20}},
		{name: "right-left case", keys: []uint32{10, 30, 20}},
		{name: "all equal", keys: slices.Repeat([]uint32{7}, 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tree := newSizedTree(t, len(tt.keys), tt.keys...)

			require.NoError(t, tree.Validate())
			assert.Equal(t, len(tt.keys), tree.Len())
			assert.LessOrEqual(t, tree.Height(), heightBound(len(tt.keys)))

			want := slices.Clone(tt.keys)
			slices.Sort(want)
			assert.Equal(t, want, keysOf(tree))

			requireSizes(t, tree, tree.Root())
		})
	}
}

// TestInsert_CapacityBoundary verifies that an insert past capacity fails
// and leaves the tree intact.
func TestInsert_CapacityBoundary(t *testing.T) {
	t.Parallel()

	tree := newSizedTree(t, 3, 2, 1, 3)

	_, err := tree.Insert(sized{key: 4})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.ErrorIs(t, err, arena.ErrCapacityExceeded)

	assert.Equal(t, []uint32{1, 2, 3}, keysOf(tree))
	require.NoError(t, tree.Validate())
}

func TestWalk_StopsEarly(t *testing.T) {
	t.Parallel()

	tree := newSizedTree(t, 10, 5, 3, 8, 1, 4)

	var seen []uint32

	tree.Walk(func(_ arena.Handle, item *sized) bool {
		seen = append(seen, item.key)

		return len(seen) < 2
	})

	assert.Equal(t, []uint32{1, 3}, seen)
}

// TestRebuild_DropsAndRebalances verifies that rebuilt trees are balanced,
// keep the survivors in order and count the tombstones.
func TestRebuild_DropsAndRebalances(t *testing.T) {
	t.Parallel()

	keys := pseudoRandomKeys(1000)
	tree := newSizedTree(t, len(keys), keys...)

	removed := tree.Rebuild(func(item *sized) bool { return item.key%3 != 0 })

	var want []uint32

	for _, key := range keys {
		if key%3 != 0 {
			want = append(want, key)
		}
	}

	slices.Sort(want)

	assert.Equal(t, len(keys)-len(want), removed)
	assert.Equal(t, removed, tree.Dead())
	assert.Equal(t, len(want), tree.Len())
	assert.Equal(t, len(keys), tree.Slots())
	assert.Equal(t, want, keysOf(tree))
	require.NoError(t, tree.Validate())
	requireSizes(t, tree, tree.Root())

	// Tombstones keep their slots until Reorder.
	_, err := tree.Insert(sized{key: 1})
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRebuild_NoopAndEmpty(t *testing.T) {
	t.Parallel()

	tree := newSizedTree(t, 5, 1, 2, 3)
	root := tree.Root()

	assert.Zero(t, tree.Rebuild(func(*sized) bool { return true }))
	assert.Equal(t, root, tree.Root())

	assert.Equal(t, 3, tree.Rebuild(func(*sized) bool { return false }))
	assert.Equal(t, arena.Null, tree.Root())
	assert.Zero(t, tree.Len())
	require.NoError(t, tree.Validate())
}

// TestReorder_ReclaimsTombstones verifies that compaction frees capacity
// while preserving contents and invariants.
func TestReorder_ReclaimsTombstones(t *testing.T) {
	t.Parallel()

	tree := newSizedTree(t, 8, 8, 7, 6, 5, 4, 3, 2, 1)
	tree.Rebuild(func(item *sized) bool { return item.key > 4 })

	_, err := tree.Insert(sized{key: 9})
	require.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, tree.Reorder())
	assert.Zero(t, tree.Dead())
	assert.Equal(t, 4, tree.Slots())
	assert.Equal(t, []uint32{5, 6, 7, 8}, keysOf(tree))

	for key := uint32(9); key <= 12; key++ {
		_, err = tree.Insert(sized{key: key})
		require.NoError(t, err)
	}

	require.NoError(t, tree.Validate())
	requireSizes(t, tree, tree.Root())
	assert.Equal(t, []uint32{5, 6, 7, 8, 9, 10, 11, 12}, keysOf(tree))
}

func TestReorder_WithoutTombstonesIsNoop(t *testing.T) {
	t.Parallel()

	tree := newSizedTree(t, 4, 2, 1)
	root := tree.Root()

	require.NoError(t, tree.Reorder())
	assert.Equal(t, root, tree.Root())
}

// TestDump_RoundTrip verifies that a tree with tombstones survives
// export, write, read and restore with augmentation recomputed.
func TestDump_RoundTrip(t *testing.T) {
	t.Parallel()

	keys := pseudoRandomKeys(300)
	tree := newSizedTree(t, 400, keys...)
	tree.Rebuild(func(item *sized) bool { return item.key%5 != 0 })

	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer

		require.NoError(t, tree.WriteDump(&buf, sizedSchema, compress))

		restored, err := New(400, compareSized, augmentSized)
		require.NoError(t, err)
		require.NoError(t, restored.ReadDump(&buf, sizedSchema))

		assert.Equal(t, keysOf(tree), keysOf(restored))
		assert.Equal(t, tree.Dead(), restored.Dead())
		assert.Equal(t, tree.Slots(), restored.Slots())
		requireSizes(t, restored, restored.Root())
	}
}

// TestExport_ClearsRowBetweenNodes verifies that a schema writing a field
// only for some items does not inherit the previous node's value.
func TestExport_ClearsRowBetweenNodes(t *testing.T) {
	t.Parallel()

	oddOnly := Schema[sized]{
		Kind:   persist.KindMultiset,
		Fields: 2,
		Encode: func(item *sized, row []uint32) {
			row[0] = item.key
			if item.key%2 == 1 {
				row[1] = 1
			}
		},
		Decode: func(row []uint32, item *sized) error {
			item.key = row[0]

			return nil
		},
	}

	dump := newSizedTree(t, 8, 1, 2, 3, 4).Export(oddOnly)

	for idx, key := range dump.Columns[linkColumns] {
		assert.Equal(t, key%2, dump.Columns[linkColumns+1][idx], "key %d", key)
	}
}

func TestReadDump_RejectsOversizedDump(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, newSizedTree(t, 16, 1, 2, 3, 4, 5).WriteDump(&buf, sizedSchema, false))

	small := newSizedTree(t, 4, 9)
	require.ErrorIs(t, small.ReadDump(&buf, sizedSchema), ErrCapacityExceeded)
	assert.Equal(t, []uint32{9}, keysOf(small))
}

// TestRestore_RejectsCorruptDumps verifies that invalid structure is
// refused and the target tree left untouched.
func TestRestore_RejectsCorruptDumps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		corrupt func(d *persist.Dump)
	}{
		{name: "self loop", corrupt: func(d *persist.Dump) { d.Columns[0][d.Root-1] = d.Root }},
		{name: "link out of range", corrupt: func(d *persist.Dump) { d.Columns[1][0] = d.Next + 1 }},
		{name: "bad balance", corrupt: func(d *persist.Dump) { d.Columns[2][0] = 5 }},
		{name: "order broken", corrupt: func(d *persist.Dump) { d.Columns[3][d.Root-1] = 1000 }},
		{name: "dead count", corrupt: func(d *persist.Dump) { d.Dead = 1 }},
		{name: "kind", corrupt: func(d *persist.Dump) { d.Kind = persist.KindRegion }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source := newSizedTree(t, 16, 4, 2, 6, 1, 3, 5, 7)
			dump := source.Export(sizedSchema)
			tt.corrupt(dump)

			target := newSizedTree(t, 16, 42)

			err := target.Restore(sizedSchema, dump)
			require.ErrorIs(t, err, persist.ErrBadLayout)
			assert.Equal(t, []uint32{42}, keysOf(target))
		})
	}
}

func TestRestore_CapacityTooSmall(t *testing.T) {
	t.Parallel()

	source := newSizedTree(t, 8, 1, 2, 3, 4)
	target := newSizedTree(t, 2)

	err := target.Restore(sizedSchema, source.Export(sizedSchema))
	require.ErrorIs(t, err, ErrCapacityExceeded)
}
