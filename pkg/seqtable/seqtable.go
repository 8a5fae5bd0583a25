// Package seqtable interns nucleotide sequences. Each distinct sequence is
// stored once, addressed by a small index and reference counted; the empty
// sequence is index 0 and never stored.
package seqtable

import (
	"errors"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
	"github.com/Sumatoshi-tech/vrd/pkg/trie"
)

// Sentinel errors.
var (
	ErrCapacityExceeded = arena.ErrCapacityExceeded
	ErrNotFound         = errors.New("seqtable: sequence not found")
)

// Empty is the index of the empty sequence.
const Empty uint32 = 0

// dumpFields are the per-entry columns: handle, reference count, length.
const dumpFields = 3

type entry struct {
	seq  string
	refs uint32
}

// Table is a reference-counted sequence store.
type Table struct {
	index     *trie.Trie[arena.Handle]
	store     *arena.Heap[entry]
	capacity  int
	trieNodes int
	bytes     int
}

// New creates a table for at most capacity live sequences whose index trie
// holds at most trieNodes nodes.
func New(capacity, trieNodes int) (*Table, error) {
	index, err := trie.NewIUPAC[arena.Handle](trieNodes)
	if err != nil {
		return nil, fmt.Errorf("seqtable: %w", err)
	}

	return &Table{
		index:     index,
		store:     arena.NewHeap[entry](capacity),
		capacity:  capacity,
		trieNodes: trieNodes,
	}, nil
}

// Intern returns the index of seq, storing it on first use, and takes one
// reference. Lower-case codes are folded to upper case.
func (t *Table) Intern(seq string) (uint32, error) {
	if seq == "" {
		return Empty, nil
	}

	canonical, err := trie.IUPAC.Canonical(seq)
	if err != nil {
		return Empty, fmt.Errorf("seqtable: %w", err)
	}

	if h, ok := t.index.Find(canonical); ok {
		t.entry(h).refs++

		return uint32(h), nil
	}

	h, err := t.store.Alloc()
	if err != nil {
		return Empty, fmt.Errorf("seqtable: %w", err)
	}

	_, err = t.index.Insert(canonical, h)
	if err != nil {
		_ = t.store.Dealloc(h)

		return Empty, fmt.Errorf("seqtable: %w", err)
	}

	*t.entry(h) = entry{seq: canonical, refs: 1}
	t.bytes += len(canonical)

	return uint32(h), nil
}

// Lookup returns the index of seq without taking a reference.
func (t *Table) Lookup(seq string) (uint32, bool) {
	if seq == "" {
		return Empty, true
	}

	canonical, err := trie.IUPAC.Canonical(seq)
	if err != nil {
		return Empty, false
	}

	h, ok := t.index.Find(canonical)

	return uint32(h), ok
}

// Get returns the sequence stored at idx.
func (t *Table) Get(idx uint32) (string, error) {
	if idx == Empty {
		return "", nil
	}

	slot, err := t.store.Resolve(arena.Handle(idx))
	if err != nil {
		return "", fmt.Errorf("%w: index %d", ErrNotFound, idx)
	}

	return slot.seq, nil
}

// Refs returns the reference count of idx, zero when unknown.
func (t *Table) Refs(idx uint32) uint32 {
	slot, err := t.store.Resolve(arena.Handle(idx))
	if err != nil {
		return 0
	}

	return slot.refs
}

// Release drops one reference to idx. The last release evicts the sequence.
func (t *Table) Release(idx uint32) error {
	if idx == Empty {
		return nil
	}

	h := arena.Handle(idx)

	slot, err := t.store.Resolve(h)
	if err != nil {
		return fmt.Errorf("%w: index %d", ErrNotFound, idx)
	}

	slot.refs--
	if slot.refs > 0 {
		return nil
	}

	t.index.Clear(slot.seq)
	t.bytes -= len(slot.seq)

	return t.store.Dealloc(h)
}

// Len returns the number of live sequences.
func (t *Table) Len() int { return t.store.Used() }

// Bytes returns the total length of live sequences.
func (t *Table) Bytes() int { return t.bytes }

// Cap returns the sequence capacity, zero for unbounded.
func (t *Table) Cap() int { return t.capacity }

// TrieCap returns the index trie node capacity.
func (t *Table) TrieCap() int { return t.trieNodes }

// TrieNodes returns the number of index trie nodes in use.
func (t *Table) TrieNodes() int { return t.index.Nodes() }

// Compact rebuilds the index trie from the live sequences, reclaiming the
// paths of evicted ones. On error the table is unchanged.
func (t *Table) Compact() error {
	index, err := t.rebuildIndex()
	if err != nil {
		return err
	}

	t.index = index

	return nil
}

func (t *Table) rebuildIndex() (*trie.Trie[arena.Handle], error) {
	index, err := trie.NewIUPAC[arena.Handle](t.trieNodes)
	if err != nil {
		return nil, fmt.Errorf("seqtable: %w", err)
	}

	t.store.Each(func(h arena.Handle, slot *entry) {
		if err != nil {
			return
		}

		var stored arena.Handle

		stored, err = index.Insert(slot.seq, h)
		if err == nil && stored != h {
			err = fmt.Errorf("%w: sequence %q stored twice", persist.ErrBadLayout, slot.seq)
		}
	})

	if err != nil {
		return nil, fmt.Errorf("seqtable compact: %w", err)
	}

	return index, nil
}

func (t *Table) entry(h arena.Handle) *entry {
	slot, err := t.store.Resolve(h)
	if err != nil {
		panic(err)
	}

	return slot
}

// Export captures the live sequences as a dump: one row per sequence with
// its handle, reference count and length; bytes go to the blob.
func (t *Table) Export() *persist.Dump {
	columns := make([][]uint32, dumpFields)
	blob := make([]byte, 0, t.bytes)

	t.store.Each(func(h arena.Handle, slot *entry) {
		columns[0] = append(columns[0], uint32(h))
		columns[1] = append(columns[1], slot.refs)
		columns[2] = append(columns[2], safeconv.MustIntToUint32(len(slot.seq)))
		blob = append(blob, slot.seq...)
	})

	return &persist.Dump{
		Kind:    persist.KindSequences,
		Next:    safeconv.MustIntToUint32(len(columns[0])),
		Columns: columns,
		Blob:    blob,
	}
}

// Restore replaces the table contents with dump. On error the table is unchanged.
func (t *Table) Restore(dump *persist.Dump) error {
	if dump.Kind != persist.KindSequences || len(dump.Columns) != dumpFields {
		return fmt.Errorf("%w: %s with %d columns", persist.ErrBadLayout, dump.Kind, len(dump.Columns))
	}

	rows := int(dump.Next)
	if t.capacity > 0 && rows > t.capacity {
		return fmt.Errorf("seqtable restore: %w: %d sequences for capacity %d", ErrCapacityExceeded, rows, t.capacity)
	}

	staged := &Table{store: arena.NewHeap[entry](t.capacity), capacity: t.capacity, trieNodes: t.trieNodes}
	blob := dump.Blob

	for row := range rows {
		h, refs, size := dump.Columns[0][row], dump.Columns[1][row], int(dump.Columns[2][row])
		if refs == 0 || size == 0 || size > len(blob) {
			return fmt.Errorf("%w: sequence row %d", persist.ErrBadLayout, row)
		}

		if h == uint32(arena.Null) || t.capacity > 0 && h > uint32(t.capacity) {
			return fmt.Errorf("%w: sequence row %d handle %d outside capacity %d", persist.ErrBadLayout, row, h, t.capacity)
		}

		seq := string(blob[:size])
		blob = blob[size:]

		canonical, err := trie.IUPAC.Canonical(seq)
		if err != nil || canonical != seq {
			return fmt.Errorf("%w: sequence row %d is not canonical", persist.ErrBadLayout, row)
		}

		err = staged.store.Place(arena.Handle(h), entry{seq: seq, refs: refs})
		if err != nil {
			return fmt.Errorf("%w: sequence row %d: %w", persist.ErrBadLayout, row, err)
		}

		staged.bytes += size
	}

	if len(blob) != 0 {
		return fmt.Errorf("%w: %d trailing sequence bytes", persist.ErrBadLayout, len(blob))
	}

	index, err := staged.rebuildIndex()
	if err != nil {
		return err
	}

	staged.index = index
	*t = *staged

	return nil
}

// Layout is what a dump must look like to restore into t.
func (t *Table) Layout() persist.Layout {
	return persist.Layout{
		Kind:    persist.KindSequences,
		Columns: dumpFields,
		MaxNext: safeconv.MustIntToUint32(t.capacity),
	}
}

// WriteDump writes the table as a dump to w.
func (t *Table) WriteDump(w io.Writer, compress bool) error {
	return persist.WriteDump(w, t.Export(), compress)
}

// ReadDump replaces the table with the dump read from r.
func (t *Table) ReadDump(r io.Reader) error {
	dump, err := persist.ReadDump(r, t.Layout())
	if err != nil {
		return err
	}

	return t.Restore(dump)
}
