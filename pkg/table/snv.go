package table

import (
	"cmp"
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/itree"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
	"github.com/Sumatoshi-tech/vrd/pkg/trie"
)

// BaseBits is the width of an SNV base code.
const BaseBits = 4

// SNVEntry is one single-nucleotide variant of one sample.
type SNVEntry struct {
	Position uint32 `json:"position"`
	Sample   uint32 `json:"sample"`
	Phase    uint32 `json:"phase"`
	Base     string `json:"base"`
}

type snv struct {
	position uint32
	sample   uint32
	phase    uint32
	base     uint8
}

func compareSNV(a, b *snv) int {
	return cmp.Compare(a.position, b.position)
}

var snvSchema = avl.Schema[snv]{
	Kind:   persist.KindSNV,
	Fields: 4,
	Encode: func(v *snv, row []uint32) {
		row[0], row[1], row[2], row[3] = v.position, v.sample, v.phase, uint32(v.base)
	},
	Decode: func(row []uint32, v *snv) error {
		err := checkSNV(row[0], row[1], row[2], row[3])
		if err != nil {
			return err
		}

		v.position, v.sample, v.phase, v.base = row[0], row[1], row[2], uint8(row[3])

		return nil
	},
}

func checkSNV(position, sample, phase, base uint32) error {
	err := itree.CheckBounds(position, position, sample)
	if err != nil {
		return err
	}

	if base >= 1<<BaseBits {
		return fmt.Errorf("%w: base code %d exceeds %d bits", ErrOverflow, base, BaseBits)
	}

	return checkPhase(phase)
}

type snvTree struct {
	*avl.Tree[snv]
}

func newSNVTree(capacity int) (snvTree, error) {
	tree, err := avl.New(capacity, compareSNV, nil)

	return snvTree{tree}, err
}

func (s snvTree) export() *persist.Dump { return s.Export(snvSchema) }

func (s snvTree) restore(dump *persist.Dump) error { return s.Restore(snvSchema, dump) }

func (s snvTree) layout() persist.Layout { return s.Layout(snvSchema) }

// count sums the weights of variants at position with base.
func (s snvTree) count(h arena.Handle, position uint32, base uint8, subset *avl.Multiset) uint64 {
	if h == arena.Null {
		return 0
	}

	node := s.Node(h)
	v := &node.Item

	switch {
	case v.position > position:
		return s.count(node.Child[0], position, base, subset)
	case v.position < position:
		return s.count(node.Child[1], position, base, subset)
	}

	var total uint64
	if v.base == base && subset.Admits(v.sample) {
		total = phaseWeight(v.phase)
	}

	return total + s.count(node.Child[0], position, base, subset) + s.count(node.Child[1], position, base, subset)
}

// within visits variants with start <= position <= end in position order.
func (s snvTree) within(h arena.Handle, start, end uint32, visit func(*snv)) {
	if h == arena.Null {
		return
	}

	node := s.Node(h)
	v := &node.Item

	if v.position >= start {
		s.within(node.Child[0], start, end, visit)
	}

	if v.position >= start && v.position <= end {
		visit(v)
	}

	if v.position <= end {
		s.within(node.Child[1], start, end, visit)
	}
}

func snvEntry(v *snv) SNVEntry {
	return SNVEntry{
		Position: v.position,
		Sample:   v.sample,
		Phase:    v.phase,
		Base:     string(trie.IUPAC.Char(int(v.base))),
	}
}

// SNV stores single-nucleotide variants keyed by position. A query counts
// exact position and base matches; homozygous variants count twice.
type SNV struct {
	shards *shards[snvTree]
}

// NewSNV creates an SNV table.
func NewSNV(refCapacity, perRefCapacity int, opts ...Option) (*SNV, error) {
	s, err := newShards(persist.KindSNV, refCapacity, perRefCapacity, newSNVTree, opts)
	if err != nil {
		return nil, err
	}

	return &SNV{shards: s}, nil
}

// BaseCode returns the 4-bit code of an IUPAC nucleotide character.
func BaseCode(base byte) (uint8, error) {
	idx, ok := trie.IUPAC.Index(base)
	if !ok {
		return 0, fmt.Errorf("%w: base %q", trie.ErrInvalidKeyCharacter, base)
	}

	return uint8(idx), nil
}

// Insert records a variant of sample at position on ref; base is a 4-bit
// IUPAC code.
func (s *SNV) Insert(ref string, position, sample, phase uint32, base uint8) error {
	err := checkSNV(position, sample, phase, uint32(base))
	if err != nil {
		return err
	}

	return s.shards.insert(ref, func(tree snvTree) error {
		_, insertErr := tree.Insert(snv{position: position, sample: sample, phase: phase, base: base})

		return insertErr
	})
}

// Query returns the weighted count of variants on ref at position with base.
func (s *SNV) Query(ref string, position uint32, base uint8, subset *avl.Multiset) uint64 {
	tree, ok := s.shards.lookup(ref)
	if !ok {
		return 0
	}

	return tree.count(tree.Root(), position, base, subset)
}

// QueryRegion lists up to limit variants on ref positioned inside
// [start, end] and returns the total number of such variants.
func (s *SNV) QueryRegion(ref string, start, end uint32, subset *avl.Multiset, limit int) ([]SNVEntry, uint64) {
	tree, ok := s.shards.lookup(ref)
	if !ok {
		return nil, 0
	}

	var (
		out   []SNVEntry
		total uint64
	)

	tree.within(tree.Root(), start, end, func(v *snv) {
		if !subset.Admits(v.sample) {
			return
		}

		total++

		if len(out) < limit {
			out = append(out, snvEntry(v))
		}
	})

	return out, total
}

// Remove drops every variant of the samples in subset. A nil subset
// removes nothing.
func (s *SNV) Remove(subset *avl.Multiset) uint64 {
	if subset == nil || subset.Len() == 0 {
		return 0
	}

	var removed uint64

	s.shards.each(func(_ string, tree snvTree) {
		removed += uint64(tree.Rebuild(func(v *snv) bool { return !subset.IsElement(v.sample) }))
	})

	return removed
}

// Reorder compacts every per-reference tree.
func (s *SNV) Reorder() error { return s.shards.reorder() }

// Write saves the table under prefix.
func (s *SNV) Write(prefix string) error { return s.shards.write(prefix) }

// Read replaces the table with the file set under prefix.
func (s *SNV) Read(prefix string) error { return s.shards.read(prefix, nil) }

// Export lists every variant stored for ref in position order.
func (s *SNV) Export(ref string) ([]SNVEntry, error) {
	tree, ok := s.shards.lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}

	out := make([]SNVEntry, 0, tree.Len())

	tree.Walk(func(_ arena.Handle, v *snv) bool {
		out = append(out, snvEntry(v))

		return true
	})

	return out, nil
}

// References returns the reference names in creation order.
func (s *SNV) References() []string { return s.shards.references() }

// Diagnostics reports per-reference occupancy.
func (s *SNV) Diagnostics() Diagnostics { return s.shards.diagnostics() }

// Destroy releases every tree.
func (s *SNV) Destroy() { s.shards.destroy() }
