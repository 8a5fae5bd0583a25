package table

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/itree"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
	"github.com/Sumatoshi-tech/vrd/pkg/seqtable"
)

// MNVEntry is one multi-nucleotide variant (substitution, insertion or
// deletion) of one sample.
type MNVEntry struct {
	Start    uint32 `json:"start"`
	End      uint32 `json:"end"`
	Sample   uint32 `json:"sample"`
	Phase    uint32 `json:"phase"`
	Sequence string `json:"sequence"`
}

type mnvPayload struct {
	phase    uint32
	sequence uint32
}

var mnvCodec = itree.Codec[mnvPayload]{
	Kind:   persist.KindMNV,
	Fields: 2,
	Encode: func(p *mnvPayload, row []uint32) { row[0], row[1] = p.phase, p.sequence },
	Decode: func(row []uint32, p *mnvPayload) error {
		p.phase, p.sequence = row[0], row[1]

		return checkPhase(p.phase)
	},
}

type mnvTree struct {
	*itree.Tree[mnvPayload]
}

func newMNVTree(capacity int) (mnvTree, error) {
	tree, err := itree.New[mnvPayload](capacity)

	return mnvTree{tree}, err
}

func (m mnvTree) export() *persist.Dump { return m.Export(mnvCodec) }

func (m mnvTree) restore(dump *persist.Dump) error { return m.Restore(mnvCodec, dump) }

func (m mnvTree) layout() persist.Layout { return m.Layout(mnvCodec) }

// MNV stores variants spanning [start, end) with an inserted sequence
// interned in a sequence table. A query counts exact start, end and
// sequence matches; homozygous variants count twice.
type MNV struct {
	shards    *shards[mnvTree]
	sequences *seqtable.Table
}

// NewMNV creates an MNV table interning inserted sequences in sequences.
func NewMNV(refCapacity, perRefCapacity int, sequences *seqtable.Table, opts ...Option) (*MNV, error) {
	s, err := newShards(persist.KindMNV, refCapacity, perRefCapacity, newMNVTree, opts)
	if err != nil {
		return nil, err
	}

	return &MNV{shards: s, sequences: sequences}, nil
}

// Insert records a variant of sample replacing [start, end) on ref with seq.
func (m *MNV) Insert(ref string, start, end, sample, phase uint32, seq string) error {
	err := itree.CheckBounds(start, end, sample)
	if err != nil {
		return err
	}

	err = checkPhase(phase)
	if err != nil {
		return err
	}

	idx, err := m.sequences.Intern(seq)
	if err != nil {
		return fmt.Errorf("table: %w", err)
	}

	err = m.shards.insert(ref, func(tree mnvTree) error {
		_, insertErr := tree.Insert(itree.Interval[mnvPayload]{
			Start: start, End: end, Sample: sample,
			Payload: mnvPayload{phase: phase, sequence: idx},
		})

		return insertErr
	})
	if err != nil {
		return errors.Join(err, m.sequences.Release(idx))
	}

	return nil
}

// Query returns the weighted count of variants on ref equal to
// ([start, end), seq).
func (m *MNV) Query(ref string, start, end uint32, seq string, subset *avl.Multiset) uint64 {
	tree, ok := m.shards.lookup(ref)
	if !ok {
		return 0
	}

	idx, ok := m.sequences.Lookup(seq)
	if !ok {
		return 0
	}

	return tree.Exact(start, end, subset, func(iv *itree.Interval[mnvPayload]) uint64 {
		if iv.Payload.sequence != idx {
			return 0
		}

		return phaseWeight(iv.Payload.phase)
	})
}

func (m *MNV) entry(iv *itree.Interval[mnvPayload]) MNVEntry {
	seq, _ := m.sequences.Get(iv.Payload.sequence)

	return MNVEntry{Start: iv.Start, End: iv.End, Sample: iv.Sample, Phase: iv.Payload.phase, Sequence: seq}
}

// QueryRegion lists up to limit variants on ref lying inside [start, end].
func (m *MNV) QueryRegion(ref string, start, end uint32, subset *avl.Multiset, limit int) ([]MNVEntry, uint64) {
	tree, ok := m.shards.lookup(ref)
	if !ok {
		return nil, 0
	}

	found, total := tree.Within(start, end, subset, limit)
	out := make([]MNVEntry, len(found))

	for idx := range found {
		out[idx] = m.entry(&found[idx])
	}

	return out, total
}

// Remove drops every variant of the samples in subset and releases their
// sequences, evicting those no longer referenced.
func (m *MNV) Remove(subset *avl.Multiset) uint64 {
	var removed uint64

	release := func(iv *itree.Interval[mnvPayload]) {
		err := m.sequences.Release(iv.Payload.sequence)
		if err != nil {
			m.shards.opts.logger.Error("release sequence of removed variant",
				"sequence", iv.Payload.sequence, "sample", iv.Sample, "error", err)
		}
	}

	m.shards.each(func(_ string, tree mnvTree) {
		removed += uint64(tree.Remove(subset, release))
	})

	return removed
}

// Reorder compacts every per-reference tree and the sequence index.
func (m *MNV) Reorder() error {
	err := m.shards.reorder()
	if err != nil {
		return err
	}

	return m.sequences.Compact()
}

// sequencesSidecar names the sequence dump published with the trees.
const sequencesSidecar = "seq"

// Write saves the table under prefix; the sequences are published in the
// same generation as the trees.
func (m *MNV) Write(prefix string) error {
	return m.shards.write(prefix, sidecar{name: sequencesSidecar, dump: m.sequences.Export()})
}

// Read replaces the table and its sequences with the file set under prefix.
func (m *MNV) Read(prefix string) error {
	set, mf, err := m.shards.open(prefix)
	if err != nil {
		return err
	}

	staged, err := seqtable.New(m.sequences.Cap(), m.sequences.TrieCap())
	if err != nil {
		return err
	}

	var dump persist.Dump

	name := set.sidecar(sequencesSidecar)

	err = persist.LoadState(set.dir, name, &persist.DumpCodec{Expect: staged.Layout()}, &dump)
	if err == nil {
		err = staged.Restore(&dump)
	}

	if err != nil {
		return fmt.Errorf("table: read %s: %w", filepath.Join(set.dir, name), err)
	}

	err = m.shards.load(set, mf, func(tree mnvTree) error {
		var missing error

		tree.Walk(func(iv *itree.Interval[mnvPayload]) bool {
			if iv.Payload.sequence != seqtable.Empty && staged.Refs(iv.Payload.sequence) == 0 {
				missing = fmt.Errorf("%w: unknown sequence index %d", persist.ErrBadLayout, iv.Payload.sequence)

				return false
			}

			return true
		})

		return missing
	})
	if err != nil {
		return err
	}

	*m.sequences = *staged

	return nil
}

// Sequences returns the sequence table.
func (m *MNV) Sequences() *seqtable.Table { return m.sequences }

// Export lists every variant stored for ref.
func (m *MNV) Export(ref string) ([]MNVEntry, error) {
	tree, ok := m.shards.lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}

	out := make([]MNVEntry, 0, tree.Len())

	tree.Walk(func(iv *itree.Interval[mnvPayload]) bool {
		out = append(out, m.entry(iv))

		return true
	})

	return out, nil
}

// References returns the reference names in creation order.
func (m *MNV) References() []string { return m.shards.references() }

// Diagnostics reports per-reference occupancy and sequence storage.
func (m *MNV) Diagnostics() Diagnostics {
	diag := m.shards.diagnostics()
	diag.Sequences = m.sequences.Len()
	diag.SequenceBytes = m.sequences.Bytes()

	return diag
}

// Destroy releases every tree. The sequence table is left to its owner.
func (m *MNV) Destroy() { m.shards.destroy() }
