package table

import (
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/itree"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
)

// RegionEntry is one phased region of one sample.
type RegionEntry struct {
	Start  uint32 `json:"start"`
	End    uint32 `json:"end"`
	Sample uint32 `json:"sample"`
	Phase  uint32 `json:"phase"`
}

type regionPayload struct {
	phase uint32
}

var regionCodec = itree.Codec[regionPayload]{
	Kind:   persist.KindRegion,
	Fields: 1,
	Encode: func(p *regionPayload, row []uint32) { row[0] = p.phase },
	Decode: func(row []uint32, p *regionPayload) error {
		p.phase = row[0]

		return checkPhase(p.phase)
	},
}

type regionTree struct {
	*itree.Tree[regionPayload]
}

func newRegionTree(capacity int) (regionTree, error) {
	tree, err := itree.New[regionPayload](capacity)

	return regionTree{tree}, err
}

func (r regionTree) export() *persist.Dump { return r.Export(regionCodec) }

func (r regionTree) restore(dump *persist.Dump) error { return r.Restore(regionCodec, dump) }

func (r regionTree) layout() persist.Layout { return r.Layout(regionCodec) }

func weighRegion(iv *itree.Interval[regionPayload]) uint64 {
	return phaseWeight(iv.Payload.phase)
}

func regionEntry(iv *itree.Interval[regionPayload]) RegionEntry {
	return RegionEntry{Start: iv.Start, End: iv.End, Sample: iv.Sample, Phase: iv.Payload.phase}
}

// Region is a coverage table whose intervals carry a phase; homozygous
// regions count twice.
type Region struct {
	shards *shards[regionTree]
}

// NewRegion creates a region table.
func NewRegion(refCapacity, perRefCapacity int, opts ...Option) (*Region, error) {
	s, err := newShards(persist.KindRegion, refCapacity, perRefCapacity, newRegionTree, opts)
	if err != nil {
		return nil, err
	}

	return &Region{shards: s}, nil
}

// Insert records a phased region for sample on ref.
func (r *Region) Insert(ref string, start, end, sample, phase uint32) error {
	err := itree.CheckBounds(start, end, sample)
	if err != nil {
		return err
	}

	err = checkPhase(phase)
	if err != nil {
		return err
	}

	return r.shards.insert(ref, func(tree regionTree) error {
		_, insertErr := tree.Insert(itree.Interval[regionPayload]{
			Start: start, End: end, Sample: sample, Payload: regionPayload{phase: phase},
		})

		return insertErr
	})
}

// Query returns the weighted count of stored regions on ref containing
// [start, end).
func (r *Region) Query(ref string, start, end uint32, subset *avl.Multiset) uint64 {
	tree, ok := r.shards.lookup(ref)
	if !ok {
		return 0
	}

	return tree.Count(start, end, subset, weighRegion)
}

// QueryRegion lists up to limit stored regions inside [start, end].
func (r *Region) QueryRegion(ref string, start, end uint32, subset *avl.Multiset, limit int) ([]RegionEntry, uint64) {
	tree, ok := r.shards.lookup(ref)
	if !ok {
		return nil, 0
	}

	found, total := tree.Within(start, end, subset, limit)
	out := make([]RegionEntry, len(found))

	for idx := range found {
		out[idx] = regionEntry(&found[idx])
	}

	return out, total
}

// Remove drops every region of the samples in subset.
func (r *Region) Remove(subset *avl.Multiset) uint64 {
	var removed uint64

	r.shards.each(func(_ string, tree regionTree) {
		removed += uint64(tree.Remove(subset, nil))
	})

	return removed
}

// Reorder compacts every per-reference tree.
func (r *Region) Reorder() error { return r.shards.reorder() }

// Write saves the table under prefix.
func (r *Region) Write(prefix string) error { return r.shards.write(prefix) }

// Read replaces the table with the file set under prefix.
func (r *Region) Read(prefix string) error { return r.shards.read(prefix, nil) }

// Export lists every region stored for ref.
func (r *Region) Export(ref string) ([]RegionEntry, error) {
	tree, ok := r.shards.lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}

	out := make([]RegionEntry, 0, tree.Len())

	tree.Walk(func(iv *itree.Interval[regionPayload]) bool {
		out = append(out, regionEntry(iv))

		return true
	})

	return out, nil
}

// References returns the reference names in creation order.
func (r *Region) References() []string { return r.shards.references() }

// Diagnostics reports per-reference occupancy.
func (r *Region) Diagnostics() Diagnostics { return r.shards.diagnostics() }

// Destroy releases every tree.
func (r *Region) Destroy() { r.shards.destroy() }
