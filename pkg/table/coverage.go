package table

import (
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/itree"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
)

// CoverageEntry is one covered interval of one sample.
type CoverageEntry struct {
	Start  uint32 `json:"start"`
	End    uint32 `json:"end"`
	Sample uint32 `json:"sample"`
}

type none struct{}

var coverageCodec = itree.Codec[none]{Kind: persist.KindCoverage}

type coverageTree struct {
	*itree.Tree[none]
}

func newCoverageTree(capacity int) (coverageTree, error) {
	tree, err := itree.New[none](capacity)

	return coverageTree{tree}, err
}

func (c coverageTree) export() *persist.Dump { return c.Export(coverageCodec) }

func (c coverageTree) restore(dump *persist.Dump) error { return c.Restore(coverageCodec, dump) }

func (c coverageTree) layout() persist.Layout { return c.Layout(coverageCodec) }

func countOnce(*itree.Interval[none]) uint64 { return 1 }

func coverageEntry(iv *itree.Interval[none]) CoverageEntry {
	return CoverageEntry{Start: iv.Start, End: iv.End, Sample: iv.Sample}
}

// Coverage records which samples cover which intervals; a query counts the
// stored intervals containing the query interval.
type Coverage struct {
	shards *shards[coverageTree]
}

// NewCoverage creates a coverage table for refCapacity references of at
// most perRefCapacity intervals each.
func NewCoverage(refCapacity, perRefCapacity int, opts ...Option) (*Coverage, error) {
	s, err := newShards(persist.KindCoverage, refCapacity, perRefCapacity, newCoverageTree, opts)
	if err != nil {
		return nil, err
	}

	return &Coverage{shards: s}, nil
}

// Insert records that sample covers [start, end) on ref.
func (c *Coverage) Insert(ref string, start, end, sample uint32) error {
	err := itree.CheckBounds(start, end, sample)
	if err != nil {
		return err
	}

	return c.shards.insert(ref, func(tree coverageTree) error {
		_, insertErr := tree.Insert(itree.Interval[none]{Start: start, End: end, Sample: sample})

		return insertErr
	})
}

// Query counts stored intervals on ref containing [start, end) whose
// sample is admitted by subset.
func (c *Coverage) Query(ref string, start, end uint32, subset *avl.Multiset) uint64 {
	tree, ok := c.shards.lookup(ref)
	if !ok {
		return 0
	}

	return tree.Count(start, end, subset, countOnce)
}

// QueryRegion lists up to limit stored intervals on ref lying inside
// [start, end] and returns the total number of such intervals.
func (c *Coverage) QueryRegion(ref string, start, end uint32, subset *avl.Multiset, limit int) ([]CoverageEntry, uint64) {
	tree, ok := c.shards.lookup(ref)
	if !ok {
		return nil, 0
	}

	found, total := tree.Within(start, end, subset, limit)
	out := make([]CoverageEntry, len(found))

	for idx := range found {
		out[idx] = coverageEntry(&found[idx])
	}

	return out, total
}

// Remove drops every interval of the samples in subset and returns how
// many were dropped.
func (c *Coverage) Remove(subset *avl.Multiset) uint64 {
	var removed uint64

	c.shards.each(func(_ string, tree coverageTree) {
		removed += uint64(tree.Remove(subset, nil))
	})

	return removed
}

// Reorder compacts every per-reference tree.
func (c *Coverage) Reorder() error { return c.shards.reorder() }

// Write saves the table under prefix.
func (c *Coverage) Write(prefix string) error { return c.shards.write(prefix) }

// Read replaces the table with the file set under prefix.
func (c *Coverage) Read(prefix string) error { return c.shards.read(prefix, nil) }

// Export lists every interval stored for ref in start order.
func (c *Coverage) Export(ref string) ([]CoverageEntry, error) {
	tree, ok := c.shards.lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}

	out := make([]CoverageEntry, 0, tree.Len())

	tree.Walk(func(iv *itree.Interval[none]) bool {
		out = append(out, coverageEntry(iv))

		return true
	})

	return out, nil
}

// References returns the reference names in creation order.
func (c *Coverage) References() []string { return c.shards.references() }

// Diagnostics reports per-reference occupancy.
func (c *Coverage) Diagnostics() Diagnostics { return c.shards.diagnostics() }

// Destroy releases every tree.
func (c *Coverage) Destroy() { c.shards.destroy() }
