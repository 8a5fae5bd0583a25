package table

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
	"github.com/Sumatoshi-tech/vrd/pkg/seqtable"
	"github.com/Sumatoshi-tech/vrd/pkg/trie"
)

func subsetOf(t *testing.T, samples ...uint32) *avl.Multiset {
	t.Helper()

	set, err := avl.MultisetOf(samples...)
	require.NoError(t, err)

	return set
}

func baseCode(t *testing.T, base byte) uint8 {
	t.Helper()

	code, err := BaseCode(base)
	require.NoError(t, err)

	return code
}

// TestCoverage_Scenario verifies containment counting on a single interval.
func TestCoverage_Scenario(t *testing.T) {
	t.Parallel()

	cov, err := NewCoverage(4, 16)
	require.NoError(t, err)
	require.NoError(t, cov.Insert("chr1", 10, 20, 1))

	assert.Equal(t, uint64(1), cov.Query("chr1", 12, 18, nil))
	assert.Equal(t, uint64(0), cov.Query("chr1", 21, 25, nil))
	assert.Equal(t, uint64(0), cov.Query("chr2", 12, 18, nil))
	assert.Equal(t, uint64(1), cov.Query("chr1", 12, 18, subsetOf(t, 1)))
	assert.Equal(t, uint64(0), cov.Query("chr1", 12, 18, subsetOf(t, 2)))
}

// TestSNV_HomozygousScenario verifies exact matching and homozygous doubling.
func TestSNV_HomozygousScenario(t *testing.T) {
	t.Parallel()

	snvs, err := NewSNV(4, 16)
	require.NoError(t, err)
	require.NoError(t, snvs.Insert("chr1", 10, 1, Homozygous, baseCode(t, 'A')))

	assert.Equal(t, uint64(2), snvs.Query("chr1", 10, baseCode(t, 'A'), nil))
	assert.Equal(t, uint64(0), snvs.Query("chr1", 10, baseCode(t, 'C'), nil))
	assert.Equal(t, uint64(0), snvs.Query("chr1", 11, baseCode(t, 'A'), nil))

	require.NoError(t, snvs.Insert("chr1", 10, 2, 7, baseCode(t, 'A')))
	assert.Equal(t, uint64(3), snvs.Query("chr1", 10, baseCode(t, 'A'), nil))
	assert.Equal(t, uint64(1), snvs.Query("chr1", 10, baseCode(t, 'A'), subsetOf(t, 2)))
}

// TestRegion_PhaseWeighting verifies that regions contain queries like
// coverage and that homozygous regions count twice.
func TestRegion_PhaseWeighting(t *testing.T) {
	t.Parallel()

	regions, err := NewRegion(2, 8)
	require.NoError(t, err)
	require.NoError(t, regions.Insert("chr1", 0, 100, 1, Homozygous))
	require.NoError(t, regions.Insert("chr1", 40, 60, 2, 3))

	assert.Equal(t, uint64(3), regions.Query("chr1", 45, 55, nil))
	assert.Equal(t, uint64(2), regions.Query("chr1", 10, 20, nil))
	assert.Equal(t, uint64(1), regions.Query("chr1", 45, 55, subsetOf(t, 2)))

	require.ErrorIs(t, regions.Insert("chr1", 0, 1, 1, Homozygous+1), ErrOverflow)
}

// TestMNV_ExactMatch verifies that start, end and sequence must all match.
func TestMNV_ExactMatch(t *testing.T) {
	t.Parallel()

	seqs, err := seqtable.New(16, 256)
	require.NoError(t, err)

	mnvs, err := NewMNV(2, 8, seqs)
	require.NoError(t, err)

	require.NoError(t, mnvs.Insert("chr1", 10, 12, 1, 0, "TT"))
	require.NoError(t, mnvs.Insert("chr1", 10, 12, 2, Homozygous, "tt"))
	require.NoError(t, mnvs.Insert("chr1", 10, 15, 3, 0, ""))

	assert.Equal(t, uint64(3), mnvs.Query("chr1", 10, 12, "TT", nil))
	assert.Equal(t, uint64(0), mnvs.Query("chr1", 10, 12, "TG", nil))
	assert.Equal(t, uint64(0), mnvs.Query("chr1", 10, 13, "TT", nil))
	assert.Equal(t, uint64(0), mnvs.Query("chr1", 9, 12, "TT", nil))
	assert.Equal(t, uint64(1), mnvs.Query("chr1", 10, 15, "", nil))
	assert.Equal(t, uint64(2), mnvs.Query("chr1", 10, 12, "TT", subsetOf(t, 2)))

	idx, ok := seqs.Lookup("TT")
	require.True(t, ok)
	assert.Equal(t, uint32(2), seqs.Refs(idx))
}

// TestMNV_RemoveReleasesSequences verifies that removing the last variant
// carrying a sequence evicts it.
func TestMNV_RemoveReleasesSequences(t *testing.T) {
	t.Parallel()

	seqs, err := seqtable.New(16, 256)
	require.NoError(t, err)

	mnvs, err := NewMNV(2, 8, seqs)
	require.NoError(t, err)

	require.NoError(t, mnvs.Insert("chr1", 1, 3, 1, 0, "ACGT"))
	require.NoError(t, mnvs.Insert("chr2", 1, 3, 2, 0, "ACGT"))
	require.NoError(t, mnvs.Insert("chr2", 5, 6, 1, 0, "GG"))

	assert.Equal(t, uint64(2), mnvs.Remove(subsetOf(t, 1)))
	assert.Equal(t, 1, seqs.Len())

	_, ok := seqs.Lookup("GG")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), mnvs.Query("chr2", 1, 3, "ACGT", nil))

	require.NoError(t, mnvs.Reorder())
	assert.Equal(t, uint64(1), mnvs.Query("chr2", 1, 3, "ACGT", nil))

	diag := mnvs.Diagnostics()
	assert.Equal(t, 1, diag.Entries)
	assert.Equal(t, 1, diag.Sequences)
	assert.Equal(t, 4, diag.SequenceBytes)
}

func TestMNV_FailedInsertReleasesSequence(t *testing.T) {
	t.Parallel()

	seqs, err := seqtable.New(16, 256)
	require.NoError(t, err)

	mnvs, err := NewMNV(1, 1, seqs)
	require.NoError(t, err)

	require.NoError(t, mnvs.Insert("chr1", 1, 3, 1, 0, "AA"))
	require.ErrorIs(t, mnvs.Insert("chr1", 4, 6, 1, 0, "CC"), ErrCapacityExceeded)
	require.ErrorIs(t, mnvs.Insert("chr2", 4, 6, 1, 0, "CC"), ErrCapacityExceeded)

	_, ok := seqs.Lookup("CC")
	assert.False(t, ok)
	assert.Equal(t, 1, seqs.Len())
}

// TestInsert_RollsBackNewShard verifies that a failed first insert leaves
// no reference behind.
func TestInsert_RollsBackNewShard(t *testing.T) {
	t.Parallel()

	cov, err := NewCoverage(1, 0)
	require.NoError(t, err)

	require.ErrorIs(t, cov.Insert("chr1", 1, 2, 1), ErrCapacityExceeded)
	assert.Empty(t, cov.References())

	_, err = cov.Export("chr1")
	require.ErrorIs(t, err, ErrNotFound)

	_, ok := cov.shards.names.Find("chr1")
	assert.False(t, ok)
	assert.Empty(t, cov.shards.trees)
	assert.Empty(t, cov.Diagnostics().Shards)
}

func TestInsert_Rejects(t *testing.T) {
	t.Parallel()

	cov, err := NewCoverage(1, 4)
	require.NoError(t, err)

	require.ErrorIs(t, cov.Insert("chr\t1", 1, 2, 1), trie.ErrInvalidKeyCharacter)
	require.ErrorIs(t, cov.Insert("chr1", 1<<28, 1<<28, 1), ErrOverflow)
	require.ErrorIs(t, cov.Insert("chr1", 1, 2, 1<<29), ErrOverflow)
	assert.Empty(t, cov.References())

	require.NoError(t, cov.Insert("chr1", 1, 2, 1))
	require.ErrorIs(t, cov.Insert("chr2", 1, 2, 1), ErrCapacityExceeded)

	snvs, err := NewSNV(1, 4)
	require.NoError(t, err)
	require.ErrorIs(t, snvs.Insert("chr1", 1, 1, 0, 16), ErrOverflow)

	_, err = BaseCode('U')
	require.ErrorIs(t, err, trie.ErrInvalidKeyCharacter)
}

// TestRemove_Idempotence verifies that empty removals change nothing, that
// removing every sample empties the table and that reorder keeps results.
func TestRemove_Idempotence(t *testing.T) {
	t.Parallel()

	cov, err := NewCoverage(3, 64)
	require.NoError(t, err)

	for idx := range uint32(60) {
		ref := []string{"chr1", "chr2", "chrX"}[idx%3]
		require.NoError(t, cov.Insert(ref, idx, idx+20, idx%5))
	}

	query := func() []uint64 {
		var out []uint64

		for _, ref := range []string{"chr1", "chr2", "chrX"} {
			for start := uint32(0); start < 80; start += 3 {
				out = append(out, cov.Query(ref, start, start+4, nil))
			}
		}

		return out
	}

	before := query()

	assert.Zero(t, cov.Remove(subsetOf(t)))
	assert.Zero(t, cov.Remove(nil))
	assert.Equal(t, before, query())

	require.NoError(t, cov.Reorder())
	assert.Equal(t, before, query())

	removed := cov.Remove(subsetOf(t, 0, 1))
	assert.Equal(t, uint64(24), removed)

	after := query()
	require.NoError(t, cov.Reorder())
	assert.Equal(t, after, query())
	assert.Zero(t, cov.Diagnostics().Dead)

	assert.Equal(t, uint64(36), cov.Remove(subsetOf(t, 0, 1, 2, 3, 4)))

	for _, count := range query() {
		assert.Zero(t, count)
	}
}

func TestQueryRegion_Limits(t *testing.T) {
	t.Parallel()

	snvs, err := NewSNV(1, 32)
	require.NoError(t, err)

	for pos := range uint32(20) {
		require.NoError(t, snvs.Insert("chr1", pos, pos%2, 0, baseCode(t, 'G')))
	}

	found, total := snvs.QueryRegion("chr1", 5, 14, nil, 3)
	assert.Equal(t, uint64(10), total)
	require.Len(t, found, 3)
	assert.Equal(t, SNVEntry{Position: 5, Sample: 1, Phase: 0, Base: "G"}, found[0])

	_, total = snvs.QueryRegion("chr1", 5, 14, subsetOf(t, 0), 100)
	assert.Equal(t, uint64(5), total)

	found, total = snvs.QueryRegion("chr9", 0, 100, nil, 10)
	assert.Empty(t, found)
	assert.Zero(t, total)

	cov, err := NewCoverage(1, 8)
	require.NoError(t, err)
	require.NoError(t, cov.Insert("chr1", 10, 20, 1))
	require.NoError(t, cov.Insert("chr1", 15, 40, 2))

	entries, total := cov.QueryRegion("chr1", 0, 30, nil, 10)
	assert.Equal(t, uint64(1), total)
	assert.Equal(t, []CoverageEntry{{Start: 10, End: 20, Sample: 1}}, entries)
}

// TestWriteRead_RoundTrip verifies the file set of every table kind.
func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cov, err := NewCoverage(4, 32, WithCompression(true))
	require.NoError(t, err)
	regions, err := NewRegion(4, 32)
	require.NoError(t, err)
	snvs, err := NewSNV(4, 32, WithCompression(true))
	require.NoError(t, err)
	seqs, err := seqtable.New(32, 512)
	require.NoError(t, err)
	mnvs, err := NewMNV(4, 32, seqs)
	require.NoError(t, err)

	for idx := range uint32(25) {
		ref := []string{"chr1", "chr2"}[idx%2]
		require.NoError(t, cov.Insert(ref, idx, idx+10, idx%3))
		require.NoError(t, regions.Insert(ref, idx, idx+5, idx%3, Homozygous))
		require.NoError(t, snvs.Insert(ref, idx, idx%3, idx, baseCode(t, "ACGT"[idx%4])))
		require.NoError(t, mnvs.Insert(ref, idx, idx+2, idx%3, 0, []string{"AC", "GGT", ""}[idx%3]))
	}

	mnvs.Remove(subsetOf(t, 2))

	require.NoError(t, cov.Write(filepath.Join(dir, "cov")))
	require.NoError(t, regions.Write(filepath.Join(dir, "region")))
	require.NoError(t, snvs.Write(filepath.Join(dir, "snv")))
	require.NoError(t, mnvs.Write(filepath.Join(dir, "mnv")))

	for _, name := range []string{"cov.manifest.json", "cov.1.ref.0.bin", "cov.1.ref.1.bin", "mnv.1.seq.bin"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		require.NoError(t, statErr, name)
	}

	cov2, err := NewCoverage(4, 32)
	require.NoError(t, err)
	require.NoError(t, cov2.Read(filepath.Join(dir, "cov")))

	regions2, err := NewRegion(4, 32)
	require.NoError(t, err)
	require.NoError(t, regions2.Read(filepath.Join(dir, "region")))

	snvs2, err := NewSNV(4, 32)
	require.NoError(t, err)
	require.NoError(t, snvs2.Read(filepath.Join(dir, "snv")))

	seqs2, err := seqtable.New(32, 512)
	require.NoError(t, err)
	mnvs2, err := NewMNV(4, 32, seqs2)
	require.NoError(t, err)
	require.NoError(t, mnvs2.Read(filepath.Join(dir, "mnv")))

	assert.Equal(t, cov.References(), cov2.References())

	for _, ref := range []string{"chr1", "chr2"} {
		covWant, _ := cov.Export(ref)
		covGot, _ := cov2.Export(ref)
		assert.Equal(t, covWant, covGot)

		regionWant, _ := regions.Export(ref)
		regionGot, _ := regions2.Export(ref)
		assert.Equal(t, regionWant, regionGot)

		snvWant, _ := snvs.Export(ref)
		snvGot, _ := snvs2.Export(ref)
		assert.Equal(t, snvWant, snvGot)

		mnvWant, _ := mnvs.Export(ref)
		mnvGot, _ := mnvs2.Export(ref)
		assert.Equal(t, mnvWant, mnvGot)

		for start := range uint32(25) {
			assert.Equal(t, cov.Query(ref, start, start+3, nil), cov2.Query(ref, start, start+3, nil))
			assert.Equal(t, mnvs.Query(ref, start, start+2, "AC", nil), mnvs2.Query(ref, start, start+2, "AC", nil))
		}
	}

	assert.Equal(t, seqs.Len(), seqs2.Len())
}

func TestRead_RejectsMismatchedFileSets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	prefix := filepath.Join(dir, "cov")

	cov, err := NewCoverage(4, 8)
	require.NoError(t, err)

	for _, ref := range []string{"chr1", "chr2", "chr3"} {
		require.NoError(t, cov.Insert(ref, 1, 5, 1))
	}

	require.NoError(t, cov.Write(prefix))

	regions, err := NewRegion(4, 8)
	require.NoError(t, err)
	require.ErrorIs(t, regions.Read(prefix), ErrManifest)

	small, err := NewCoverage(2, 8)
	require.NoError(t, err)
	require.ErrorIs(t, small.Read(prefix), ErrCapacityExceeded)

	target, err := NewCoverage(4, 8)
	require.NoError(t, err)
	require.NoError(t, target.Insert("chrM", 1, 2, 9))
	require.NoError(t, os.Remove(filepath.Join(dir, "cov.1.ref.2.bin")))
	require.Error(t, target.Read(prefix))
	assert.Equal(t, []string{"chrM"}, target.References())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cov.1.ref.2.bin"), []byte("junk"), 0o600))
	require.ErrorIs(t, target.Read(prefix), persist.ErrIO)
}

func TestWrite_PublishesGenerations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	prefix := filepath.Join(dir, "cov")

	exists, err := Exists(prefix)
	require.NoError(t, err)
	assert.False(t, exists)

	cov, err := NewCoverage(4, 8)
	require.NoError(t, err)
	require.NoError(t, cov.Insert("chr1", 1, 5, 1))
	require.NoError(t, cov.Write(prefix))

	exists, err = Exists(prefix)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, cov.Insert("chr2", 2, 6, 1))
	require.NoError(t, cov.Write(prefix))

	for _, name := range []string{"cov.1.ref.0.bin"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		require.ErrorIs(t, statErr, os.ErrNotExist, name)
	}

	for _, name := range []string{"cov.2.ref.0.bin", "cov.2.ref.1.bin"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		require.NoError(t, statErr, name)
	}

	// A write that fails midway leaves the published set readable.
	blocker := filepath.Join(dir, "cov.3.ref.1.bin")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o700))
	require.NoError(t, cov.Insert("chr3", 3, 7, 1))
	require.Error(t, cov.Write(prefix))

	_, statErr := os.Stat(filepath.Join(dir, "cov.3.ref.0.bin"))
	require.ErrorIs(t, statErr, os.ErrNotExist)

	restored, err := NewCoverage(4, 8)
	require.NoError(t, err)
	require.NoError(t, restored.Read(prefix))
	assert.Equal(t, []string{"chr1", "chr2"}, restored.References())
}

func TestMNV_WriteKeepsSequencesWithTrees(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	prefix := filepath.Join(dir, "mnv")

	seqs, err := seqtable.New(8, 64)
	require.NoError(t, err)
	mnvs, err := NewMNV(2, 8, seqs)
	require.NoError(t, err)
	require.NoError(t, mnvs.Insert("chr1", 1, 3, 0, 0, "ACG"))
	require.NoError(t, mnvs.Write(prefix))
	require.NoError(t, mnvs.Insert("chr1", 5, 7, 0, 0, "TTA"))
	require.NoError(t, mnvs.Write(prefix))

	_, err = os.Stat(filepath.Join(dir, "mnv.1.seq.bin"))
	require.ErrorIs(t, err, os.ErrNotExist)

	seqs2, err := seqtable.New(8, 64)
	require.NoError(t, err)
	restored, err := NewMNV(2, 8, seqs2)
	require.NoError(t, err)
	require.NoError(t, restored.Read(prefix))
	assert.Equal(t, uint64(1), restored.Query("chr1", 5, 7, "TTA", nil))

	require.NoError(t, os.Remove(filepath.Join(dir, "mnv.2.seq.bin")))
	require.ErrorIs(t, restored.Read(prefix), os.ErrNotExist)
	assert.Equal(t, uint64(1), restored.Query("chr1", 5, 7, "TTA", nil))
}

func TestRead_RejectsShardBeyondCapacity(t *testing.T) {
	t.Parallel()

	prefix := filepath.Join(t.TempDir(), "snv")

	snvs, err := NewSNV(2, 32)
	require.NoError(t, err)

	for pos := range uint32(10) {
		require.NoError(t, snvs.Insert("chr1", pos, 0, 0, baseCode(t, 'A')))
	}

	require.NoError(t, snvs.Write(prefix))

	small, err := NewSNV(2, 4)
	require.NoError(t, err)
	require.ErrorIs(t, small.Read(prefix), ErrCapacityExceeded)
	assert.Empty(t, small.References())
}

func TestMNV_RemoveLogsReleaseFailure(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	seqs, err := seqtable.New(8, 64)
	require.NoError(t, err)
	mnvs, err := NewMNV(2, 8, seqs, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	require.NoError(t, mnvs.Insert("chr1", 1, 3, 4, 0, "ACG"))

	idx, ok := seqs.Lookup("ACG")
	require.True(t, ok)
	require.NoError(t, seqs.Release(idx))

	assert.Equal(t, uint64(1), mnvs.Remove(subsetOf(t, 4)))
	assert.Contains(t, logs.String(), "release sequence of removed variant")
	assert.Contains(t, logs.String(), "sample=4")
}
