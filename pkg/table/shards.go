// Package table composes per-reference trees into the variant and coverage
// tables of the index. Every table maps reference-sequence names to one
// capacity-bounded tree each, created lazily on first insert.
package table

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
	"github.com/Sumatoshi-tech/vrd/pkg/trie"
)

// Sentinel errors.
var (
	ErrCapacityExceeded = arena.ErrCapacityExceeded
	ErrOverflow         = safeconv.ErrOverflow
	ErrNotFound         = errors.New("table: reference not found")
	ErrManifest         = errors.New("table: manifest mismatch")
)

// shard is the per-reference tree surface shared by every table kind.
type shard interface {
	Len() int
	Dead() int
	Cap() int
	Height() int
	Reorder() error
	Destroy()
	export() *persist.Dump
	restore(dump *persist.Dump) error
	layout() persist.Layout
}

// ShardStats describes one per-reference tree.
type ShardStats struct {
	Reference string `json:"reference"`
	Entries   int    `json:"entries"`
	Dead      int    `json:"dead"`
	Capacity  int    `json:"capacity"`
	Height    int    `json:"height"`
}

// Diagnostics summarises a table.
type Diagnostics struct {
	Kind           string       `json:"kind"`
	RefCapacity    int          `json:"ref_capacity"`
	PerRefCapacity int          `json:"per_ref_capacity"`
	Entries        int          `json:"entries"`
	Dead           int          `json:"dead"`
	Shards         []ShardStats `json:"shards"`
	Sequences      int          `json:"sequences,omitempty"`
	SequenceBytes  int          `json:"sequence_bytes,omitempty"`
}

// Option configures a table.
type Option func(*options)

type options struct {
	compress bool
	logger   *slog.Logger
}

// WithCompression toggles LZ4 compression of written shard dumps.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// WithLogger sets the logger for invariant failures that do not abort an
// operation. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// shards maps reference names to lazily created trees of type S.
type shards[S shard] struct {
	kind        persist.Kind
	names       *trie.Trie[int]
	refs        []string
	trees       []S
	refCapacity int
	perRef      int
	create      func(capacity int) (S, error)
	opts        options
}

func newShards[S shard](
	kind persist.Kind, refCapacity, perRef int, create func(int) (S, error), opts []Option,
) (*shards[S], error) {
	if refCapacity < 0 || perRef < 0 {
		return nil, fmt.Errorf("%w: capacities %d/%d", arena.ErrOutOfMemory, refCapacity, perRef)
	}

	s := &shards[S]{
		kind:        kind,
		names:       trie.NewUnbounded[int](trie.ASCII, trie.Upsert),
		refCapacity: refCapacity,
		perRef:      perRef,
		create:      create,
	}

	for _, opt := range opts {
		opt(&s.opts)
	}

	if s.opts.logger == nil {
		s.opts.logger = slog.Default()
	}

	return s, nil
}

func (s *shards[S]) lookup(ref string) (S, bool) {
	idx, ok := s.names.Find(ref)
	if !ok {
		var zero S

		return zero, false
	}

	return s.trees[idx], true
}

// insert runs fn against the tree of ref, creating it first when needed. A
// tree created for this call is discarded again if fn fails.
func (s *shards[S]) insert(ref string, fn func(tree S) error) error {
	if tree, ok := s.lookup(ref); ok {
		return fn(tree)
	}

	if len(s.trees) >= s.refCapacity {
		return fmt.Errorf("table: %w: %d references", ErrCapacityExceeded, s.refCapacity)
	}

	slot := len(s.trees)

	_, err := s.names.Insert(ref, slot)
	if err != nil {
		return fmt.Errorf("table: reference %q: %w", ref, err)
	}

	tree, err := s.create(s.perRef)
	if err != nil {
		s.names.Clear(ref)

		return fmt.Errorf("table: create tree for %q: %w", ref, err)
	}

	s.refs = append(s.refs, ref)
	s.trees = append(s.trees, tree)

	err = fn(tree)
	if err != nil {
		s.names.Clear(ref)
		s.refs = s.refs[:slot]
		s.trees = s.trees[:slot]
		tree.Destroy()

		return err
	}

	return nil
}

func (s *shards[S]) each(fn func(ref string, tree S)) {
	for idx, tree := range s.trees {
		fn(s.refs[idx], tree)
	}
}

func (s *shards[S]) reorder() error {
	for idx, tree := range s.trees {
		err := tree.Reorder()
		if err != nil {
			return fmt.Errorf("table: reorder %q: %w", s.refs[idx], err)
		}
	}

	return nil
}

func (s *shards[S]) references() []string {
	return append([]string(nil), s.refs...)
}

func (s *shards[S]) diagnostics() Diagnostics {
	diag := Diagnostics{
		Kind:           s.kind.String(),
		RefCapacity:    s.refCapacity,
		PerRefCapacity: s.perRef,
		Shards:         make([]ShardStats, 0, len(s.trees)),
	}

	s.each(func(ref string, tree S) {
		diag.Entries += tree.Len()
		diag.Dead += tree.Dead()
		diag.Shards = append(diag.Shards, ShardStats{
			Reference: ref,
			Entries:   tree.Len(),
			Dead:      tree.Dead(),
			Capacity:  tree.Cap(),
			Height:    tree.Height(),
		})
	})

	return diag
}

func (s *shards[S]) destroy() {
	for _, tree := range s.trees {
		tree.Destroy()
	}

	s.names = trie.NewUnbounded[int](trie.ASCII, trie.Upsert)
	s.refs, s.trees = nil, nil
}

// manifest lists the shards of a written table in slot order. Generation
// names the file set the manifest publishes.
type manifest struct {
	Kind           string   `json:"kind"`
	FormatVersion  uint16   `json:"format_version"`
	Generation     uint64   `json:"generation"`
	RefCapacity    int      `json:"ref_capacity"`
	PerRefCapacity int      `json:"per_ref_capacity"`
	References     []string `json:"references"`
	Sidecars       []string `json:"sidecars,omitempty"`
}

// fileSet names the files of one generation under a prefix.
type fileSet struct {
	dir, base string
	gen       uint64
}

func newFileSet(prefix string, gen uint64) fileSet {
	dir, base := persist.SplitPrefix(prefix)

	return fileSet{dir: dir, base: base, gen: gen}
}

func (f fileSet) manifest() string { return f.base + ".manifest" }

func (f fileSet) shard(idx int) string { return fmt.Sprintf("%s.%d.ref.%d", f.base, f.gen, idx) }

func (f fileSet) sidecar(name string) string { return fmt.Sprintf("%s.%d.%s", f.base, f.gen, name) }

// remove deletes the dumps m names, the manifest excluded.
func (f fileSet) remove(m *manifest) error {
	codec := &persist.DumpCodec{}

	var errs []error

	for idx := range m.References {
		errs = append(errs, persist.RemoveState(f.dir, f.shard(idx), codec))
	}

	for _, name := range m.Sidecars {
		errs = append(errs, persist.RemoveState(f.dir, f.sidecar(name), codec))
	}

	return errors.Join(errs...)
}

// sidecar is an extra dump published with the shards of a table.
type sidecar struct {
	name string
	dump *persist.Dump
}

func parallelism() int {
	return max(1, runtime.GOMAXPROCS(0))
}

// published reads the manifest currently at prefix, if any.
func published(prefix string) (*manifest, bool) {
	set := newFileSet(prefix, 0)

	var m manifest

	err := persist.LoadState(set.dir, set.manifest(), persist.NewJSONCodec(), &m)
	if err != nil {
		return nil, false
	}

	return &m, true
}

// Exists reports whether a table manifest is published at prefix.
func Exists(prefix string) (bool, error) {
	set := newFileSet(prefix, 0)

	_, err := os.Stat(filepath.Join(set.dir, set.manifest()+persist.NewJSONCodec().Extension()))

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("table: %w", err)
	}
}

// write saves every tree and sidecar under a fresh generation, then
// publishes prefix.manifest.json naming it. Until the manifest is replaced
// the previous file set stays intact; once it is, the old dumps are removed.
func (s *shards[S]) write(prefix string, extra ...sidecar) error {
	previous, hasPrevious := published(prefix)

	var gen uint64 = 1
	if hasPrevious {
		gen = previous.Generation + 1
	}

	set := newFileSet(prefix, gen)
	codec := &persist.DumpCodec{Compress: s.opts.compress}

	group := new(errgroup.Group)
	group.SetLimit(parallelism())

	for idx, tree := range s.trees {
		group.Go(func() error {
			err := persist.SaveState(set.dir, set.shard(idx), codec, tree.export())
			if err != nil {
				return fmt.Errorf("write %q: %w", s.refs[idx], err)
			}

			return nil
		})
	}

	names := make([]string, 0, len(extra))

	for _, side := range extra {
		names = append(names, side.name)

		group.Go(func() error {
			err := persist.SaveState(set.dir, set.sidecar(side.name), codec, side.dump)
			if err != nil {
				return fmt.Errorf("write %s: %w", side.name, err)
			}

			return nil
		})
	}

	next := &manifest{
		Kind:           s.kind.String(),
		FormatVersion:  persist.DumpVersion,
		Generation:     gen,
		RefCapacity:    s.refCapacity,
		PerRefCapacity: s.perRef,
		References:     s.references(),
		Sidecars:       names,
	}

	err := group.Wait()
	if err == nil {
		err = persist.SaveState(set.dir, set.manifest(), persist.NewJSONCodec(), next)
	}

	if err != nil {
		return fmt.Errorf("table: %w", errors.Join(err, set.remove(next)))
	}

	if hasPrevious {
		// Unreferenced once the new manifest is in place.
		_ = newFileSet(prefix, previous.Generation).remove(previous)
	}

	return nil
}

func (s *shards[S]) checkManifest(m *manifest) error {
	switch {
	case m.Kind != s.kind.String():
		return fmt.Errorf("%w: file set holds %s, table is %s", ErrManifest, m.Kind, s.kind)
	case m.FormatVersion != persist.DumpVersion:
		return fmt.Errorf("%w: format version %d", persist.ErrBadVersion, m.FormatVersion)
	case len(m.References) > s.refCapacity:
		return fmt.Errorf("%w: %d references for capacity %d", ErrCapacityExceeded, len(m.References), s.refCapacity)
	}

	return nil
}

// open reads and vets the manifest at prefix.
func (s *shards[S]) open(prefix string) (fileSet, *manifest, error) {
	set := newFileSet(prefix, 0)

	var m manifest

	err := persist.LoadState(set.dir, set.manifest(), persist.NewJSONCodec(), &m)
	if err == nil {
		err = s.checkManifest(&m)
	}

	if err != nil {
		return set, nil, fmt.Errorf("table: read manifest: %w", err)
	}

	set.gen = m.Generation

	return set, &m, nil
}

// read replaces every tree with the file set at prefix. verify, when set,
// vets each loaded tree. Nothing changes unless the whole set loads.
func (s *shards[S]) read(prefix string, verify func(tree S) error) error {
	set, m, err := s.open(prefix)
	if err != nil {
		return err
	}

	return s.load(set, m, verify)
}

func (s *shards[S]) load(set fileSet, m *manifest, verify func(tree S) error) error {
	refs := m.References

	names := trie.NewUnbounded[int](trie.ASCII, trie.Upsert)
	trees := make([]S, len(refs))
	loaded := make([]bool, len(refs))

	for idx, ref := range refs {
		if _, dup := names.Find(ref); dup {
			return fmt.Errorf("table: %w: reference %q listed twice", ErrManifest, ref)
		}

		_, err := names.Insert(ref, idx)
		if err != nil {
			return fmt.Errorf("table: manifest reference: %w", err)
		}
	}

	group := new(errgroup.Group)
	group.SetLimit(parallelism())

	for idx := range refs {
		group.Go(func() error {
			tree, err := s.create(s.perRef)
			if err != nil {
				return err
			}

			err = loadTree(set, idx, tree, verify)
			if err != nil {
				tree.Destroy()

				return fmt.Errorf("%q: %w", refs[idx], err)
			}

			trees[idx], loaded[idx] = tree, true

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		for idx, tree := range trees {
			if loaded[idx] {
				tree.Destroy()
			}
		}

		return fmt.Errorf("table: %w", err)
	}

	s.destroy()
	s.names, s.refs, s.trees = names, append([]string(nil), refs...), trees

	return nil
}

func loadTree[S shard](set fileSet, idx int, tree S, verify func(tree S) error) error {
	var dump persist.Dump

	err := persist.LoadState(set.dir, set.shard(idx), &persist.DumpCodec{Expect: tree.layout()}, &dump)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	err = tree.restore(&dump)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if verify != nil {
		err = verify(tree)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}

	return nil
}
