package avl

import (
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
)

// linkColumns is the number of structural columns preceding item fields:
// left child, right child, balance.
const linkColumns = 3

// Schema describes how items map onto uint32 dump columns.
type Schema[T any] struct {
	Kind   persist.Kind
	Fields int
	// Encode writes the item's fields into row (len(row) == Fields).
	Encode func(item *T, row []uint32)
	// Decode reads row back into item. Derived fields need not be restored;
	// the tree recomputes augmentation after loading.
	Decode func(row []uint32, item *T) error
}

// Export captures the tree, tombstones included, as a dump.
func (t *Tree[T]) Export(schema Schema[T]) *persist.Dump {
	slots := t.nodes.Slots()
	columns := make([][]uint32, linkColumns+schema.Fields)

	for idx := range columns {
		columns[idx] = make([]uint32, len(slots))
	}

	row := make([]uint32, schema.Fields)

	for idx := range slots {
		node := &slots[idx]
		columns[0][idx] = uint32(node.Child[0])
		columns[1][idx] = uint32(node.Child[1])
		columns[2][idx] = uint32(int32(node.Balance))

		clear(row)
		schema.Encode(&node.Item, row)

		for field, value := range row {
			columns[linkColumns+field][idx] = value
		}
	}

	return &persist.Dump{
		Kind:    schema.Kind,
		Root:    uint32(t.root),
		Next:    uint32(len(slots)),
		Dead:    uint32(t.dead),
		Columns: columns,
	}
}

// Layout is what a dump must look like to restore into t.
func (t *Tree[T]) Layout(schema Schema[T]) persist.Layout {
	return persist.Layout{
		Kind:    schema.Kind,
		Columns: linkColumns + schema.Fields,
		MaxNext: uint32(t.nodes.Cap()),
	}
}

// Restore replaces the tree contents with dump. The dump is fully validated
// before the tree is touched; on error the tree is unchanged.
func (t *Tree[T]) Restore(schema Schema[T], dump *persist.Dump) error {
	if dump.Kind != schema.Kind || len(dump.Columns) != linkColumns+schema.Fields {
		return fmt.Errorf("%w: %s with %d columns", persist.ErrBadLayout, dump.Kind, len(dump.Columns))
	}

	next := int(dump.Next)
	if next > t.nodes.Cap() {
		return fmt.Errorf("avl restore: %w: %d nodes for capacity %d", ErrCapacityExceeded, next, t.nodes.Cap())
	}

	records := make([]Node[T], next)
	row := make([]uint32, schema.Fields)

	for idx := range records {
		left, right := dump.Columns[0][idx], dump.Columns[1][idx]
		if left > dump.Next || right > dump.Next {
			return fmt.Errorf("%w: node %d links out of range", persist.ErrBadLayout, idx+1)
		}

		balance := int32(dump.Columns[2][idx])
		if balance < -1 || balance > 1 {
			return fmt.Errorf("%w: node %d balance %d", persist.ErrBadLayout, idx+1, balance)
		}

		for field := range row {
			row[field] = dump.Columns[linkColumns+field][idx]
		}

		err := schema.Decode(row, &records[idx].Item)
		if err != nil {
			return fmt.Errorf("%w: node %d: %w", persist.ErrBadLayout, idx+1, err)
		}

		records[idx].Child = [2]arena.Handle{arena.Handle(left), arena.Handle(right)}
		records[idx].Balance = int8(balance)
	}

	staged := &Tree[T]{cmp: t.cmp, augment: t.augment, root: arena.Handle(dump.Root), dead: int(dump.Dead)}

	nodes, err := arena.New[Node[T]](t.nodes.Cap())
	if err != nil {
		return fmt.Errorf("avl restore: %w", err)
	}

	err = nodes.Load(records)
	if err != nil {
		return fmt.Errorf("avl restore: %w", err)
	}

	staged.nodes = nodes

	err = staged.Validate()
	if err != nil {
		nodes.Destroy()

		return fmt.Errorf("%w: %w", persist.ErrBadLayout, err)
	}

	staged.recompute(staged.root)

	t.nodes.Destroy()
	*t = *staged

	return nil
}

// recompute refreshes augmentation bottom-up.
func (t *Tree[T]) recompute(h arena.Handle) {
	if h == arena.Null || t.augment == nil {
		return
	}

	node := t.nodes.At(h)
	t.recompute(node.Child[0])
	t.recompute(node.Child[1])
	t.touch(h)
}

// WriteDump writes the tree as a dump to w.
func (t *Tree[T]) WriteDump(w io.Writer, schema Schema[T], compress bool) error {
	return persist.WriteDump(w, t.Export(schema), compress)
}

// ReadDump replaces the tree with the dump read from r.
func (t *Tree[T]) ReadDump(r io.Reader, schema Schema[T]) error {
	dump, err := persist.ReadDump(r, t.Layout(schema))
	if err != nil {
		return err
	}

	return t.Restore(schema, dump)
}
