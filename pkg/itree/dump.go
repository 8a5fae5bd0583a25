package itree

import (
	"io"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/persist"
)

// intervalFields are the columns every interval record carries before its
// payload: start, end, sample. Max is derived and not stored.
const intervalFields = 3

// Codec maps a payload onto uint32 dump columns.
type Codec[P any] struct {
	Kind   persist.Kind
	Fields int
	Encode func(p *P, row []uint32)
	Decode func(row []uint32, p *P) error
}

func (c Codec[P]) schema() avl.Schema[Interval[P]] {
	return avl.Schema[Interval[P]]{
		Kind:   c.Kind,
		Fields: intervalFields + c.Fields,
		Encode: func(iv *Interval[P], row []uint32) {
			row[0], row[1], row[2] = iv.Start, iv.End, iv.Sample
			if c.Fields > 0 {
				c.Encode(&iv.Payload, row[intervalFields:])
			}
		},
		Decode: func(row []uint32, iv *Interval[P]) error {
			iv.Start, iv.End, iv.Sample = row[0], row[1], row[2]

			err := CheckBounds(iv.Start, iv.End, iv.Sample)
			if err != nil {
				return err
			}

			if c.Fields == 0 {
				return nil
			}

			return c.Decode(row[intervalFields:], &iv.Payload)
		},
	}
}

// Export captures the tree as a dump.
func (t *Tree[P]) Export(codec Codec[P]) *persist.Dump {
	return t.nodes.Export(codec.schema())
}

// Restore replaces the tree with dump; on error the tree is unchanged.
func (t *Tree[P]) Restore(codec Codec[P], dump *persist.Dump) error {
	return t.nodes.Restore(codec.schema(), dump)
}

// WriteDump writes the tree as a dump to w.
func (t *Tree[P]) WriteDump(w io.Writer, codec Codec[P], compress bool) error {
	return t.nodes.WriteDump(w, codec.schema(), compress)
}

// ReadDump replaces the tree with the dump read from r.
func (t *Tree[P]) ReadDump(r io.Reader, codec Codec[P]) error {
	return t.nodes.ReadDump(r, codec.schema())
}

// Layout is what a dump must look like to restore into t.
func (t *Tree[P]) Layout(codec Codec[P]) persist.Layout {
	return t.nodes.Layout(codec.schema())
}
