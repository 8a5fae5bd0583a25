package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
)

// DumpVersion is the current on-disk version of the tree dump format.
const DumpVersion uint16 = 1

// dumpMagic opens every tree dump.
var dumpMagic = [4]byte{'V', 'R', 'D', 'T'}

// Kind tags the record schema of a dump so that readers reject foreign files.
type Kind uint8

// Known dump kinds.
const (
	KindMultiset Kind = iota + 1
	KindCoverage
	KindRegion
	KindSNV
	KindMNV
	KindSequences
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMultiset:
		return "multiset"
	case KindCoverage:
		return "coverage"
	case KindRegion:
		return "region"
	case KindSNV:
		return "snv"
	case KindMNV:
		return "mnv"
	case KindSequences:
		return "sequences"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	flagCompressed uint8 = 1 << iota
	// flagDelta marks a column stored as gaps between sorted entries.
	flagDelta
)

// wordBytes is the encoded width of one column entry.
const wordBytes = 4

// maxBlobBytes bounds the blob section a reader accepts.
const maxBlobBytes = 1 << 31

// maxColumns bounds the column count of a dump read without a layout.
const maxColumns = 64

// Format errors.
var (
	ErrBadMagic     = errors.New("persist: bad dump magic")
	ErrBadVersion   = errors.New("persist: unsupported dump version")
	ErrKindMismatch = errors.New("persist: dump kind mismatch")
	ErrBadLayout    = errors.New("persist: dump layout mismatch")
)

// Dump is the structural image of one tree: its root, allocation cursor,
// tombstone count and one uint32 column per node field. Every column has
// Next entries; entry i describes handle i+1.
type Dump struct {
	Kind    Kind
	Root    uint32
	Next    uint32
	Dead    uint32
	Columns [][]uint32
	// Blob carries variable-length payload (sequence bytes); empty for trees.
	Blob []byte
}

// header is the fixed-width prologue, little-endian.
type header struct {
	Magic   [4]byte
	Version uint16
	Kind    Kind
	Flags   uint8
	Root    uint32
	Next    uint32
	Dead    uint32
	Columns uint32
	Blob    uint32
}

// Layout is what a reader expects of a dump. Zero fields are not checked.
// MaxNext bounds the entries per column and is enforced before any column
// is allocated.
type Layout struct {
	Kind    Kind
	Columns int
	MaxNext uint32
}

// DumpCodec implements Codec for *Dump values.
type DumpCodec struct {
	// Compress enables LZ4 compression of columns.
	Compress bool
	// Expect is enforced on Decode.
	Expect Layout
}

// Extension implements Codec.Extension for dump files.
func (c *DumpCodec) Extension() string {
	return dumpExtension
}

// Encode implements Codec.Encode; state must be a *Dump.
func (c *DumpCodec) Encode(w io.Writer, state any) error {
	dump, ok := state.(*Dump)
	if !ok {
		return fmt.Errorf("%w: encode %T", ErrBadLayout, state)
	}

	return WriteDump(w, dump, c.Compress)
}

// Decode implements Codec.Decode; state must be a *Dump.
func (c *DumpCodec) Decode(r io.Reader, state any) error {
	dump, ok := state.(*Dump)
	if !ok {
		return fmt.Errorf("%w: decode %T", ErrBadLayout, state)
	}

	got, err := ReadDump(r, c.Expect)
	if err != nil {
		return err
	}

	*dump = *got

	return nil
}

// WriteDump writes d to w.
func WriteDump(w io.Writer, d *Dump, compress bool) error {
	for idx, column := range d.Columns {
		if len(column) != int(d.Next) {
			return fmt.Errorf("%w: column %d has %d entries, want %d", ErrBadLayout, idx, len(column), d.Next)
		}
	}

	blobLen, err := safeconv.IntToUint32(len(d.Blob))
	if err != nil {
		return fmt.Errorf("%w: blob: %w", ErrBadLayout, err)
	}

	hdr := header{
		Magic:   dumpMagic,
		Version: DumpVersion,
		Kind:    d.Kind,
		Root:    d.Root,
		Next:    d.Next,
		Dead:    d.Dead,
		Columns: safeconv.MustIntToUint32(len(d.Columns)),
		Blob:    blobLen,
	}

	if compress {
		hdr.Flags |= flagCompressed
	}

	err = binary.Write(w, binary.LittleEndian, &hdr)
	if err != nil {
		return fmt.Errorf("%w: write header: %w", ErrIO, err)
	}

	for idx, column := range d.Columns {
		err = writeColumn(w, column, compress)
		if err != nil {
			return fmt.Errorf("%w: write column %d: %w", ErrIO, idx, err)
		}
	}

	_, err = w.Write(d.Blob)
	if err != nil {
		return fmt.Errorf("%w: write blob: %w", ErrIO, err)
	}

	return nil
}

// writeColumn emits mode(u8) len(u32) bytes. Compressed sorted columns are
// delta coded first.
func writeColumn(w io.Writer, column []uint32, compress bool) error {
	var (
		payload []byte
		mode    uint8
	)

	if compress {
		source := column

		if gaps, sorted := arena.DeltaEncode(column); sorted && len(column) > 1 {
			source = gaps
			mode |= flagDelta
		}

		packed, compressed, err := arena.CompressUint32s(source)
		if err != nil {
			return err
		}

		if compressed {
			payload = packed
			mode |= flagCompressed
		} else {
			mode &^= flagDelta
		}
	}

	if mode&flagCompressed == 0 {
		payload = make([]byte, 0, len(column)*wordBytes)

		for _, v := range column {
			payload = binary.LittleEndian.AppendUint32(payload, v)
		}
	}

	size, err := safeconv.IntToUint32(len(payload))
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.LittleEndian, mode)
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.LittleEndian, size)
	if err != nil {
		return err
	}

	_, err = w.Write(payload)

	return err
}

// ReadDump reads a dump from r, checking the header against want.
func ReadDump(r io.Reader, want Layout) (*Dump, error) {
	var hdr header

	err := binary.Read(r, binary.LittleEndian, &hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrIO, err)
	}

	if hdr.Magic != dumpMagic {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, hdr.Magic[:])
	}

	if hdr.Version != DumpVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, hdr.Version)
	}

	if want.Kind != 0 && hdr.Kind != want.Kind {
		return nil, fmt.Errorf("%w: file holds %s, want %s", ErrKindMismatch, hdr.Kind, want.Kind)
	}

	if want.Columns != 0 && int(hdr.Columns) != want.Columns {
		return nil, fmt.Errorf("%w: %d columns, want %d", ErrBadLayout, hdr.Columns, want.Columns)
	}

	if want.MaxNext != 0 && hdr.Next > want.MaxNext {
		return nil, fmt.Errorf("%w: %d entries for capacity %d", arena.ErrCapacityExceeded, hdr.Next, want.MaxNext)
	}

	if want.Columns == 0 && hdr.Columns > maxColumns {
		return nil, fmt.Errorf("%w: %d columns", ErrBadLayout, hdr.Columns)
	}

	if hdr.Dead > hdr.Next || hdr.Root > hdr.Next || hdr.Blob > maxBlobBytes {
		return nil, fmt.Errorf("%w: root %d dead %d next %d", ErrBadLayout, hdr.Root, hdr.Dead, hdr.Next)
	}

	dump := &Dump{
		Kind:    hdr.Kind,
		Root:    hdr.Root,
		Next:    hdr.Next,
		Dead:    hdr.Dead,
		Columns: make([][]uint32, hdr.Columns),
	}

	for idx := range dump.Columns {
		dump.Columns[idx], err = readColumn(r, int(hdr.Next))
		if err != nil {
			return nil, fmt.Errorf("read column %d: %w", idx, err)
		}
	}

	dump.Blob, err = readBounded(r, hdr.Blob)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob: %w", ErrIO, err)
	}

	return dump, nil
}

func readColumn(r io.Reader, n int) ([]uint32, error) {
	var (
		mode uint8
		size uint32
	)

	err := binary.Read(r, binary.LittleEndian, &mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	err = binary.Read(r, binary.LittleEndian, &size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	compressed := mode&flagCompressed != 0
	raw := uint64(n) * wordBytes

	switch {
	case mode&^(flagCompressed|flagDelta) != 0, mode == flagDelta:
		return nil, fmt.Errorf("%w: column mode %#x", ErrBadLayout, mode)
	case compressed && uint64(size) >= raw, !compressed && uint64(size) != raw:
		return nil, fmt.Errorf("%w: column of %d bytes for %d entries", ErrBadLayout, size, n)
	}

	payload, err := readBounded(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	column, err := arena.DecompressUint32s(payload, n, compressed)
	if err == nil && mode&flagDelta != 0 {
		err = arena.DeltaDecode(column)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadLayout, err)
	}

	return column, nil
}

// readBounded reads exactly n bytes, growing the buffer only as data
// arrives so that a lying length cannot force a large allocation.
func readBounded(r io.Reader, n uint32) ([]byte, error) {
	var buf bytes.Buffer

	read, err := io.CopyN(&buf, r, int64(n))
	if err != nil {
		return nil, fmt.Errorf("%d of %d bytes: %w", read, n, err)
	}

	return buf.Bytes(), nil
}
