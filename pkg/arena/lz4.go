package arena

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// uint32ByteSize is the number of bytes in a uint32.
const uint32ByteSize = 4

// ErrCorruptColumn is returned when a compressed column does not decode to the expected length.
var ErrCorruptColumn = errors.New("arena: corrupt compressed column")

// CompressUint32s encodes data as little-endian words and compresses them with LZ4.
// An empty or incompressible input is returned stored (flag false).
func CompressUint32s(data []uint32) (out []byte, compressed bool, err error) {
	raw := make([]byte, len(data)*uint32ByteSize)
	for idx, v := range data {
		binary.LittleEndian.PutUint32(raw[idx*uint32ByteSize:], v)
	}

	if len(raw) == 0 {
		return raw, false, nil
	}

	buf := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, buf, nil)
	if err != nil {
		return nil, false, fmt.Errorf("lz4 compress: %w", err)
	}

	if written == 0 || written >= len(raw) {
		return raw, false, nil
	}

	return buf[:written], true, nil
}

// DecompressUint32s reverses CompressUint32s for a column of n words.
func DecompressUint32s(data []byte, n int, compressed bool) ([]uint32, error) {
	raw := data

	if compressed {
		raw = make([]byte, n*uint32ByteSize)

		read, err := lz4.UncompressBlock(data, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptColumn, err)
		}

		raw = raw[:read]
	}

	if len(raw) != n*uint32ByteSize {
		return nil, fmt.Errorf("%w: %d bytes for %d words", ErrCorruptColumn, len(raw), n)
	}

	result := make([]uint32, n)
	for idx := range result {
		result[idx] = binary.LittleEndian.Uint32(raw[idx*uint32ByteSize:])
	}

	return result, nil
}

// DeltaEncode returns the gaps between consecutive entries of a
// non-decreasing column, the first entry kept as is. It reports false and
// returns nil when the column ever decreases.
func DeltaEncode(column []uint32) ([]uint32, bool) {
	gaps := make([]uint32, len(column))

	var prev uint32

	for idx, v := range column {
		if v < prev {
			return nil, false
		}

		gaps[idx], prev = v-prev, v
	}

	return gaps, true
}

// DeltaDecode turns gaps produced by DeltaEncode back into values, in place.
// It fails when the running total leaves the uint32 range.
func DeltaDecode(gaps []uint32) error {
	var total uint64

	for idx, gap := range gaps {
		total += uint64(gap)
		if total > uint64(^uint32(0)) {
			return fmt.Errorf("%w: delta overflow at entry %d", ErrCorruptColumn, idx)
		}

		gaps[idx] = uint32(total)
	}

	return nil
}
