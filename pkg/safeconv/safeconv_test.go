package safeconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustIntToUint32(t *testing.T) {
	t.Parallel()

	t.Run("normal_value", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint32(42), MustIntToUint32(42))
	})

	t.Run("max_uint32", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, MaxUint32, MustIntToUint32(int(MaxUint32)))
	})

	t.Run("negative_panics", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "safeconv: int to uint32 out of bounds", func() {
			MustIntToUint32(-1)
		})
	})
}

func TestIntToUint32(t *testing.T) {
	t.Parallel()

	got, err := IntToUint32(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got)

	_, err = IntToUint32(-3)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = IntToUint32(int(MaxUint32) + 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestUint64ToUint32(t *testing.T) {
	t.Parallel()

	got, err := Uint64ToUint32(math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, MaxUint32, got)

	_, err = Uint64ToUint32(math.MaxUint32 + 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   uint64
		bits    uint
		wantErr bool
	}{
		{name: "zero", value: 0, bits: 4},
		{name: "max_4", value: 15, bits: 4},
		{name: "over_4", value: 16, bits: 4, wantErr: true},
		{name: "max_28", value: 1<<28 - 1, bits: 28},
		{name: "over_28", value: 1 << 28, bits: 28, wantErr: true},
		{name: "clamped_64", value: math.MaxUint32 + 1, bits: 64, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Bits(tc.value, tc.bits)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrOverflow)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, uint32(tc.value), got)
		})
	}
}

func TestMaxBits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0xF), MaxBits(4))
	assert.Equal(t, uint64(math.MaxUint64), MaxBits(64))
}

func TestMulFits(t *testing.T) {
	t.Parallel()

	assert.True(t, MulFits(0, MaxInt))
	assert.True(t, MulFits(1<<20, 1<<20))
	assert.False(t, MulFits(MaxInt, 2))
	assert.False(t, MulFits(-1, 2))
}
