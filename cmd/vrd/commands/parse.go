package commands

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
)

const flagSamples = "samples"

func parseUint32(name, raw string) (uint32, error) {
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}

	return uint32(value), nil
}

// parseUint32s parses positional arguments, one name per argument.
func parseUint32s(args []string, names ...string) ([]uint32, error) {
	out := make([]uint32, len(names))

	for idx, name := range names {
		value, err := parseUint32(name, args[idx])
		if err != nil {
			return nil, err
		}

		out[idx] = value
	}

	return out, nil
}

func addSamplesFlag(flags *pflag.FlagSet, dst *[]uint, usage string) {
	flags.UintSliceVarP(dst, flagSamples, "s", nil, usage)
}

// sampleSubset builds the sample filter; no samples yields nil.
func sampleSubset(samples []uint) (*avl.Multiset, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	values := make([]uint32, len(samples))

	for idx, sample := range samples {
		if sample > math.MaxUint32 {
			return nil, fmt.Errorf("invalid sample %d", sample)
		}

		values[idx] = uint32(sample)
	}

	return avl.MultisetOf(values...)
}
