package table

import "fmt"

// Phase field layout.
const (
	PhaseBits = 28
	// Homozygous marks an unphased variant present on both alleles; it
	// counts twice.
	Homozygous uint32 = 1<<PhaseBits - 1
	// MaxPhase is the largest phase-group identifier.
	MaxPhase = Homozygous - 1
)

func checkPhase(phase uint32) error {
	if phase > Homozygous {
		return fmt.Errorf("%w: phase %d exceeds %d", ErrOverflow, phase, Homozygous)
	}

	return nil
}

func phaseWeight(phase uint32) uint64 {
	if phase == Homozygous {
		return 2
	}

	return 1
}
