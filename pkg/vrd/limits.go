// Package vrd is the variant-frequency index: coverage, genotype region and
// variant tables over one shared sequence table, with sample-filtered
// counting queries.
package vrd

import (
	"github.com/Sumatoshi-tech/vrd/pkg/itree"
	"github.com/Sumatoshi-tech/vrd/pkg/table"
	"github.com/Sumatoshi-tech/vrd/pkg/trie"
)

// Value limits of stored fields.
const (
	MaxPosition = itree.MaxPosition
	MaxSample   = itree.MaxSample
	Homozygous  = table.Homozygous
	MaxPhase    = table.MaxPhase
)

// Sentinel errors surfaced by the index.
var (
	ErrCapacityExceeded = table.ErrCapacityExceeded
	ErrOverflow         = table.ErrOverflow
	ErrInvalidCharacter = trie.ErrInvalidKeyCharacter
	ErrNotFound         = table.ErrNotFound
)

// isSNV reports whether a variant replaces exactly one reference base with
// one nucleotide.
func isSNV(start, end uint32, seq string) bool {
	return end > start && end-start == 1 && len(seq) == 1
}
