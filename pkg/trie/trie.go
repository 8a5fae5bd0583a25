// Package trie implements a fixed-alphabet dictionary from string keys to
// payloads. Paths are never removed once created; deletion clears the
// payload only.
package trie

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/safeconv"
)

// Sentinel errors.
var (
	ErrCapacityExceeded    = arena.ErrCapacityExceeded
	ErrInvalidKeyCharacter = errors.New("trie: invalid key character")
)

// Policy decides what Insert does with a key that already holds a payload.
type Policy uint8

const (
	// Upsert replaces the stored payload.
	Upsert Policy = iota
	// FirstWins keeps the stored payload and returns it.
	FirstWins
)

type node[V any] struct {
	value V
	set   bool
	child []arena.Handle
}

// Trie maps keys over an Alphabet to payloads of type V.
type Trie[V any] struct {
	alphabet *Alphabet
	policy   Policy
	nodes    arena.Allocator[node[V]]
	// links holds the child windows of every node in bounded tries.
	links    []arena.Handle
	capacity int
	root     arena.Handle
	keys     int
}

// New creates a trie holding at most capacity nodes, the root included.
func New[V any](alphabet *Alphabet, capacity int, policy Policy) (*Trie[V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("trie: %w: capacity %d leaves no room for the root", ErrCapacityExceeded, capacity)
	}

	if !safeconv.MulFits(capacity, alphabet.Size()) {
		return nil, fmt.Errorf("trie: %w: %d nodes of %d links", arena.ErrOutOfMemory, capacity, alphabet.Size())
	}

	nodes, err := arena.New[node[V]](capacity)
	if err != nil {
		return nil, fmt.Errorf("trie: %w", err)
	}

	t := &Trie[V]{
		alphabet: alphabet,
		policy:   policy,
		nodes:    nodes,
		links:    make([]arena.Handle, 0, capacity*alphabet.Size()),
		capacity: capacity,
	}

	t.root, err = t.alloc()
	if err != nil {
		return nil, err
	}

	return t, nil
}

// NewUnbounded creates a trie whose nodes live on the Go heap without a
// node limit.
func NewUnbounded[V any](alphabet *Alphabet, policy Policy) *Trie[V] {
	t := &Trie[V]{
		alphabet: alphabet,
		policy:   policy,
		nodes:    arena.NewHeap[node[V]](0),
	}

	root, err := t.alloc()
	if err != nil {
		panic(err)
	}

	t.root = root

	return t
}

// NewASCII creates an upserting trie over printable ASCII.
func NewASCII[V any](capacity int) (*Trie[V], error) {
	return New[V](ASCII, capacity, Upsert)
}

// NewIUPAC creates a first-insert-wins trie over IUPAC nucleotide codes.
func NewIUPAC[V any](capacity int) (*Trie[V], error) {
	return New[V](IUPAC, capacity, FirstWins)
}

func (t *Trie[V]) alloc() (arena.Handle, error) {
	h, err := t.nodes.Alloc()
	if err != nil {
		return arena.Null, fmt.Errorf("trie: %w", err)
	}

	slot, err := t.nodes.Resolve(h)
	if err != nil {
		return arena.Null, err
	}

	size := t.alphabet.Size()

	if t.capacity == 0 {
		slot.child = make([]arena.Handle, size)

		return h, nil
	}

	off := len(t.links)
	t.links = append(t.links, make([]arena.Handle, size)...)
	slot.child = t.links[off : off+size : off+size]

	return h, nil
}

func (t *Trie[V]) at(h arena.Handle) *node[V] {
	slot, err := t.nodes.Resolve(h)
	if err != nil {
		panic(err)
	}

	return slot
}

// Alphabet returns the key alphabet.
func (t *Trie[V]) Alphabet() *Alphabet { return t.alphabet }

// Len returns the number of keys holding a payload.
func (t *Trie[V]) Len() int { return t.keys }

// Nodes returns the number of allocated nodes.
func (t *Trie[V]) Nodes() int { return t.nodes.Len() }

// Cap returns the node capacity, zero for unbounded tries.
func (t *Trie[V]) Cap() int { return t.capacity }

// Insert stores value under key and returns the payload now held by key:
// value itself, or the earlier payload under FirstWins. Invalid keys and
// keys needing more nodes than remain are rejected before anything is
// allocated.
func (t *Trie[V]) Insert(key string, value V) (V, error) {
	var zero V

	err := t.alphabet.Check(key)
	if err != nil {
		return zero, err
	}

	h, depth := t.descend(key)

	need := len(key) - depth
	if t.capacity > 0 && t.nodes.Len()+need > t.capacity {
		return zero, fmt.Errorf("trie: %w: key %q needs %d nodes, %d free",
			ErrCapacityExceeded, key, need, t.capacity-t.nodes.Len())
	}

	for ; depth < len(key); depth++ {
		next, allocErr := t.alloc()
		if allocErr != nil {
			return zero, allocErr
		}

		idx, _ := t.alphabet.Index(key[depth])
		t.at(h).child[idx] = next
		h = next
	}

	target := t.at(h)

	if target.set && t.policy == FirstWins {
		return target.value, nil
	}

	if !target.set {
		t.keys++
	}

	target.value, target.set = value, true

	return value, nil
}

// descend follows key as far as existing nodes allow. It returns the last
// node reached and the number of key bytes consumed.
func (t *Trie[V]) descend(key string) (arena.Handle, int) {
	h := t.root

	for depth := range len(key) {
		idx, ok := t.alphabet.Index(key[depth])
		if !ok {
			return h, depth
		}

		next := t.at(h).child[idx]
		if next == arena.Null {
			return h, depth
		}

		h = next
	}

	return h, len(key)
}

// Find returns the payload stored under key. Keys with bytes outside the
// alphabet are never found.
func (t *Trie[V]) Find(key string) (V, bool) {
	var zero V

	h, depth := t.descend(key)
	if depth != len(key) {
		return zero, false
	}

	target := t.at(h)
	if !target.set {
		return zero, false
	}

	return target.value, true
}

// Clear drops the payload stored under key, keeping its path. It reports
// whether a payload was present.
func (t *Trie[V]) Clear(key string) bool {
	h, depth := t.descend(key)
	if depth != len(key) {
		return false
	}

	target := t.at(h)
	if !target.set {
		return false
	}

	var zero V

	target.value, target.set = zero, false
	t.keys--

	return true
}

// Walk visits keys holding a payload in alphabet order until fn returns false.
func (t *Trie[V]) Walk(fn func(key string, value V) bool) {
	t.walk(t.root, make([]byte, 0, 32), fn)
}

func (t *Trie[V]) walk(h arena.Handle, prefix []byte, fn func(string, V) bool) bool {
	current := t.at(h)
	if current.set && !fn(string(prefix), current.value) {
		return false
	}

	for idx, child := range current.child {
		if child == arena.Null {
			continue
		}

		if !t.walk(child, append(prefix, t.alphabet.Char(idx)), fn) {
			return false
		}
	}

	return true
}

// Keys returns every key holding a payload, in alphabet order.
func (t *Trie[V]) Keys() []string {
	keys := make([]string, 0, t.keys)

	t.Walk(func(key string, _ V) bool {
		keys = append(keys, key)

		return true
	})

	return keys
}
