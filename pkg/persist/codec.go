// Package persist provides codec-based file persistence: a JSON codec for
// manifests and a versioned binary dump format for flat node arrays.
package persist

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	jsonExtension = ".json"
	dumpExtension = ".bin"
	jsonIndent    = "  "
)

// ErrIO wraps short reads, short writes and stream failures.
var ErrIO = errors.New("persist: i/o failure")

// Codec serializes one state value to a stream and back.
type Codec interface {
	Encode(w io.Writer, state any) error
	Decode(r io.Reader, state any) error
	// Extension is appended to the basename on disk, dot included.
	Extension() string
}

// JSONCodec stores manifests as JSON. Indent empty means compact output.
// Strict rejects documents with fields the target type does not declare.
type JSONCodec struct {
	Indent string
	Strict bool
}

// NewJSONCodec returns an indented, strict codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: jsonIndent, Strict: true}
}

func (c *JSONCodec) Encode(w io.Writer, state any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", c.Indent)

	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

func (c *JSONCodec) Decode(r io.Reader, state any) error {
	dec := json.NewDecoder(r)
	if c.Strict {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(state); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

func (c *JSONCodec) Extension() string { return jsonExtension }

// SaveState writes state to dir/basename plus the codec extension. The bytes
// land in a temporary sibling first and replace the target only after a
// successful sync, so readers never observe a half-written file.
func SaveState(dir, basename string, codec Codec, state any) error {
	target := filepath.Join(dir, basename+codec.Extension())

	tmp, err := os.CreateTemp(dir, "."+basename+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	err = writeSynced(tmp, codec, state)

	closeErr := tmp.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close %s: %w", ErrIO, tmp.Name(), closeErr)
	}

	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	return nil
}

func writeSynced(file *os.File, codec Codec, state any) error {
	buffered := bufio.NewWriter(file)

	if err := codec.Encode(buffered, state); err != nil {
		return fmt.Errorf("encode %s: %w", file.Name(), err)
	}

	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrIO, file.Name(), err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, file.Name(), err)
	}

	return nil
}

// LoadState decodes dir/basename plus the codec extension into state, which
// must be a pointer. A missing file surfaces as [fs.ErrNotExist].
func LoadState(dir, basename string, codec Codec, state any) error {
	path := filepath.Join(dir, basename+codec.Extension())

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := codec.Decode(bufio.NewReader(file), state); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

// RemoveState deletes dir/basename plus the codec extension. A missing file
// is not an error.
func RemoveState(dir, basename string, codec Codec) error {
	path := filepath.Join(dir, basename+codec.Extension())

	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// SplitPrefix turns a path prefix such as "/data/cov" into the directory and
// basename pair SaveState and LoadState expect.
func SplitPrefix(prefix string) (dir, base string) {
	return filepath.Dir(prefix), filepath.Base(prefix)
}
