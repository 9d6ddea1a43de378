// Copyright 2024 The decompress-chunk Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package codec is the bulk decompressor adapter (C3): it invokes a
// codec-specific function that turns one column's opaque blob into a
// columnar array, treating the codec itself as a black box per spec.md's
// out-of-scope list.
package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/compression"
)

// DecompressFunc is the shape every codec implements: consume a blob and
// the declared logical type, produce a columnar array sized to the
// arena's bulk allocation (via arena.AllocColumnarArray), or fail.
//
// All allocations beyond scratch must come from dst; scratch is a shared
// buffer reset between columns of the same batch and must not be retained
// past the call.
type DecompressFunc func(dst *arena.Arena, scratch *arena.Arena, blob []byte, typ compression.LogicalType) (*arena.ColumnarArray, error)

// Registry is the process-wide, read-mostly map from algorithm tag to
// decompressor. It is injected at operator init (see config.WithRegistry
// and config.RegistryFrom) and
// never mutated during a scan.
type Registry struct {
	codecs map[string]DecompressFunc
}

// NewRegistry returns a registry pre-populated with the reference codecs
// this module ships (plain, delta, rle) so the operator is exercisable
// end to end without an external compression library.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]DecompressFunc)}
	r.Register("plain", decompressPlain)
	r.Register("delta", decompressDelta)
	r.Register("rle", decompressRLE)
	return r
}

// Register installs or replaces the decompressor for tag.
func (r *Registry) Register(tag string, fn DecompressFunc) {
	r.codecs[tag] = fn
}

// BulkCapable reports whether tag has a registered bulk decompressor; the
// planner consults this (and only this) when deciding bulk_ok for a
// descriptor, per SPEC_FULL.md §4.1.
func (r *Registry) BulkCapable(tag string) bool {
	_, ok := r.codecs[tag]
	return ok
}

// Decompress invokes the codec registered for d.Codec. A codec error or an
// unknown tag aborts the whole query per spec.md §4.2: there is no
// partial-row recovery, a batch is atomic.
func (r *Registry) Decompress(dst, scratch *arena.Arena, blob []byte, d compression.ColumnDescriptor) (*arena.ColumnarArray, error) {
	fn, ok := r.codecs[d.Codec]
	if !ok {
		return nil, errors.Errorf("column %q: no registered codec %q", d.Name, d.Codec)
	}
	arr, err := fn(dst, scratch, blob, d.LogicalType)
	if err != nil {
		return nil, errors.Annotatef(err, "column %q: codec %q failed", d.Name, d.Codec)
	}
	if arr.Length > compression.NMax {
		return nil, errors.Errorf("column %q: codec %q produced %d rows, exceeds N_MAX=%d", d.Name, d.Codec, arr.Length, compression.NMax)
	}
	return arr, nil
}

// readHeader parses the common wire prefix every reference codec uses: a
// uint32 element count followed by a validity bitmap of that many bits.
func readHeader(blob []byte) (length int, validity []byte, rest []byte, err error) {
	if len(blob) < 4 {
		return 0, nil, nil, errors.New("blob too short for header")
	}
	length = int(binary.LittleEndian.Uint32(blob))
	blob = blob[4:]
	validityBytes := (length + 7) / 8
	if len(blob) < validityBytes {
		return 0, nil, nil, errors.New("blob too short for validity bitmap")
	}
	return length, blob[:validityBytes], blob[validityBytes:], nil
}

// decompressPlain reproduces the values verbatim: the blob already holds
// fixed-width elements in order. This is the baseline codec every other
// codec's output must agree with under full decompression.
func decompressPlain(dst, _ *arena.Arena, blob []byte, typ compression.LogicalType) (*arena.ColumnarArray, error) {
	length, validity, rest, err := readHeader(blob)
	if err != nil {
		return nil, errors.Trace(err)
	}
	width := typ.Width()
	if width <= 0 {
		return nil, errors.Errorf("plain codec does not support variable-width type %s", typ)
	}
	if len(rest) < length*width {
		return nil, errors.New("blob too short for values")
	}
	arr, ok := arena.AllocColumnarArray(dst, length, width)
	if !ok {
		return nil, errors.New("arena exhausted decompressing plain column")
	}
	copy(arr.Values, rest[:length*width])
	copy(arr.Validity, validity)
	return arr, nil
}

// decompressDelta undoes delta integer encoding: the blob stores the first
// value verbatim followed by successive deltas, summed back in order. Only
// Int32/Int64 are supported, matching the aggregator's supported types.
func decompressDelta(dst, scratch *arena.Arena, blob []byte, typ compression.LogicalType) (*arena.ColumnarArray, error) {
	length, validity, rest, err := readHeader(blob)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch typ {
	case compression.TypeInt32:
		return decodeDeltaInt32(dst, scratch, length, validity, rest)
	case compression.TypeInt64:
		return decodeDeltaInt64(dst, scratch, length, validity, rest)
	default:
		return nil, errors.Errorf("delta codec does not support type %s", typ)
	}
}

func decodeDeltaInt32(dst, _ *arena.Arena, length int, validity, rest []byte) (*arena.ColumnarArray, error) {
	if len(rest) < length*4 {
		return nil, errors.New("blob too short for delta values")
	}
	arr, ok := arena.AllocColumnarArray(dst, length, 4)
	if !ok {
		return nil, errors.New("arena exhausted decompressing delta column")
	}
	var acc int32
	for i := 0; i < length; i++ {
		d := int32(binary.LittleEndian.Uint32(rest[i*4 : i*4+4]))
		if i == 0 {
			acc = d
		} else {
			acc += d
		}
		binary.LittleEndian.PutUint32(arr.Values[i*4:i*4+4], uint32(acc))
	}
	copy(arr.Validity, validity)
	return arr, nil
}

func decodeDeltaInt64(dst, _ *arena.Arena, length int, validity, rest []byte) (*arena.ColumnarArray, error) {
	if len(rest) < length*8 {
		return nil, errors.New("blob too short for delta values")
	}
	arr, ok := arena.AllocColumnarArray(dst, length, 8)
	if !ok {
		return nil, errors.New("arena exhausted decompressing delta column")
	}
	var acc int64
	for i := 0; i < length; i++ {
		d := int64(binary.LittleEndian.Uint64(rest[i*8 : i*8+8]))
		if i == 0 {
			acc = d
		} else {
			acc += d
		}
		binary.LittleEndian.PutUint64(arr.Values[i*8:i*8+8], uint64(acc))
	}
	copy(arr.Validity, validity)
	return arr, nil
}

// decompressRLE expands run-length pairs (value, repeat-count) into a flat
// array; used for low-cardinality segmentby-adjacent columns.
func decompressRLE(dst, _ *arena.Arena, blob []byte, typ compression.LogicalType) (*arena.ColumnarArray, error) {
	length, validity, rest, err := readHeader(blob)
	if err != nil {
		return nil, errors.Trace(err)
	}
	width := typ.Width()
	if width <= 0 {
		return nil, errors.Errorf("rle codec does not support variable-width type %s", typ)
	}
	arr, ok := arena.AllocColumnarArray(dst, length, width)
	if !ok {
		return nil, errors.New("arena exhausted decompressing rle column")
	}
	copy(arr.Validity, validity)
	out := 0
	for len(rest) >= width+4 && out < length {
		val := rest[:width]
		count := int(binary.LittleEndian.Uint32(rest[width : width+4]))
		rest = rest[width+4:]
		for i := 0; i < count && out < length; i++ {
			copy(arr.Values[out*width:out*width+width], val)
			out++
		}
	}
	if out != length {
		return nil, errors.Errorf("rle codec: header declared %d rows, runs produced %d", length, out)
	}
	return arr, nil
}
