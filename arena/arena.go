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

// Package arena implements the per-batch memory arena described in the
// data model: a single byte slab, sized once per operator instance and
// reused (reset, not freed) across batches so the reset-reuse discipline
// never triggers allocator churn.
package arena

import (
	"github.com/timescale/decompress-chunk/compression"
)

const (
	pageSize  = 4096
	maxArena  = 1 << 20 // 1 MiB clamp
	headerPad = 64       // per-column header overhead baked into the formula
)

// TargetBytes computes the arena target size from §3: for every bulk-ok
// column, (N_MAX+64)*width + N_MAX/64*8 for the validity bitmap, plus
// header overhead, rounded up to a 4 KiB multiple and clamped to 1 MiB.
func TargetBytes(cols []compression.ColumnDescriptor) int {
	total := 0
	for _, d := range cols {
		if !d.BulkOK || d.Kind != compression.KindCompressed {
			continue
		}
		width := d.ValueWidth
		if width <= 0 {
			// Variable-width (Text): budget for the offset array, not the
			// backing bytes, which grow their own auxiliary arena.
			width = 4
		}
		total += (compression.NMax+headerPad)*width + (compression.NMax/64)*8 + headerPad
	}
	rounded := ((total + pageSize - 1) / pageSize) * pageSize
	if rounded == 0 {
		rounded = pageSize
	}
	if rounded > maxArena {
		rounded = maxArena
	}
	return rounded
}

// Arena is a bump allocator over one pre-sized byte slab. It is never
// grown: a request that would overflow the slab is a bug in the sizing
// formula (or in a codec that decompresses past N_MAX), and is reported
// rather than silently reallocated, so arena discipline stays provable.
type Arena struct {
	buf    []byte
	offset int
}

// New allocates a fresh slab of the given size.
func New(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Reset rewinds the arena to empty without releasing the backing slab.
func (a *Arena) Reset() {
	a.offset = 0
}

// Len returns the number of bytes currently allocated from the arena.
func (a *Arena) Len() int {
	return a.offset
}

// Cap returns the slab's total size.
func (a *Arena) Cap() int {
	return len(a.buf)
}

// Alloc carves n bytes out of the slab, reporting ok=false if the slab has
// no room. The bytes are zero only on the slab's first use; after Reset
// they hold whatever earlier allocations wrote — the caller (a codec or BatchState) must treat that as
// a fatal sizing-formula violation, not retry with a bigger arena.
func (a *Arena) Alloc(n int) (b []byte, ok bool) {
	if a.offset+n > len(a.buf) {
		return nil, false
	}
	b = a.buf[a.offset : a.offset+n : a.offset+n]
	a.offset += n
	return b, true
}

// ColumnarArray is the triple a bulk decompressor produces for one column
// of one batch: a contiguous values buffer, a validity bitmap (bit i == 1
// iff element i is non-null), and the logical length.
type ColumnarArray struct {
	Values   []byte
	Validity []byte
	Length   int
	// Offsets is non-nil only for variable-width (Text) columns: Offsets[i]
	// and Offsets[i+1] bound element i's bytes within Values.
	Offsets []int32
}

// ValidAt reports whether element i is non-null.
func (c *ColumnarArray) ValidAt(i int) bool {
	return c.Validity[i/8]&(1<<uint(i%8)) != 0
}

// SetValid sets or clears the validity bit for element i.
func (c *ColumnarArray) SetValid(i int, valid bool) {
	byteIdx, bit := i/8, uint(i%8)
	if valid {
		c.Validity[byteIdx] |= 1 << bit
	} else {
		c.Validity[byteIdx] &^= 1 << bit
	}
}

// AllocColumnarArray carves a ColumnarArray with room for length elements
// of the given fixed width out of the arena.
func AllocColumnarArray(a *Arena, length, width int) (*ColumnarArray, bool) {
	values, ok := a.Alloc(length * width)
	if !ok {
		return nil, false
	}
	validityBytes := (length + 7) / 8
	validity, ok := a.Alloc(validityBytes)
	if !ok {
		return nil, false
	}
	for i := range validity {
		validity[i] = 0xff
	}
	return &ColumnarArray{Values: values, Validity: validity, Length: length}, true
}
