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

// Package batch implements BatchState (C2): the lifecycle of one
// compressed input row as it becomes a source of decompressed rows, and
// the private arena it owns for the duration of that lifecycle.
package batch

import (
	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/compression"
)

// scalar holds one Segmentby value plus its null bit.
type scalar struct {
	value interface{}
	null  bool
}

// State is one open compressed input row, decoded lazily column by
// column. It exclusively owns arena and every ColumnarArray within it;
// once Release is called, all of those become invalid simultaneously.
type State struct {
	// ID is unique among batches concurrently open in one operator
	// instance; the heap queue's mergePointer keys on this rather than a
	// pointer, per the data model's ownership note.
	ID int64

	table *compression.DescriptorTable
	arena *arena.Arena

	// columns[i] is populated lazily as decompression is requested for
	// descriptor i; nil until then. Indexed by InputPosition.
	columns []*arena.ColumnarArray
	// segment[i] mirrors columns but for Segmentby descriptors.
	segment []scalar

	length int // -1 until the count metadata has been read
	cursor int

	// validity is the batch-level mask produced by vectorized quals: bit i
	// == 1 iff row i passes every vectorized qual. Nil means "no quals
	// evaluated yet", which the FIFO/heap queues treat as all-ones.
	validity []byte

	// minmax holds the per-batch min/max metadata for columns the planner
	// selected as sort-info presort keys, keyed by input position.
	minmax map[int][2]interface{}

	released bool
}

// New constructs an empty BatchState for one compressed input row. The
// caller (the operator) is responsible for arena sizing (arena.TargetBytes)
// and for calling SetCount once the count metadata is known.
func New(id int64, table *compression.DescriptorTable, a *arena.Arena) *State {
	return &State{
		ID:      id,
		table:   table,
		arena:   a,
		columns: make([]*arena.ColumnarArray, len(table.Descriptors)),
		segment: make([]scalar, len(table.Descriptors)),
		length:  -1,
	}
}

// SetCount records the batch's row count, establishing Length() and the
// cursor's upper bound. It is an error to call this more than once.
func (s *State) SetCount(count uint32) error {
	if s.length >= 0 {
		return errors.New("batch count already set")
	}
	if count > compression.NMax {
		return errors.Errorf("batch count %d exceeds N_MAX=%d", count, compression.NMax)
	}
	s.length = int(count)
	return nil
}

// Length returns the batch's row count. Panics if SetCount was never
// called — a programmer error, since the count descriptor is mandatory.
func (s *State) Length() int {
	if s.length < 0 {
		panic("batch.State: Length called before SetCount")
	}
	return s.length
}

// Cursor returns the current row cursor, in [0, Length()].
func (s *State) Cursor() int { return s.cursor }

// SetCursor advances the cursor. It never exceeds Length().
func (s *State) SetCursor(c int) {
	if c > s.length {
		c = s.length
	}
	s.cursor = c
}

// Exhausted reports whether the cursor has reached the batch's length.
func (s *State) Exhausted() bool { return s.cursor >= s.length }

// SetSegment records a Segmentby column's scalar value and null bit.
func (s *State) SetSegment(inputPos int, value interface{}, null bool) {
	s.segment[inputPos] = scalar{value: value, null: null}
}

// Segment retrieves a previously-set Segmentby scalar.
func (s *State) Segment(inputPos int) (value interface{}, null bool) {
	sc := s.segment[inputPos]
	return sc.value, sc.null
}

// SetColumn installs the ColumnarArray decoded for a Compressed
// descriptor. All Compressed columns of a batch must end up with equal
// Length once fully decoded — callers compare against s.Length().
func (s *State) SetColumn(inputPos int, arr *arena.ColumnarArray) error {
	if arr.Length != s.length {
		return errors.Errorf("column at input position %d: decoded length %d does not match batch count %d", inputPos, arr.Length, s.length)
	}
	s.columns[inputPos] = arr
	return nil
}

// Column returns the ColumnarArray for a Compressed descriptor, or nil if
// it has not been decompressed yet (bulk decompression is demand-driven:
// only columns a qual or the output needs are ever decoded).
func (s *State) Column(inputPos int) *arena.ColumnarArray {
	return s.columns[inputPos]
}

// Arena exposes the batch's private arena to the bulk decompressor.
func (s *State) Arena() *arena.Arena { return s.arena }

// Table returns the descriptor table this batch was built against.
func (s *State) Table() *compression.DescriptorTable { return s.table }

// SetMinMax records the min/max metadata for a sort-info presort column.
func (s *State) SetMinMax(inputPos int, lo, hi interface{}) {
	if s.minmax == nil {
		s.minmax = make(map[int][2]interface{})
	}
	s.minmax[inputPos] = [2]interface{}{lo, hi}
}

// MinMax returns the recorded min/max metadata for inputPos, if any.
func (s *State) MinMax(inputPos int) (mm [2]interface{}, ok bool) {
	mm, ok = s.minmax[inputPos]
	return mm, ok
}

// SetValidity installs the vectorized-qual validity mask computed by
// vecexpr.Evaluate.
func (s *State) SetValidity(mask []byte) { s.validity = mask }

// PassesQuals reports whether row i survived vectorized qualifier
// evaluation. A nil mask (no quals were evaluated) means every row passes.
func (s *State) PassesQuals(i int) bool {
	if s.validity == nil {
		return true
	}
	return s.validity[i/8]&(1<<uint(i%8)) != 0
}

// NextPassingRow returns the smallest row index >= from that passes
// vectorized quals, or Length() if none remain.
func (s *State) NextPassingRow(from int) int {
	for i := from; i < s.length; i++ {
		if s.PassesQuals(i) {
			return i
		}
	}
	return s.length
}

// AllFiltered reports whether every row in the batch was filtered out by
// vectorized quals — the heap queue must not insert such a batch, and the
// FIFO queue must skip straight past it.
func (s *State) AllFiltered() bool {
	return s.NextPassingRow(0) >= s.length
}

// Release resets the arena for reuse and marks the batch invalid. Every
// ColumnarArray and Segment value obtained from this batch becomes invalid
// the instant Release returns.
func (s *State) Release() {
	if s.released {
		return
	}
	s.arena.Reset()
	for i := range s.columns {
		s.columns[i] = nil
	}
	for i := range s.segment {
		s.segment[i] = scalar{}
	}
	s.validity = nil
	s.minmax = nil
	s.length = -1
	s.cursor = 0
	s.released = true
}

// Reuse un-marks a released BatchState for a new compressed input row,
// used by the pooling layer (see executor.batchPool) instead of
// allocating a fresh State and arena per batch.
func (s *State) Reuse(id int64) {
	s.ID = id
	s.released = false
}

// Row is a copy-free pointer into one BatchState's column arrays: a batch
// id and row index, resolved lazily. It is valid only until its owning
// BatchState is released (the data model's ownership invariant).
type Row struct {
	BatchID int64
	Index   int
}
