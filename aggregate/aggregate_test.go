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

package aggregate

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/batch"
	"github.com/timescale/decompress-chunk/compression"
)

func newOneColTable(t *testing.T) *compression.DescriptorTable {
	t.Helper()
	descs := []compression.ColumnDescriptor{
		{Kind: compression.KindCompressed, LogicalType: compression.TypeInt32, ValueWidth: 4, Codec: "plain", Name: "reading"},
		{Kind: compression.KindMetadataCount, OutputPosition: compression.MetadataOutputPosition, Name: "_ts_meta_count"},
	}
	for i := range descs {
		descs[i].InputPosition = i
	}
	table, err := compression.NewDescriptorTable(descs)
	if err != nil {
		t.Fatalf("NewDescriptorTable: %v", err)
	}
	return table
}

func makeCompressedBatch(t *testing.T, table *compression.DescriptorTable, values []int32, nullAt map[int]bool) *batch.State {
	t.Helper()
	a := arena.New(8192)
	s := batch.New(1, table, a)
	if err := s.SetCount(uint32(len(values))); err != nil {
		t.Fatal(err)
	}
	arr, ok := arena.AllocColumnarArray(a, len(values), 4)
	if !ok {
		t.Fatal("arena too small")
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(arr.Values[i*4:i*4+4], uint32(v))
		if nullAt[i] {
			arr.SetValid(i, false)
		}
	}
	if err := s.SetColumn(0, arr); err != nil {
		t.Fatal(err)
	}
	return s
}

func decodeFrom(s *batch.State) func(int) (*arena.ColumnarArray, error) {
	return func(pos int) (*arena.ColumnarArray, error) { return s.Column(pos), nil }
}

func TestSupportedMatrix(t *testing.T) {
	if !Supported(FuncCountStar, compression.TypeInvalid) {
		t.Error("COUNT(*) must be supported regardless of type")
	}
	if Supported(FuncSum, compression.TypeText) {
		t.Error("SUM over text must not be supported")
	}
	if !Supported(FuncMin, compression.TypeFloat8) {
		t.Error("MIN over float8 should be supported")
	}
}

func TestCountStarIgnoresNulls(t *testing.T) {
	table := newOneColTable(t)
	b := makeCompressedBatch(t, table, []int32{1, 2, 3}, map[int]bool{1: true})
	acc := NewAccumulator()
	spec := Spec{Func: FuncCountStar}
	if err := ProcessBatch(acc, b, spec, decodeFrom(b)); err != nil {
		t.Fatal(err)
	}
	v, valid := acc.Result(spec)
	if !valid || v != 3 {
		t.Fatalf("COUNT(*) = (%v, %v), want (3, true) — counts rows regardless of nulls", v, valid)
	}
}

func TestCountExcludesNulls(t *testing.T) {
	table := newOneColTable(t)
	b := makeCompressedBatch(t, table, []int32{1, 2, 3}, map[int]bool{1: true})
	acc := NewAccumulator()
	spec := Spec{Func: FuncCount, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32}
	if err := ProcessBatch(acc, b, spec, decodeFrom(b)); err != nil {
		t.Fatal(err)
	}
	v, valid := acc.Result(spec)
	if !valid || v != 2 {
		t.Fatalf("COUNT(col) = (%v, %v), want (2, true)", v, valid)
	}
}

func TestSumNullOverEmptyRelationIsNullNotZero(t *testing.T) {
	acc := NewAccumulator()
	spec := Spec{Func: FuncSum, Type: compression.TypeInt32}
	_, valid := acc.Result(spec)
	if valid {
		t.Fatal("SUM with no contributing batch must be null, not zero")
	}
}

func TestSumAndMinMaxAcrossBatches(t *testing.T) {
	table := newOneColTable(t)
	acc := NewAccumulator()
	spec := Spec{Func: FuncSum, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32}

	b1 := makeCompressedBatch(t, table, []int32{1, 2, 3}, nil)
	b2 := makeCompressedBatch(t, table, []int32{10, -5}, nil)
	if err := ProcessBatch(acc, b1, spec, decodeFrom(b1)); err != nil {
		t.Fatal(err)
	}
	if err := ProcessBatch(acc, b2, spec, decodeFrom(b2)); err != nil {
		t.Fatal(err)
	}
	v, valid := acc.Result(spec)
	if !valid || v != 11 {
		t.Fatalf("SUM = (%v, %v), want (11, true)", v, valid)
	}

	accMin := NewAccumulator()
	specMin := Spec{Func: FuncMin, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32}
	if err := ProcessBatch(accMin, b1, specMin, decodeFrom(b1)); err != nil {
		t.Fatal(err)
	}
	if err := ProcessBatch(accMin, b2, specMin, decodeFrom(b2)); err != nil {
		t.Fatal(err)
	}
	v, valid = accMin.Result(specMin)
	if !valid || v != -5 {
		t.Fatalf("MIN = (%v, %v), want (-5, true)", v, valid)
	}
}

func TestSegmentbyFastPathMultipliesByCount(t *testing.T) {
	table := newOneColTable(t)
	a := arena.New(4096)
	s := batch.New(1, table, a)
	if err := s.SetCount(7); err != nil {
		t.Fatal(err)
	}
	s.SetSegment(0, int64(3), false)

	acc := NewAccumulator()
	spec := Spec{Func: FuncSum, InputPosition: 0, Kind: compression.KindSegmentby, Type: compression.TypeInt32}
	if err := ProcessBatch(acc, s, spec, decodeFrom(s)); err != nil {
		t.Fatal(err)
	}
	v, valid := acc.Result(spec)
	if !valid || v != 21 {
		t.Fatalf("segmentby SUM = (%v, %v), want (21, true) — 3 repeated 7 times", v, valid)
	}
}

func TestSumOverflowReportsError(t *testing.T) {
	var acc int64 = math.MaxInt64
	if err := addOverflowCheckedInt64(&acc, 1); err == nil {
		t.Fatal("adding 1 to MaxInt64 should overflow")
	}
}

func TestMinMaxUsesPresortMetadataWhenLeading(t *testing.T) {
	table := newOneColTable(t)
	b := makeCompressedBatch(t, table, []int32{5, 6, 7}, nil)
	b.SetMinMax(0, int32(1), int32(99))

	acc := NewAccumulator()
	spec := Spec{Func: FuncMax, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32, PresortLeading: true}
	decodeCalled := false
	decode := func(pos int) (*arena.ColumnarArray, error) {
		decodeCalled = true
		return b.Column(pos), nil
	}
	if err := ProcessBatch(acc, b, spec, decode); err != nil {
		t.Fatal(err)
	}
	v, valid := acc.Result(spec)
	if !valid || v != 99 {
		t.Fatalf("MAX via presort metadata = (%v, %v), want (99, true)", v, valid)
	}
	if decodeCalled {
		t.Fatal("presort-leading MIN/MAX must not decompress the column")
	}
}

// TestMinMaxPresortAgreesWithFullDecompress is SPEC_FULL.md §8's mandated
// cross-check: MIN/MAX pushed down via the batch's min/max metadata must
// agree with a full decompress-then-compute baseline over the same
// underlying data, for every batch whichever path is actually taken.
func TestMinMaxPresortAgreesWithFullDecompress(t *testing.T) {
	table := newOneColTable(t)
	values := []int32{42, -17, 8, 8, -100, 63, 0}

	bPresort := makeCompressedBatch(t, table, values, nil)
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	bPresort.SetMinMax(0, lo, hi)

	bFull := makeCompressedBatch(t, table, values, nil)

	for _, fn := range []Func{FuncMin, FuncMax} {
		specPresort := Spec{Func: fn, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32, PresortLeading: true}
		accPresort := NewAccumulator()
		decodeCalled := false
		decode := func(pos int) (*arena.ColumnarArray, error) {
			decodeCalled = true
			return bPresort.Column(pos), nil
		}
		if err := ProcessBatch(accPresort, bPresort, specPresort, decode); err != nil {
			t.Fatal(err)
		}
		presortVal, presortValid := accPresort.Result(specPresort)
		if decodeCalled {
			t.Fatalf("%v: presort path unexpectedly decompressed the column", fn)
		}

		specFull := Spec{Func: fn, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32, PresortLeading: false}
		accFull := NewAccumulator()
		if err := ProcessBatch(accFull, bFull, specFull, decodeFrom(bFull)); err != nil {
			t.Fatal(err)
		}
		fullVal, fullValid := accFull.Result(specFull)

		if presortValid != fullValid || presortVal != fullVal {
			t.Fatalf("%v: presort pushdown = (%v, %v), full decompress = (%v, %v) — must agree",
				fn, presortVal, presortValid, fullVal, fullValid)
		}
	}
}

// TestMinMaxAllNullCompressedColumnIsNull covers SPEC_FULL.md §8's
// boundary case: MIN/MAX over an all-null compressed column (no presort
// metadata available) returns null, not zero.
func TestMinMaxAllNullCompressedColumnIsNull(t *testing.T) {
	table := newOneColTable(t)
	b := makeCompressedBatch(t, table, []int32{0, 0, 0}, map[int]bool{0: true, 1: true, 2: true})

	acc := NewAccumulator()
	spec := Spec{Func: FuncMin, InputPosition: 0, Kind: compression.KindCompressed, Type: compression.TypeInt32}
	if err := ProcessBatch(acc, b, spec, decodeFrom(b)); err != nil {
		t.Fatal(err)
	}
	if _, valid := acc.Result(spec); valid {
		t.Fatal("MIN over an all-null compressed column must be null")
	}
}
