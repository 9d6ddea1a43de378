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

package arena

import (
	"testing"

	"github.com/timescale/decompress-chunk/compression"
)

func TestTargetBytesRoundsUpAndClamps(t *testing.T) {
	cases := []struct {
		name string
		cols []compression.ColumnDescriptor
	}{
		{
			name: "no bulk-ok columns still gets one page",
			cols: nil,
		},
		{
			name: "one int32 column rounds up to a 4KiB multiple",
			cols: []compression.ColumnDescriptor{
				{Kind: compression.KindCompressed, BulkOK: true, ValueWidth: 4},
			},
		},
		{
			name: "segmentby columns never contribute",
			cols: []compression.ColumnDescriptor{
				{Kind: compression.KindSegmentby, BulkOK: false, ValueWidth: 8},
			},
		},
	}
	for _, tc := range cases {
		got := TargetBytes(tc.cols)
		if got%pageSize != 0 {
			t.Errorf("%s: TargetBytes = %d, not a page multiple", tc.name, got)
		}
		if got > maxArena {
			t.Errorf("%s: TargetBytes = %d, exceeds maxArena", tc.name, got)
		}
		if got <= 0 {
			t.Errorf("%s: TargetBytes = %d, must be positive", tc.name, got)
		}
	}
}

func TestTargetBytesExactValues(t *testing.T) {
	segmentbyOnly := TargetBytes([]compression.ColumnDescriptor{
		{Kind: compression.KindSegmentby, ValueWidth: 8},
	})
	if segmentbyOnly != pageSize {
		t.Fatalf("segmentby-only columns should cost nothing beyond the minimum page, got %d", segmentbyOnly)
	}

	oneInt32 := TargetBytes([]compression.ColumnDescriptor{
		{Kind: compression.KindCompressed, BulkOK: true, ValueWidth: 4},
	})
	if oneInt32 != 2*pageSize {
		t.Fatalf("one bulk-ok int32 column: TargetBytes = %d, want %d", oneInt32, 2*pageSize)
	}
}

func TestTargetBytesClampsAtMaxArena(t *testing.T) {
	var cols []compression.ColumnDescriptor
	for i := 0; i < 128; i++ {
		cols = append(cols, compression.ColumnDescriptor{
			Kind: compression.KindCompressed, BulkOK: true, ValueWidth: 8,
		})
	}
	got := TargetBytes(cols)
	if got != maxArena {
		t.Fatalf("TargetBytes with 128 wide columns = %d, want clamp at %d", got, maxArena)
	}
}

func TestArenaAllocAndReset(t *testing.T) {
	a := New(pageSize)
	b1, ok := a.Alloc(100)
	if !ok || len(b1) != 100 {
		t.Fatalf("first Alloc failed: ok=%v len=%d", ok, len(b1))
	}
	if a.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", a.Len())
	}
	_, ok = a.Alloc(pageSize)
	if ok {
		t.Fatal("Alloc beyond capacity should report ok=false, not grow")
	}
	a.Reset()
	if a.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", a.Len())
	}
	b2, ok := a.Alloc(pageSize)
	if !ok || len(b2) != pageSize {
		t.Fatalf("Alloc after Reset failed: ok=%v len=%d", ok, len(b2))
	}
}

func TestColumnarArrayValidity(t *testing.T) {
	a := New(pageSize)
	arr, ok := AllocColumnarArray(a, 10, 4)
	if !ok {
		t.Fatal("AllocColumnarArray failed")
	}
	for i := 0; i < 10; i++ {
		if !arr.ValidAt(i) {
			t.Fatalf("element %d should start valid", i)
		}
	}
	arr.SetValid(3, false)
	if arr.ValidAt(3) {
		t.Fatal("element 3 should be invalid after SetValid(false)")
	}
	for i := 0; i < 10; i++ {
		if i == 3 {
			continue
		}
		if !arr.ValidAt(i) {
			t.Fatalf("element %d should remain valid", i)
		}
	}
}
