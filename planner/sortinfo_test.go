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

package planner

import (
	"testing"

	"github.com/timescale/decompress-chunk/compression"
)

func newSortTestTable(t *testing.T) *compression.DescriptorTable {
	t.Helper()
	descs := []compression.ColumnDescriptor{
		{Kind: compression.KindSegmentby, LogicalType: compression.TypeInt32, Name: "device_id"},
		{Kind: compression.KindCompressed, LogicalType: compression.TypeInt64, ValueWidth: 8, Codec: "delta", Name: "ts"},
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

func TestBuildSortInfoEmptyOrderReturnsNil(t *testing.T) {
	table := newSortTestTable(t)
	keys, err := BuildSortInfo(nil, table)
	if err != nil {
		t.Fatal(err)
	}
	if keys != nil {
		t.Fatalf("BuildSortInfo(nil) = %v, want nil", keys)
	}
}

func TestBuildSortInfoUnknownColumnIsError(t *testing.T) {
	table := newSortTestTable(t)
	_, err := BuildSortInfo([]RequestedOrder{{ColumnName: "nope"}}, table)
	if err == nil {
		t.Fatal("expected an error for an unknown ordering column")
	}
}

func TestBuildSortInfoMetadataColumnIsNotAnOrderingKey(t *testing.T) {
	table := newSortTestTable(t)
	_, err := BuildSortInfo([]RequestedOrder{{ColumnName: "_ts_meta_count"}}, table)
	if err == nil {
		t.Fatal("a metadata column must not be usable as an ordering key")
	}
}

func TestBuildSortInfoPreservesKeyOrderAndDirection(t *testing.T) {
	table := newSortTestTable(t)
	order := []RequestedOrder{
		{ColumnName: "device_id", Descending: false},
		{ColumnName: "ts", Descending: true, NullsFirst: true},
	}
	keys, err := BuildSortInfo(order, table)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].Kind != compression.KindSegmentby || keys[0].Descending {
		t.Errorf("key 0 = %+v, want ascending segmentby", keys[0])
	}
	if keys[1].Kind != compression.KindCompressed || !keys[1].Descending || !keys[1].NullsFirst {
		t.Errorf("key 1 = %+v, want descending compressed with nulls first", keys[1])
	}
	if keys[0].InputPosition != 0 || keys[1].InputPosition != 1 {
		t.Errorf("keys carry wrong InputPosition: %d, %d", keys[0].InputPosition, keys[1].InputPosition)
	}
}
