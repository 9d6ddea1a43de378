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

// Package planner is the planner-side mapping (C8): it builds the
// per-operator ColumnDescriptor table, classifies residual filters as
// vectorizable or not, and constructs the sort info the heap queue needs.
// Everything here runs once, at plan/init time — execution time treats
// its output as already decided.
package planner

import (
	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/codec"
	"github.com/timescale/decompress-chunk/compression"
)

// ChildColumn describes one attribute the child scan can produce — the
// planner's view of the compressed input row's shape, independent of any
// particular SQL catalog representation.
type ChildColumn struct {
	Name  string
	Kind  compression.ColumnKind
	Type  compression.LogicalType
	Codec string // meaningful only for KindCompressed
}

// rowidColumnName is the only system column this operator passes through,
// per spec.md §4.1 rule 5.
const rowidColumnName = "tableoid_rowid"

// BuildDescriptorTable implements the C8 contract:
//  1. every needed output attribute must be produced by exactly one
//     descriptor — a missing mapping is a hard error citing the name;
//  2. the count metadata column is mandatory;
//  3. sequence_num is mandatory iff the consumer needs stable ordering
//     within a segmentby group (needsStableOrder);
//  4. a whole-row request expands to every output column;
//  5. the only system column accepted is the rowid pass-through; any
//     other system column is rejected with a clear error.
func BuildDescriptorTable(
	needed []string,
	wholeRow bool,
	needsStableOrder bool,
	systemColumns []string,
	child []ChildColumn,
	reg *codec.Registry,
) (*compression.DescriptorTable, error) {
	byName := make(map[string]ChildColumn, len(child))
	for _, c := range child {
		byName[c.Name] = c
	}

	for _, sc := range systemColumns {
		if sc != rowidColumnName {
			return nil, errors.Errorf("unsupported system column %q: only %q may be passed through", sc, rowidColumnName)
		}
	}

	if wholeRow {
		needed = make([]string, 0, len(child))
		for _, c := range child {
			if c.Kind == compression.KindSegmentby || c.Kind == compression.KindCompressed {
				needed = append(needed, c.Name)
			}
		}
	}

	var countCol *ChildColumn
	var seqCol *ChildColumn
	for i := range child {
		c := &child[i]
		if c.Kind == compression.KindMetadataCount {
			countCol = c
		}
		if c.Kind == compression.KindMetadataSequence {
			seqCol = c
		}
	}
	if countCol == nil {
		return nil, errors.New("planner-contract violation: compressed input row is missing the mandatory count metadata column")
	}
	if needsStableOrder && seqCol == nil {
		return nil, errors.New("planner-contract violation: stable ordering requested but sequence_num metadata is absent")
	}

	descs := make([]compression.ColumnDescriptor, 0, len(needed)+2)
	outPos := 0
	seen := make(map[string]bool, len(needed))
	for _, name := range needed {
		if seen[name] {
			continue
		}
		seen[name] = true
		cc, ok := byName[name]
		if !ok {
			return nil, errors.Errorf("planner-contract violation: needed output column %q has no mapping in the compressed input row", name)
		}
		d := compression.ColumnDescriptor{
			InputPosition:  len(descs),
			OutputPosition: outPos,
			Kind:           cc.Kind,
			LogicalType:    cc.Type,
			ValueWidth:     cc.Type.Width(),
			Name:           cc.Name,
			Codec:          cc.Codec,
		}
		if d.Kind == compression.KindCompressed {
			d.BulkOK = reg.BulkCapable(cc.Codec)
		}
		descs = append(descs, d)
		outPos++
	}

	descs = append(descs, compression.ColumnDescriptor{
		InputPosition:  len(descs),
		OutputPosition: compression.MetadataOutputPosition,
		Kind:           compression.KindMetadataCount,
		Name:           countCol.Name,
	})
	if seqCol != nil {
		descs = append(descs, compression.ColumnDescriptor{
			InputPosition:  len(descs),
			OutputPosition: compression.MetadataOutputPosition,
			Kind:           compression.KindMetadataSequence,
			LogicalType:    compression.TypeInt64,
			ValueWidth:     8,
			Name:           seqCol.Name,
		})
	}

	return compression.NewDescriptorTable(descs)
}
