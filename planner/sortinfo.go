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
	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/compression"
	"github.com/timescale/decompress-chunk/queue"
)

// RequestedOrder is one key of the ordering the consumer asked for.
type RequestedOrder struct {
	ColumnName string
	Descending bool
	NullsFirst bool
}

// BuildSortInfo builds one queue.SortKey per requested key: the column's
// input position, kind and logical type, plus the direction and
// nulls-first flag. It does not check that the requested ordering matches
// the batches' internal ordering, and it builds no separate descriptor
// over the min/max metadata columns: the heap queue itself picks the min
// bound for an ascending leading key and the max bound for a descending
// one (queue.Heap.SetNextBound), from the per-batch min/max metadata
// keyed by the leading key's input position.
func BuildSortInfo(order []RequestedOrder, table *compression.DescriptorTable) ([]queue.SortKey, error) {
	if len(order) == 0 {
		return nil, nil
	}
	byName := make(map[string]compression.ColumnDescriptor, len(table.Descriptors))
	for _, d := range table.Descriptors {
		byName[d.Name] = d
	}

	keys := make([]queue.SortKey, 0, len(order))
	for _, o := range order {
		d, ok := byName[o.ColumnName]
		if !ok {
			return nil, errors.Errorf("sort info: column %q is not part of this operator's output", o.ColumnName)
		}
		if d.Kind != compression.KindSegmentby && d.Kind != compression.KindCompressed {
			return nil, errors.Errorf("sort info: column %q cannot be an ordering key", o.ColumnName)
		}
		keys = append(keys, queue.SortKey{
			InputPosition: d.InputPosition,
			Kind:          d.Kind,
			Type:          d.LogicalType,
			Descending:    o.Descending,
			NullsFirst:    o.NullsFirst,
		})
	}
	return keys, nil
}
