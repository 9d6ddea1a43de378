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

package executor

import "github.com/timescale/decompress-chunk/queue"

// Explain is the diagnostic hook from spec.md §6: a read-only snapshot an
// EXPLAIN-style caller can pull from a running or finished operator
// instance. Field names intentionally match the spec's own vocabulary so
// a caller formatting them needs no translation layer.
type Explain struct {
	RowsEmitted             int64
	RowsFilteredByVecQuals  int64
	AggregationPushedDown   bool

	sortKeysField []queue.SortKey
}

// sortKeys exposes the installed ordering for Open's queue-kind decision;
// unexported because the caller-facing explain surface only needs to know
// whether the heap queue is active, not its key list.
func (e *Explain) sortKeys() []queue.SortKey { return e.sortKeysField }

// ExplainSnapshot returns the current diagnostic fields plus the two
// booleans derived from operator configuration: whether bulk
// decompression is enabled for this instance and whether the heap queue
// (as opposed to the plain FIFO) is driving row order.
func (op *Operator) ExplainSnapshot() map[string]interface{} {
	quals := make([]string, len(op.vectorizedQuals))
	for i, q := range op.vectorizedQuals {
		quals[i] = q.String()
	}
	return map[string]interface{}{
		"instance_id":                op.instanceID,
		"vectorized_quals":           quals,
		"bulk_decompression_active":  op.switch_.EnableBulkDecompression,
		"heap_queue_active":          len(op.explain.sortKeysField) > 0,
		"aggregation_pushed_down":    op.explain.AggregationPushedDown,
		"rows_filtered_by_vec_quals": op.explain.RowsFilteredByVecQuals,
		"rows_emitted":               op.explain.RowsEmitted,
	}
}
