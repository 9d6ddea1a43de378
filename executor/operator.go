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

import (
	"context"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	atomicutil "go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/timescale/decompress-chunk/aggregate"
	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/batch"
	"github.com/timescale/decompress-chunk/codec"
	"github.com/timescale/decompress-chunk/compression"
	"github.com/timescale/decompress-chunk/config"
	"github.com/timescale/decompress-chunk/queue"
	"github.com/timescale/decompress-chunk/util/logutil"
	"github.com/timescale/decompress-chunk/vecexpr"
)

// runState is the operator's own lifecycle, distinct from the queue's
// empty/non-empty state: Init until Open succeeds, Running while Next may
// still produce rows, Drained once the child and every open batch are
// exhausted, Closed once Close has run.
type runState int

const (
	stateInit runState = iota
	stateRunning
	stateDrained
	stateClosed
)

// cancelCheckInterval is how many rows the aggregation loop folds, counted
// in whole batches, before it polls the cancellation flag again — spec.md
// §5's "every N_MAX'th iteration" cadence, using the batch size itself as
// the natural period.
const cancelCheckInterval = compression.NMax

// ErrCancelled is returned from Next once a cooperative cancellation
// request has been observed.
var ErrCancelled = errors.New("decompress-chunk: operator cancelled")

// Operator is the decompress_chunk execution node: it pulls compressed
// input rows from a ChildScan, decompresses and filters them, and either
// streams decompressed output rows (through a Queue) or folds the whole
// relation into one partial-aggregate tuple. Suspension only ever happens
// inside a child.Next call — there are no goroutines or channels inside
// the operator itself, per the single-threaded cooperative scheduling
// model.
type Operator struct {
	instanceID uuid.UUID

	child   ChildScan
	table   *compression.DescriptorTable
	reg     *codec.Registry
	switch_ config.Switches

	vectorizedQuals []vecexpr.Qual
	constantFalse   bool
	queue           queue.Queue
	pool            *batchPool

	aggSpec *aggregate.Spec
	acc     *aggregate.Accumulator
	aggDone bool

	cancelled *atomicutil.Bool
	rowsSeen  int64

	state runState

	explain Explain
}

// Config bundles everything BuildDescriptorTable-time decisions produced,
// so Open only has to wire them together.
type Config struct {
	Table           *compression.DescriptorTable
	Registry        *codec.Registry
	Switches        config.Switches
	VectorizedQuals []vecexpr.Qual
	// HasResidualQuals reports whether planner.ClassifyQuals left any
	// non-vectorizable quals behind, for the require_vector_qual testing
	// gate (spec.md §6).
	HasResidualQuals bool
	// ConstantFalse carries planner.ClassificationResult.ConstantFalse:
	// the qualifier list was proven unsatisfiable at classification time
	// (a strict operator compared against a null constant), so the
	// operator must emit nothing and must never call the child scan.
	ConstantFalse bool
	SortKeys      []queue.SortKey // nil => use the FIFO queue
	Aggregate     *aggregate.Spec // nil => stream rows instead of aggregating
}

// NewOperator constructs an unopened Operator bound to child.
func NewOperator(child ChildScan, cfg Config) (*Operator, error) {
	if cfg.Table == nil {
		return nil, errors.New("decompress-chunk: Config.Table is required")
	}
	if cfg.Aggregate != nil {
		if !cfg.Switches.EnableVectorizedAggregation {
			return nil, errors.New("decompress-chunk: aggregation pushdown requested but enable_vectorized_aggregation is off")
		}
		if !cfg.Switches.EnableBulkDecompression {
			return nil, errors.New("decompress-chunk: aggregation pushdown requires enable_bulk_decompression")
		}
		if !aggregate.Supported(cfg.Aggregate.Func, cfg.Aggregate.Type) {
			return nil, errors.Trace(aggregate.ErrNotSupported)
		}
	}
	if !cfg.Switches.EnableBulkDecompression && len(cfg.VectorizedQuals) > 0 {
		// This operator has only the bulk, columnar qual evaluator (C4);
		// with bulk decompression off there is no row-at-a-time fallback
		// to run a vectorizable qual through, so the caller must not hand
		// it any.
		return nil, errors.New("decompress-chunk: enable_bulk_decompression is off but vectorized quals were supplied")
	}
	switch cfg.Switches.RequireVectorQual {
	case config.VectorQualRequire:
		if len(cfg.VectorizedQuals) > 0 && cfg.HasResidualQuals {
			return nil, errors.New("decompress-chunk: require_vector_qual=require forbids a residual qual alongside vectorizable candidates")
		}
	case config.VectorQualForbid:
		if len(cfg.VectorizedQuals) > 0 {
			return nil, errors.New("decompress-chunk: require_vector_qual=forbid forbids vectorized quals")
		}
	}
	return &Operator{
		instanceID:      uuid.New(),
		child:           child,
		table:           cfg.Table,
		reg:             cfg.Registry,
		switch_:         cfg.Switches,
		vectorizedQuals: cfg.VectorizedQuals,
		constantFalse:   cfg.ConstantFalse,
		aggSpec:         cfg.Aggregate,
		cancelled:       atomicutil.NewBool(false),
		state:           stateInit,
	}, nil
}

// Open allocates the operator's queue and batch pool and performs no I/O
// beyond that; the child's own Open (if any) is the caller's
// responsibility, mirroring the teacher's convention that an Executor's
// Open never reaches past its own children's interface boundary.
func (op *Operator) Open(ctx context.Context) error {
	if op.state != stateInit {
		return errors.New("decompress-chunk: Open called out of order")
	}
	logutil.Logger(ctx).Debug("opening decompress_chunk operator",
		zap.String("instance_id", op.instanceID.String()))

	arenaBytes := arena.TargetBytes(op.table.Compressed())
	if op.switch_.ArenaTargetOverrideBytes > 0 {
		arenaBytes = op.switch_.ArenaTargetOverrideBytes
	}

	capacity := 1
	if len(op.explain.sortKeys()) > 0 {
		capacity = 8
	}
	op.pool = newBatchPool(op.table, arenaBytes, capacity)

	if op.aggSpec == nil {
		sortKeys := op.explain.sortKeysField
		if len(sortKeys) > 0 {
			op.queue = queue.NewHeap(sortKeys)
		} else {
			op.queue = queue.NewFIFO()
		}
	} else {
		op.acc = aggregate.NewAccumulator()
	}

	if op.switch_.RequireBatchSortedMerge && op.aggSpec == nil {
		if _, isHeap := op.queue.(*queue.Heap); !isHeap {
			return errors.New("decompress-chunk: require_batch_sorted_merge is set but no sort keys were installed")
		}
	}

	op.state = stateRunning
	return nil
}

// SetSortKeys installs the heap queue's ordering; must be called before
// Open. Kept separate from Config so planner-time sort-info construction
// can be skipped entirely for operators with no ordering requirement.
func (op *Operator) SetSortKeys(keys []queue.SortKey) {
	op.explain.sortKeysField = keys
}

// Cancel requests cooperative cancellation; the operator observes this at
// the next batch boundary or the next cancelCheckInterval row boundary,
// whichever comes first, and returns ErrCancelled from Next.
func (op *Operator) Cancel() {
	op.cancelled.Store(true)
}

// Next produces the next decompressed, filtered output row as a
// (batch, row index) pointer, or io.EOF-equivalent (ok=false, err=nil)
// once the relation is exhausted. Aggregating operators instead return
// their single tuple on the first call and ok=false forever after.
func (op *Operator) Next(ctx context.Context) (row batch.Row, ok bool, err error) {
	if op.state == stateClosed {
		return batch.Row{}, false, errors.New("decompress-chunk: Next called after Close")
	}
	if op.cancelled.Load() {
		return batch.Row{}, false, errors.Trace(ErrCancelled)
	}
	if op.state == stateDrained {
		return batch.Row{}, false, nil
	}
	if op.constantFalse {
		op.state = stateDrained
		if op.aggSpec != nil {
			op.aggDone = true
			op.explain.AggregationPushedDown = true
			return batch.Row{}, true, nil
		}
		return batch.Row{}, false, nil
	}

	if op.aggSpec != nil {
		return op.nextAggregated(ctx)
	}
	return op.nextRow(ctx)
}

// nextRow drives the streaming (non-aggregating) path: feed the queue
// compressed rows until it can produce a top, then hand that pointer back
// without copying anything out of the batch's arena.
func (op *Operator) nextRow(ctx context.Context) (batch.Row, bool, error) {
	for {
		if op.queue.NeedsNextBatch() {
			if hq, isHeap := op.queue.(*queue.Heap); isHeap {
				// The child already reported end of stream: do not probe it again.
				if _, terr := hq.Top(); terr == queue.ErrEmpty {
					op.state = stateDrained
					return batch.Row{}, false, nil
				}
			}
			fed, err := op.feedOneBatch(ctx)
			if err != nil {
				return batch.Row{}, false, errors.Trace(err)
			}
			if !fed {
				if hq, isHeap := op.queue.(*queue.Heap); isHeap {
					hq.MarkChildExhausted()
				}
				if op.queue.NeedsNextBatch() {
					op.state = stateDrained
					return batch.Row{}, false, nil
				}
			}
			if op.cancelled.Load() {
				return batch.Row{}, false, errors.Trace(ErrCancelled)
			}
			continue
		}

		top, err := op.queue.Top()
		switch {
		case err == nil:
			op.explain.RowsEmitted++
			return top, true, nil
		case err == queue.ErrEmpty:
			op.state = stateDrained
			return batch.Row{}, false, nil
		case queue.IsNeedsNextBatch(err):
			// The heap already holds at least one batch but wants
			// another before trusting its root, per the open-batch
			// invariant.
			fed, ferr := op.feedOneBatch(ctx)
			if ferr != nil {
				return batch.Row{}, false, errors.Trace(ferr)
			}
			if !fed {
				if hq, isHeap := op.queue.(*queue.Heap); isHeap {
					hq.MarkChildExhausted()
				}
			}
		default:
			return batch.Row{}, false, errors.Trace(err)
		}
		if op.cancelled.Load() {
			return batch.Row{}, false, errors.Trace(ErrCancelled)
		}
	}
}

// Advance is the counterpart to Top: the consumer calls it once it is
// done with the row Next returned, to move the cursor past it.
func (op *Operator) Advance() error {
	return op.queue.Pop()
}

// feedOneBatch pulls one compressed input row from the child, decodes the
// columns required up front (count, any vectorized-qual inputs, any
// presort sort-info columns), applies vectorized quals, and pushes the
// result into the queue. It reports fed=false when the child is
// exhausted.
func (op *Operator) feedOneBatch(ctx context.Context) (fed bool, err error) {
	cb, ok, err := op.child.Next(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !ok {
		return false, nil
	}

	st, err := op.pool.Get()
	if err != nil {
		return false, errors.Trace(err)
	}
	if err := op.populateBatch(st, cb); err != nil {
		return false, errors.Trace(err)
	}

	decode := op.decodeFunc(st, cb)
	if len(op.vectorizedQuals) > 0 && op.switch_.EnableBulkDecompression {
		if err := vecexpr.Evaluate(st, op.vectorizedQuals, decode); err != nil {
			return false, errors.Trace(err)
		}
	}

	if hq, isHeap := op.queue.(*queue.Heap); isHeap {
		// The heap's comparator reads each sort key's column straight off
		// the batch (queue.valueAt); any key backed by a compressed
		// column must be decoded before Push or it is silently treated
		// as null for ordering purposes.
		for _, k := range hq.SortKeys() {
			if k.Kind == compression.KindCompressed {
				if _, derr := decode(k.InputPosition); derr != nil {
					return false, errors.Trace(derr)
				}
			}
		}
	}

	op.rowsSeen += int64(st.Length())
	for i := 0; i < st.Length(); i++ {
		if !st.PassesQuals(i) {
			op.explain.RowsFilteredByVecQuals++
		}
	}

	if hq, isHeap := op.queue.(*queue.Heap); isHeap {
		if nb, hasNext, nerr := op.peekNextBound(ctx, hq); nerr == nil {
			if hasNext {
				hq.SetNextBound(nb)
			} else {
				hq.ClearNextBound()
			}
		}
	}

	if err := op.queue.Push(st); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// peekNextBound asks the child scan, if it implements Lookahead, for the
// presort bound of whatever batch the next Next call would return —
// without consuming it — and translates that into the [lo, hi] pair the
// heap queue's open-batch invariant (queue.Heap.SetNextBound) needs to
// admit rows from an already-open batch before the following one is
// pulled. A child with no lookahead capability simply gets hasNext=false,
// which makes the heap fall back to requiring the next batch before
// trusting its root.
func (op *Operator) peekNextBound(ctx context.Context, hq *queue.Heap) ([2]interface{}, bool, error) {
	keys := hq.SortKeys()
	if len(keys) == 0 {
		return [2]interface{}{}, false, nil
	}
	la, ok := op.child.(Lookahead)
	if !ok {
		return [2]interface{}{}, false, nil
	}
	lo, hi, has, err := la.PeekMinMax(ctx, keys[0].InputPosition)
	if err != nil {
		return [2]interface{}{}, false, errors.Trace(err)
	}
	if !has {
		return [2]interface{}{}, false, nil
	}
	return [2]interface{}{lo, hi}, true, nil
}

// populateBatch copies the compressed input row's scalar metadata into
// st and records count/min-max, leaving the bulk blobs in cb.Values for
// lazy decode.
func (op *Operator) populateBatch(st *batch.State, cb *compression.CompressedBatch) error {
	if err := st.SetCount(cb.Count); err != nil {
		return errors.Trace(err)
	}
	for _, d := range op.table.Descriptors {
		if d.Kind != compression.KindSegmentby {
			continue
		}
		v := cb.Values[d.InputPosition]
		st.SetSegment(d.InputPosition, v, v == nil)
	}
	for pos, mm := range cb.MinMax {
		st.SetMinMax(pos, mm[0], mm[1])
	}
	return nil
}

// decodeFunc returns the lazy bulk-decompress closure handed to vecexpr
// and aggregate: decompress inputPos's blob into st's arena exactly once,
// on first demand.
func (op *Operator) decodeFunc(st *batch.State, cb *compression.CompressedBatch) func(int) (*arena.ColumnarArray, error) {
	return func(inputPos int) (*arena.ColumnarArray, error) {
		if arr := st.Column(inputPos); arr != nil {
			return arr, nil
		}
		// Descriptors is reordered (compressed prefix first), so look the
		// descriptor up by InputPosition rather than by slice index.
		var d compression.ColumnDescriptor
		for _, cand := range op.table.Descriptors {
			if cand.InputPosition == inputPos {
				d = cand
				break
			}
		}
		blob, _ := cb.Values[inputPos].([]byte)
		var arr *arena.ColumnarArray
		var err error
		failpoint.Inject("forceDecompressError", func(val failpoint.Value) {
			if enabled, _ := val.(bool); enabled {
				err = errors.Errorf("column %q: injected decompression failure", d.Name)
			}
		})
		if err == nil {
			arr, err = op.reg.Decompress(st.Arena(), st.Arena(), blob, d)
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := st.SetColumn(inputPos, arr); err != nil {
			return nil, errors.Trace(err)
		}
		return arr, nil
	}
}

// nextAggregated folds every remaining compressed input row into the
// accumulator on the first call, per spec.md §4.6: an aggregating
// operator instance never emits more than one output tuple.
func (op *Operator) nextAggregated(ctx context.Context) (batch.Row, bool, error) {
	if op.aggDone {
		op.state = stateDrained
		return batch.Row{}, false, nil
	}

	rowsSinceCheck := 0
	for {
		cb, ok, err := op.child.Next(ctx)
		if err != nil {
			return batch.Row{}, false, errors.Trace(err)
		}
		if !ok {
			break
		}
		st, err := op.pool.Get()
		if err != nil {
			return batch.Row{}, false, errors.Trace(err)
		}
		if err := op.populateBatch(st, cb); err != nil {
			return batch.Row{}, false, errors.Trace(err)
		}
		decode := op.decodeFunc(st, cb)
		if len(op.vectorizedQuals) > 0 && op.switch_.EnableBulkDecompression {
			if err := vecexpr.Evaluate(st, op.vectorizedQuals, decode); err != nil {
				return batch.Row{}, false, errors.Trace(err)
			}
			if st.AllFiltered() {
				st.Release()
				op.pool.Put(st)
				continue
			}
		}
		if err := aggregate.ProcessBatch(op.acc, st, *op.aggSpec, decode); err != nil {
			return batch.Row{}, false, errors.Trace(err)
		}

		rowsSinceCheck += st.Length()
		st.Release()
		op.pool.Put(st)

		if rowsSinceCheck >= cancelCheckInterval {
			rowsSinceCheck = 0
			if op.cancelled.Load() {
				return batch.Row{}, false, errors.Trace(ErrCancelled)
			}
		}
	}

	op.aggDone = true
	op.explain.RowsEmitted = 1
	op.explain.AggregationPushedDown = true
	return batch.Row{}, true, nil
}

// AggregateResult returns the final aggregate value; valid only once Next
// has returned ok=true for an aggregating operator.
func (op *Operator) AggregateResult() (value float64, valid bool) {
	if op.acc == nil {
		return 0, false
	}
	return op.acc.Result(*op.aggSpec)
}

// Rescan resets the operator to re-produce the whole relation from the
// beginning, per spec's boundary behavior: every open batch is released
// and the child is expected to support being scanned again.
func (op *Operator) Rescan(ctx context.Context) error {
	if op.state == stateClosed || op.state == stateInit {
		return errors.New("decompress-chunk: Rescan called out of order")
	}
	if op.queue != nil {
		op.queue.Reset()
	}
	op.acc = nil
	if op.aggSpec != nil {
		op.acc = aggregate.NewAccumulator()
	}
	op.aggDone = false
	op.rowsSeen = 0
	op.state = stateRunning
	return nil
}

// Close releases the batch pool and the child scan. Close is idempotent.
func (op *Operator) Close() error {
	if op.state == stateClosed {
		return nil
	}
	op.state = stateClosed
	if op.queue != nil {
		op.queue.Reset()
	}
	if op.pool != nil {
		op.pool.Close()
	}
	return closeAll(op.child)
}

// InstanceID returns the uuid identifying this operator instance, used to
// correlate log lines and the explain hook across a multi-operator plan.
func (op *Operator) InstanceID() string { return op.instanceID.String() }
