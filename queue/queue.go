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

// Package queue implements the two batch queue strategies (C5, C6): a
// trivial single-slot FIFO used when no ordering is required, and an
// ordered K-way heap merge used when the consumer requested an ordering
// that matches the batches' internal min/max presort. Both share the
// small capability set described in spec.md's "Queue polymorphism"
// design note: create/free/needs-next-batch/pop/push/reset/top.
package queue

import (
	"container/heap"

	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/batch"
	"github.com/timescale/decompress-chunk/compression"
	"github.com/timescale/decompress-chunk/vecexpr"
)

// Queue is the capability set both strategies implement. Picking one
// monomorphized strategy per operator instance lets the hot FIFO loop
// inline; the heap case is naturally outlined.
type Queue interface {
	// NeedsNextBatch reports whether the caller must feed another
	// compressed row before Top can produce anything.
	NeedsNextBatch() bool
	// Push admits a decompressed, qual-filtered BatchState. The queue takes
	// ownership: it will call Release on the batch once exhausted.
	Push(b *batch.State) error
	// Top peeks the next row to emit, or reports NeedsNextBatch() == true.
	Top() (batch.Row, error)
	// Pop advances past the row last returned by Top.
	Pop() error
	// Reset releases every open batch and returns to the empty state
	// (used by Rescan).
	Reset()
	// Len reports the number of currently open batches.
	Len() int
}

// ErrEmpty is returned by Top when the queue has nothing left and will
// never need another batch — the operator has reached end of stream.
var ErrEmpty = errors.New("queue: no more rows")

// FIFO is the C5 queue: a one-slot queue used when no ordering is
// required. needs_next_batch is true when the slot is empty; Pop advances
// the cursor and frees the batch when the cursor reaches length.
type FIFO struct {
	current *batch.State
}

// NewFIFO returns an empty single-slot queue.
func NewFIFO() *FIFO { return &FIFO{} }

func (f *FIFO) NeedsNextBatch() bool {
	if f.current == nil {
		return true
	}
	return f.current.NextPassingRow(f.current.Cursor()) >= f.current.Length()
}

func (f *FIFO) Push(b *batch.State) error {
	if f.current != nil {
		return errors.New("FIFO queue: slot already occupied")
	}
	if b.AllFiltered() {
		b.Release()
		return nil
	}
	b.SetCursor(b.NextPassingRow(0))
	f.current = b
	return nil
}

func (f *FIFO) Top() (batch.Row, error) {
	if f.NeedsNextBatch() {
		return batch.Row{}, ErrEmpty
	}
	return batch.Row{BatchID: f.current.ID, Index: f.current.Cursor()}, nil
}

func (f *FIFO) Pop() error {
	if f.current == nil {
		return errors.New("FIFO queue: Pop on empty queue")
	}
	next := f.current.NextPassingRow(f.current.Cursor() + 1)
	f.current.SetCursor(next)
	if f.current.Exhausted() {
		f.current.Release()
		f.current = nil
	}
	return nil
}

func (f *FIFO) Reset() {
	if f.current != nil {
		f.current.Release()
		f.current = nil
	}
}

func (f *FIFO) Len() int {
	if f.current == nil {
		return 0
	}
	return 1
}

// SortKey is one component of the declared ordering: which input position
// to compare on, its logical type, direction, and null ordering. The
// planner builds these from the consumer's requested ordering (§4.1).
type SortKey struct {
	InputPosition int
	Kind          compression.ColumnKind // KindSegmentby or KindCompressed
	Type          compression.LogicalType
	Descending    bool
	NullsFirst    bool
}

// valueAt resolves one sort key's value for one row of one batch,
// handling the Segmentby (whole-batch scalar) vs Compressed (per-row)
// cases transparently.
func valueAt(b *batch.State, k SortKey, row int) (val float64, null bool) {
	if k.Kind == compression.KindSegmentby {
		v, isNull := b.Segment(k.InputPosition)
		if isNull {
			return 0, true
		}
		return toFloat(v), false
	}
	arr := b.Column(k.InputPosition)
	if arr == nil || !arr.ValidAt(row) {
		return 0, true
	}
	return vecexpr.ReadElement(arr, row, k.Type), false
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case float64:
		return x
	case float32:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// less applies the declared comparators, tie-breaking on nulls-first then
// leaving ties to the caller (insertion order is a sufficient deterministic
// tiebreak per spec.md §4.5).
func less(b1 *batch.State, r1 int, b2 *batch.State, r2 int, keys []SortKey) bool {
	for _, k := range keys {
		v1, n1 := valueAt(b1, k, r1)
		v2, n2 := valueAt(b2, k, r2)
		if n1 && n2 {
			continue
		}
		if n1 || n2 {
			if k.NullsFirst {
				return n1
			}
			return n2
		}
		if v1 == v2 {
			continue
		}
		if k.Descending {
			return v1 > v2
		}
		return v1 < v2
	}
	return false
}

// leadingBound returns the leading sort key's value for the presort metadata
// comparison (min for ascending, max for descending) of one batch's
// min/max metadata, used by the open-batch invariant in Heap.
func leadingBound(minmax [2]interface{}, descending bool) float64 {
	if descending {
		return toFloat(minmax[1])
	}
	return toFloat(minmax[0])
}

// mergePointer is one heap element: the owning BatchState and a row
// index into it. It holds a pointer to the BatchState, not its id; the
// batch.Row that Top hands out carries the batch id instead.
type mergePointer struct {
	state *batch.State
	row   int
}

// heapSlice implements container/heap.Interface the way this family of
// k-way merge executors does: Push is never called by user code (batches
// are admitted by direct append + heap.Init), only heap.Init/Fix/Remove
// drive it.
type heapSlice struct {
	elems []mergePointer
	keys  []SortKey
}

func (h *heapSlice) Len() int { return len(h.elems) }
func (h *heapSlice) Less(i, j int) bool {
	a, b := h.elems[i], h.elems[j]
	return less(a.state, a.row, b.state, b.row, h.keys)
}
func (h *heapSlice) Swap(i, j int) { h.elems[i], h.elems[j] = h.elems[j], h.elems[i] }
func (h *heapSlice) Push(x interface{}) {
	h.elems = append(h.elems, x.(mergePointer))
}
func (h *heapSlice) Pop() interface{} {
	old := h.elems
	n := len(old)
	x := old[n-1]
	h.elems = old[:n-1]
	return x
}

// Heap is the C6 queue: an ordered K-way merge across up to K
// concurrently open batches, keyed by the declared sort info. It upholds
// the open-batch invariant: at any top_tuple query, it holds every batch
// whose leading-sort-key window is <= the candidate top row's leading
// value; batches outside that window remain unopened by the caller.
type Heap struct {
	h          *heapSlice
	byID       map[int64]*batch.State
	keys       []SortKey
	// nextBound is the leading sort bound of the next, not-yet-pushed
	// batch, supplied by the caller ahead of calling Push — boundKnown
	// false means "the caller hasn't told us one yet", which Top must
	// treat as "try the child scan again before trusting Top". This is
	// distinct from childExhausted, which means no such bound will ever
	// arrive because there is no more input left.
	nextBound      *float64
	boundKnown     bool
	childExhausted bool
}

// NewHeap constructs an empty ordered merge keyed by keys.
func NewHeap(keys []SortKey) *Heap {
	return &Heap{
		h:    &heapSlice{keys: keys},
		byID: make(map[int64]*batch.State),
		keys: keys,
	}
}

// SortKeys returns the ordering this heap was constructed with, so a
// caller populating a batch before Push knows which columns must already
// be decompressed.
func (hq *Heap) SortKeys() []SortKey { return hq.keys }

// SetNextBound records the next unopened batch's leading min/max bound
// (per the ascending-uses-min / descending-uses-max rule), for callers
// whose child scan can report it without consuming the batch.
func (hq *Heap) SetNextBound(minmax [2]interface{}) {
	descending := len(hq.keys) > 0 && hq.keys[0].Descending
	b := leadingBound(minmax, descending)
	hq.nextBound = &b
	hq.boundKnown = true
}

// ClearNextBound discards any previously recorded bound without claiming
// the child is exhausted — used when a batch was just consumed and
// nothing is yet known about the one after it.
func (hq *Heap) ClearNextBound() {
	hq.nextBound = nil
	hq.boundKnown = false
}

// MarkChildExhausted records that the child scan will never produce
// another batch; Top then trusts whatever the heap currently holds
// instead of waiting for a bound that will never arrive.
func (hq *Heap) MarkChildExhausted() {
	hq.childExhausted = true
	hq.nextBound = nil
	hq.boundKnown = false
}

// NeedsNextBatch reports true when the heap is empty (nothing to merge
// yet) — callers additionally consult Top's own signal once non-empty,
// since opening another batch may still be required by the open-batch
// invariant even with rows already available.
func (hq *Heap) NeedsNextBatch() bool {
	return hq.h.Len() == 0
}

// Push admits a new BatchState: per §4.5, sort-key columns (plus count)
// must already be decompressed and vectorized quals already applied by
// the caller before Push is called. Push advances the cursor past any
// initial filtered rows; if all rows are filtered out, the batch is
// released and not inserted.
func (hq *Heap) Push(b *batch.State) error {
	if b.AllFiltered() {
		b.Release()
		return nil
	}
	start := b.NextPassingRow(0)
	b.SetCursor(start)
	hq.byID[b.ID] = b
	hq.h.elems = append(hq.h.elems, mergePointer{state: b, row: start})
	heap.Init(hq.h)
	return nil
}

// Top peeks the root. If the root's leading sort value is >= the next
// unopened batch's bound (ascending; <= for descending), or no bound is
// known and the child is not yet exhausted, Top returns the
// needs-next-batch signal (see IsNeedsNextBatch) so the caller feeds
// another batch before trusting the result. An empty heap returns
// ErrEmpty once the child is exhausted.
func (hq *Heap) Top() (batch.Row, error) {
	if hq.h.Len() == 0 {
		if hq.childExhausted {
			return batch.Row{}, ErrEmpty
		}
		return batch.Row{}, errNeedsNextBatch
	}
	root := hq.h.elems[0]
	if hq.boundKnown && len(hq.keys) > 0 {
		rootVal, rootNull := valueAt(root.state, hq.keys[0], root.row)
		if !rootNull {
			descending := hq.keys[0].Descending
			if (!descending && rootVal >= *hq.nextBound) || (descending && rootVal <= *hq.nextBound) {
				return batch.Row{}, errNeedsNextBatch
			}
		}
	} else if !hq.childExhausted {
		// No bound recorded yet and the child isn't known to be
		// exhausted: conservatively require another batch before
		// committing to a top, per the open-batch invariant.
		return batch.Row{}, errNeedsNextBatch
	}
	return batch.Row{BatchID: root.state.ID, Index: root.row}, nil
}

// errNeedsNextBatch signals "ask the child for one more batch before
// trusting Top", distinct from ErrEmpty ("there will never be another
// batch and the queue is drained").
var errNeedsNextBatch = errors.New("queue: needs next batch before top is final")

// IsNeedsNextBatch reports whether err is the "feed me another batch"
// signal from Top, as opposed to ErrEmpty (true end of stream).
func IsNeedsNextBatch(err error) bool { return err == errNeedsNextBatch }

// Pop removes the current top element's row by advancing its cursor past
// the next mask-set position, re-sifting (or removing, if exhausted) the
// owning BatchState.
func (hq *Heap) Pop() error {
	if hq.h.Len() == 0 {
		return errors.New("heap queue: Pop on empty queue")
	}
	top := hq.h.elems[0]
	next := top.state.NextPassingRow(top.row + 1)
	top.state.SetCursor(next)
	if top.state.Exhausted() {
		heap.Remove(hq.h, 0)
		delete(hq.byID, top.state.ID)
		top.state.Release()
		return nil
	}
	hq.h.elems[0].row = next
	heap.Fix(hq.h, 0)
	return nil
}

func (hq *Heap) Reset() {
	for _, b := range hq.byID {
		b.Release()
	}
	hq.byID = make(map[int64]*batch.State)
	hq.h.elems = nil
	hq.nextBound = nil
	hq.boundKnown = false
	hq.childExhausted = false
}

func (hq *Heap) Len() int { return hq.h.Len() }
