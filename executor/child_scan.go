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

// Package executor ties components C2 through C7 together into the
// decompression operator itself: the child scan pulls one compressed
// batch at a time, the operator decompresses, filters and emits (or
// aggregates) it, and the whole thing is driven single-threaded from the
// consumer's Next calls.
package executor

import (
	"context"

	"github.com/pingcap/errors"

	"github.com/timescale/decompress-chunk/compression"
)

// ChildScan is the downstream contract from spec.md §6: a pull-based
// iterator yielding one CompressedBatch per call. This mirrors the
// teacher's distsql.SelectResult.Next(ctx, *chunk.Chunk) shape, adapted
// to yield one opaque compressed row at a time instead of filling a
// caller-owned chunk, since a CompressedBatch is already the unit of
// work here.
type ChildScan interface {
	// Next returns the next compressed input row, or ok=false at end of
	// stream. Suspension happens only inside this call, per spec.md §5.
	Next(ctx context.Context) (row *compression.CompressedBatch, ok bool, err error)
	// Close releases the child's resources.
	Close() error
}

// sliceChildScan is a reference ChildScan over an in-memory slice of
// batches — the shape a compression-codec test harness or an in-process
// caller needs; a real deployment plugs in a scan that pulls compressed
// rows from storage instead.
type sliceChildScan struct {
	batches []*compression.CompressedBatch
	pos     int
	closed  bool
}

// NewSliceChildScan returns a ChildScan that replays batches in order,
// useful for tests and for callers that have already materialized the
// compressed rows to decompress.
func NewSliceChildScan(batches []*compression.CompressedBatch) ChildScan {
	return &sliceChildScan{batches: batches}
}

// Lookahead is implemented by a ChildScan that can report the next
// not-yet-consumed batch's presort bound for a given input position
// without consuming it, letting the heap queue's open-batch invariant
// (queue.Heap.SetNextBound) admit rows from an already-open batch before
// the following one has been pulled. A ChildScan that cannot support
// this (e.g. a storage-backed scan with no cheap lookahead) simply does
// not implement Lookahead, and the operator falls back to requiring the
// next batch before trusting the heap's root.
type Lookahead interface {
	PeekMinMax(ctx context.Context, inputPos int) (lo, hi interface{}, ok bool, err error)
}

// PeekMinMax reports the min/max metadata of the batch that the next
// Next call would return, reading straight out of the in-memory slice
// without advancing pos.
func (s *sliceChildScan) PeekMinMax(ctx context.Context, inputPos int) (lo, hi interface{}, ok bool, err error) {
	if s.closed {
		return nil, nil, false, errors.New("child scan: PeekMinMax called after Close")
	}
	if s.pos >= len(s.batches) {
		return nil, nil, false, nil
	}
	mm, has := s.batches[s.pos].MinMax[inputPos]
	if !has {
		return nil, nil, false, nil
	}
	return mm[0], mm[1], true, nil
}

func (s *sliceChildScan) Next(ctx context.Context) (*compression.CompressedBatch, bool, error) {
	if s.closed {
		return nil, false, errors.New("child scan: Next called after Close")
	}
	select {
	case <-ctx.Done():
		return nil, false, errors.Trace(ctx.Err())
	default:
	}
	if s.pos >= len(s.batches) {
		return nil, false, nil
	}
	b := s.batches[s.pos]
	s.pos++
	return b, true, nil
}

func (s *sliceChildScan) Close() error {
	s.closed = true
	return nil
}

// Closeable is something with resources to release; closeAll closes every
// non-nil one even if some return errors, returning the first error.
type Closeable interface {
	Close() error
}

func closeAll(objs ...Closeable) error {
	var first error
	for _, o := range objs {
		if o == nil {
			continue
		}
		if err := o.Close(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return errors.Trace(first)
	}
	return nil
}
