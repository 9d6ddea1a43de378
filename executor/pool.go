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
	"sync"

	"github.com/ngaut/pools"

	"github.com/timescale/decompress-chunk/arena"
	"github.com/timescale/decompress-chunk/batch"
	"github.com/timescale/decompress-chunk/compression"
)

// batchResource adapts one (BatchState, Arena) pair to pools.Resource so it
// can sit in a free list instead of being allocated fresh per compressed
// input row, the way the domain package pools session contexts.
type batchResource struct {
	state *batch.State
	arena *arena.Arena
}

// Close satisfies pools.Resource and does nothing: a pooled arena is never
// actually freed, only dropped for the garbage collector when the pool
// discards it.
func (r *batchResource) Close() {}

// batchPool is a fixed-capacity free list of (BatchState, Arena) pairs, one
// per operator instance, sized once at Open from the descriptor table's
// arena target. This mirrors the teacher's sessionPool: a buffered channel
// of pools.Resource plus a factory for the miss case, without the
// lease/idle-timeout machinery a sys-session pool needs but a single
// in-process scan does not. Only the aggregation path puts states back;
// in the streaming path the queue releases exhausted batches without
// returning them here, so each fed batch is built by the factory.
type batchPool struct {
	resources chan pools.Resource
	factory   pools.Factory

	mu struct {
		sync.Mutex
		closed bool
		nextID int64
	}
}

// newBatchPool returns a pool that hands out BatchStates built against
// table, each with an arena sized by arena.TargetBytes (or the operator's
// configured override). capacity bounds how many released states the free
// list keeps; it does not bound how many batches are open at once, since
// Get falls back to the factory whenever the free list is empty.
func newBatchPool(table *compression.DescriptorTable, arenaBytes, capacity int) *batchPool {
	p := &batchPool{
		resources: make(chan pools.Resource, capacity),
	}
	p.factory = func() (pools.Resource, error) {
		p.mu.Lock()
		id := p.mu.nextID
		p.mu.nextID++
		p.mu.Unlock()
		a := arena.New(arenaBytes)
		return &batchResource{state: batch.New(id, table, a), arena: a}, nil
	}
	return p
}

// Get returns a BatchState ready for a new compressed input row (id
// reassigned via Reuse), pulling from the free list before falling back to
// the factory.
func (p *batchPool) Get() (*batch.State, error) {
	var res pools.Resource
	select {
	case res, _ = <-p.resources:
	default:
		var err error
		res, err = p.factory()
		if err != nil {
			return nil, err
		}
	}
	if res == nil {
		r, err := p.factory()
		if err != nil {
			return nil, err
		}
		res = r
	}
	br := res.(*batchResource)
	p.mu.Lock()
	id := p.mu.nextID
	p.mu.nextID++
	p.mu.Unlock()
	br.state.Reuse(id)
	return br.state, nil
}

// Put returns a released BatchState to the free list, dropping it if the
// pool is already full or closed.
func (p *batchPool) Put(s *batch.State) {
	p.mu.Lock()
	closed := p.mu.closed
	p.mu.Unlock()
	if closed {
		return
	}
	br := &batchResource{state: s}
	select {
	case p.resources <- br:
	default:
	}
}

// Close drains the free list; pooled arenas are simply dropped for the
// garbage collector, there being no external resource to release.
func (p *batchPool) Close() {
	p.mu.Lock()
	if p.mu.closed {
		p.mu.Unlock()
		return
	}
	p.mu.closed = true
	close(p.resources)
	p.mu.Unlock()
	for range p.resources {
	}
}
