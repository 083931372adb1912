// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slots implements allocators over the small, fixed index
// spaces of hardware resource pools (PWM timers, PWM channels).
// Pools are plain instances; nothing in this package is process-wide.
package slots

import (
	"sync"

	"github.com/pkg/errors"
)

// SharedPool is a reference counted allocator over a fixed index space.
// An index is in use while its reference count is at least 1 and is
// freed exactly when the count drops to zero.
type SharedPool struct {
	mutex sync.Mutex
	name  string
	refs  []int
}

// SharedHandle represents one reference to a slot of a SharedPool.
// Each handle must be released exactly once.
type SharedHandle struct {
	pool     *SharedPool
	index    int
	first    bool
	released bool
}

// NewSharedPool creates a reference counted pool with the given number
// of indices. The name is used in diagnostics and metrics only.
func NewSharedPool(name string, capacity int) *SharedPool {
	return &SharedPool{
		name: name,
		refs: make([]int, capacity),
	}
}

// Capacity returns the size of the index space.
func (p *SharedPool) Capacity() int {
	return len(p.refs)
}

// Acquire takes the lowest index that is not in use.
// Fails with ResourceExhaustedError when every index is in use.
func (p *SharedPool) Acquire() (*SharedHandle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for index, refs := range p.refs {
		if refs == 0 {
			return p.take(index), nil
		}
	}
	acquireFailuresTotal.WithLabelValues(p.name).Inc()
	return nil, errors.Wrapf(ResourceExhaustedError, "pool %s", p.name)
}

// AcquireIndex takes a reference on the given index.
// If the index is already in use the existing slot is shared and its
// reference count incremented; otherwise the slot is newly taken.
// Whether the handle is the first reference is reported by First.
func (p *SharedPool) AcquireIndex(index int) (*SharedHandle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if index < 0 || index >= len(p.refs) {
		acquireFailuresTotal.WithLabelValues(p.name).Inc()
		return nil, errors.Wrapf(InvalidIndexError, "pool %s index %d", p.name, index)
	}
	return p.take(index), nil
}

// RefCount returns the current reference count of the given index.
func (p *SharedPool) RefCount(index int) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if index < 0 || index >= len(p.refs) {
		return 0
	}
	return p.refs[index]
}

// AllocatedIndices returns the indices currently in use, in ascending
// order.
func (p *SharedPool) AllocatedIndices() []int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var result []int
	for index, refs := range p.refs {
		if refs > 0 {
			result = append(result, index)
		}
	}
	return result
}

// take increments the reference count of the given index.
// The caller must hold the pool lock.
func (p *SharedPool) take(index int) *SharedHandle {
	p.refs[index]++
	if p.refs[index] == 1 {
		slotsInUseGauges.WithLabelValues(p.name).Inc()
	}
	return &SharedHandle{
		pool:  p,
		index: index,
		first: p.refs[index] == 1,
	}
}

// Index returns the slot index this handle refers to.
func (h *SharedHandle) Index() int {
	return h.index
}

// First returns true when this handle took the first reference on its
// index, meaning the caller owns the one-time setup of the underlying
// hardware.
func (h *SharedHandle) First() bool {
	return h.first
}

// Release drops this handle's reference and returns the number of
// references that remain. The index is free again when that number is
// zero. Releasing the same handle twice fails with DoubleReleaseError
// and leaves the pool state untouched.
func (h *SharedHandle) Release() (int, error) {
	p := h.pool
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if h.released {
		return p.refs[h.index], errors.Wrapf(DoubleReleaseError, "pool %s index %d", p.name, h.index)
	}
	h.released = true
	p.refs[h.index]--
	remaining := p.refs[h.index]
	if remaining == 0 {
		slotsInUseGauges.WithLabelValues(p.name).Dec()
	}
	return remaining, nil
}
