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

package slots

import (
	"sync"

	"github.com/pkg/errors"
)

// ExclusivePool is an allocator over a fixed index space where every
// index has at most one owner.
type ExclusivePool struct {
	mutex    sync.Mutex
	name     string
	occupied []bool
}

// ExclusiveHandle represents sole ownership of a slot of an
// ExclusivePool. Each handle must be released exactly once.
type ExclusiveHandle struct {
	pool     *ExclusivePool
	index    int
	released bool
}

// NewExclusivePool creates an exclusive pool with the given number of
// indices. The name is used in diagnostics and metrics only.
func NewExclusivePool(name string, capacity int) *ExclusivePool {
	return &ExclusivePool{
		name:     name,
		occupied: make([]bool, capacity),
	}
}

// Capacity returns the size of the index space.
func (p *ExclusivePool) Capacity() int {
	return len(p.occupied)
}

// Acquire takes the lowest index that is not in use.
// Fails with ResourceExhaustedError when every index is in use.
func (p *ExclusivePool) Acquire() (*ExclusiveHandle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for index, inUse := range p.occupied {
		if !inUse {
			return p.take(index), nil
		}
	}
	acquireFailuresTotal.WithLabelValues(p.name).Inc()
	return nil, errors.Wrapf(ResourceExhaustedError, "pool %s", p.name)
}

// AcquireIndex takes sole ownership of the given index.
// Fails with InvalidIndexError for indices outside the pool range and
// with ResourceExhaustedError when the index is already owned.
func (p *ExclusivePool) AcquireIndex(index int) (*ExclusiveHandle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if index < 0 || index >= len(p.occupied) {
		acquireFailuresTotal.WithLabelValues(p.name).Inc()
		return nil, errors.Wrapf(InvalidIndexError, "pool %s index %d", p.name, index)
	}
	if p.occupied[index] {
		acquireFailuresTotal.WithLabelValues(p.name).Inc()
		return nil, errors.Wrapf(ResourceExhaustedError, "pool %s index %d already owned", p.name, index)
	}
	return p.take(index), nil
}

// InUse returns whether the given index currently has an owner.
func (p *ExclusivePool) InUse(index int) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if index < 0 || index >= len(p.occupied) {
		return false
	}
	return p.occupied[index]
}

// AllocatedIndices returns the indices currently owned, in ascending
// order.
func (p *ExclusivePool) AllocatedIndices() []int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var result []int
	for index, inUse := range p.occupied {
		if inUse {
			result = append(result, index)
		}
	}
	return result
}

// take marks the given index as owned.
// The caller must hold the pool lock.
func (p *ExclusivePool) take(index int) *ExclusiveHandle {
	p.occupied[index] = true
	slotsInUseGauges.WithLabelValues(p.name).Inc()
	return &ExclusiveHandle{
		pool:  p,
		index: index,
	}
}

// Index returns the slot index this handle owns.
func (h *ExclusiveHandle) Index() int {
	return h.index
}

// Release frees the owned index immediately.
// Releasing the same handle twice fails with DoubleReleaseError and
// leaves the pool state untouched.
func (h *ExclusiveHandle) Release() error {
	p := h.pool
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if h.released {
		return errors.Wrapf(DoubleReleaseError, "pool %s index %d", p.name, h.index)
	}
	h.released = true
	p.occupied[h.index] = false
	slotsInUseGauges.WithLabelValues(p.name).Dec()
	return nil
}
