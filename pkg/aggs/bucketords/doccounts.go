// Copyright (c) 2021-2024 SigScalr, Inc.
//
// This file is part of SigLens Observability Solution
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package bucketords

import (
	toputils "github.com/siglens/shardaggs/pkg/utils"
)

// PRUNED_BUCKET marks an ordinal that lost the top-K competition. A pruned
// entry is terminal for the aggregator's lifetime: it is never incremented or
// un-pruned, and replay passes skip documents that resolve to it.
const PRUNED_BUCKET = int64(-1)

const MIN_COUNTS_CAPACITY = int64(8)

const BYTES_PER_COUNT = uint64(8)

// DocCounts stores one document count per bucket ordinal. It grows in step
// with the ordinal table, so it always covers every issued ordinal. Ordinals
// never touched read as 0.
type DocCounts struct {
	counts  []int64
	limiter *MemoryLimiter
}

func NewDocCounts(estimatedOrds int64, limiter *MemoryLimiter) (*DocCounts, error) {
	capacity := MIN_COUNTS_CAPACITY
	for capacity < estimatedOrds {
		capacity <<= 1
	}
	if err := limiter.TryAlloc(uint64(capacity) * BYTES_PER_COUNT); err != nil {
		return nil, err
	}
	return &DocCounts{
		counts:  make([]int64, capacity),
		limiter: limiter,
	}, nil
}

func (dc *DocCounts) ensure(ord uint64) error {
	if ord < uint64(len(dc.counts)) {
		return nil
	}
	newCapacity := int64(len(dc.counts))
	for uint64(newCapacity) <= ord {
		newCapacity <<= 1
	}
	if err := dc.limiter.TryAlloc(uint64(newCapacity-int64(len(dc.counts))) * BYTES_PER_COUNT); err != nil {
		return err
	}
	grown := make([]int64, newCapacity)
	copy(grown, dc.counts)
	dc.counts = grown
	return nil
}

func (dc *DocCounts) Increment(ord uint64) error {
	if err := dc.ensure(ord); err != nil {
		return err
	}
	if dc.counts[ord] == PRUNED_BUCKET {
		return toputils.TeeErrorf("DocCounts.Increment: ordinal %d is already pruned", ord)
	}
	dc.counts[ord]++
	return nil
}

func (dc *DocCounts) Get(ord uint64) int64 {
	if ord >= uint64(len(dc.counts)) {
		return 0
	}
	return dc.counts[ord]
}

// Clear marks the ordinal as pruned.
func (dc *DocCounts) Clear(ord uint64) error {
	if err := dc.ensure(ord); err != nil {
		return err
	}
	dc.counts[ord] = PRUNED_BUCKET
	return nil
}

// ReleaseStorage returns the store's bytes to the limiter. The store must not
// be used afterwards.
func (dc *DocCounts) ReleaseStorage() {
	dc.limiter.ReleaseBytes(uint64(len(dc.counts)) * BYTES_PER_COUNT)
	dc.counts = nil
}
