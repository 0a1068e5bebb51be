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
	"github.com/dustin/go-humanize"
	toputils "github.com/siglens/shardaggs/pkg/utils"
)

// MemoryLimiter tracks the bytes claimed by one query's bucket storage against
// a fixed budget. Exceeding the budget is fatal for that query's aggregation;
// the failed claim is surfaced as an error and never retried.
//
// A nil *MemoryLimiter is valid and never rejects a claim. One tree owns one
// limiter, so no locking is needed.
type MemoryLimiter struct {
	maxBytes  uint64
	usedBytes uint64
}

func NewMemoryLimiter(maxBytes uint64) *MemoryLimiter {
	return &MemoryLimiter{maxBytes: maxBytes}
}

func (ml *MemoryLimiter) TryAlloc(numBytes uint64) error {
	if ml == nil {
		return nil
	}
	if ml.usedBytes+numBytes > ml.maxBytes {
		return toputils.TeeErrorf("MemoryLimiter.TryAlloc: bucket storage would exceed memory budget: requested %v, used %v of %v",
			humanize.Bytes(numBytes), humanize.Bytes(ml.usedBytes), humanize.Bytes(ml.maxBytes))
	}
	ml.usedBytes += numBytes
	return nil
}

func (ml *MemoryLimiter) ReleaseBytes(numBytes uint64) {
	if ml == nil {
		return
	}
	if numBytes > ml.usedBytes {
		numBytes = ml.usedBytes
	}
	ml.usedBytes -= numBytes
}

func (ml *MemoryLimiter) UsedBytes() uint64 {
	if ml == nil {
		return 0
	}
	return ml.usedBytes
}
