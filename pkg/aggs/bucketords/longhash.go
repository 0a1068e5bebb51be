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
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

const NOT_FOUND = int64(-1)

const MIN_HASH_CAPACITY = int64(8)

// grow once occupancy crosses 3/4 of the slots
const MAX_LOAD_NUM = 3
const MAX_LOAD_DEN = 4

// 8 bytes key + 8 bytes ordinal per slot
const BYTES_PER_SLOT = uint64(16)

// LongHash assigns a dense ordinal to every distinct 64-bit key it sees.
// Ordinals are issued in first-seen order starting at 0 and are never
// reassigned, even when the table rehashes into larger storage. Parallel
// per-bucket state (doc counts and the like) is indexed by these ordinals.
type LongHash struct {
	keys    []uint64
	ids     []int64 // ordinal+1 per slot; 0 marks a free slot
	mask    uint64
	size    int64
	maxSize int64
	limiter *MemoryLimiter
	qid     uint64
}

// NewLongHash sizes the table so estimatedKeys fit without an immediate grow.
// The limiter may be nil for untracked storage.
func NewLongHash(estimatedKeys int64, limiter *MemoryLimiter, qid uint64) (*LongHash, error) {
	capacity := MIN_HASH_CAPACITY
	for capacity*MAX_LOAD_NUM/MAX_LOAD_DEN <= estimatedKeys {
		capacity <<= 1
	}

	if err := limiter.TryAlloc(uint64(capacity) * BYTES_PER_SLOT); err != nil {
		return nil, err
	}

	return &LongHash{
		keys:    make([]uint64, capacity),
		ids:     make([]int64, capacity),
		mask:    uint64(capacity - 1),
		maxSize: capacity * MAX_LOAD_NUM / MAX_LOAD_DEN,
		limiter: limiter,
		qid:     qid,
	}, nil
}

func hashKey(key uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}

// Find returns the ordinal for key, or NOT_FOUND if the key was never added.
func (lh *LongHash) Find(key uint64) int64 {
	for slot := hashKey(key) & lh.mask; ; slot = (slot + 1) & lh.mask {
		id := lh.ids[slot]
		if id == 0 {
			return NOT_FOUND
		}
		if lh.keys[slot] == key {
			return id - 1
		}
	}
}

// Add returns a freshly issued ordinal (>= 0) for an unseen key, or
// -1-ordinal when the key already exists, so callers can tell "new" from
// "already seen" without a second lookup.
func (lh *LongHash) Add(key uint64) (int64, error) {
	if lh.size >= lh.maxSize {
		if err := lh.grow(); err != nil {
			return NOT_FOUND, err
		}
	}

	for slot := hashKey(key) & lh.mask; ; slot = (slot + 1) & lh.mask {
		id := lh.ids[slot]
		if id == 0 {
			ord := lh.size
			lh.keys[slot] = key
			lh.ids[slot] = ord + 1
			lh.size++
			return ord, nil
		}
		if lh.keys[slot] == key {
			return -1 - (id - 1), nil
		}
	}
}

// Size returns the number of distinct keys added so far.
func (lh *LongHash) Size() int64 {
	return lh.size
}

// Capacity returns the current slot count. Slots are iterated during pruning
// only, never during collection.
func (lh *LongHash) Capacity() int64 {
	return int64(len(lh.ids))
}

// Key returns the key stored at the given slot. Only meaningful for slots
// whose Id is allocated.
func (lh *LongHash) Key(slot int64) uint64 {
	return lh.keys[slot]
}

// Id returns the ordinal stored at the given slot, or NOT_FOUND for a free slot.
func (lh *LongHash) Id(slot int64) int64 {
	return lh.ids[slot] - 1
}

func (lh *LongHash) grow() error {
	oldKeys, oldIds := lh.keys, lh.ids
	newCapacity := int64(len(lh.ids)) << 1

	if err := lh.limiter.TryAlloc(uint64(newCapacity) * BYTES_PER_SLOT); err != nil {
		return err
	}
	log.Debugf("qid=%d, LongHash.grow: rehashing bucket ordinals from %v to %v slots",
		lh.qid, humanize.Comma(int64(len(lh.ids))), humanize.Comma(newCapacity))

	lh.keys = make([]uint64, newCapacity)
	lh.ids = make([]int64, newCapacity)
	lh.mask = uint64(newCapacity - 1)
	lh.maxSize = newCapacity * MAX_LOAD_NUM / MAX_LOAD_DEN

	// rehash, copying ordinal assignments verbatim
	for slot, id := range oldIds {
		if id == 0 {
			continue
		}
		key := oldKeys[slot]
		for newSlot := hashKey(key) & lh.mask; ; newSlot = (newSlot + 1) & lh.mask {
			if lh.ids[newSlot] == 0 {
				lh.keys[newSlot] = key
				lh.ids[newSlot] = id
				break
			}
		}
	}

	lh.limiter.ReleaseBytes(uint64(len(oldIds)) * BYTES_PER_SLOT)
	return nil
}

// ReleaseStorage returns the table's bytes to the limiter. The table must not
// be used afterwards.
func (lh *LongHash) ReleaseStorage() {
	lh.limiter.ReleaseBytes(uint64(len(lh.ids)) * BYTES_PER_SLOT)
	lh.keys = nil
	lh.ids = nil
	lh.size = 0
	lh.maxSize = 0
}
