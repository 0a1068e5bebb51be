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

package aggs

import (
	"github.com/bits-and-blooms/bitset"
	toputils "github.com/siglens/shardaggs/pkg/utils"
)

// MatchSet records which documents of each segment matched the query, so a
// prune-first tree can be replayed over exactly the same matches in document
// order.
type MatchSet struct {
	perSegment []*bitset.BitSet
}

func NewMatchSet(segments []Segment) *MatchSet {
	perSegment := make([]*bitset.BitSet, len(segments))
	for i, seg := range segments {
		perSegment[i] = bitset.New(uint(seg.MaxDoc()))
	}
	return &MatchSet{perSegment: perSegment}
}

func (ms *MatchSet) AddMatch(segIdx int, doc int) error {
	if segIdx < 0 || segIdx >= len(ms.perSegment) {
		return toputils.TeeErrorf("MatchSet.AddMatch: segment index %d out of range [0, %d)", segIdx, len(ms.perSegment))
	}
	ms.perSegment[segIdx].Set(uint(doc))
	return nil
}

func (ms *MatchSet) NumMatches(segIdx int) uint {
	return ms.perSegment[segIdx].Count()
}

// ForEachMatch visits the segment's matching documents in ascending order.
func (ms *MatchSet) ForEachMatch(segIdx int, fn func(doc int) error) error {
	if segIdx < 0 || segIdx >= len(ms.perSegment) {
		return toputils.TeeErrorf("MatchSet.ForEachMatch: segment index %d out of range [0, %d)", segIdx, len(ms.perSegment))
	}
	bs := ms.perSegment[segIdx]
	for doc, ok := bs.NextSet(0); ok; doc, ok = bs.NextSet(doc + 1) {
		if err := fn(int(doc)); err != nil {
			return err
		}
	}
	return nil
}
