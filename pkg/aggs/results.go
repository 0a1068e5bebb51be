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
	"fmt"
	"strconv"
)

// BucketKeyKind tags the decoded presentation of a 64-bit bucket key.
type BucketKeyKind int

const (
	KeyInt64 BucketKeyKind = iota
	KeyFloat64
	KeyGeoCell
)

// BucketKey is the presentation form of a bucket key. Keys are opaque to the
// generic machinery; only the concrete aggregator's presenter decodes them.
type BucketKey struct {
	Kind     BucketKeyKind
	IntVal   int64
	FloatVal float64
	StrVal   string
}

func (bk BucketKey) String() string {
	switch bk.Kind {
	case KeyInt64:
		return strconv.FormatInt(bk.IntVal, 10)
	case KeyFloat64:
		return strconv.FormatFloat(bk.FloatVal, 'g', -1, 64)
	case KeyGeoCell:
		return bk.StrVal
	}
	return fmt.Sprintf("unknown key kind %d", bk.Kind)
}

// BucketResult is one surviving bucket: its decoded key, its document count,
// and the nested results of its sub-aggregations.
type BucketResult struct {
	Key        BucketKey
	DocCount   int64
	SubResults []*AggResult
}

// AggResult is the named result of one aggregation clause, ordered by the
// clause's comparator (highest-ranked bucket first). It is consumed by the
// cross-partition merge layer downstream.
type AggResult struct {
	Name    string
	Buckets []*BucketResult
}

// SubResult returns the nested result with the given name, or nil.
func (br *BucketResult) SubResult(name string) *AggResult {
	for _, sub := range br.SubResults {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}
