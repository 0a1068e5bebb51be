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
	"github.com/siglens/shardaggs/pkg/geoutils"
)

const GEOGRID_INITIAL_BUCKETS = int64(50)

// GeoGridConfig configures a geo-grid bucket aggregation. The value source
// yields packed geo cells; buckets are always ordered by count descending.
type GeoGridConfig struct {
	Name                 string
	ValueSource          ValueSource
	EstimatedBucketCount int64
	RequiredSize         int
	ShardSize            int
	ExecutionMode        ExecutionMode
	SubFactories         []Factory
}

// NewGeoGridAggregator buckets documents by the packed geo cell their points
// fall in, presenting surviving cells as geohash strings.
func NewGeoGridAggregator(ctx *AggContext, parent Aggregator, cfg GeoGridConfig) (Aggregator, error) {
	estimated := cfg.EstimatedBucketCount
	if estimated <= 0 {
		estimated = GEOGRID_INITIAL_BUCKETS
	}
	return newBucketEngine(ctx, parent, engineSpec{
		name:             cfg.Name,
		valuesSource:     cfg.ValueSource,
		estimatedBuckets: estimated,
		requiredSize:     cfg.RequiredSize,
		shardSize:        cfg.ShardSize,
		minDocCount:      1, // a grid cell with no matches is never reported
		order:            &internalOrder{kind: orderByCount},
		execMode:         cfg.ExecutionMode,
		factories:        cfg.SubFactories,
		present: func(key uint64) BucketKey {
			return BucketKey{Kind: KeyGeoCell, StrVal: geoutils.CellToString(key)}
		},
		keyLess: func(a, b uint64) bool {
			return a < b
		},
	})
}
