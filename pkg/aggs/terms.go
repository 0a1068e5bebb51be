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
	"math"
)

// TermsConfig configures a terms bucket aggregation. RequiredSize is the
// final number of buckets the request wants; ShardSize (>= RequiredSize,
// defaulted to it) is how many this partition retains before the
// cross-partition merge trims.
type TermsConfig struct {
	Name                 string
	ValueSource          ValueSource
	EstimatedBucketCount int64
	RequiredSize         int
	ShardSize            int
	MinDocCount          int64
	Order                *OrderSpec
	ExecutionMode        ExecutionMode
	SubFactories         []Factory
}

// NewLongTermsAggregator buckets documents by raw 64-bit integer values.
func NewLongTermsAggregator(ctx *AggContext, parent Aggregator, cfg TermsConfig) (Aggregator, error) {
	order, err := parseOrder(cfg.Order)
	if err != nil {
		return nil, err
	}
	return newBucketEngine(ctx, parent, engineSpec{
		name:             cfg.Name,
		valuesSource:     cfg.ValueSource,
		estimatedBuckets: cfg.EstimatedBucketCount,
		requiredSize:     cfg.RequiredSize,
		shardSize:        cfg.ShardSize,
		minDocCount:      cfg.MinDocCount,
		order:            order,
		execMode:         cfg.ExecutionMode,
		factories:        cfg.SubFactories,
		present: func(key uint64) BucketKey {
			return BucketKey{Kind: KeyInt64, IntVal: int64(key)}
		},
		keyLess: func(a, b uint64) bool {
			return int64(a) < int64(b)
		},
	})
}

// NewDoubleTermsAggregator buckets documents by float64 values carried as
// IEEE-754 bit patterns, so the integer-keyed ordinal table needs no
// float-specific hashing. Keys are reinterpreted only for ordering and
// presentation.
func NewDoubleTermsAggregator(ctx *AggContext, parent Aggregator, cfg TermsConfig) (Aggregator, error) {
	order, err := parseOrder(cfg.Order)
	if err != nil {
		return nil, err
	}
	return newBucketEngine(ctx, parent, engineSpec{
		name:             cfg.Name,
		valuesSource:     cfg.ValueSource,
		estimatedBuckets: cfg.EstimatedBucketCount,
		requiredSize:     cfg.RequiredSize,
		shardSize:        cfg.ShardSize,
		minDocCount:      cfg.MinDocCount,
		order:            order,
		execMode:         cfg.ExecutionMode,
		factories:        cfg.SubFactories,
		present: func(key uint64) BucketKey {
			return BucketKey{Kind: KeyFloat64, FloatVal: math.Float64frombits(key)}
		},
		keyLess: func(a, b uint64) bool {
			return math.Float64frombits(a) < math.Float64frombits(b)
		},
	})
}
