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
	"strings"

	toputils "github.com/siglens/shardaggs/pkg/utils"
)

// OrderSpec is the request-level bucket ordering: "_count", "_key" (alias
// "_term"), or the name of a single-valued sub-aggregation. A nil spec means
// count descending.
type OrderSpec struct {
	Field     string
	Ascending bool
}

// SingleValueProvider is implemented by sub-aggregators whose per-ordinal
// value can drive bucket ordering.
type SingleValueProvider interface {
	MetricValue(ord uint64) float64
}

type orderKind int

const (
	orderByCount orderKind = iota
	orderByKey
	orderBySubAgg
)

const ORDER_FIELD_COUNT = "_count"
const ORDER_FIELD_KEY = "_key"
const ORDER_FIELD_TERM = "_term"

type internalOrder struct {
	kind       orderKind
	ascending  bool
	subAggName string

	// resolved during validation for orderBySubAgg
	provider SingleValueProvider
}

func parseOrder(spec *OrderSpec) (*internalOrder, error) {
	if spec == nil || spec.Field == "" {
		return &internalOrder{kind: orderByCount}, nil
	}
	switch spec.Field {
	case ORDER_FIELD_COUNT:
		return &internalOrder{kind: orderByCount, ascending: spec.Ascending}, nil
	case ORDER_FIELD_KEY, ORDER_FIELD_TERM:
		return &internalOrder{kind: orderByKey, ascending: spec.Ascending}, nil
	}
	if strings.HasPrefix(spec.Field, "_") {
		return nil, toputils.TeeErrorf("parseOrder: unknown order field %q", spec.Field)
	}
	return &internalOrder{kind: orderBySubAgg, ascending: spec.Ascending, subAggName: spec.Field}, nil
}

func (o *internalOrder) isCountDesc() bool {
	return o.kind == orderByCount && !o.ascending
}

// validate resolves a sub-aggregation order against the constructed children.
// Ordering by a sub-aggregation under prune-first is rejected: the children
// do not exist yet when pruning runs.
func (o *internalOrder) validate(aggName string, execMode ExecutionMode, subAggs []Aggregator) error {
	if o.kind != orderBySubAgg {
		return nil
	}
	if execMode == PruneFirst {
		return toputils.TeeErrorf("aggregation [%s]: cannot order by sub-aggregation [%s] in %s mode",
			aggName, o.subAggName, execMode)
	}
	for _, sub := range subAggs {
		if sub.Name() != o.subAggName {
			continue
		}
		provider, ok := sub.(SingleValueProvider)
		if !ok {
			return toputils.TeeErrorf("aggregation [%s]: sub-aggregation [%s] is not single-valued and cannot drive ordering",
				aggName, o.subAggName)
		}
		o.provider = provider
		return nil
	}
	return toputils.TeeErrorf("aggregation [%s]: unknown sub-aggregation [%s] in order", aggName, o.subAggName)
}

// lessFunc builds the strict total order over bucket records used by the
// top-K selector: "a ranks strictly below b". Count and sub-aggregation
// orders break ties by ascending key, so pruning is reproducible for
// identical input order. keyLess compares decoded keys.
func (o *internalOrder) lessFunc(keyLess func(a, b uint64) bool) func(a, b *bucketRecord) bool {
	// tie-break: the larger key ranks below
	keyBelow := func(a, b *bucketRecord) bool {
		return keyLess(b.key, a.key)
	}

	switch o.kind {
	case orderByKey:
		if o.ascending {
			return keyBelow
		}
		return func(a, b *bucketRecord) bool {
			return keyLess(a.key, b.key)
		}
	case orderBySubAgg:
		return func(a, b *bucketRecord) bool {
			va := o.provider.MetricValue(a.ord)
			vb := o.provider.MetricValue(b.ord)
			if va != vb {
				if o.ascending {
					return va > vb
				}
				return va < vb
			}
			return keyBelow(a, b)
		}
	}

	// count order
	return func(a, b *bucketRecord) bool {
		if a.docCount != b.docCount {
			if o.ascending {
				return a.docCount > b.docCount
			}
			return a.docCount < b.docCount
		}
		return keyBelow(a, b)
	}
}
