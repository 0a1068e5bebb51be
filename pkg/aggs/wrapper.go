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

// perBucketWrapper fans a per-bucket sub-aggregator out across the parent's
// bucket ordinals: each owning ordinal gets its own lazily created instance,
// which then always sees owning ordinal 0. Multi-bucket sub-aggregators are
// never wrapped; they handle the ordinal themselves.
type perBucketWrapper struct {
	ctx              *AggContext
	parent           Aggregator
	factory          Factory
	estimatedBuckets int64

	// ordinal 0's instance, created eagerly so configuration errors surface
	// at construction and mode/name queries have an answer
	first      Aggregator
	instances  map[uint64]Aggregator
	ords       []uint64 // creation order, for deterministic fan-out
	currentSeg Segment
}

// newPerBucketWrapperIfNeeded creates a sub-aggregator under parent, wrapped
// when the instance is per-bucket and the parent produces multiple buckets.
func newPerBucketWrapperIfNeeded(ctx *AggContext, parent Aggregator, factory Factory, estimatedBuckets int64) (Aggregator, error) {
	agg, err := factory.Create(ctx, parent, estimatedBuckets)
	if err != nil {
		return nil, err
	}
	if agg.BucketMode() != PerBucket || parent == nil {
		return agg, nil
	}
	w := &perBucketWrapper{
		ctx:              ctx,
		parent:           parent,
		factory:          factory,
		estimatedBuckets: estimatedBuckets,
		first:            agg,
		instances:        map[uint64]Aggregator{0: agg},
		ords:             []uint64{0},
	}
	return w, nil
}

func (w *perBucketWrapper) instance(ord uint64) (Aggregator, error) {
	if agg, ok := w.instances[ord]; ok {
		return agg, nil
	}
	agg, err := w.factory.Create(w.ctx, w.parent, w.estimatedBuckets)
	if err != nil {
		return nil, err
	}
	if w.currentSeg != nil {
		if err := agg.SetNextReader(w.currentSeg); err != nil {
			relErr := agg.Release()
			if relErr != nil {
				return nil, relErr
			}
			return nil, err
		}
	}
	w.instances[ord] = agg
	w.ords = append(w.ords, ord)
	return agg, nil
}

func (w *perBucketWrapper) Name() string                      { return w.first.Name() }
func (w *perBucketWrapper) Parent() Aggregator                { return w.parent }
func (w *perBucketWrapper) Depth() int                        { return w.first.Depth() }
func (w *perBucketWrapper) SubAggregators() []Aggregator      { return w.first.SubAggregators() }
func (w *perBucketWrapper) BucketMode() BucketAggregationMode { return PerBucket }
func (w *perBucketWrapper) ExecMode() ExecutionMode           { return w.first.ExecMode() }

func (w *perBucketWrapper) SetNextReader(seg Segment) error {
	w.currentSeg = seg
	for _, ord := range w.ords {
		if err := w.instances[ord].SetNextReader(seg); err != nil {
			return err
		}
	}
	return nil
}

func (w *perBucketWrapper) ShouldCollect() bool {
	for _, ord := range w.ords {
		if w.instances[ord].ShouldCollect() {
			return true
		}
	}
	return false
}

func (w *perBucketWrapper) RequiresMatchReplays() bool {
	return w.first.RequiresMatchReplays()
}

func (w *perBucketWrapper) Collect(doc int, owningBucketOrd uint64) error {
	agg, err := w.instance(owningBucketOrd)
	if err != nil {
		return err
	}
	return agg.Collect(doc, 0)
}

func (w *perBucketWrapper) PostCollection() error {
	for _, ord := range w.ords {
		if err := w.instances[ord].PostCollection(); err != nil {
			return err
		}
	}
	return nil
}

func (w *perBucketWrapper) BuildAggregation(owningBucketOrd uint64) (*AggResult, error) {
	if agg, ok := w.instances[owningBucketOrd]; ok {
		return agg.BuildAggregation(0)
	}
	// the owning bucket never delegated a document here (a zero-count or
	// replay-only bucket): structurally valid empty result
	return w.first.BuildEmptyAggregation(), nil
}

func (w *perBucketWrapper) BuildEmptyAggregation() *AggResult {
	return w.first.BuildEmptyAggregation()
}

func (w *perBucketWrapper) Release() error {
	aggs := make([]Aggregator, 0, len(w.ords))
	for _, ord := range w.ords {
		aggs = append(aggs, w.instances[ord])
	}
	return releaseAll(aggs)
}
