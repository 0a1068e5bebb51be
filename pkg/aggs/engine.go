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
	"github.com/siglens/shardaggs/pkg/aggs/bucketords"
	"github.com/siglens/shardaggs/pkg/aggs/topbuckets"
	toputils "github.com/siglens/shardaggs/pkg/utils"
)

const DEFAULT_REQUIRED_SIZE = 10

// bucketRecord is the transient pruning candidate: one occupied ordinal with
// its key and the count snapshotted at pruning time.
type bucketRecord struct {
	key      uint64
	docCount int64
	ord      uint64
}

// engineSpec is everything that distinguishes one concrete bucket aggregator
// from another: the key presentation, the key comparator, the ordering, and
// the sizing knobs. The engine itself is shared by terms-by-long,
// terms-by-double and geo-grid.
type engineSpec struct {
	name             string
	valuesSource     ValueSource
	estimatedBuckets int64
	requiredSize     int
	shardSize        int
	minDocCount      int64
	order            *internalOrder
	execMode         ExecutionMode
	factories        []Factory

	// present decodes a surviving key for the result tree
	present func(key uint64) BucketKey
	// keyLess orders decoded keys (not raw bit patterns)
	keyLess func(a, b uint64) bool
}

// bucketEngine is the single generic bucket aggregator. It is a per-bucket
// aggregator: one instance serves one parent bucket and always sees owning
// ordinal 0; nesting is handled by the per-bucket wrapper.
type bucketEngine struct {
	spec   engineSpec
	ctx    *AggContext
	parent Aggregator
	depth  int

	subAggs    []Aggregator
	pass       passState
	bucketOrds *bucketords.LongHash
	docCounts  *bucketords.DocCounts
	pruned     *topbuckets.TopK[*bucketRecord]
	released   bool
}

func newBucketEngine(ctx *AggContext, parent Aggregator, spec engineSpec) (*bucketEngine, error) {
	if spec.name == "" {
		return nil, toputils.TeeErrorf("newBucketEngine: aggregation name must not be empty")
	}
	if spec.valuesSource == nil {
		return nil, toputils.TeeErrorf("aggregation [%s]: no value source configured", spec.name)
	}
	if spec.requiredSize <= 0 {
		spec.requiredSize = DEFAULT_REQUIRED_SIZE
	}
	if spec.shardSize <= 0 {
		spec.shardSize = spec.requiredSize
	}
	if spec.order == nil {
		spec.order = &internalOrder{kind: orderByCount}
	}

	e := &bucketEngine{
		spec:   spec,
		ctx:    ctx,
		parent: parent,
		pass:   firstPass,
	}
	if parent != nil {
		e.depth = parent.Depth() + 1
	}

	bucketOrds, err := bucketords.NewLongHash(spec.estimatedBuckets, ctx.MemLimiter, ctx.Qid)
	if err != nil {
		return nil, err
	}
	docCounts, err := bucketords.NewDocCounts(spec.estimatedBuckets, ctx.MemLimiter)
	if err != nil {
		bucketOrds.ReleaseStorage()
		return nil, err
	}
	e.bucketOrds = bucketOrds
	e.docCounts = docCounts

	if spec.execMode == PruneFirst {
		// sub-aggregators stay absent until first-pass pruning decides the
		// surviving bucket set
		e.subAggs = nil
	} else {
		e.subAggs, err = createSubAggregators(ctx, e, spec.factories, spec.estimatedBuckets)
		if err != nil {
			e.releaseOwnStorage()
			return nil, err
		}
	}

	if err := e.spec.order.validate(spec.name, spec.execMode, e.subAggs); err != nil {
		relErr := e.Release()
		if relErr != nil {
			return nil, toputils.CombineErrors([]error{err, relErr})
		}
		return nil, err
	}

	return e, nil
}

func (e *bucketEngine) Name() string                      { return e.spec.name }
func (e *bucketEngine) Parent() Aggregator                { return e.parent }
func (e *bucketEngine) Depth() int                        { return e.depth }
func (e *bucketEngine) SubAggregators() []Aggregator      { return e.subAggs }
func (e *bucketEngine) BucketMode() BucketAggregationMode { return PerBucket }
func (e *bucketEngine) ExecMode() ExecutionMode           { return e.spec.execMode }

func (e *bucketEngine) SetNextReader(seg Segment) error {
	if err := e.spec.valuesSource.SetNextReader(seg); err != nil {
		return toputils.TeeErrorf("qid=%d, aggregation [%s]: failed to bind value source to segment: %v",
			e.ctx.Qid, e.spec.name, err)
	}
	for _, sub := range e.subAggs {
		if err := sub.SetNextReader(seg); err != nil {
			return err
		}
	}
	return nil
}

func (e *bucketEngine) ShouldCollect() bool {
	if e.pass == firstPass {
		return true
	}
	return anyShouldCollect(e.subAggs)
}

func (e *bucketEngine) RequiresMatchReplays() bool {
	if e.spec.execMode == PruneFirst {
		return true
	}
	return anyRequiresMatchReplays(e.subAggs)
}

func (e *bucketEngine) Collect(doc int, owningBucketOrd uint64) error {
	if owningBucketOrd != 0 {
		return toputils.TeeErrorf("qid=%d, aggregation [%s]: collect called with owning ordinal %d on a per-bucket instance",
			e.ctx.Qid, e.spec.name, owningBucketOrd)
	}

	valuesCount, err := e.spec.valuesSource.SetDocument(doc)
	if err != nil {
		return toputils.TeeErrorf("qid=%d, aggregation [%s]: failed to read values for doc %d: %v",
			e.ctx.Qid, e.spec.name, doc, err)
	}

	if e.pass == replayPass {
		// only delegate for buckets that survived first-pass pruning;
		// counts were finalized in the first pass
		for i := 0; i < valuesCount; i++ {
			key, err := e.spec.valuesSource.NextValue()
			if err != nil {
				return toputils.TeeErrorf("qid=%d, aggregation [%s]: value source failed on doc %d: %v",
					e.ctx.Qid, e.spec.name, doc, err)
			}
			ord := e.bucketOrds.Find(key)
			if ord < 0 || e.docCounts.Get(uint64(ord)) == bucketords.PRUNED_BUCKET {
				continue
			}
			if err := e.collectExistingBucket(doc, uint64(ord)); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < valuesCount; i++ {
		key, err := e.spec.valuesSource.NextValue()
		if err != nil {
			return toputils.TeeErrorf("qid=%d, aggregation [%s]: value source failed on doc %d: %v",
				e.ctx.Qid, e.spec.name, doc, err)
		}
		ord, err := e.bucketOrds.Add(key)
		if err != nil {
			return err
		}
		if ord < 0 { // already seen
			ord = -1 - ord
		}
		if err := e.docCounts.Increment(uint64(ord)); err != nil {
			return err
		}
		if err := e.collectExistingBucket(doc, uint64(ord)); err != nil {
			return err
		}
	}
	return nil
}

func (e *bucketEngine) collectExistingBucket(doc int, ord uint64) error {
	for _, sub := range e.subAggs {
		if err := sub.Collect(doc, ord); err != nil {
			return err
		}
	}
	return nil
}

func (e *bucketEngine) PostCollection() error {
	for _, sub := range e.subAggs {
		if err := sub.PostCollection(); err != nil {
			return err
		}
	}

	if e.pass == firstPass {
		if err := e.prune(); err != nil {
			return err
		}
		if e.spec.execMode == PruneFirst {
			// the surviving bucket set is known now; build the deferred
			// sub-aggregators exactly once, before the replay pass
			subAggs, err := createSubAggregators(e.ctx, e, e.spec.factories, int64(e.pruned.Size()))
			if err != nil {
				return err
			}
			e.subAggs = subAggs
		}
	}

	e.pass = replayPass
	return nil
}

// prune runs once, at the end of the first pass: backfill zero-count buckets
// when configured, then keep the top min(distinct, shardSize) buckets and
// mark every loser's ordinal as pruned.
func (e *bucketEngine) prune() error {
	if e.spec.minDocCount == 0 &&
		(!e.spec.order.isCountDesc() || e.bucketOrds.Size() < int64(e.spec.requiredSize)) {
		if err := e.backfillZeroCountBuckets(); err != nil {
			return err
		}
	}

	size := e.bucketOrds.Size()
	if size > int64(e.spec.shardSize) {
		size = int64(e.spec.shardSize)
	}

	e.pruned = topbuckets.New[*bucketRecord](int(size), e.spec.order.lessFunc(e.spec.keyLess))
	for slot := int64(0); slot < e.bucketOrds.Capacity(); slot++ {
		ord := e.bucketOrds.Id(slot)
		if ord < 0 {
			// slot is not allocated
			continue
		}
		record := &bucketRecord{
			key:      e.bucketOrds.Key(slot),
			docCount: e.docCounts.Get(uint64(ord)),
			ord:      uint64(ord),
		}
		if loser, pruned := e.pruned.Offer(record); pruned {
			if err := e.docCounts.Clear(loser.ord); err != nil {
				return err
			}
		}
	}
	return nil
}

// backfillZeroCountBuckets scans every document of every segment through this
// aggregator's value source, independent of the match set, so that known
// terms with no matches in this pass still compete for the top-K. Runs only
// when minDocCount is 0 and the order is not pure count-descending (or fewer
// distinct keys than requiredSize were seen).
func (e *bucketEngine) backfillZeroCountBuckets() error {
	for _, seg := range e.ctx.Segments {
		if err := e.spec.valuesSource.SetNextReader(seg); err != nil {
			return toputils.TeeErrorf("qid=%d, aggregation [%s]: backfill failed to bind segment: %v",
				e.ctx.Qid, e.spec.name, err)
		}
		maxDoc := seg.MaxDoc()
		for doc := 0; doc < maxDoc; doc++ {
			valuesCount, err := e.spec.valuesSource.SetDocument(doc)
			if err != nil {
				return toputils.TeeErrorf("qid=%d, aggregation [%s]: backfill failed to read doc %d: %v",
					e.ctx.Qid, e.spec.name, doc, err)
			}
			for i := 0; i < valuesCount; i++ {
				key, err := e.spec.valuesSource.NextValue()
				if err != nil {
					return toputils.TeeErrorf("qid=%d, aggregation [%s]: backfill value source failed on doc %d: %v",
						e.ctx.Qid, e.spec.name, doc, err)
				}
				if _, err := e.bucketOrds.Add(key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *bucketEngine) BuildAggregation(owningBucketOrd uint64) (*AggResult, error) {
	if owningBucketOrd != 0 {
		return nil, toputils.TeeErrorf("qid=%d, aggregation [%s]: buildAggregation called with owning ordinal %d on a per-bucket instance",
			e.ctx.Qid, e.spec.name, owningBucketOrd)
	}

	result := &AggResult{Name: e.spec.name}
	if e.pruned == nil {
		// no pass completed for this instance
		return result, nil
	}

	survivors := e.pruned.DrainSorted()
	result.Buckets = make([]*BucketResult, 0, len(survivors))
	for _, record := range survivors {
		subResults, err := e.buildSubAggregations(record.ord)
		if err != nil {
			return nil, err
		}
		result.Buckets = append(result.Buckets, &BucketResult{
			Key:        e.spec.present(record.key),
			DocCount:   record.docCount,
			SubResults: subResults,
		})
	}
	return result, nil
}

func (e *bucketEngine) buildSubAggregations(ord uint64) ([]*AggResult, error) {
	subResults := make([]*AggResult, 0, len(e.subAggs))
	for _, sub := range e.subAggs {
		subResult, err := sub.BuildAggregation(ord)
		if err != nil {
			return nil, err
		}
		subResults = append(subResults, subResult)
	}
	return subResults, nil
}

func (e *bucketEngine) BuildEmptyAggregation() *AggResult {
	return &AggResult{Name: e.spec.name, Buckets: []*BucketResult{}}
}

func (e *bucketEngine) releaseOwnStorage() {
	if e.released {
		return
	}
	e.bucketOrds.ReleaseStorage()
	e.docCounts.ReleaseStorage()
	e.released = true
}

func (e *bucketEngine) Release() error {
	// own storage first, then every sub-aggregator regardless of failures
	e.releaseOwnStorage()
	return releaseAll(e.subAggs)
}
