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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siglens/shardaggs/pkg/aggs/bucketords"
)

func Test_pruneFirstReplaysOnlySurvivors(t *testing.T) {
	// values 1,1,2 with one slot: key 1 survives, key 2 is pruned. The child
	// must be created only after pruning, and must never see the pruned
	// bucket's document.
	ctx, matches, source := singleSegmentSetup([][]uint64{{1}, {1}, {2}})

	var child *recordingAgg
	childFactory := FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		child = newRecordingAgg("hits", parent)
		return child, nil
	})

	tree, err := NewTree(ctx, FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		return NewLongTermsAggregator(ctx, parent, TermsConfig{
			Name:          "genres",
			ValueSource:   source,
			RequiredSize:  1,
			ShardSize:     1,
			MinDocCount:   1,
			ExecutionMode: PruneFirst,
			SubFactories:  []Factory{childFactory},
		})
	}))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, tree.Release())
	}()

	assert.True(t, tree.NeedsReplay())
	assert.Nil(t, child, "deferred child must not exist before the first pass completes")

	require.NoError(t, tree.Execute(matches))
	require.NotNil(t, child)

	// only the surviving ordinal's documents were delegated
	assert.Equal(t, map[uint64][]int{0: {0, 1}}, child.collected)

	results, err := tree.BuildResults()
	require.NoError(t, err)
	buckets := results[0].Buckets
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Key.IntVal)
	assert.Equal(t, int64(2), buckets[0].DocCount)
	require.Len(t, buckets[0].SubResults, 1)
	assert.Equal(t, int64(2), buckets[0].SubResults[0].Buckets[0].DocCount)
}

func Test_singlePassCollectsChildrenInline(t *testing.T) {
	ctx, matches, source := singleSegmentSetup([][]uint64{{1}, {1}, {2}})

	var child *recordingAgg
	childFactory := FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		child = newRecordingAgg("hits", parent)
		return child, nil
	})

	tree, err := NewTree(ctx, FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		return NewLongTermsAggregator(ctx, parent, TermsConfig{
			Name:         "genres",
			ValueSource:  source,
			RequiredSize: 10,
			MinDocCount:  1,
			SubFactories: []Factory{childFactory},
		})
	}))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, tree.Release())
	}()

	// children exist up front, and a single pass suffices
	require.NotNil(t, child)
	assert.False(t, tree.NeedsReplay())

	require.NoError(t, tree.Execute(matches))
	assert.Equal(t, 3, source.docsRead)
	assert.Equal(t, map[uint64][]int{0: {0, 1}, 1: {2}}, child.collected)
}

func Test_multiSegmentCountsMerge(t *testing.T) {
	seg0 := &testSegment{docValues: [][]uint64{{7}, {8}}}
	seg1 := &testSegment{docValues: [][]uint64{{7}}}
	ctx := &AggContext{Qid: 4, Segments: []Segment{seg0, seg1}}
	matches := NewMatchSet(ctx.Segments)
	_ = matches.AddMatch(0, 0)
	_ = matches.AddMatch(0, 1)
	_ = matches.AddMatch(1, 0)

	source := &testValueSource{}
	tree, err := NewTree(ctx, FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		return NewLongTermsAggregator(ctx, parent, TermsConfig{
			Name:         "hosts",
			ValueSource:  source,
			RequiredSize: 10,
			MinDocCount:  1,
		})
	}))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, tree.Release())
	}()

	require.NoError(t, tree.Execute(matches))
	assert.Equal(t, 2, source.bindCalls)

	results, err := tree.BuildResults()
	require.NoError(t, err)
	buckets := results[0].Buckets
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(7), buckets[0].Key.IntVal)
	assert.Equal(t, int64(2), buckets[0].DocCount)
	assert.Equal(t, int64(8), buckets[1].Key.IntVal)
	assert.Equal(t, int64(1), buckets[1].DocCount)
}

func Test_executeFailureReleasesStorage(t *testing.T) {
	seg := &testSegment{docValues: [][]uint64{{1}, {2}}}
	limiter := bucketords.NewMemoryLimiter(1 << 20)
	ctx := &AggContext{Qid: 9, Segments: []Segment{seg}, MemLimiter: limiter}
	matches := NewMatchSet(ctx.Segments)
	_ = matches.AddMatch(0, 0)
	_ = matches.AddMatch(0, 1)

	tree, err := NewTree(ctx, FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		return NewLongTermsAggregator(ctx, parent, TermsConfig{
			Name:        "broken",
			ValueSource: &failingValueSource{failAfter: 1},
			MinDocCount: 1,
		})
	}))
	require.NoError(t, err)
	assert.Greater(t, limiter.UsedBytes(), uint64(0))

	assert.Error(t, tree.Execute(matches))

	// the failed execution already tore the tree down
	assert.Equal(t, uint64(0), limiter.UsedBytes())
	assert.NoError(t, tree.Release())
}

func Test_treeConstructionReleasesEarlierRoots(t *testing.T) {
	ctx := &AggContext{Qid: 2}

	var first *recordingAgg
	_, err := NewTree(ctx,
		FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
			first = newRecordingAgg("ok", parent)
			return first, nil
		}),
		FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
			return nil, fmt.Errorf("bad config")
		}),
	)
	assert.Error(t, err)
	require.NotNil(t, first)
	assert.True(t, first.released)
}

func Test_rootCollectRejectsNonZeroOrdinal(t *testing.T) {
	ctx := &AggContext{Qid: 5}
	agg, err := NewLongTermsAggregator(ctx, nil, TermsConfig{
		Name:        "root",
		ValueSource: &testValueSource{},
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, agg.Release())
	}()

	assert.Error(t, agg.Collect(0, 3))
}

func Test_leafStopsCollectingAfterPass(t *testing.T) {
	ctx := &AggContext{Qid: 6}
	agg, err := NewLongTermsAggregator(ctx, nil, TermsConfig{
		Name:        "leaf",
		ValueSource: &testValueSource{},
		MinDocCount: 1,
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, agg.Release())
	}()

	assert.True(t, agg.ShouldCollect())
	assert.False(t, agg.RequiresMatchReplays())

	require.NoError(t, agg.PostCollection())
	assert.False(t, agg.ShouldCollect())
}

func Test_buildEmptyResults(t *testing.T) {
	ctx := &AggContext{Qid: 8}
	tree, err := NewTree(ctx, FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		return NewLongTermsAggregator(ctx, parent, TermsConfig{
			Name:        "nothing",
			ValueSource: &testValueSource{},
		})
	}))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, tree.Release())
	}()

	results := tree.BuildEmptyResults()
	require.Len(t, results, 1)
	assert.Equal(t, "nothing", results[0].Name)
	assert.Empty(t, results[0].Buckets)
}

type failingReleaseAgg struct {
	recordingAgg
}

func (f *failingReleaseAgg) Release() error {
	f.released = true
	return fmt.Errorf("release of [%s] failed", f.name)
}

func Test_releaseFailuresAreAggregated(t *testing.T) {
	ctx := &AggContext{Qid: 12}

	var bad1, bad2 *failingReleaseAgg
	var good *recordingAgg
	tree, err := NewTree(ctx,
		FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
			bad1 = &failingReleaseAgg{recordingAgg: *newRecordingAgg("bad1", parent)}
			return bad1, nil
		}),
		FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
			good = newRecordingAgg("good", parent)
			return good, nil
		}),
		FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
			bad2 = &failingReleaseAgg{recordingAgg: *newRecordingAgg("bad2", parent)}
			return bad2, nil
		}),
	)
	require.NoError(t, err)

	// one failure must not stop the walk, and both failures must surface
	err = tree.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad1")
	assert.Contains(t, err.Error(), "bad2")
	assert.True(t, bad1.released)
	assert.True(t, good.released)
	assert.True(t, bad2.released)
}

func Test_releaseIsIdempotent(t *testing.T) {
	ctx := &AggContext{Qid: 10}
	tree, err := NewTree(ctx, FactoryFunc(func(ctx *AggContext, parent Aggregator, est int64) (Aggregator, error) {
		return NewLongTermsAggregator(ctx, parent, TermsConfig{
			Name:        "once",
			ValueSource: &testValueSource{},
		})
	}))
	require.NoError(t, err)

	assert.NoError(t, tree.Release())
	assert.NoError(t, tree.Release())
}
