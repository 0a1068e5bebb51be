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

// Package aggs implements the shard-local bucket aggregation engine: a tree
// of composable aggregators fed one matching document at a time by the query
// executor. Aggregators group documents into buckets keyed by opaque 64-bit
// values, count them, optionally prune to the top shard-size buckets after a
// first pass, and assemble a nested result tree. One tree serves one query
// execution over one data partition and is strictly single-threaded.
package aggs

import (
	"github.com/siglens/shardaggs/pkg/aggs/bucketords"
	toputils "github.com/siglens/shardaggs/pkg/utils"
)

// ExecutionMode controls how an aggregator drives its sub-aggregators.
type ExecutionMode int

const (
	// SinglePass creates buckets and delegates to sub-aggregators in one
	// pass over the matching documents.
	SinglePass ExecutionMode = iota

	// PruneFirst creates buckets for all matching documents, prunes to the
	// top-scoring buckets, and only then instantiates sub-aggregators for a
	// second pass over the same matches.
	PruneFirst
)

func (em ExecutionMode) String() string {
	switch em {
	case SinglePass:
		return "single_pass"
	case PruneFirst:
		return "prune_first"
	}
	return "unknown"
}

// ParseExecutionMode maps the request-level mode name to an ExecutionMode.
// Unknown names are a configuration error.
func ParseExecutionMode(value string) (ExecutionMode, error) {
	switch value {
	case "single_pass":
		return SinglePass, nil
	case "prune_first":
		return PruneFirst, nil
	}
	return SinglePass, toputils.TeeErrorf("ParseExecutionMode: no execution mode found for value: %s", value)
}

// BucketAggregationMode describes how an aggregator behaves when nested under
// a bucket-creating parent.
type BucketAggregationMode int

const (
	// PerBucket aggregators get one instance per parent bucket; each
	// instance always sees owning ordinal 0.
	PerBucket BucketAggregationMode = iota

	// MultiBuckets aggregators serve all of the parent's buckets with a
	// single instance, keyed by the owning ordinal passed to Collect.
	MultiBuckets
)

// passState makes the two-pass protocol explicit: every aggregator observes
// at most one collection pass and one replay pass.
type passState int

const (
	firstPass passState = iota
	replayPass
)

// Segment is one self-contained slice of the partition's data. Segments are
// bound strictly sequentially; a later segment is never collected before an
// earlier one's pass completes.
type Segment interface {
	MaxDoc() int
}

// ValueSource yields the 64-bit encoded bucket values of a document: raw
// longs, IEEE-754 bit patterns, or packed geo cells, depending on the field.
// Implementations live outside this module.
type ValueSource interface {
	// SetNextReader re-binds the source to a new segment.
	SetNextReader(seg Segment) error
	// SetDocument positions the source on a document and returns its value count.
	SetDocument(doc int) (int, error)
	// NextValue returns the next value for the current document.
	NextValue() (uint64, error)
}

// AggContext carries the per-query state shared by every aggregator in one tree.
type AggContext struct {
	Qid        uint64
	Segments   []Segment
	MemLimiter *bucketords.MemoryLimiter
}

// Aggregator is the executor-facing protocol of one aggregation clause.
type Aggregator interface {
	Name() string
	Parent() Aggregator
	Depth() int
	SubAggregators() []Aggregator
	BucketMode() BucketAggregationMode
	ExecMode() ExecutionMode

	// SetNextReader re-binds the aggregator (and its children) to a segment.
	SetNextReader(seg Segment) error

	// ShouldCollect reports whether this aggregator still needs documents:
	// always true for the first pass (unmapped variants excepted); on replay
	// only if some sub-aggregator has yet to see the data.
	ShouldCollect() bool

	// Collect aggregates one matching document, scoped to the owning bucket
	// ordinal assigned by the parent (always 0 for per-bucket instances).
	Collect(doc int, owningBucketOrd uint64) error

	// PostCollection runs bottom-up after a pass completes; for prune-first
	// aggregators the end of the first pass is where pruning happens and
	// sub-aggregators are finally built.
	PostCollection() error

	// RequiresMatchReplays is true if this aggregator or any descendant
	// needs a second pass over the matching documents.
	RequiresMatchReplays() bool

	// BuildAggregation assembles the result for one owning bucket ordinal,
	// walking only the surviving buckets. Called once, after the last pass.
	BuildAggregation(owningBucketOrd uint64) (*AggResult, error)

	// BuildEmptyAggregation returns a structurally valid empty result
	// without touching any collection state.
	BuildEmptyAggregation() *AggResult

	// Release frees the aggregator's backing storage and recursively its
	// sub-aggregators; sub-aggregator failures are aggregated, never skipped.
	Release() error
}

// Factory builds one sub-aggregator instance under the given parent.
// Invoked at most twice per owning aggregator: at construction, and once
// more after first-pass pruning for prune-first parents.
type Factory interface {
	Create(ctx *AggContext, parent Aggregator, estimatedBuckets int64) (Aggregator, error)
}

// FactoryFunc adapts a plain function to the Factory interface.
type FactoryFunc func(ctx *AggContext, parent Aggregator, estimatedBuckets int64) (Aggregator, error)

func (f FactoryFunc) Create(ctx *AggContext, parent Aggregator, estimatedBuckets int64) (Aggregator, error) {
	return f(ctx, parent, estimatedBuckets)
}

// createSubAggregators builds all children for a parent, wrapping per-bucket
// children so each of the parent's bucket ordinals gets its own instance.
// On failure, aggregators built so far are released before the error is
// returned.
func createSubAggregators(ctx *AggContext, parent Aggregator, factories []Factory, estimatedBuckets int64) ([]Aggregator, error) {
	subAggs := make([]Aggregator, 0, len(factories))
	for _, factory := range factories {
		agg, err := newPerBucketWrapperIfNeeded(ctx, parent, factory, estimatedBuckets)
		if err != nil {
			if relErr := releaseAll(subAggs); relErr != nil {
				return nil, toputils.CombineErrors([]error{err, relErr})
			}
			return nil, err
		}
		subAggs = append(subAggs, agg)
	}
	return subAggs, nil
}

func releaseAll(aggs []Aggregator) error {
	var errs []error
	for _, agg := range aggs {
		if agg == nil {
			continue
		}
		if err := agg.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return toputils.CombineErrors(errs)
}

func anyShouldCollect(aggs []Aggregator) bool {
	for _, agg := range aggs {
		if agg.ShouldCollect() {
			return true
		}
	}
	return false
}

func anyRequiresMatchReplays(aggs []Aggregator) bool {
	for _, agg := range aggs {
		if agg.RequiresMatchReplays() {
			return true
		}
	}
	return false
}
