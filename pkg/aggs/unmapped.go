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

// unmappedAggregator stands in for an aggregation over a field this partition
// has no mapping for. It never collects and always builds an empty result.
type unmappedAggregator struct {
	name   string
	parent Aggregator
	depth  int
}

func NewUnmappedAggregator(ctx *AggContext, parent Aggregator, name string) Aggregator {
	depth := 0
	if parent != nil {
		depth = parent.Depth() + 1
	}
	return &unmappedAggregator{name: name, parent: parent, depth: depth}
}

func (u *unmappedAggregator) Name() string                      { return u.name }
func (u *unmappedAggregator) Parent() Aggregator                { return u.parent }
func (u *unmappedAggregator) Depth() int                        { return u.depth }
func (u *unmappedAggregator) SubAggregators() []Aggregator      { return nil }
func (u *unmappedAggregator) BucketMode() BucketAggregationMode { return PerBucket }
func (u *unmappedAggregator) ExecMode() ExecutionMode           { return SinglePass }

func (u *unmappedAggregator) SetNextReader(seg Segment) error { return nil }

func (u *unmappedAggregator) ShouldCollect() bool { return false }

func (u *unmappedAggregator) Collect(doc int, owningBucketOrd uint64) error { return nil }

func (u *unmappedAggregator) PostCollection() error { return nil }

func (u *unmappedAggregator) RequiresMatchReplays() bool { return false }

func (u *unmappedAggregator) BuildAggregation(owningBucketOrd uint64) (*AggResult, error) {
	return u.BuildEmptyAggregation(), nil
}

func (u *unmappedAggregator) BuildEmptyAggregation() *AggResult {
	return &AggResult{Name: u.name, Buckets: []*BucketResult{}}
}

func (u *unmappedAggregator) Release() error { return nil }
