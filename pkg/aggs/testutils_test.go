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
)

// testSegment holds per-document values directly; MaxDoc is the doc count.
type testSegment struct {
	docValues [][]uint64
}

func (s *testSegment) MaxDoc() int { return len(s.docValues) }

// testValueSource replays a testSegment's values, one document at a time.
type testValueSource struct {
	seg       *testSegment
	current   []uint64
	pos       int
	docsRead  int
	bindCalls int
}

func (vs *testValueSource) SetNextReader(seg Segment) error {
	ts, ok := seg.(*testSegment)
	if !ok {
		return fmt.Errorf("testValueSource: unexpected segment type %T", seg)
	}
	vs.seg = ts
	vs.bindCalls++
	return nil
}

func (vs *testValueSource) SetDocument(doc int) (int, error) {
	if vs.seg == nil {
		return 0, fmt.Errorf("testValueSource: no segment bound")
	}
	if doc < 0 || doc >= len(vs.seg.docValues) {
		return 0, fmt.Errorf("testValueSource: doc %d out of range", doc)
	}
	vs.current = vs.seg.docValues[doc]
	vs.pos = 0
	vs.docsRead++
	return len(vs.current), nil
}

func (vs *testValueSource) NextValue() (uint64, error) {
	if vs.pos >= len(vs.current) {
		return 0, fmt.Errorf("testValueSource: no more values for current doc")
	}
	v := vs.current[vs.pos]
	vs.pos++
	return v, nil
}

// failingValueSource fails on the nth SetDocument call, to exercise the
// upstream I/O failure path.
type failingValueSource struct {
	failAfter int
	calls     int
}

func (vs *failingValueSource) SetNextReader(seg Segment) error { return nil }

func (vs *failingValueSource) SetDocument(doc int) (int, error) {
	vs.calls++
	if vs.calls > vs.failAfter {
		return 0, fmt.Errorf("simulated read failure on doc %d", doc)
	}
	return 0, nil
}

func (vs *failingValueSource) NextValue() (uint64, error) {
	return 0, fmt.Errorf("no values")
}

// recordingAgg is a multi-bucket leaf that remembers every (doc, ordinal)
// delegation it receives. Used to verify scoping and replay behavior.
type recordingAgg struct {
	name      string
	parent    Aggregator
	collected map[uint64][]int
	released  bool
}

func newRecordingAgg(name string, parent Aggregator) *recordingAgg {
	return &recordingAgg{
		name:      name,
		parent:    parent,
		collected: make(map[uint64][]int),
	}
}

func (r *recordingAgg) Name() string                      { return r.name }
func (r *recordingAgg) Parent() Aggregator                { return r.parent }
func (r *recordingAgg) Depth() int                        { return 0 }
func (r *recordingAgg) SubAggregators() []Aggregator      { return nil }
func (r *recordingAgg) BucketMode() BucketAggregationMode { return MultiBuckets }
func (r *recordingAgg) ExecMode() ExecutionMode           { return SinglePass }

func (r *recordingAgg) SetNextReader(seg Segment) error { return nil }
func (r *recordingAgg) ShouldCollect() bool             { return true }

func (r *recordingAgg) Collect(doc int, owningBucketOrd uint64) error {
	r.collected[owningBucketOrd] = append(r.collected[owningBucketOrd], doc)
	return nil
}

func (r *recordingAgg) PostCollection() error      { return nil }
func (r *recordingAgg) RequiresMatchReplays() bool { return false }

func (r *recordingAgg) BuildAggregation(owningBucketOrd uint64) (*AggResult, error) {
	return &AggResult{Name: r.name, Buckets: []*BucketResult{
		{
			Key:      BucketKey{Kind: KeyInt64, IntVal: int64(len(r.collected[owningBucketOrd]))},
			DocCount: int64(len(r.collected[owningBucketOrd])),
		},
	}}, nil
}

func (r *recordingAgg) BuildEmptyAggregation() *AggResult {
	return &AggResult{Name: r.name, Buckets: []*BucketResult{}}
}

func (r *recordingAgg) Release() error {
	r.released = true
	return nil
}

// testMetricAgg sums a fixed per-document metric into each owning ordinal,
// and exposes the totals for sub-aggregation ordering.
type testMetricAgg struct {
	recordingAgg
	docMetric map[int]float64
	totals    map[uint64]float64
}

func newTestMetricAgg(name string, parent Aggregator, docMetric map[int]float64) *testMetricAgg {
	return &testMetricAgg{
		recordingAgg: *newRecordingAgg(name, parent),
		docMetric:    docMetric,
		totals:       make(map[uint64]float64),
	}
}

func (m *testMetricAgg) Collect(doc int, owningBucketOrd uint64) error {
	m.totals[owningBucketOrd] += m.docMetric[doc]
	return m.recordingAgg.Collect(doc, owningBucketOrd)
}

func (m *testMetricAgg) MetricValue(ord uint64) float64 {
	return m.totals[ord]
}

// singleSegmentSetup builds a one-segment context and a full match set over
// the given per-document values.
func singleSegmentSetup(docValues [][]uint64) (*AggContext, *MatchSet, *testValueSource) {
	seg := &testSegment{docValues: docValues}
	ctx := &AggContext{Qid: 1, Segments: []Segment{seg}}
	matches := NewMatchSet(ctx.Segments)
	for doc := range docValues {
		_ = matches.AddMatch(0, doc)
	}
	return ctx, matches, &testValueSource{}
}
