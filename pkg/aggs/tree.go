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
	log "github.com/sirupsen/logrus"

	toputils "github.com/siglens/shardaggs/pkg/utils"
)

// Tree owns one query execution's aggregator roots for one partition. It is
// the single guard for the tree's storage: construction releases partially
// built roots on failure, and Release walks every node exactly once. Strictly
// single-threaded; nothing in a Tree is shared across partitions.
type Tree struct {
	ctx         *AggContext
	roots       []Aggregator
	needsReplay bool
	released    bool
}

// NewTree builds the root aggregators from their factories. Whether a replay
// pass is needed is computed here, once, before any pass runs.
func NewTree(ctx *AggContext, factories ...Factory) (*Tree, error) {
	roots := make([]Aggregator, 0, len(factories))
	for _, factory := range factories {
		agg, err := factory.Create(ctx, nil, 1)
		if err != nil {
			if relErr := releaseAll(roots); relErr != nil {
				return nil, toputils.CombineErrors([]error{err, relErr})
			}
			return nil, err
		}
		roots = append(roots, agg)
	}
	return &Tree{
		ctx:         ctx,
		roots:       roots,
		needsReplay: anyRequiresMatchReplays(roots),
	}, nil
}

func (t *Tree) Roots() []Aggregator { return t.roots }

// NeedsReplay reports whether the executor must run a second pass over the
// matching documents. False anywhere in the tree means no replay is scheduled.
func (t *Tree) NeedsReplay() bool { return t.needsReplay }

func (t *Tree) SetNextSegment(seg Segment) error {
	for _, root := range t.roots {
		if err := root.SetNextReader(seg); err != nil {
			return err
		}
	}
	return nil
}

// CollectDoc feeds one matching document to every root that still collects.
func (t *Tree) CollectDoc(doc int) error {
	for _, root := range t.roots {
		if !root.ShouldCollect() {
			continue
		}
		if err := root.Collect(doc, 0); err != nil {
			return err
		}
	}
	return nil
}

// FinishPass runs post-collection on every root after a full pass.
func (t *Tree) FinishPass() error {
	for _, root := range t.roots {
		if err := root.PostCollection(); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the full pass protocol over the recorded matches: one
// collection pass, and one replay pass only if some aggregator defers its
// sub-aggregations. Any failure releases the whole tree before returning;
// the partition's contribution is then reported as failed by the caller.
func (t *Tree) Execute(matches *MatchSet) error {
	passes := 1
	if t.needsReplay {
		passes = 2
	}
	for pass := 0; pass < passes; pass++ {
		if err := t.runPass(matches); err != nil {
			log.Errorf("qid=%d, Tree.Execute: aggregation failed on pass %d: %v", t.ctx.Qid, pass, err)
			if relErr := t.Release(); relErr != nil {
				return toputils.CombineErrors([]error{err, relErr})
			}
			return err
		}
	}
	return nil
}

func (t *Tree) runPass(matches *MatchSet) error {
	for segIdx, seg := range t.ctx.Segments {
		if err := t.SetNextSegment(seg); err != nil {
			return err
		}
		err := matches.ForEachMatch(segIdx, func(doc int) error {
			return t.CollectDoc(doc)
		})
		if err != nil {
			return err
		}
	}
	return t.FinishPass()
}

// BuildResults assembles the final result of every root, in order.
func (t *Tree) BuildResults() ([]*AggResult, error) {
	results := make([]*AggResult, 0, len(t.roots))
	for _, root := range t.roots {
		result, err := root.BuildAggregation(0)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// BuildEmptyResults returns the structurally valid empty result of every
// root, for partitions with no matching data.
func (t *Tree) BuildEmptyResults() []*AggResult {
	results := make([]*AggResult, 0, len(t.roots))
	for _, root := range t.roots {
		results = append(results, root.BuildEmptyAggregation())
	}
	return results
}

// Release tears down every aggregator's backing storage. Failures are
// aggregated so a partial failure never leaks descendant resources. Safe to
// call more than once.
func (t *Tree) Release() error {
	if t.released {
		return nil
	}
	t.released = true
	return releaseAll(t.roots)
}
