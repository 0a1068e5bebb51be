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

package topbuckets

import "container/heap"

type LessFunc[T any] func(a, b T) bool

// TopK retains the K highest-ranked items it is offered. The less function
// must be a strict total order ("a ranks strictly below b"); callers supply a
// deterministic tie-break so that eviction is reproducible for identical
// input order. Internally a min-heap: the root is the lowest-ranked survivor.
type TopK[T any] struct {
	items    []T
	less     LessFunc[T]
	capacity int
}

func New[T any](capacity int, less LessFunc[T]) *TopK[T] {
	return &TopK[T]{
		items:    make([]T, 0, capacity),
		less:     less,
		capacity: capacity,
	}
}

func (tk *TopK[T]) Len() int { return len(tk.items) }

func (tk *TopK[T]) Less(i, j int) bool {
	return tk.less(tk.items[i], tk.items[j])
}

func (tk *TopK[T]) Swap(i, j int) {
	tk.items[i], tk.items[j] = tk.items[j], tk.items[i]
}

func (tk *TopK[T]) Push(x any) {
	tk.items = append(tk.items, x.(T))
}

func (tk *TopK[T]) Pop() any {
	old := tk.items
	n := len(old)
	item := old[n-1]
	tk.items = old[:n-1]
	return item
}

// Offer inserts v if there is room and returns (zero, false). At capacity it
// returns (loser, true): either the previous minimum, evicted because v ranks
// above it, or v itself when v does not make the cut. Either way the returned
// item does not survive.
func (tk *TopK[T]) Offer(v T) (T, bool) {
	var zero T
	if tk.capacity <= 0 {
		return v, true
	}
	if len(tk.items) < tk.capacity {
		heap.Push(tk, v)
		return zero, false
	}
	if tk.less(tk.items[0], v) {
		evicted := tk.items[0]
		tk.items[0] = v
		heap.Fix(tk, 0)
		return evicted, true
	}
	return v, true
}

func (tk *TopK[T]) Size() int { return len(tk.items) }

// DrainSorted pops everything, highest-ranked first, consuming the structure.
func (tk *TopK[T]) DrainSorted() []T {
	out := make([]T, len(tk.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(tk).(T)
	}
	return out
}
