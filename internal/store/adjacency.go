package store

import (
	"slices"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// Adjacency indexes the static edge list in both directions.
// Neighbor lists are sorted ascending so traversal order never depends on
// map iteration.
type Adjacency struct {
	out   map[int64][]int64
	in    map[int64][]int64
	edges int
}

// NewAdjacency builds the index. Duplicate edges are collapsed and
// self-loops dropped.
func NewAdjacency(edges []models.Edge) *Adjacency {
	a := &Adjacency{
		out: make(map[int64][]int64),
		in:  make(map[int64][]int64),
	}

	seen := make(map[models.Edge]struct{}, len(edges))
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		a.out[e.Source] = append(a.out[e.Source], e.Target)
		a.in[e.Target] = append(a.in[e.Target], e.Source)
		a.edges++
	}

	for _, list := range a.out {
		slices.Sort(list)
	}
	for _, list := range a.in {
		slices.Sort(list)
	}
	return a
}

// Out returns the targets of edges leaving key. The slice must not be modified.
func (a *Adjacency) Out(key int64) []int64 {
	return a.out[key]
}

// In returns the sources of edges entering key. The slice must not be modified.
func (a *Adjacency) In(key int64) []int64 {
	return a.in[key]
}

// Degree is the total number of edges touching key.
func (a *Adjacency) Degree(key int64) int {
	return len(a.out[key]) + len(a.in[key])
}

// EdgeCount returns the number of distinct directed edges.
func (a *Adjacency) EdgeCount() int {
	return a.edges
}
