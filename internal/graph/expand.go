package graph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// ──────────────────────────────────────────────────────────────────
// Neighborhood Expansion
//
// Walks the static Elliptic edge list outward from a center transaction,
// hop by hop, in both edge directions:
//   1. Start at the center (hop 0, always present)
//   2. Collect every unseen neighbor of the current frontier
//   3. Admit them riskiest first (ties by key) until MaxNodes is reached
//   4. Repeat on the admitted nodes until Depth hops are exhausted
//
// Hubs in the Elliptic graph have thousands of neighbors, so expansion is
// bounded by MaxNodes and by a step budget counting edge examinations.
// The budget stops the walk between frontier nodes; a node's adjacency is
// always read whole. The edge list reuses the same examinations. When
// either bound cuts the walk short the view is marked Truncated.
// ──────────────────────────────────────────────────────────────────

const (
	MinDepth = 1
	MaxDepth = 3

	DefaultMaxNodes = 150
	MaxNodesCeiling = 500
	DefaultMaxSteps = 20000

	// ringSpacing is the layout radius step per hop.
	ringSpacing = 100.0
)

// Records is the read side of the score table the engine needs.
type Records interface {
	Get(key int64) (models.ScoreRecord, error)
}

// Neighbors is the adjacency index. Both lists must be sorted ascending.
type Neighbors interface {
	Out(key int64) []int64
	In(key int64) []int64
}

// Identifiers renders dataset keys as external secure ids.
type Identifiers interface {
	SecureIDOf(key int64) (string, bool)
}

// Options bounds one expansion.
type Options struct {
	Depth    int `json:"depth"`
	MaxNodes int `json:"maxNodes"` // 0 = DefaultMaxNodes, capped at MaxNodesCeiling
	MaxSteps int `json:"maxSteps"` // 0 = DefaultMaxSteps
}

func (o Options) normalized() (Options, error) {
	if o.Depth < MinDepth || o.Depth > MaxDepth {
		return o, fmt.Errorf("depth must be between %d and %d, got %d: %w", MinDepth, MaxDepth, o.Depth, models.ErrInvalidInput)
	}
	switch {
	case o.MaxNodes < 0:
		return o, fmt.Errorf("max_nodes must be positive, got %d: %w", o.MaxNodes, models.ErrInvalidInput)
	case o.MaxNodes == 0:
		o.MaxNodes = DefaultMaxNodes
	case o.MaxNodes > MaxNodesCeiling:
		o.MaxNodes = MaxNodesCeiling
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	return o, nil
}

// Engine builds graph views over an immutable dataset. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	records   Records
	neighbors Neighbors
	ids       Identifiers
	// fallbackID renders keys that appear only in the edge list.
	fallbackID func(key int64) string
}

// NewEngine wires the engine to its read-only sources. fallbackID is used
// for edge-list endpoints missing from the score table.
func NewEngine(records Records, neighbors Neighbors, ids Identifiers, fallbackID func(int64) string) *Engine {
	return &Engine{
		records:    records,
		neighbors:  neighbors,
		ids:        ids,
		fallbackID: fallbackID,
	}
}

type visit struct {
	key int64
	hop int
	rec models.ScoreRecord
}

// Expand returns the deduplicated, direction-labeled neighborhood of center.
func (e *Engine) Expand(ctx context.Context, center int64, opts Options) (*models.GraphView, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	centerRec, err := e.records.Get(center)
	if err != nil {
		return nil, fmt.Errorf("graph center: %w", err)
	}

	included := map[int64]int{center: 0}
	order := []visit{{key: center, hop: 0, rec: centerRec}}
	frontier := []int64{center}
	w := walk{budget: opts.MaxSteps, seen: make(map[models.Edge]struct{})}
	truncated := false

	for hop := 1; hop <= opts.Depth && len(frontier) > 0; hop++ {
		candidates := make(map[int64]struct{})
		exhausted := false

		// The budget is checked between frontier nodes, never inside one
		// adjacency list, so ranking always sees a node's full neighborhood.
		// The frontier is already riskiest first.
		for _, k := range frontier {
			if ctx.Err() != nil || w.steps >= w.budget {
				exhausted = true
				break
			}
			w.scan(k, e.neighbors.Out(k), e.neighbors.In(k), func(nb int64) {
				if _, seen := included[nb]; !seen {
					candidates[nb] = struct{}{}
				}
			})
		}

		ranked := e.rank(candidates)
		if room := opts.MaxNodes - len(order); len(ranked) > room {
			ranked = ranked[:room]
			truncated = true
		}

		frontier = make([]int64, 0, len(ranked))
		for _, v := range ranked {
			v.hop = hop
			included[v.key] = hop
			order = append(order, v)
			frontier = append(frontier, v.key)
		}

		if exhausted {
			truncated = true
			break
		}
	}

	view := &models.GraphView{
		Center:    e.secureID(center),
		Depth:     opts.Depth,
		MaxNodes:  opts.MaxNodes,
		Nodes:     e.nodes(order),
		Edges:     e.edges(center, w.examined, included),
		Truncated: truncated,
	}
	return view, nil
}

// walk records every edge examined while scanning frontier nodes, so the
// edge list is built without a second pass over the adjacency index.
type walk struct {
	steps    int
	budget   int
	seen     map[models.Edge]struct{}
	examined []models.Edge
}

func (w *walk) scan(k int64, out, in []int64, fn func(nb int64)) {
	for _, nb := range out {
		w.record(models.Edge{Source: k, Target: nb})
		fn(nb)
	}
	for _, nb := range in {
		w.record(models.Edge{Source: nb, Target: k})
		fn(nb)
	}
	w.steps += len(out) + len(in)
}

func (w *walk) record(ed models.Edge) {
	if _, dup := w.seen[ed]; dup {
		return
	}
	w.seen[ed] = struct{}{}
	w.examined = append(w.examined, ed)
}

// rank orders candidates highest risk first, ties by key ascending, so the
// nodes kept under MaxNodes never depend on map iteration order.
func (e *Engine) rank(candidates map[int64]struct{}) []visit {
	out := make([]visit, 0, len(candidates))
	for k := range candidates {
		rec, err := e.records.Get(k)
		if err != nil {
			// Edge-list endpoint without a score row.
			rec = models.ScoreRecord{Key: k, Label: models.LabelUnknown, Band: models.BandLow}
		}
		out = append(out, visit{key: k, rec: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rec.RiskScore != out[j].rec.RiskScore {
			return out[i].rec.RiskScore > out[j].rec.RiskScore
		}
		return out[i].key < out[j].key
	})
	return out
}

func (e *Engine) nodes(order []visit) []models.GraphNode {
	perHop := make(map[int]int)
	for _, v := range order {
		perHop[v.hop]++
	}
	slot := make(map[int]int)

	nodes := make([]models.GraphNode, 0, len(order))
	for _, v := range order {
		id := e.secureID(v.key)
		n := models.GraphNode{
			Key:       v.key,
			ID:        id,
			Label:     nodeLabel(id),
			Type:      models.NodeNeighbor,
			Hop:       v.hop,
			Risk:      fusion.DisplayScore(v.rec.RiskScore),
			Band:      v.rec.Band,
			IsFlagged: v.rec.IsFlagged,
		}
		if v.hop == 0 {
			n.Type = models.NodeCenter
		} else {
			angle := 2 * math.Pi * float64(slot[v.hop]) / float64(perHop[v.hop])
			radius := ringSpacing * float64(v.hop)
			n.X = math.Round(radius*math.Cos(angle)*100) / 100
			n.Y = math.Round(radius*math.Sin(angle)*100) / 100
			slot[v.hop]++
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// edges keeps the examined edges whose endpoints both made it into the
// view. Only expanded nodes (hop < depth) were scanned, so edges between
// two outermost nodes never appear.
func (e *Engine) edges(center int64, examined []models.Edge, included map[int64]int) []models.GraphEdge {
	edges := make([]models.GraphEdge, 0, len(included))
	for _, ed := range examined {
		if _, ok := included[ed.Source]; !ok {
			continue
		}
		if _, ok := included[ed.Target]; !ok {
			continue
		}
		edges = append(edges, models.GraphEdge{
			SourceKey: ed.Source,
			TargetKey: ed.Target,
			Source:    e.secureID(ed.Source),
			Target:    e.secureID(ed.Target),
			Direction: direction(center, ed.Source, ed.Target),
		})
	}
	return edges
}

func direction(center, src, dst int64) models.Direction {
	switch {
	case dst == center:
		return models.DirectionIncoming
	case src == center:
		return models.DirectionOutgoing
	default:
		return models.DirectionIndirect
	}
}

func (e *Engine) secureID(key int64) string {
	if id, ok := e.ids.SecureIDOf(key); ok {
		return id
	}
	return e.fallbackID(key)
}

// nodeLabel is the short display label; raw keys never leave the engine.
func nodeLabel(secureID string) string {
	if len(secureID) > 8 {
		secureID = secureID[:8]
	}
	return "TX " + secureID
}
