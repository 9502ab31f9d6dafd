package models

// Edge is a directed fund-flow relation between two dataset transactions.
type Edge struct {
	Source int64 `json:"source"`
	Target int64 `json:"target"`
}

// Direction of an edge relative to the center of a graph view.
type Direction string

const (
	DirectionIncoming Direction = "incoming" // target == center
	DirectionOutgoing Direction = "outgoing" // source == center
	DirectionIndirect Direction = "indirect" // between two non-center nodes
)

// NodeType distinguishes the center of a graph view from its neighbors.
type NodeType string

const (
	NodeCenter   NodeType = "center"
	NodeNeighbor NodeType = "neighbor"
)

// GraphNode is a single transaction in a rendered neighborhood.
// X and Y are only an initial hint for force-directed layout.
type GraphNode struct {
	Key       int64    `json:"-"`
	ID        string   `json:"id"` // secure id
	Label     string   `json:"label"`
	Type      NodeType `json:"type"`
	Hop       int      `json:"hop"`
	Risk      float64  `json:"risk"`
	Band      Band     `json:"band"`
	IsFlagged bool     `json:"is_flagged"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
}

// GraphEdge is a deduplicated, direction-labeled edge of a graph view.
type GraphEdge struct {
	SourceKey int64     `json:"-"`
	TargetKey int64     `json:"-"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Direction Direction `json:"direction"`
}

// GraphView is the request-scoped k-hop projection around a center transaction.
type GraphView struct {
	Center    string      `json:"center"`
	Depth     int         `json:"depth"`
	MaxNodes  int         `json:"maxNodes"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	Truncated bool        `json:"truncated"` // node bound or step budget cut the expansion short
}
