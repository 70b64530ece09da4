package intel

import "sync"

// Node is a vertex in the knowledge graph.
type Node struct {
	ID       string            `json:"id"`
	Type     string            `json:"node_type"`
	Metadata map[string]string `json:"metadata"`
}

// Edge is a relation between two nodes.
type Edge struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Relation     string   `json:"relation"`
	Weight       float64  `json:"weight"`
	Directional  bool     `json:"directional"`
	ToneModifier *float64 `json:"tone_modifier,omitempty"`
}

// Graph accumulates the relations asserted across a session's analysis
// results. Safe for concurrent use.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]Node
	edges []Edge
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(id, nodeType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = Node{ID: id, Type: nodeType, Metadata: map[string]string{}}
}

// Apply records one GraphUpdate, materializing endpoint nodes that have not
// been seen before. Missing weight defaults to 1, missing directionality to
// directed.
func (g *Graph) Apply(u GraphUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range []string{u.NodeA, u.NodeB} {
		if _, ok := g.nodes[id]; !ok {
			g.nodes[id] = Node{ID: id, Type: "entity", Metadata: map[string]string{}}
		}
	}
	e := Edge{
		From:         u.NodeA,
		To:           u.NodeB,
		Relation:     u.Relation,
		Weight:       1,
		Directional:  true,
		ToneModifier: u.ToneModifier,
	}
	if u.Weight != nil {
		e.Weight = *u.Weight
	}
	if u.Directional != nil {
		e.Directional = *u.Directional
	}
	g.edges = append(g.edges, e)
}

// ApplyAll records every update from one analysis result.
func (g *Graph) ApplyAll(updates []GraphUpdate) {
	for _, u := range updates {
		g.Apply(u)
	}
}

// Snapshot returns copies of the current nodes and edges.
func (g *Graph) Snapshot() ([]Node, []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)
	return nodes, edges
}

// Reset clears all nodes and edges.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]Node)
	g.edges = nil
}
