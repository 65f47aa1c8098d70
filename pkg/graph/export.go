package graph

import (
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// Export copies the present components and the edges between them into a
// dominikbraun/graph directed graph. Edges point from dependency to dependent,
// soft dependencies are left out. The export does not check for cycles.
func (c *Container[K, C]) Export() (graph.Graph[K, K], error) {
	g := graph.New(func(k K) K { return k }, graph.Directed())

	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		label := fmt.Sprintf("%v", pair.Key)
		if err := g.AddVertex(pair.Key, graph.VertexAttribute("label", label)); err != nil {
			return nil, fmt.Errorf("failed to add vertex %v: %w", pair.Key, err)
		}
	}

	// In dominikbraun/graph AddEdge(source, target) means source -> target.
	// A dependency must run before its dependent, so the edge is dep -> key.
	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		for dep := range pair.Value.deps {
			if !c.Contains(dep) {
				continue
			}
			if err := g.AddEdge(dep, pair.Key); err != nil {
				return nil, fmt.Errorf("failed to add edge %v -> %v: %w", dep, pair.Key, err)
			}
		}
	}

	return g, nil
}

// WriteDOT renders the exported graph in Graphviz DOT format
func (c *Container[K, C]) WriteDOT(w io.Writer) error {
	g, err := c.Export()
	if err != nil {
		return err
	}
	return draw.DOT(g, w)
}
