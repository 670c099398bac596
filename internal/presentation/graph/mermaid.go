package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/neonflow/pkg/domain"
)

// endID is the Mermaid id of the shared terminal node.
const endID = "done"

// GraphOverlay contains run state to visualize on the graph.
type GraphOverlay struct {
	VisitCounts map[int]int
	CurrentNode *int
}

// OverlayFromState builds an overlay from a finished or running traversal.
func OverlayFromState(state *domain.TraversalState) *GraphOverlay {
	if state == nil {
		return nil
	}
	o := &GraphOverlay{VisitCounts: state.VisitCounts}
	if state.Status == domain.StatusRunning || state.Status == domain.StatusAborted {
		cur := state.CurrentNode
		o.CurrentNode = &cur
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart for a workflow.
// It applies semantic styling:
// - Entry: ((Circle))
// - Validator: {Rhombus}
// - Agent: [Rectangle]
// Edges are labelled with the outcome that takes them; a node whose outcomes
// share a target gets one unlabelled edge. The overlay, when given, marks
// visited nodes (with their visit counts) and the current node.
func GenerateMermaid(wf domain.Workflow, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	nodes := append([]domain.Node(nil), wf.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	usesEnd := false
	for _, node := range nodes {
		id := nodeID(node.ID)

		opener, closer := "[", "]"
		switch {
		case node.ID == wf.Entry:
			opener, closer = "((", "))"
		case node.IsValidator():
			opener, closer = "{", "}"
		}

		label := fmt.Sprintf("%d: %s", node.ID, node.Kind)
		if overlay != nil && overlay.VisitCounts[node.ID] > 0 {
			label = fmt.Sprintf("%s <br/> visits %d/%d", label, overlay.VisitCounts[node.ID], node.MaxIterations)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, label, closer)

		if node.OnSuccess == node.OnFailure {
			fmt.Fprintf(&sb, "    %s --> %s\n", id, targetID(node.OnSuccess))
		} else {
			fmt.Fprintf(&sb, "    %s -- \"success\" --> %s\n", id, targetID(node.OnSuccess))
			fmt.Fprintf(&sb, "    %s -. \"failure\" .-> %s\n", id, targetID(node.OnFailure))
		}
		if node.OnSuccess.IsEnd() || node.OnFailure.IsEnd() {
			usesEnd = true
		}
	}
	if usesEnd {
		fmt.Fprintf(&sb, "    %s(((\"end\")))\n", endID)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visited := make([]int, 0, len(overlay.VisitCounts))
		for id, n := range overlay.VisitCounts {
			if n > 0 {
				visited = append(visited, id)
			}
		}
		sort.Ints(visited)
		for _, id := range visited {
			fmt.Fprintf(&sb, "    class %s visited;\n", nodeID(id))
		}
		if overlay.CurrentNode != nil {
			fmt.Fprintf(&sb, "    class %s current;\n", nodeID(*overlay.CurrentNode))
		}
	}

	return sb.String()
}

func nodeID(id int) string {
	return fmt.Sprintf("n%d", id)
}

func targetID(t domain.Target) string {
	if t.IsEnd() {
		return endID
	}
	return nodeID(int(t))
}
