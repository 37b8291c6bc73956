package compiler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/common/models"
)

// DefaultNodeTimeout applies when neither the node nor its catalog entry
// declares one.
const DefaultNodeTimeout = 30 * time.Second

// Compile validates a workflow description against the catalog and builds
// its execution graph. The pipeline aborts on the first stage that produces
// errors; warnings accumulate across stages.
func Compile(desc *models.WorkflowDescription, registry *catalog.Registry) *Result {
	result := &Result{Errors: []Issue{}, Warnings: []Issue{}}

	// 1. Structural validation
	if errs := validateStructure(desc); len(errs) > 0 {
		result.Errors = errs
		return result
	}

	// 2. Type check against the catalog
	if errs := validateTypes(desc, registry); len(errs) > 0 {
		result.Errors = errs
		return result
	}

	// 3. Per-node config validation
	resolved, errs := validateConfigs(desc, registry)
	if len(errs) > 0 {
		result.Errors = errs
		return result
	}

	// 4. Graph construction
	graph := buildGraph(desc, registry, resolved)

	// 5. Topological order from the trigger
	if errs := orderGraph(graph); len(errs) > 0 {
		result.Errors = errs
		return result
	}

	// 6. Semantic validation
	if errs := validateSemantics(desc, graph); len(errs) > 0 {
		result.Errors = errs
		return result
	}

	// 7. Graph metadata + warnings
	computeMetadata(graph)
	result.Warnings = append(result.Warnings, collectWarnings(desc, graph)...)

	result.Valid = true
	result.Graph = graph
	return result
}

func validateStructure(desc *models.WorkflowDescription) []Issue {
	var errs []Issue

	fail := func(msg string, args ...any) {
		errs = append(errs, Issue{Code: models.CodeSchemaValidation, Message: fmt.Sprintf(msg, args...)})
	}

	if desc.Metadata.ID == uuid.Nil {
		fail("metadata.id must be a UUID")
	}
	if desc.Metadata.Version < 1 {
		fail("metadata.version must be a positive integer")
	}
	if desc.Trigger.ID == "" || desc.Trigger.Type == "" {
		fail("trigger node is required")
		return errs
	}
	if !models.TriggerTypes[desc.Trigger.Type] {
		fail("trigger type %q is not a trigger", desc.Trigger.Type)
	}
	if len(desc.Nodes) == 0 {
		fail("nodes must not be empty")
		return errs
	}

	seen := make(map[string]bool, len(desc.Nodes))
	for _, node := range desc.Nodes {
		if node.ID == "" {
			fail("node with empty id")
			continue
		}
		if seen[node.ID] {
			errs = append(errs, Issue{
				Code:    models.CodeDuplicateNodeID,
				NodeID:  node.ID,
				Message: fmt.Sprintf("duplicate node id: %s", node.ID),
			})
		}
		seen[node.ID] = true
	}

	if !seen[desc.Trigger.ID] {
		fail("trigger node %s must appear in nodes", desc.Trigger.ID)
	}

	for _, edge := range desc.Edges {
		if !seen[edge.Source] {
			fail("edge %s references unknown source node: %s", edge.ID, edge.Source)
		}
		if !seen[edge.Target] {
			fail("edge %s references unknown target node: %s", edge.ID, edge.Target)
		}
	}

	return errs
}

func validateTypes(desc *models.WorkflowDescription, registry *catalog.Registry) []Issue {
	var errs []Issue
	for _, node := range desc.Nodes {
		if _, ok := registry.Lookup(node.Type); !ok {
			errs = append(errs, Issue{
				Code:    models.CodeUnknownNodeType,
				NodeID:  node.ID,
				Message: fmt.Sprintf("unknown node type: %s", node.Type),
			})
		}
	}
	return errs
}

func validateConfigs(desc *models.WorkflowDescription, registry *catalog.Registry) (map[string]map[string]any, []Issue) {
	resolved := make(map[string]map[string]any, len(desc.Nodes))
	var errs []Issue

	for _, node := range desc.Nodes {
		cfg, fieldErrs := registry.ValidateConfig(node.Type, node.Config)
		resolved[node.ID] = cfg
		for _, fe := range fieldErrs {
			errs = append(errs, Issue{
				Code:    models.CodeNodeConfigValidation,
				NodeID:  node.ID,
				Path:    fe.Path,
				Message: fe.Message,
			})
		}
	}

	return resolved, errs
}

func buildGraph(desc *models.WorkflowDescription, registry *catalog.Registry, resolved map[string]map[string]any) *Graph {
	graph := &Graph{
		WorkflowID:      desc.Metadata.ID,
		WorkflowVersion: desc.Metadata.Version,
		TriggerID:       desc.Trigger.ID,
		Nodes:           make(map[string]*Node, len(desc.Nodes)),
	}

	for i := range desc.Nodes {
		wfNode := &desc.Nodes[i]
		entry, _ := registry.Lookup(wfNode.Type)

		graph.Nodes[wfNode.ID] = &Node{
			ID:              wfNode.ID,
			Type:            wfNode.Type,
			Label:           wfNode.Label,
			Entry:           entry,
			Config:          resolved[wfNode.ID],
			Retry:           effectiveRetry(wfNode, entry),
			Timeout:         effectiveTimeout(wfNode, entry),
			Disabled:        wfNode.Disabled,
			RequiresSession: entry.RequiresSession,
			EndsSession:     entry.EndsSession,
		}
	}

	// Link edges, preserving description order on both sides
	for i := range desc.Edges {
		edge := &desc.Edges[i]
		source := graph.Nodes[edge.Source]
		target := graph.Nodes[edge.Target]
		source.Outgoing = append(source.Outgoing, edge)
		target.Incoming = append(target.Incoming, edge)
	}

	return graph
}

func effectiveRetry(node *models.WorkflowNode, entry *catalog.Entry) models.RetryPolicy {
	if node.Retry != nil {
		return *node.Retry
	}
	if entry.DefaultRetry != nil {
		return *entry.DefaultRetry
	}
	return models.RetryPolicy{MaxAttempts: 1}
}

func effectiveTimeout(node *models.WorkflowNode, entry *catalog.Entry) time.Duration {
	if node.TimeoutMS > 0 {
		return time.Duration(node.TimeoutMS) * time.Millisecond
	}
	if entry.DefaultTimeoutMS > 0 {
		return time.Duration(entry.DefaultTimeoutMS) * time.Millisecond
	}
	return DefaultNodeTimeout
}

// orderGraph runs a depth-first visit from the trigger. A back-edge is a
// cycle; a node the visit never reaches is unreachable. The emitted order
// is the reversed post-order, so every predecessor precedes its successors.
func orderGraph(graph *Graph) []Issue {
	visited := make(map[string]bool, len(graph.Nodes))
	onStack := make(map[string]bool, len(graph.Nodes))
	var postorder []string
	var cycle *Issue

	var visit func(id string)
	visit = func(id string) {
		if cycle != nil {
			return
		}
		visited[id] = true
		onStack[id] = true

		for _, edge := range graph.Nodes[id].Outgoing {
			next := edge.Target
			if onStack[next] {
				cycle = &Issue{
					Code:    models.CodeCycleDetected,
					NodeID:  next,
					EdgeID:  edge.ID,
					Message: fmt.Sprintf("cycle detected through node %s", next),
				}
				return
			}
			if !visited[next] {
				visit(next)
			}
		}

		onStack[id] = false
		postorder = append(postorder, id)
	}

	visit(graph.TriggerID)
	if cycle != nil {
		graph.Metadata.HasCycles = true
		return []Issue{*cycle}
	}

	var errs []Issue
	for id := range graph.Nodes {
		if !visited[id] {
			errs = append(errs, Issue{
				Code:    models.CodeUnreachableNode,
				NodeID:  id,
				Message: fmt.Sprintf("node %s is not reachable from the trigger", id),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	graph.Order = make([]string, 0, len(postorder))
	for i := len(postorder) - 1; i >= 0; i-- {
		id := postorder[i]
		graph.Nodes[id].Ordinal = len(graph.Order)
		graph.Order = append(graph.Order, id)
	}

	return nil
}

func validateSemantics(desc *models.WorkflowDescription, graph *Graph) []Issue {
	var errs []Issue

	trigger := graph.Nodes[graph.TriggerID]
	if len(trigger.Incoming) > 0 {
		errs = append(errs, Issue{
			Code:    models.CodeTriggerHasIncoming,
			NodeID:  trigger.ID,
			Message: "trigger node must not have incoming edges",
		})
	}

	for i := range desc.Edges {
		edge := &desc.Edges[i]
		source := graph.Nodes[edge.Source]
		target := graph.Nodes[edge.Target]

		if !typeAllowed(source.Entry.AllowedOutgoingTypes, target.Type) ||
			!typeAllowed(target.Entry.AllowedIncomingTypes, source.Type) {
			errs = append(errs, Issue{
				Code:    models.CodeInvalidConnection,
				EdgeID:  edge.ID,
				NodeID:  edge.Target,
				Message: fmt.Sprintf("connection %s -> %s is not allowed", source.Type, target.Type),
			})
		}
	}

	if trigger.Type == models.TriggerUSSDSessionStart {
		found := false
		for _, node := range graph.Nodes {
			if node.Type == catalog.TypeSessionEnd {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, Issue{
				Code:    models.CodeUSSDMissingSessionEnd,
				Message: "ussd workflows must contain a session_end node",
			})
		}
	}

	return errs
}

// typeAllowed checks a connection constraint list; nil means unconstrained.
func typeAllowed(allowed []string, nodeType string) bool {
	if allowed == nil {
		return true
	}
	for _, t := range allowed {
		if t == nodeType {
			return true
		}
	}
	return false
}

func computeMetadata(graph *Graph) {
	meta := &graph.Metadata

	for _, node := range graph.Nodes {
		if node.RequiresSession {
			meta.RequiresSession = true
		}
		if node.EndsSession {
			meta.HasSessionEnd = true
		}
	}

	// Longest path from the trigger, walked in topological order
	depth := make(map[string]int, len(graph.Order))
	for _, id := range graph.Order {
		node := graph.Nodes[id]
		for _, edge := range node.Outgoing {
			if d := depth[id] + 1; d > depth[edge.Target] {
				depth[edge.Target] = d
			}
		}
		if depth[id] > meta.MaxDepth {
			meta.MaxDepth = depth[id]
		}
	}
}

func collectWarnings(desc *models.WorkflowDescription, graph *Graph) []Issue {
	var warnings []Issue

	// A leaf that is not a terminal node ends the walk silently; in session
	// workflows it also leaves the session to linger until TTL.
	for _, id := range graph.Order {
		node := graph.Nodes[id]
		if len(node.Outgoing) == 0 && !node.EndsSession && id != graph.TriggerID {
			warnings = append(warnings, Issue{
				Code:    WarnDeadEndNode,
				NodeID:  id,
				Message: fmt.Sprintf("node %s has no outgoing edges and is not a terminal node", id),
			})
		}
	}

	if desc.Metadata.Name == "" {
		warnings = append(warnings, Issue{
			Code:    WarnMissingMetadata,
			Message: "workflow has no name",
		})
	}

	return warnings
}
