// Package compiler turns a workflow description into a validated,
// topologically ordered execution graph. Compilation is pure over its
// inputs and the catalog snapshot, so graphs are safe to cache and share.
package compiler

import (
	"time"

	"github.com/google/uuid"
	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/common/models"
)

// Node is one executable step of a compiled graph.
type Node struct {
	ID     string              `json:"id"`
	Type   string              `json:"type"`
	Label  string              `json:"label,omitempty"`
	Entry  *catalog.Entry      `json:"-"`
	Config map[string]any      `json:"config"`
	Retry  models.RetryPolicy  `json:"retry"`
	// Timeout is the effective per-node deadline budget.
	Timeout  time.Duration `json:"timeout_ms"`
	Disabled bool          `json:"disabled,omitempty"`

	// Edge lists preserve the order given in the description.
	Incoming []*models.WorkflowEdge `json:"incoming"`
	Outgoing []*models.WorkflowEdge `json:"outgoing"`

	RequiresSession bool `json:"requires_session"`
	EndsSession     bool `json:"ends_session"`
	// Ordinal is the node's position in the execution order.
	Ordinal int `json:"ordinal"`
}

// Metadata summarizes graph-wide properties computed at compile time.
type Metadata struct {
	RequiresSession bool `json:"requires_session"`
	HasSessionEnd   bool `json:"has_session_end"`
	MaxDepth        int  `json:"max_depth"`
	HasCycles       bool `json:"has_cycles"`
}

// Graph is the compiler's output: immutable once produced, shared freely
// across invocations.
type Graph struct {
	WorkflowID      uuid.UUID        `json:"workflow_id"`
	WorkflowVersion int              `json:"workflow_version"`
	TriggerID       string           `json:"trigger_node_ref"`
	Nodes           map[string]*Node `json:"nodes"`
	// Order covers every reachable node; predecessors precede successors.
	Order    []string `json:"execution_order"`
	Metadata Metadata `json:"metadata"`
}

// Issue is one compilation error or warning with a stable code.
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Result carries the outcome of one compile.
type Result struct {
	Valid    bool    `json:"valid"`
	Graph    *Graph  `json:"graph,omitempty"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Warning codes. Warnings never block compilation.
const (
	WarnDeadEndNode     = "dead_end_node"
	WarnMissingMetadata = "missing_metadata"
)
