// Package dispatch maps node types to handlers and carries the per-node
// execution contract between the engine and the node implementations.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/common/models"
)

// Input is what a node receives from its settled upstream edges.
type Input struct {
	// Merged is the union of upstream outputs, later edges winning on key
	// collisions. Most handlers only look at Merged.
	Merged map[string]any
	// Upstream keeps each contributing output separate, in edge order, for
	// join nodes that need per-branch access.
	Upstream []map[string]any
}

// Outcome is a successful node result: the output payload and the source
// handle that selects which outgoing edges fire.
type Outcome struct {
	Output map[string]any
	Handle string
}

// Handler executes one node. The context carries the node deadline; handlers
// doing I/O or waiting must honor it. A nil NodeError means success.
type Handler func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError)

// Dispatcher is the handler registry. Registration happens during container
// wiring; lookups happen on the execution path.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(nodeType string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[nodeType]; ok {
		return fmt.Errorf("handler already registered for node type %q", nodeType)
	}
	d.handlers[nodeType] = h
	return nil
}

func (d *Dispatcher) Get(nodeType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[nodeType]
	return h, ok
}

// Config accessors. Compiled nodes carry schema-validated config with
// defaults applied, so missing keys mean the field is genuinely optional.

func cfgString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

func cfgBool(config map[string]any, key string) bool {
	b, _ := config[key].(bool)
	return b
}

func cfgNumber(config map[string]any, key string) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func cfgMap(config map[string]any, key string) map[string]any {
	m, _ := config[key].(map[string]any)
	return m
}

func cfgSlice(config map[string]any, key string) []any {
	s, _ := config[key].([]any)
	return s
}
