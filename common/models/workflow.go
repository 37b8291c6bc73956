package models

import (
	"time"

	"github.com/google/uuid"
)

// Trigger node types. Exactly one of these starts every workflow.
const (
	TriggerSMSReceived      = "sms_received"
	TriggerUSSDSessionStart = "ussd_session_start"
	TriggerIncomingCall     = "incoming_call"
	TriggerPaymentCallback  = "payment_callback"
	TriggerScheduled        = "scheduled"
	TriggerHTTPWebhook      = "http_webhook"
)

// TriggerTypes is the set of node types allowed in the trigger position.
var TriggerTypes = map[string]bool{
	TriggerSMSReceived:      true,
	TriggerUSSDSessionStart: true,
	TriggerIncomingCall:     true,
	TriggerPaymentCallback:  true,
	TriggerScheduled:        true,
	TriggerHTTPWebhook:      true,
}

// WorkflowMetadata identifies a workflow description.
type WorkflowMetadata struct {
	ID          uuid.UUID `json:"id"`
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []string  `json:"tags,omitempty"`
	Environment string    `json:"environment,omitempty"`
}

// Position is builder-UI placement metadata. The engine ignores it but
// round-trips it so stored workflows keep their layout.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RetryPolicy controls re-execution of a failed node.
type RetryPolicy struct {
	MaxAttempts       int      `json:"max_attempts"`
	InitialDelayMS    int      `json:"initial_delay_ms"`
	MaxDelayMS        int      `json:"max_delay_ms"`
	BackoffMultiplier float64  `json:"backoff_multiplier"`
	RetryableErrors   []string `json:"retryable_errors,omitempty"`
}

// WorkflowNode is one step of a user-authored workflow description.
type WorkflowNode struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Label     string         `json:"label,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Retry     *RetryPolicy   `json:"retry,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
	Disabled  bool           `json:"disabled,omitempty"`
	Position  *Position      `json:"position,omitempty"`
}

// WorkflowEdge connects two nodes. SourceHandle selects which output of the
// source the edge listens on ("true"/"false" for conditions, case labels for
// switches, "error"/"timeout"/"max_retries" for fallback branches).
type WorkflowEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Label        string `json:"label,omitempty"`
}

// WorkflowDescription is the user-authored workflow, the compiler's input.
// The trigger node also appears in Nodes.
type WorkflowDescription struct {
	Metadata WorkflowMetadata `json:"metadata"`
	Trigger  WorkflowNode     `json:"trigger"`
	Nodes    []WorkflowNode   `json:"nodes"`
	Edges    []WorkflowEdge   `json:"edges"`
}

// NodeByID returns the declared node with the given id, or nil.
func (d *WorkflowDescription) NodeByID(id string) *WorkflowNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
