package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeErrorType classifies a node failure for retry eligibility.
type NodeErrorType string

const (
	ErrorTransient  NodeErrorType = "transient"
	ErrorPermanent  NodeErrorType = "permanent"
	ErrorRateLimit  NodeErrorType = "rate_limit"
	ErrorValidation NodeErrorType = "validation"
)

// Stable error codes surfaced to callers.
const (
	CodeSchemaValidation      = "schema_validation_error"
	CodeUnknownNodeType       = "unknown_node_type"
	CodeNodeConfigValidation  = "node_config_validation_error"
	CodeCycleDetected         = "cycle_detected"
	CodeUnreachableNode       = "unreachable_node"
	CodeTriggerHasIncoming    = "trigger_has_incoming_edges"
	CodeInvalidConnection     = "invalid_node_connection"
	CodeUSSDMissingSessionEnd = "ussd_missing_session_end"
	CodeDuplicateNodeID       = "duplicate_node_id"
	CodeExecutionTimeout      = "execution_timeout"
	CodeNodeExecutionError    = "node_execution_error"
	CodeNodeTimeout           = "node_timeout"
	CodeNetworkError          = "network_error"
	CodeSMSSend               = "sms_send_error"
	CodeUSSDResponse          = "ussd_response_error"
	CodeCallInitiation        = "call_initiation_error"
	CodeIVRPlay               = "ivr_play_error"
	CodeDTMFCollection        = "dtmf_collection_error"
	CodePaymentRequest        = "payment_request_error"
	CodePaymentRefund         = "payment_refund_error"
	CodeRateLimit             = "rate_limit"
	CodeSessionRequired       = "session_required"
	CodeVoiceSessionRequired  = "voice_session_required"
	CodeSessionNotFound       = "session_not_found"
	CodeSessionConflict       = "session_conflict"
)

// NodeError is a structured node failure. Errors cross layers as values,
// never as panics.
type NodeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Type    NodeErrorType  `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *NodeError) Error() string {
	return e.Code + ": " + e.Message
}

// Retryable reports whether the error type is retry-eligible by default.
func (e *NodeError) Retryable() bool {
	return e.Type == ErrorTransient || e.Type == ErrorRateLimit
}

// NewNodeError builds a NodeError with the given classification.
func NewNodeError(code, message string, typ NodeErrorType) *NodeError {
	return &NodeError{Code: code, Message: message, Type: typ}
}

// NodeStatus is the outcome of one node attempt.
type NodeStatus string

const (
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
	StatusSkipped NodeStatus = "skipped"
	StatusTimeout NodeStatus = "timeout"
)

// Skip reasons recorded on skipped results.
const (
	SkipDisabled         = "disabled"
	SkipUnselectedBranch = "unselected_branch"
)

// NodeResult records one attempt of one node.
type NodeResult struct {
	NodeID     string         `json:"node_id"`
	Status     NodeStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      *NodeError     `json:"error,omitempty"`
	Handle     string         `json:"handle,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	ExecutedAt time.Time      `json:"executed_at"`
	Attempt    int            `json:"attempt"`
}

// ExecutionState is the lifecycle state of one invocation.
type ExecutionState string

const (
	StateRunning   ExecutionState = "running"
	StateCompleted ExecutionState = "completed"
	StateFailed    ExecutionState = "failed"
	StateCancelled ExecutionState = "cancelled"
	StateTimeout   ExecutionState = "timeout"
)

// ExecutionLog is the append-only record of one invocation.
type ExecutionLog struct {
	ExecutionID     string         `json:"execution_id"`
	WorkflowID      uuid.UUID      `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	State           ExecutionState `json:"state"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	NodeResults     []NodeResult   `json:"node_results"`
	Output          map[string]any `json:"output,omitempty"`
	Error           *NodeError     `json:"error,omitempty"`
}

// LogFilter selects execution logs in queries. Zero values mean "any".
type LogFilter struct {
	WorkflowID *uuid.UUID
	State      ExecutionState
	From       *time.Time
	To         *time.Time
	Limit      int
}

// ExecutionContext is the per-invocation runtime state. It is owned and
// mutated exclusively by the engine and never shared across invocations.
type ExecutionContext struct {
	ExecutionID     string
	WorkflowID      uuid.UUID
	WorkflowVersion int
	TriggerPayload  map[string]any
	Session         *SessionRecord
	Variables       map[string]any
	StartedAt       time.Time
}
