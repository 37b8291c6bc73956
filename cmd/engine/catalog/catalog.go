// Package catalog is the process-wide registry of node types. It is
// populated once at startup and read-only afterwards, so lookups need no
// locking discipline beyond the registry's own.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/telflow/telflow/cmd/engine/schema"
	"github.com/telflow/telflow/common/models"
)

// Category groups node types by role.
type Category string

const (
	CategoryTrigger Category = "trigger"
	CategoryAction  Category = "action"
	CategoryLogic   Category = "logic"
	CategoryState   Category = "state"
)

// Non-trigger node type constants.
const (
	TypeSendSMS          = "send_sms"
	TypeSendUSSDResponse = "send_ussd_response"
	TypeInitiateCall     = "initiate_call"
	TypePlayIVR          = "play_ivr"
	TypeCollectDTMF      = "collect_dtmf"
	TypeRequestPayment   = "request_payment"
	TypeRefundPayment    = "refund_payment"
	TypeHTTPRequest      = "http_request"
	TypeCondition        = "condition"
	TypeSwitch           = "switch"
	TypeDelay            = "delay"
	TypeRetry            = "retry"
	TypeRateLimit        = "rate_limit"
	TypeMerge            = "merge"
	TypeSessionRead      = "session_read"
	TypeSessionWrite     = "session_write"
	TypeSessionEnd       = "session_end"
)

// Handle direction constants.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// Well-known output handle ids.
const (
	HandleSuccess    = "success"
	HandleError      = "error"
	HandleTimeout    = "timeout"
	HandleNoAnswer   = "no_answer"
	HandleTrue       = "true"
	HandleFalse      = "false"
	HandleDefault    = "default"
	HandleMaxRetries = "max_retries"
)

// Handle declares one input or output port of a node type.
type Handle struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Direction string `json:"direction"`
	Shape     string `json:"shape,omitempty"`
}

// Entry declares everything the compiler and engine need to know about a
// node type.
type Entry struct {
	Type        string
	Category    Category
	Name        string
	Description string

	InputHandles  []Handle
	OutputHandles []Handle

	ConfigSchema schema.Object

	AllowedIncomingTypes []string
	AllowedOutgoingTypes []string

	RequiresSession       bool
	EndsSession           bool
	AllowsMultipleInputs  bool
	AllowsMultipleOutputs bool

	DefaultTimeoutMS int
	DefaultRetry     *models.RetryPolicy

	// CustomValidate runs after the declarative schema; it handles rules
	// the combinators cannot express (one-of fields, cron syntax).
	CustomValidate func(config map[string]any) []schema.FieldError
}

// Registry holds node type entries. Register fails on duplicates; lookups
// never mutate.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds an entry. It fails if the type is already registered.
func (r *Registry) Register(entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.Type]; exists {
		return fmt.Errorf("node type already registered: %s", entry.Type)
	}
	r.entries[entry.Type] = entry
	return nil
}

// Lookup returns the entry for a node type
func (r *Registry) Lookup(nodeType string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[nodeType]
	return entry, ok
}

// ByCategory returns every entry in a category, sorted by type
func (r *Registry) ByCategory(cat Category) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, entry := range r.entries {
		if entry.Category == cat {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ValidateConfig applies defaults, runs the declarative schema and then the
// custom hook. It returns the resolved config (defaults filled in) and any
// field errors.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) (map[string]any, []schema.FieldError) {
	entry, ok := r.Lookup(nodeType)
	if !ok {
		return nil, []schema.FieldError{{Path: "", Message: "unknown node type: " + nodeType}}
	}

	if config == nil {
		config = map[string]any{}
	}
	resolved := entry.ConfigSchema.ApplyDefaults(config)

	errs := entry.ConfigSchema.Validate(resolved, "")
	if len(errs) > 0 {
		return resolved, errs
	}

	if entry.CustomValidate != nil {
		if errs := entry.CustomValidate(resolved); len(errs) > 0 {
			return resolved, errs
		}
	}

	return resolved, nil
}

// Builtin returns a registry populated with every builtin node type.
func Builtin() *Registry {
	r := NewRegistry()
	for _, entry := range builtinEntries() {
		// Types are hardcoded below; a duplicate is a programming error.
		if err := r.Register(entry); err != nil {
			panic(err)
		}
	}
	return r
}

func builtinEntries() []*Entry {
	var entries []*Entry
	entries = append(entries, triggerEntries()...)
	entries = append(entries, actionEntries()...)
	entries = append(entries, logicEntries()...)
	entries = append(entries, stateEntries()...)
	return entries
}

func inputIn() []Handle {
	return []Handle{{ID: "in", Label: "In", Direction: DirectionInput}}
}

func outputs(ids ...string) []Handle {
	out := make([]Handle, 0, len(ids))
	for _, id := range ids {
		out = append(out, Handle{ID: id, Label: id, Direction: DirectionOutput})
	}
	return out
}
