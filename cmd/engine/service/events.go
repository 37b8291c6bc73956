package service

import (
	"context"
	"strings"

	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

// EventService normalizes inbound provider callbacks into trigger payloads
// and fans them out to every stored workflow whose trigger matches.
type EventService struct {
	workflows repository.WorkflowStore
	exec      *ExecutionService
	log       *logger.Logger
}

func NewEventService(workflows repository.WorkflowStore, exec *ExecutionService, log *logger.Logger) *EventService {
	return &EventService{workflows: workflows, exec: exec, log: log}
}

type USSDEvent struct {
	SessionID   string `json:"session_id"`
	ServiceCode string `json:"service_code"`
	PhoneNumber string `json:"phone_number"`
	Text        string `json:"text"`
}

type SMSEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type VoiceEvent struct {
	SessionID         string `json:"session_id"`
	CallerNumber      string `json:"caller_number"`
	DestinationNumber string `json:"destination_number"`
	IsActive          bool   `json:"is_active"`
}

type PaymentEvent struct {
	TransactionID   string  `json:"transaction_id"`
	TransactionType string  `json:"transaction_type"`
	Status          string  `json:"status"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	PhoneNumber     string  `json:"phone_number"`
}

// Dispatched is one workflow run triggered by an inbound event.
type Dispatched struct {
	WorkflowID string `json:"workflow_id"`
	Execution  any    `json:"execution"`
	Error      string `json:"error,omitempty"`
}

func (s *EventService) HandleUSSD(ctx context.Context, ev USSDEvent) ([]Dispatched, error) {
	payload := map[string]any{
		"session_id":   ev.SessionID,
		"service_code": ev.ServiceCode,
		"phone_number": ev.PhoneNumber,
		"text":         ev.Text,
	}
	return s.dispatch(ctx, models.TriggerUSSDSessionStart, payload, ev.SessionID, ev.PhoneNumber,
		func(trigger *models.WorkflowNode) bool {
			code, _ := trigger.Config["service_code"].(string)
			return code == "" || code == ev.ServiceCode
		})
}

func (s *EventService) HandleSMS(ctx context.Context, ev SMSEvent) ([]Dispatched, error) {
	payload := map[string]any{
		"from":    ev.From,
		"to":      ev.To,
		"text":    ev.Text,
		"message": ev.Text,
	}
	return s.dispatch(ctx, models.TriggerSMSReceived, payload, "", ev.From,
		func(trigger *models.WorkflowNode) bool {
			if number, _ := trigger.Config["phone_number"].(string); number != "" && number != ev.To {
				return false
			}
			keyword, _ := trigger.Config["keyword"].(string)
			if keyword == "" {
				return true
			}
			first := ev.Text
			if fields := strings.Fields(ev.Text); len(fields) > 0 {
				first = fields[0]
			}
			if caseSensitive, _ := trigger.Config["case_sensitive"].(bool); caseSensitive {
				return first == keyword
			}
			return strings.EqualFold(first, keyword)
		})
}

func (s *EventService) HandleVoice(ctx context.Context, ev VoiceEvent) ([]Dispatched, error) {
	payload := map[string]any{
		"session_id":         ev.SessionID,
		"caller_number":      ev.CallerNumber,
		"destination_number": ev.DestinationNumber,
		"is_active":          ev.IsActive,
	}
	return s.dispatch(ctx, models.TriggerIncomingCall, payload, ev.SessionID, ev.CallerNumber,
		func(trigger *models.WorkflowNode) bool {
			number, _ := trigger.Config["phone_number"].(string)
			return number == "" || number == ev.DestinationNumber
		})
}

func (s *EventService) HandlePayment(ctx context.Context, ev PaymentEvent) ([]Dispatched, error) {
	payload := map[string]any{
		"transaction_id":   ev.TransactionID,
		"transaction_type": ev.TransactionType,
		"status":           ev.Status,
		"amount":           ev.Amount,
		"currency":         ev.Currency,
		"phone_number":     ev.PhoneNumber,
	}
	return s.dispatch(ctx, models.TriggerPaymentCallback, payload, "", ev.PhoneNumber,
		func(trigger *models.WorkflowNode) bool {
			if txType, _ := trigger.Config["transaction_type"].(string); txType != "" && txType != ev.TransactionType {
				return false
			}
			status, _ := trigger.Config["status"].(string)
			return status == "" || status == ev.Status
		})
}

// HandleWebhook matches http_webhook workflows on path and method and runs
// them. Workflows with require_auth set also check the bearer token.
func (s *EventService) HandleWebhook(ctx context.Context, method, path, token string, body map[string]any) ([]Dispatched, bool, error) {
	payload := map[string]any{
		"method": method,
		"path":   path,
		"body":   body,
	}
	unauthorized := false
	dispatched, err := s.dispatch(ctx, models.TriggerHTTPWebhook, payload, "", "",
		func(trigger *models.WorkflowNode) bool {
			wantPath, _ := trigger.Config["path"].(string)
			wantMethod, _ := trigger.Config["method"].(string)
			if wantPath != path || !strings.EqualFold(wantMethod, method) {
				return false
			}
			if requireAuth, _ := trigger.Config["require_auth"].(bool); requireAuth {
				expected, _ := trigger.Config["auth_token"].(string)
				if token != expected {
					unauthorized = true
					return false
				}
			}
			return true
		})
	return dispatched, unauthorized, err
}

type triggerMatch func(trigger *models.WorkflowNode) bool

// dispatch runs every enabled workflow whose trigger type and filters match.
// One workflow failing does not stop the rest.
func (s *EventService) dispatch(ctx context.Context, triggerType string, payload map[string]any, sessionID, subscriber string, match triggerMatch) ([]Dispatched, error) {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Dispatched, 0)
	for _, wf := range workflows {
		trigger := wf.Trigger
		if trigger.Type != triggerType || trigger.Disabled || !match(&trigger) {
			continue
		}

		res, err := s.exec.ExecuteStored(ctx, wf.Metadata.ID, ExecuteRequest{
			TriggerPayload: payload,
			SessionID:      sessionID,
			Subscriber:     subscriber,
		})
		d := Dispatched{WorkflowID: wf.Metadata.ID.String()}
		if err != nil {
			s.log.Error("event-triggered run failed", "workflow_id", wf.Metadata.ID, "error", err)
			d.Error = err.Error()
		} else {
			d.Execution = res
		}
		results = append(results, d)
	}
	return results, nil
}
