// Package telecom abstracts the carrier gateway: SMS, USSD replies, voice
// legs and mobile-money operations.
package telecom

import (
	"context"

	"github.com/telflow/telflow/common/models"
)

type SMSRequest struct {
	To      string
	From    string
	Message string
}

type SMSResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Cost      string `json:"cost,omitempty"`
}

type USSDReply struct {
	SessionID   string
	Message     string
	ExpectInput bool
}

type CallRequest struct {
	To   string
	From string
}

type CallResult struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

type IVRPrompt struct {
	CallSessionID string
	Text          string
	AudioURL      string
}

type DTMFRequest struct {
	CallSessionID string
	Prompt        string
	NumDigits     int
	TimeoutMS     int
}

type DTMFResult struct {
	Digits string `json:"digits"`
	// TimedOut is set when the caller entered nothing before the prompt
	// timeout; the node routes to its timeout handle.
	TimedOut bool `json:"timed_out"`
}

type PaymentRequest struct {
	TransactionType string
	Amount          float64
	Currency        string
	PhoneNumber     string
	ProductName     string
	Metadata        map[string]any
}

type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

type RefundRequest struct {
	TransactionID string
	// Amount zero means a full refund.
	Amount float64
}

type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Provider is the gateway contract. Implementations classify their failures
// into NodeError types so the engine can decide retry eligibility: network
// faults and 5xx responses are transient, 429 is rate_limit, other 4xx are
// permanent.
type Provider interface {
	SendSMS(ctx context.Context, req SMSRequest) (*SMSResult, *models.NodeError)
	SendUSSDReply(ctx context.Context, reply USSDReply) *models.NodeError
	InitiateCall(ctx context.Context, req CallRequest) (*CallResult, *models.NodeError)
	PlayIVR(ctx context.Context, prompt IVRPrompt) *models.NodeError
	CollectDTMF(ctx context.Context, req DTMFRequest) (*DTMFResult, *models.NodeError)
	RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, *models.NodeError)
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, *models.NodeError)
}
