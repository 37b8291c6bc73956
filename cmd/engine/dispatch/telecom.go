package dispatch

import (
	"context"
	"fmt"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/telecom"
	"github.com/telflow/telflow/cmd/engine/template"
	"github.com/telflow/telflow/common/models"
)

// RegisterTelecom wires the gateway-backed action handlers.
func RegisterTelecom(d *Dispatcher, provider telecom.Provider) error {
	handlers := map[string]Handler{
		catalog.TypeSendSMS:          sendSMSHandler(provider),
		catalog.TypeSendUSSDResponse: sendUSSDHandler(provider),
		catalog.TypeInitiateCall:     initiateCallHandler(provider),
		catalog.TypePlayIVR:          playIVRHandler(provider),
		catalog.TypeCollectDTMF:      collectDTMFHandler(provider),
		catalog.TypeRequestPayment:   requestPaymentHandler(provider),
		catalog.TypeRefundPayment:    refundPaymentHandler(provider),
	}
	for nodeType, h := range handlers {
		if err := d.Register(nodeType, h); err != nil {
			return err
		}
	}
	return nil
}

func requireVoiceSession(ec *models.ExecutionContext) *models.NodeError {
	if ec.Session == nil || ec.Session.Channel != models.ChannelVoice {
		return models.NewNodeError(models.CodeVoiceSessionRequired, "node requires an active voice session", models.ErrorValidation)
	}
	return nil
}

func sendSMSHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		scope := template.BuildScope(ec, in.Merged)
		res, nerr := provider.SendSMS(ctx, telecom.SMSRequest{
			To:      template.Render(cfgString(node.Config, "to"), scope),
			From:    template.Render(cfgString(node.Config, "from"), scope),
			Message: template.Render(cfgString(node.Config, "message"), scope),
		})
		if nerr != nil {
			return nil, nerr
		}
		return &Outcome{
			Output: map[string]any{"message_id": res.MessageID, "status": res.Status, "cost": res.Cost},
			Handle: catalog.HandleSuccess,
		}, nil
	}
}

func sendUSSDHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireSession(ec); nerr != nil {
			return nil, nerr
		}
		scope := template.BuildScope(ec, in.Merged)
		expectInput := cfgBool(node.Config, "expect_input")
		message := template.Render(cfgString(node.Config, "message"), scope)

		if nerr := provider.SendUSSDReply(ctx, telecom.USSDReply{
			SessionID:   ec.Session.SessionID,
			Message:     message,
			ExpectInput: expectInput,
		}); nerr != nil {
			return nil, nerr
		}
		return &Outcome{
			Output: map[string]any{"message": message, "expect_input": expectInput},
			Handle: catalog.HandleSuccess,
		}, nil
	}
}

func initiateCallHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireVoiceSession(ec); nerr != nil {
			return nil, nerr
		}
		scope := template.BuildScope(ec, in.Merged)
		res, nerr := provider.InitiateCall(ctx, telecom.CallRequest{
			To:   template.Render(cfgString(node.Config, "to"), scope),
			From: template.Render(cfgString(node.Config, "from"), scope),
		})
		if nerr != nil {
			return nil, nerr
		}

		handle := catalog.HandleSuccess
		if res.Status == "NoAnswer" || res.Status == "Busy" {
			handle = catalog.HandleNoAnswer
		}
		return &Outcome{
			Output: map[string]any{"call_id": res.CallID, "call_status": res.Status},
			Handle: handle,
		}, nil
	}
}

func playIVRHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireVoiceSession(ec); nerr != nil {
			return nil, nerr
		}
		scope := template.BuildScope(ec, in.Merged)
		prompt := telecom.IVRPrompt{
			CallSessionID: ec.Session.SessionID,
			Text:          template.Render(cfgString(node.Config, "text"), scope),
			AudioURL:      cfgString(node.Config, "audio_url"),
		}
		if nerr := provider.PlayIVR(ctx, prompt); nerr != nil {
			return nil, nerr
		}
		return &Outcome{Output: passthrough(in), Handle: catalog.HandleSuccess}, nil
	}
}

func collectDTMFHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		if nerr := requireVoiceSession(ec); nerr != nil {
			return nil, nerr
		}
		scope := template.BuildScope(ec, in.Merged)
		res, nerr := provider.CollectDTMF(ctx, telecom.DTMFRequest{
			CallSessionID: ec.Session.SessionID,
			Prompt:        template.Render(cfgString(node.Config, "prompt"), scope),
			NumDigits:     int(cfgNumber(node.Config, "num_digits")),
			TimeoutMS:     int(cfgNumber(node.Config, "timeout_ms")),
		})
		if nerr != nil {
			return nil, nerr
		}
		if res.TimedOut {
			return &Outcome{
				Output: map[string]any{"digits": "", "timed_out": true},
				Handle: catalog.HandleTimeout,
			}, nil
		}
		return &Outcome{
			Output: map[string]any{"digits": res.Digits, "timed_out": false},
			Handle: catalog.HandleSuccess,
		}, nil
	}
}

func requestPaymentHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		scope := template.BuildScope(ec, in.Merged)
		res, nerr := provider.RequestPayment(ctx, telecom.PaymentRequest{
			TransactionType: cfgString(node.Config, "transaction_type"),
			Amount:          cfgNumber(node.Config, "amount"),
			Currency:        cfgString(node.Config, "currency"),
			PhoneNumber:     template.Render(cfgString(node.Config, "phone_number"), scope),
			ProductName:     cfgString(node.Config, "product_name"),
			Metadata:        cfgMap(node.Config, "metadata"),
		})
		if nerr != nil {
			return nil, nerr
		}
		return &Outcome{
			Output: map[string]any{"transaction_id": res.TransactionID, "payment_status": res.Status},
			Handle: catalog.HandleSuccess,
		}, nil
	}
}

func refundPaymentHandler(provider telecom.Provider) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		scope := template.BuildScope(ec, in.Merged)
		txID := template.Render(cfgString(node.Config, "transaction_id"), scope)
		if txID == "" {
			return nil, models.NewNodeError(models.CodeNodeExecutionError,
				fmt.Sprintf("node %s: transaction_id resolved empty", node.ID), models.ErrorValidation)
		}
		res, nerr := provider.RefundPayment(ctx, telecom.RefundRequest{
			TransactionID: txID,
			Amount:        cfgNumber(node.Config, "amount"),
		})
		if nerr != nil {
			return nil, nerr
		}
		return &Outcome{
			Output: map[string]any{"refund_id": res.RefundID, "refund_status": res.Status},
			Handle: catalog.HandleSuccess,
		}, nil
	}
}
