package catalog

import (
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/telflow/telflow/cmd/engine/schema"
	"github.com/telflow/telflow/common/models"
)

var webhookPathRe = regexp.MustCompile(`^/[A-Za-z0-9/_-]*$`)

func triggerEntries() []*Entry {
	return []*Entry{
		{
			Type:        models.TriggerSMSReceived,
			Category:    CategoryTrigger,
			Name:        "SMS Received",
			Description: "Fires when an inbound SMS arrives, optionally filtered by destination number and keyword.",
			OutputHandles: []Handle{
				{ID: HandleSuccess, Label: "Message", Direction: DirectionOutput, Shape: "sms_payload"},
			},
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"phone_number":   {Schema: schema.String{}},
				"keyword":        {Schema: schema.String{}},
				"case_sensitive": {Schema: schema.Bool{}, Default: false},
			}},
		},
		{
			Type:            models.TriggerUSSDSessionStart,
			Category:        CategoryTrigger,
			Name:            "USSD Session Start",
			Description:     "Fires when a subscriber dials the service code and a USSD session opens.",
			RequiresSession: true,
			OutputHandles: []Handle{
				{ID: HandleSuccess, Label: "Session", Direction: DirectionOutput, Shape: "ussd_payload"},
			},
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"service_code": {Schema: schema.String{}},
			}},
		},
		{
			Type:            models.TriggerIncomingCall,
			Category:        CategoryTrigger,
			Name:            "Incoming Call",
			Description:     "Fires when a voice call comes in.",
			RequiresSession: true,
			OutputHandles: []Handle{
				{ID: HandleSuccess, Label: "Call", Direction: DirectionOutput, Shape: "call_payload"},
			},
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"phone_number": {Schema: schema.String{}},
			}},
		},
		{
			Type:        models.TriggerPaymentCallback,
			Category:    CategoryTrigger,
			Name:        "Payment Callback",
			Description: "Fires on a mobile-money payment notification.",
			OutputHandles: []Handle{
				{ID: HandleSuccess, Label: "Transaction", Direction: DirectionOutput, Shape: "payment_payload"},
			},
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"transaction_type": {Schema: schema.String{}},
				"status":           {Schema: schema.String{}},
			}},
		},
		{
			Type:        models.TriggerScheduled,
			Category:    CategoryTrigger,
			Name:        "Scheduled",
			Description: "Fires on a cron schedule.",
			OutputHandles: []Handle{
				{ID: HandleSuccess, Label: "Tick", Direction: DirectionOutput, Shape: "schedule_payload"},
			},
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"cron_expression": {Schema: schema.String{MinLen: 1}, Required: true},
				"timezone":        {Schema: schema.String{}, Default: "UTC"},
			}},
			CustomValidate: validateCron,
		},
		{
			Type:        models.TriggerHTTPWebhook,
			Category:    CategoryTrigger,
			Name:        "HTTP Webhook",
			Description: "Fires when a request hits the registered webhook path.",
			OutputHandles: []Handle{
				{ID: HandleSuccess, Label: "Request", Direction: DirectionOutput, Shape: "http_payload"},
			},
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"method":       {Schema: schema.String{Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE"}}, Default: "POST"},
				"path":         {Schema: schema.String{Pattern: webhookPathRe}, Required: true},
				"require_auth": {Schema: schema.Bool{}, Default: false},
				"auth_token":   {Schema: schema.String{}},
			}},
			CustomValidate: func(config map[string]any) []schema.FieldError {
				requireAuth, _ := config["require_auth"].(bool)
				token, _ := config["auth_token"].(string)
				if requireAuth && token == "" {
					return []schema.FieldError{{Path: "auth_token", Message: "is required when require_auth is set"}}
				}
				return nil
			},
		},
	}
}

// validateCron accepts standard 5-field cron expressions and 6-field
// expressions with a leading seconds column.
func validateCron(config map[string]any) []schema.FieldError {
	expr, _ := config["cron_expression"].(string)
	fields := strings.Fields(expr)

	var parser cron.Parser
	switch len(fields) {
	case 5:
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	case 6:
		parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	default:
		return []schema.FieldError{{Path: "cron_expression", Message: "must have 5 or 6 whitespace-separated fields"}}
	}

	if _, err := parser.Parse(expr); err != nil {
		return []schema.FieldError{{Path: "cron_expression", Message: "invalid cron expression: " + err.Error()}}
	}
	return nil
}
