package catalog

import (
	"github.com/telflow/telflow/cmd/engine/schema"
	"github.com/telflow/telflow/common/models"
)

// voiceChain lists the node types a voice action may follow. IVR nodes only
// make sense inside a call leg.
var voiceChain = []string{
	models.TriggerIncomingCall,
	TypeInitiateCall,
	TypePlayIVR,
	TypeCollectDTMF,
	TypeCondition,
	TypeSwitch,
	TypeDelay,
	TypeMerge,
	TypeRetry,
	TypeSessionRead,
	TypeSessionWrite,
}

func defaultActionRetry(codes ...string) *models.RetryPolicy {
	return &models.RetryPolicy{
		MaxAttempts:       3,
		InitialDelayMS:    500,
		MaxDelayMS:        5000,
		BackoffMultiplier: 2,
		RetryableErrors:   codes,
	}
}

func actionEntries() []*Entry {
	return []*Entry{
		{
			Type:             TypeSendSMS,
			Category:         CategoryAction,
			Name:             "Send SMS",
			Description:      "Sends an SMS through the telecom provider.",
			InputHandles:     inputIn(),
			OutputHandles:    outputs(HandleSuccess, HandleError),
			DefaultTimeoutMS: 30000,
			DefaultRetry:     defaultActionRetry(models.CodeRateLimit, models.CodeNetworkError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"to":      {Schema: schema.String{MinLen: 1}, Required: true},
				"message": {Schema: schema.String{MinLen: 1}, Required: true},
				"from":    {Schema: schema.String{}},
			}},
		},
		{
			Type:             TypeSendUSSDResponse,
			Category:         CategoryAction,
			Name:             "Send USSD Response",
			Description:      "Replies inside the open USSD session, optionally expecting further input.",
			RequiresSession:  true,
			InputHandles:     inputIn(),
			OutputHandles:    outputs(HandleSuccess, HandleError),
			DefaultTimeoutMS: 15000,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"message":      {Schema: schema.String{MinLen: 1}, Required: true},
				"expect_input": {Schema: schema.Bool{}, Default: false},
			}},
		},
		{
			Type:                  TypeInitiateCall,
			Category:              CategoryAction,
			Name:                  "Initiate Call",
			Description:           "Places an outbound voice call.",
			RequiresSession:       true,
			InputHandles:          inputIn(),
			OutputHandles:         outputs(HandleSuccess, HandleError, HandleNoAnswer, HandleTimeout),
			AllowsMultipleOutputs: true,
			DefaultTimeoutMS:      60000,
			DefaultRetry:          defaultActionRetry(models.CodeNetworkError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"to":   {Schema: schema.String{MinLen: 1}, Required: true},
				"from": {Schema: schema.String{}},
			}},
		},
		{
			Type:                 TypePlayIVR,
			Category:             CategoryAction,
			Name:                 "Play IVR",
			Description:          "Plays a prompt (text-to-speech or audio file) into the call.",
			RequiresSession:      true,
			InputHandles:         inputIn(),
			OutputHandles:        outputs(HandleSuccess, HandleError),
			AllowedIncomingTypes: voiceChain,
			DefaultTimeoutMS:     60000,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"text":      {Schema: schema.String{}},
				"audio_url": {Schema: schema.String{}},
			}},
			CustomValidate: func(config map[string]any) []schema.FieldError {
				text, _ := config["text"].(string)
				audio, _ := config["audio_url"].(string)
				if (text == "") == (audio == "") {
					return []schema.FieldError{{Path: "", Message: "exactly one of text or audio_url is required"}}
				}
				return nil
			},
		},
		{
			Type:                  TypeCollectDTMF,
			Category:              CategoryAction,
			Name:                  "Collect DTMF",
			Description:           "Prompts the caller and collects keypad digits.",
			RequiresSession:       true,
			InputHandles:          inputIn(),
			OutputHandles:         outputs(HandleSuccess, HandleError, HandleTimeout),
			AllowsMultipleOutputs: true,
			AllowedIncomingTypes:  voiceChain,
			DefaultTimeoutMS:      60000,
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"prompt":     {Schema: schema.String{MinLen: 1}, Required: true},
				"num_digits": {Schema: schema.MinMax(1, 32), Default: float64(1)},
				"timeout_ms": {Schema: schema.Min(100), Default: float64(10000)},
			}},
		},
		{
			Type:             TypeRequestPayment,
			Category:         CategoryAction,
			Name:             "Request Payment",
			Description:      "Initiates a mobile-money transaction.",
			InputHandles:     inputIn(),
			OutputHandles:    outputs(HandleSuccess, HandleError),
			DefaultTimeoutMS: 45000,
			DefaultRetry:     defaultActionRetry(models.CodeNetworkError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"transaction_type": {Schema: schema.String{Enum: []string{"checkout", "b2c", "b2b"}}, Required: true},
				"amount":           {Schema: schema.Min(0.01), Required: true},
				"currency":         {Schema: schema.String{MinLen: 3}, Required: true},
				"phone_number":     {Schema: schema.String{MinLen: 1}, Required: true},
				"product_name":     {Schema: schema.String{MinLen: 1}, Required: true},
				"metadata":         {Schema: schema.Map{Values: schema.Any{}}},
			}},
		},
		{
			Type:             TypeRefundPayment,
			Category:         CategoryAction,
			Name:             "Refund Payment",
			Description:      "Refunds a prior transaction, fully or partially.",
			InputHandles:     inputIn(),
			OutputHandles:    outputs(HandleSuccess, HandleError),
			DefaultTimeoutMS: 45000,
			DefaultRetry:     defaultActionRetry(models.CodeNetworkError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"transaction_id": {Schema: schema.String{MinLen: 1}, Required: true},
				"amount":         {Schema: schema.Min(0.01)},
			}},
		},
		{
			Type:          TypeHTTPRequest,
			Category:      CategoryAction,
			Name:          "HTTP Request",
			Description:   "Calls an external HTTP endpoint.",
			InputHandles:  inputIn(),
			OutputHandles: outputs(HandleSuccess, HandleError),
			DefaultRetry:  defaultActionRetry(models.CodeNetworkError),
			ConfigSchema: schema.Object{Fields: map[string]schema.Field{
				"method":     {Schema: schema.String{Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}}, Default: "GET"},
				"url":        {Schema: schema.String{MinLen: 1}, Required: true},
				"headers":    {Schema: schema.Map{Values: schema.String{}}},
				"body":       {Schema: schema.Any{}},
				"timeout_ms": {Schema: schema.Min(1), Default: float64(30000)},
			}},
		},
	}
}
