package telecom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/telflow/telflow/common/config"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
)

const (
	sandboxBaseURL    = "https://api.sandbox.africastalking.com"
	productionBaseURL = "https://api.africastalking.com"
	paymentsBaseURL   = "https://payments.africastalking.com"
	voiceBaseURL      = "https://voice.africastalking.com"
)

// ATClient talks to the Africa's Talking REST gateway.
type ATClient struct {
	username string
	apiKey   string
	baseURL  string
	http     *http.Client
	log      *logger.Logger
}

func NewATClient(cfg config.TelecomConfig, log *logger.Logger) *ATClient {
	base := productionBaseURL
	if cfg.Environment == "sandbox" {
		base = sandboxBaseURL
	}
	return &ATClient{
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		baseURL:  base,
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		log:      log,
	}
}

func (c *ATClient) SendSMS(ctx context.Context, req SMSRequest) (*SMSResult, *models.NodeError) {
	form := url.Values{
		"username": {c.username},
		"to":       {req.To},
		"message":  {req.Message},
	}
	if req.From != "" {
		form.Set("from", req.From)
	}

	var resp struct {
		SMSMessageData struct {
			Recipients []struct {
				MessageID  string `json:"messageId"`
				Status     string `json:"status"`
				StatusCode int    `json:"statusCode"`
				Cost       string `json:"cost"`
			} `json:"Recipients"`
		} `json:"SMSMessageData"`
	}
	if nerr := c.postForm(ctx, models.CodeSMSSend, c.baseURL+"/version1/messaging", form, &resp); nerr != nil {
		return nil, nerr
	}
	if len(resp.SMSMessageData.Recipients) == 0 {
		return nil, models.NewNodeError(models.CodeSMSSend, "gateway accepted no recipients", models.ErrorPermanent)
	}
	r := resp.SMSMessageData.Recipients[0]
	if r.StatusCode >= 400 {
		return nil, classifyStatus(models.CodeSMSSend, r.StatusCode, "sms rejected: "+r.Status)
	}
	return &SMSResult{MessageID: r.MessageID, Status: r.Status, Cost: r.Cost}, nil
}

// SendUSSDReply pushes the next menu frame into the open USSD session. The
// CON/END prefix tells the gateway whether to keep the session open.
func (c *ATClient) SendUSSDReply(ctx context.Context, reply USSDReply) *models.NodeError {
	prefix := "END "
	if reply.ExpectInput {
		prefix = "CON "
	}
	form := url.Values{
		"username":  {c.username},
		"sessionId": {reply.SessionID},
		"response":  {prefix + reply.Message},
	}
	return c.postForm(ctx, models.CodeUSSDResponse, c.baseURL+"/ussd/push", form, nil)
}

func (c *ATClient) InitiateCall(ctx context.Context, req CallRequest) (*CallResult, *models.NodeError) {
	form := url.Values{
		"username": {c.username},
		"to":       {req.To},
		"from":     {req.From},
	}
	var resp struct {
		Entries []struct {
			SessionID string `json:"sessionId"`
			Status    string `json:"status"`
		} `json:"entries"`
		ErrorMessage string `json:"errorMessage"`
	}
	if nerr := c.postForm(ctx, models.CodeCallInitiation, voiceBaseURL+"/call", form, &resp); nerr != nil {
		return nil, nerr
	}
	if len(resp.Entries) == 0 {
		msg := resp.ErrorMessage
		if msg == "" || msg == "None" {
			msg = "gateway returned no call entries"
		}
		return nil, models.NewNodeError(models.CodeCallInitiation, msg, models.ErrorPermanent)
	}
	e := resp.Entries[0]
	return &CallResult{CallID: e.SessionID, Status: e.Status}, nil
}

func (c *ATClient) PlayIVR(ctx context.Context, prompt IVRPrompt) *models.NodeError {
	form := url.Values{
		"username":  {c.username},
		"sessionId": {prompt.CallSessionID},
	}
	if prompt.AudioURL != "" {
		form.Set("url", prompt.AudioURL)
	} else {
		form.Set("say", prompt.Text)
	}
	return c.postForm(ctx, models.CodeIVRPlay, voiceBaseURL+"/play", form, nil)
}

func (c *ATClient) CollectDTMF(ctx context.Context, req DTMFRequest) (*DTMFResult, *models.NodeError) {
	form := url.Values{
		"username":  {c.username},
		"sessionId": {req.CallSessionID},
		"say":       {req.Prompt},
		"numDigits": {strconv.Itoa(req.NumDigits)},
		"timeout":   {strconv.Itoa(req.TimeoutMS / 1000)},
	}
	var resp struct {
		DTMFDigits string `json:"dtmfDigits"`
		Status     string `json:"status"`
	}
	if nerr := c.postForm(ctx, models.CodeDTMFCollection, voiceBaseURL+"/getDigits", form, &resp); nerr != nil {
		return nil, nerr
	}
	if resp.DTMFDigits == "" {
		return &DTMFResult{TimedOut: true}, nil
	}
	return &DTMFResult{Digits: resp.DTMFDigits}, nil
}

func (c *ATClient) RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, *models.NodeError) {
	var path string
	switch req.TransactionType {
	case "b2c":
		path = "/mobile/b2c/request"
	case "b2b":
		path = "/mobile/b2b/request"
	default:
		path = "/mobile/checkout/request"
	}

	body := map[string]any{
		"username":     c.username,
		"productName":  req.ProductName,
		"phoneNumber":  req.PhoneNumber,
		"currencyCode": req.Currency,
		"amount":       req.Amount,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
		Description   string `json:"description"`
	}
	if nerr := c.postJSON(ctx, models.CodePaymentRequest, paymentsBaseURL+path, body, &resp); nerr != nil {
		return nil, nerr
	}
	if strings.EqualFold(resp.Status, "InvalidRequest") {
		return nil, models.NewNodeError(models.CodePaymentRequest, "payment rejected: "+resp.Description, models.ErrorPermanent)
	}
	return &PaymentResult{TransactionID: resp.TransactionID, Status: resp.Status}, nil
}

func (c *ATClient) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, *models.NodeError) {
	body := map[string]any{
		"username":      c.username,
		"transactionId": req.TransactionID,
	}
	if req.Amount > 0 {
		body["amount"] = req.Amount
	}
	var resp struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
		Description   string `json:"description"`
	}
	if nerr := c.postJSON(ctx, models.CodePaymentRefund, paymentsBaseURL+"/transaction/refund", body, &resp); nerr != nil {
		return nil, nerr
	}
	if strings.EqualFold(resp.Status, "InvalidRequest") {
		return nil, models.NewNodeError(models.CodePaymentRefund, "refund rejected: "+resp.Description, models.ErrorPermanent)
	}
	return &RefundResult{RefundID: resp.TransactionID, Status: resp.Status}, nil
}

func (c *ATClient) postForm(ctx context.Context, code, endpoint string, form url.Values, out any) *models.NodeError {
	return c.do(ctx, code, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *ATClient) postJSON(ctx context.Context, code, endpoint string, body map[string]any, out any) *models.NodeError {
	data, err := json.Marshal(body)
	if err != nil {
		return models.NewNodeError(code, "encoding request: "+err.Error(), models.ErrorPermanent)
	}
	return c.do(ctx, code, endpoint, strings.NewReader(string(data)), "application/json", out)
}

func (c *ATClient) do(ctx context.Context, code, endpoint string, body io.Reader, contentType string, out any) *models.NodeError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return models.NewNodeError(code, "building request: "+err.Error(), models.ErrorPermanent)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.NewNodeError(models.CodeNetworkError, "reading response: "+err.Error(), models.ErrorTransient)
	}
	if resp.StatusCode >= 400 {
		return classifyStatus(code, resp.StatusCode, fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, truncate(string(payload), 200)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return models.NewNodeError(code, "decoding response: "+err.Error(), models.ErrorPermanent)
		}
	}
	return nil
}

func classifyTransportError(err error) *models.NodeError {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewNodeError(models.CodeNodeTimeout, "gateway call timed out", models.ErrorTransient)
	}
	return models.NewNodeError(models.CodeNetworkError, "gateway unreachable: "+err.Error(), models.ErrorTransient)
}

func classifyStatus(code string, status int, message string) *models.NodeError {
	switch {
	case status == http.StatusTooManyRequests:
		return models.NewNodeError(models.CodeRateLimit, message, models.ErrorRateLimit)
	case status >= 500:
		return models.NewNodeError(code, message, models.ErrorTransient)
	default:
		return models.NewNodeError(code, message, models.ErrorPermanent)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
