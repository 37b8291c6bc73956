package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/compiler"
	"github.com/telflow/telflow/cmd/engine/template"
	"github.com/telflow/telflow/common/models"
)

const maxResponseBody = 1 << 20

// RegisterHTTP wires the outbound http_request handler.
func RegisterHTTP(d *Dispatcher, client *http.Client) error {
	if client == nil {
		client = &http.Client{}
	}
	return d.Register(catalog.TypeHTTPRequest, httpRequestHandler(client))
}

func httpRequestHandler(client *http.Client) Handler {
	return func(ctx context.Context, node *compiler.Node, ec *models.ExecutionContext, in *Input) (*Outcome, *models.NodeError) {
		scope := template.BuildScope(ec, in.Merged)

		rawURL := template.Render(cfgString(node.Config, "url"), scope)
		parsed, err := url.Parse(rawURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, models.NewNodeError(models.CodeNodeExecutionError,
				fmt.Sprintf("invalid request url %q", rawURL), models.ErrorValidation)
		}

		method := cfgString(node.Config, "method")
		var body io.Reader
		if raw, ok := node.Config["body"]; ok && raw != nil {
			rendered := raw
			if m, isMap := raw.(map[string]any); isMap {
				rendered = template.RenderMap(m, scope)
			} else if s, isStr := raw.(string); isStr {
				rendered = template.Render(s, scope)
			}
			data, err := json.Marshal(rendered)
			if err != nil {
				return nil, models.NewNodeError(models.CodeNodeExecutionError, "encoding request body: "+err.Error(), models.ErrorPermanent)
			}
			body = bytes.NewReader(data)
		}

		timeout := time.Duration(cfgNumber(node.Config, "timeout_ms")) * time.Millisecond
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
		if err != nil {
			return nil, models.NewNodeError(models.CodeNodeExecutionError, "building request: "+err.Error(), models.ErrorPermanent)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range cfgMap(node.Config, "headers") {
			if s, ok := v.(string); ok {
				req.Header.Set(k, template.Render(s, scope))
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, models.NewNodeError(models.CodeNodeTimeout, "request timed out", models.ErrorTransient)
			}
			return nil, models.NewNodeError(models.CodeNetworkError, "request failed: "+err.Error(), models.ErrorTransient)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, models.NewNodeError(models.CodeNetworkError, "reading response: "+err.Error(), models.ErrorTransient)
		}

		out := map[string]any{"status_code": resp.StatusCode}
		var decoded any
		if json.Unmarshal(payload, &decoded) == nil {
			out["body"] = decoded
		} else {
			out["body"] = string(payload)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &models.NodeError{
				Code:    models.CodeRateLimit,
				Message: "upstream returned 429",
				Type:    models.ErrorRateLimit,
				Details: map[string]any{"status_code": resp.StatusCode},
			}
		case resp.StatusCode >= 500:
			return nil, &models.NodeError{
				Code:    models.CodeNodeExecutionError,
				Message: fmt.Sprintf("upstream returned %d", resp.StatusCode),
				Type:    models.ErrorTransient,
				Details: map[string]any{"status_code": resp.StatusCode},
			}
		case resp.StatusCode >= 400:
			return nil, &models.NodeError{
				Code:    models.CodeNodeExecutionError,
				Message: fmt.Sprintf("upstream returned %d", resp.StatusCode),
				Type:    models.ErrorPermanent,
				Details: map[string]any{"status_code": resp.StatusCode},
			}
		}
		return &Outcome{Output: out, Handle: catalog.HandleSuccess}, nil
	}
}
