package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telflow/telflow/cmd/engine/catalog"
	"github.com/telflow/telflow/cmd/engine/condition"
	"github.com/telflow/telflow/cmd/engine/dispatch"
	"github.com/telflow/telflow/cmd/engine/execlog"
	"github.com/telflow/telflow/cmd/engine/runtime"
	"github.com/telflow/telflow/cmd/engine/service"
	"github.com/telflow/telflow/cmd/engine/session"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
	"github.com/telflow/telflow/common/repository"
)

type engineAPI struct {
	echo      *echo.Echo
	handler   *EngineHandler
	workflows *repository.MemoryWorkflowStore
}

func newEngineAPI(t *testing.T) *engineAPI {
	t.Helper()

	registry := catalog.Builtin()
	dispatcher := dispatch.NewDispatcher()
	require.NoError(t, dispatch.RegisterLogic(dispatcher, condition.NewEvaluator()))

	sessions := session.NewMemoryStore()
	require.NoError(t, dispatch.RegisterState(dispatcher, sessions))

	logs := execlog.NewMemoryStore()
	engine := runtime.NewEngine(dispatcher, logs, logger.NewNop())
	workflows := repository.NewMemoryWorkflowStore()
	exec := service.NewExecutionService(registry, engine, workflows, sessions, logs, nil, time.Hour, time.Minute, logger.NewNop())

	return &engineAPI{
		echo:      echo.New(),
		handler:   NewEngineHandler(exec),
		workflows: workflows,
	}
}

// conditionWorkflow routes an sms trigger into a single template condition.
func conditionWorkflow(t *testing.T) string {
	t.Helper()
	trigger := models.WorkflowNode{ID: "t", Type: models.TriggerSMSReceived, Config: map[string]any{}}
	cond := models.WorkflowNode{ID: "check", Type: catalog.TypeCondition, Config: map[string]any{
		"expression": "{{amount}} > 100",
	}}
	desc := models.WorkflowDescription{
		Metadata: models.WorkflowMetadata{ID: uuid.New(), Version: 1, Name: "amount check"},
		Trigger:  trigger,
		Nodes:    []models.WorkflowNode{trigger, cond},
		Edges:    []models.WorkflowEdge{{ID: "e1", Source: "t", Target: "check"}},
	}
	body, err := json.Marshal(desc)
	require.NoError(t, err)
	return string(body)
}

func (a *engineAPI) post(t *testing.T, path, body string, h echo.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h(a.echo.NewContext(req, rec)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestValidateEndpoint(t *testing.T) {
	api := newEngineAPI(t)

	rec, body := api.post(t, "/workflows/validate", conditionWorkflow(t), api.handler.Validate)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])

	// A workflow with a dangling edge fails validation but still returns 200.
	broken := strings.Replace(conditionWorkflow(t), `"target":"check"`, `"target":"ghost"`, 1)
	rec, body = api.post(t, "/workflows/validate", broken, api.handler.Validate)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["errors"])
}

func TestCompileEndpoint(t *testing.T) {
	api := newEngineAPI(t)

	rec, body := api.post(t, "/workflows/compile", conditionWorkflow(t), api.handler.Compile)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	graph, ok := body["graph"].(map[string]any)
	require.True(t, ok, "expected a graph object, got %T", body["graph"])
	assert.Equal(t, "t", graph["trigger_node_ref"])

	broken := strings.Replace(conditionWorkflow(t), `"target":"check"`, `"target":"ghost"`, 1)
	rec, body = api.post(t, "/workflows/compile", broken, api.handler.Compile)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestExecuteEndpoint_Inline(t *testing.T) {
	api := newEngineAPI(t)

	payload := `{"workflow":` + conditionWorkflow(t) + `,"trigger_payload":{"amount":250}}`
	rec, body := api.post(t, "/workflows/execute", payload, api.handler.Execute)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	assert.Equal(t, string(models.StateCompleted), body["status"])
	assert.NotEmpty(t, body["execution_id"])

	output, ok := body["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["condition_result"])
}

// delayWorkflow routes an sms trigger into a single delay node.
func delayWorkflow(t *testing.T, durationMS int) string {
	t.Helper()
	trigger := models.WorkflowNode{ID: "t", Type: models.TriggerSMSReceived, Config: map[string]any{}}
	wait := models.WorkflowNode{ID: "wait", Type: catalog.TypeDelay, Config: map[string]any{
		"duration_ms": durationMS,
	}}
	desc := models.WorkflowDescription{
		Metadata: models.WorkflowMetadata{ID: uuid.New(), Version: 1, Name: "pause"},
		Trigger:  trigger,
		Nodes:    []models.WorkflowNode{trigger, wait},
		Edges:    []models.WorkflowEdge{{ID: "e1", Source: "t", Target: "wait"}},
	}
	body, err := json.Marshal(desc)
	require.NoError(t, err)
	return string(body)
}

func TestExecuteEndpoint_InvocationOptions(t *testing.T) {
	api := newEngineAPI(t)

	// Without options the delay finishes well inside the default budget.
	payload := `{"workflow":` + delayWorkflow(t, 50) + `,"trigger_payload":{}}`
	rec, body := api.post(t, "/workflows/execute", payload, api.handler.Execute)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, string(models.StateCompleted), body["status"])

	// max_execution_ms caps this invocation below the delay duration.
	payload = `{"workflow":` + delayWorkflow(t, 200) +
		`,"trigger_payload":{},"options":{"max_execution_ms":30,"enable_retries":false}}`
	rec, body = api.post(t, "/workflows/execute", payload, api.handler.Execute)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, string(models.StateFailed), body["status"])
	require.NotNil(t, body["error"])
}

func TestExecuteEndpoint_RequiresWorkflowOrID(t *testing.T) {
	api := newEngineAPI(t)

	rec, body := api.post(t, "/workflows/execute", `{"trigger_payload":{}}`, api.handler.Execute)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestExecuteEndpoint_StoredWorkflow(t *testing.T) {
	api := newEngineAPI(t)

	var desc models.WorkflowDescription
	require.NoError(t, json.Unmarshal([]byte(conditionWorkflow(t)), &desc))
	require.NoError(t, api.workflows.Save(context.Background(), &desc))

	payload := `{"workflow_id":"` + desc.Metadata.ID.String() + `","trigger_payload":{"amount":50}}`
	rec, body := api.post(t, "/workflows/execute", payload, api.handler.Execute)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	output, ok := body["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, output["condition_result"])
}

func TestExecuteEndpoint_UnknownWorkflow(t *testing.T) {
	api := newEngineAPI(t)

	payload := `{"workflow_id":"` + uuid.NewString() + `","trigger_payload":{}}`
	rec, body := api.post(t, "/workflows/execute", payload, api.handler.Execute)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "workflow_not_found", body["error"])
}

func TestExecutionLogEndpoints(t *testing.T) {
	api := newEngineAPI(t)

	payload := `{"workflow":` + conditionWorkflow(t) + `,"trigger_payload":{"amount":250}}`
	_, body := api.post(t, "/workflows/execute", payload, api.handler.Execute)
	execID, _ := body["execution_id"].(string)
	require.NotEmpty(t, execID)

	req := httptest.NewRequest(http.MethodGet, "/workflows/executions/"+execID, nil)
	rec := httptest.NewRecorder()
	c := api.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(execID)
	require.NoError(t, api.handler.GetExecution(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var log models.ExecutionLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	assert.Equal(t, models.StateCompleted, log.State)
	assert.Len(t, log.NodeResults, 1)

	// Unknown execution id is a 404.
	req = httptest.NewRequest(http.MethodGet, "/workflows/executions/nope", nil)
	rec = httptest.NewRecorder()
	c = api.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	require.NoError(t, api.handler.GetExecution(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The listing endpoint sees the run.
	req = httptest.NewRequest(http.MethodGet, "/workflows/executions?limit=10", nil)
	rec = httptest.NewRecorder()
	require.NoError(t, api.handler.ListExecutions(api.echo.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Executions []models.ExecutionLog `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.Executions, 1)
}

func TestListExecutions_BadQueryParams(t *testing.T) {
	api := newEngineAPI(t)

	for _, query := range []string{"workflow_id=not-a-uuid", "from=yesterday", "limit=ten"} {
		req := httptest.NewRequest(http.MethodGet, "/workflows/executions?"+query, nil)
		rec := httptest.NewRecorder()
		require.NoError(t, api.handler.ListExecutions(api.echo.NewContext(req, rec)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %q", query)
	}
}
