package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-ai/atelier/internal/db"
	"github.com/atelier-ai/atelier/internal/graph"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
	"github.com/atelier-ai/atelier/internal/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	pool := sqlx.NewDb(raw, "sqlite3")
	client := db.NewClientFromDB(pool, nil)
	repo := db.NewWorkflowRepo(client, nil)

	registry := workflow.NewRegistry()
	hub := NewEventHub(nil)
	t.Cleanup(hub.Close)

	handler := NewWorkflowHandler(repo, registry, hub, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/workflows/{id}", handler.Get)
	mux.HandleFunc("PATCH /api/v1/workflows/{id}/positions", handler.UpdatePositions)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}/connections/{connId}", handler.DeleteConnection)
	mux.HandleFunc("POST /api/v1/workflows/{id}/undo", handler.Undo)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mock
}

func storedDefinition(t *testing.T) string {
	t.Helper()
	routerCfg := nodeconfig.Default("router").(*nodeconfig.RouterConfig)
	routerCfg.Conditions = []nodeconfig.Condition{
		{ID: "docs", Type: nodeconfig.ConditionKeyword, Field: "message", Operator: nodeconfig.OperatorContains, Value: "docs"},
	}
	routerCfg.DefaultRoute = "direct"

	def := map[string]any{
		"nodes": []workflow.Node{
			{ID: "in", Type: workflow.NodeTypeInput, Config: &nodeconfig.InputConfig{}, IsEnabled: true},
			{ID: "rt", Type: workflow.NodeTypeRouter, Config: routerCfg, IsEnabled: true},
			{ID: "gen", Type: workflow.NodeTypeLLM, Config: nodeconfig.Default("llm"), IsEnabled: true},
			{ID: "out", Type: workflow.NodeTypeOutput, Config: &nodeconfig.OutputConfig{}, IsEnabled: true},
		},
		"connections": []workflow.Connection{
			{ID: "c1", FromNodeID: "in", ToNodeID: "rt"},
			{ID: "c2", FromNodeID: "rt", ToNodeID: "gen", Condition: "docs"},
			{ID: "c3", FromNodeID: "rt", ToNodeID: "gen", Condition: "direct"},
			{ID: "c4", FromNodeID: "gen", ToNodeID: "out"},
		},
	}
	data, err := json.Marshal(def)
	require.NoError(t, err)
	return string(data)
}

func expectGetWorkflow(mock sqlmock.Sqlmock, t *testing.T) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "mode", "description", "definition", "created_at", "updated_at"}).
		AddRow("wf-1", "demo", "pro", "", storedDefinition(t), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, mode, description, definition")).
		WithArgs("wf-1").
		WillReturnRows(rows)
}

func TestGetWorkflowEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	expectGetWorkflow(mock, t)

	resp, err := http.Get(srv.URL + "/api/v1/workflows/wf-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env struct {
		Success bool              `json:"success"`
		Data    workflow.Workflow `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.Equal(t, "wf-1", env.Data.ID)
	assert.Len(t, env.Data.Nodes, 4)
}

func TestGetWorkflowNotFoundEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, mode")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/workflows/ghost", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdatePositionsEndpoint(t *testing.T) {
	srv, mock := newTestServer(t)
	expectGetWorkflow(mock, t)

	// The positions-only payload patches the stored blob in a transaction.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT definition FROM workflows")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"definition"}).AddRow(storedDefinition(t)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workflows SET definition")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body, _ := json.Marshal([]graph.PositionUpdate{{NodeID: "rt", PositionX: 120, PositionY: 40}})
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/workflows/wf-1/positions", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePositionsUnknownNode(t *testing.T) {
	srv, mock := newTestServer(t)
	expectGetWorkflow(mock, t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT definition FROM workflows")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"definition"}).AddRow(storedDefinition(t)))
	mock.ExpectRollback()

	body, _ := json.Marshal([]graph.PositionUpdate{{NodeID: "ghost", PositionX: 1, PositionY: 1}})
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/workflows/wf-1/positions", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteConnectionKeepsCondition(t *testing.T) {
	srv, mock := newTestServer(t)
	expectGetWorkflow(mock, t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE workflows")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/workflows/wf-1/connections/c2", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Fetch through the cached store: the edge is gone, the router
	// condition labeled with its route is not.
	getResp, err := http.Get(srv.URL + "/api/v1/workflows/wf-1")
	require.NoError(t, err)
	defer getResp.Body.Close()

	var env struct {
		Data workflow.Workflow `json:"data"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&env))
	assert.Nil(t, env.Data.ConnectionByID("c2"))

	routerNode := env.Data.NodeByID("rt")
	require.NotNil(t, routerNode)
	cfg, ok := routerNode.Config.(*nodeconfig.RouterConfig)
	require.True(t, ok)
	require.Len(t, cfg.Conditions, 1)
	assert.Equal(t, "docs", cfg.Conditions[0].ID)
}

func TestUndoWithoutHistory(t *testing.T) {
	srv, mock := newTestServer(t)
	expectGetWorkflow(mock, t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/workflows/wf-1/undo", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
