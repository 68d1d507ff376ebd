package atlas

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/audit"
	"github.com/aidant64/atlas/service/gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "test-key"

func newGateway(t *testing.T, mutate func(c *Config)) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	config := DefaultConfig()
	config.ListenAddr = ""
	config.APIKey = apiKey
	config.Audit.Path = filepath.Join(dir, "audit.jsonl")
	config.Gatekeeper.GraceWindow = "1s"
	config.Gatekeeper.PollInterval = "5ms"
	if mutate != nil {
		mutate(config)
	}
	srv, err := New(config, WithTools(gatekeeper.WelfareTools()...), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("gateway did not stop")
		}
	})
	return srv, config.Audit.Path
}

func call(t *testing.T, server *httptest.Server, method, path, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestService_EndToEnd(t *testing.T) {
	testCases := []struct {
		description string
		mutate      func(c *Config)
	}{
		{description: "memory store and bus"},
		{description: "fs store and bus", mutate: func(c *Config) {
			dir := t.TempDir()
			c.Store.Vendor = StoreFS
			c.Store.Path = filepath.Join(dir, "store")
			c.Bus.Vendor = "fs"
			c.Bus.Path = filepath.Join(dir, "bus")
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			srv, auditPath := newGateway(t, tc.mutate)
			server := httptest.NewServer(srv.Handler())
			defer server.Close()

			low := &gatekeeper.Response{}
			require.Equal(t, http.StatusOK, call(t, server, http.MethodPost, "/api/tools/check_payment_status", `{"arguments":{"beneficiary_id":"B-1"}}`, low))
			assert.False(t, low.Pending)
			assert.Equal(t, "Payment Status for B-1: Active. Last payment: $500 on 2023-10-01.", low.Text)

			high := &gatekeeper.Response{}
			require.Equal(t, http.StatusOK, call(t, server, http.MethodPost, "/api/tools/request_payment_extension",
				`{"arguments":{"beneficiary_id":"B-2","reason":"illness"},"context":{"user":"Alex"}}`, high))
			require.True(t, high.Pending)
			ref, ok := gatekeeper.ParseRef(high.Text)
			require.True(t, ok)

			var pending []map[string]interface{}
			require.Equal(t, http.StatusOK, call(t, server, http.MethodGet, "/api/approvals", "", &pending))
			require.Len(t, pending, 1)
			assert.Equal(t, ref, pending[0]["ref"])

			signal := map[string]string{}
			require.Equal(t, http.StatusOK, call(t, server, http.MethodPost, "/webhook/approval",
				`{"event_id":"`+ref+`","decision":"APPROVED","approver":"sarah"}`, &signal))
			assert.Equal(t, "Signal Sent", signal["status"])

			require.Eventually(t, func() bool {
				status := &gatekeeper.Response{}
				return call(t, server, http.MethodGet, "/api/runs/"+ref, "", status) == http.StatusOK && !status.Pending
			}, 3*time.Second, 10*time.Millisecond)

			status := &gatekeeper.Response{}
			call(t, server, http.MethodGet, "/api/runs/"+ref, "", status)
			assert.Equal(t, run.OutcomeApproved, status.Outcome)
			assert.Equal(t, "Payment extension granted for B-2.", status.Text)

			entries, err := audit.ReadFile(auditPath)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, audit.OutcomeExecuted, entries[0].FinalOutcome)
			assert.Equal(t, 10, entries[0].RiskScore)
			assert.Equal(t, ref, entries[1].RunID)
			assert.Equal(t, "sarah", entries[1].Approver)
			assert.Equal(t, 85, entries[1].RiskScore)
		})
	}
}

func TestService_New(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)

	config := DefaultConfig()
	config.Audit.Path = ""
	srv, err := New(config, WithTools(gatekeeper.WelfareTools()...))
	require.NoError(t, err)
	assert.Len(t, srv.Registry().Tools(), 3)
	assert.Equal(t, 70, srv.Policy().Threshold)
	assert.NotNil(t, srv.Engine())
	assert.NotNil(t, srv.Gatekeeper())
	assert.NotNil(t, srv.Approvals())
	assert.NotNil(t, srv.Store())
	assert.NotNil(t, srv.Bus())
	assert.NotNil(t, srv.Metrics())

	_, err = New(config, WithTools(gatekeeper.WelfareTools()[0], gatekeeper.WelfareTools()[0]))
	assert.Error(t, err)
}
