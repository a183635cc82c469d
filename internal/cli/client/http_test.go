package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
)

func TestAPIClient_Post(t *testing.T) {
	var got handlers.QueryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/rag-query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data":{"answer":"Thirty days.","citations":[],"tier_used":"lexical"}}`))
	}))
	defer srv.Close()

	api := NewAPIClientWithConfig(srv.URL+"/", time.Second)
	resp, err := api.Post("/api/rag-query", handlers.QueryRequest{Query: "notice period", TopK: 2})
	require.NoError(t, err)

	assert.Equal(t, "notice period", got.Query)
	assert.Equal(t, 2, got.TopK)

	var answer handlers.QueryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &answer))
	assert.Equal(t, "Thirty days.", answer.Answer)
}

func TestAPIClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"json error", http.StatusServiceUnavailable, `{"error":"no retrieval tier could answer the query","code":"NO_TIER_AVAILABLE"}`, "NO_TIER_AVAILABLE", "no retrieval tier could answer the query"},
		{"plain text error", http.StatusBadGateway, "bad gateway", "", "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewAPIClientWithConfig(srv.URL, time.Second).Get("/api/rag-health")

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestNewAPIClientWithCmd_EnvFallback(t *testing.T) {
	t.Setenv(envAPIURL, "http://clauseqa.internal:9000")
	api := NewAPIClientWithCmd(nil)
	assert.Equal(t, "http://clauseqa.internal:9000", api.baseURL)

	t.Setenv(envAPIURL, "")
	api = NewAPIClientWithCmd(nil)
	assert.Equal(t, defaultAPIURL, api.baseURL)
}

func TestPrintAnswer(t *testing.T) {
	page := 12
	var buf bytes.Buffer
	printAnswer(&buf, &handlers.QueryResponse{
		Answer:   "Rent is due on the first of the month.",
		TierUsed: "keyword",
		Citations: []handlers.CitationResponse{
			{S3Object: "lease.pdf", Page: &page, Snippet: "Rent shall be paid on the first day of each month."},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Rent is due on the first of the month.")
	assert.Contains(t, out, "(tier: keyword)")
	assert.Contains(t, out, "1. lease.pdf, page 12")
	assert.Contains(t, out, "Rent shall be paid")
}

func TestRunIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		assert.Equal(t, "/api/rag-ingest", r.URL.Path)
		w.Write([]byte(`{"data":{"status":"success","result":{"documents":2,"pages":5,"chunks":9}}}`))
	}))
	defer srv.Close()

	require.NoError(t, runIngest(NewAPIClientWithConfig(srv.URL, time.Second), true))
}
