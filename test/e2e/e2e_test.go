//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
	"github.com/cloo-solutions/clauseqa/internal/lexical"
	"github.com/cloo-solutions/clauseqa/internal/repository"
	"github.com/cloo-solutions/clauseqa/internal/service"
)

type ingestPayload struct {
	Status string               `json:"status"`
	Result service.IngestResult `json:"result"`
}

func TestE2E_IngestAndQuery(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("health before ingest is degraded", func(t *testing.T) {
		resp, err := env.Get("/api/rag-health")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health handlers.HealthResponse
		require.NoError(t, json.Unmarshal(resp.Data, &health))
		assert.Equal(t, "degraded", health.Status)
		assert.Equal(t, "local", health.Mode)
	})

	t.Run("query before ingest has no information", func(t *testing.T) {
		resp, err := env.Post("/api/rag-query", handlers.QueryRequest{Query: "notice period"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var answer handlers.QueryResponse
		require.NoError(t, json.Unmarshal(resp.Data, &answer))
		assert.Equal(t, service.NoInformationAnswer, answer.Answer)
		assert.Empty(t, answer.Citations)
	})

	t.Run("ingest builds and persists every index", func(t *testing.T) {
		resp, err := env.Post("/api/rag-ingest", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Error)

		var payload ingestPayload
		require.NoError(t, json.Unmarshal(resp.Data, &payload))
		assert.Equal(t, "success", payload.Status)
		assert.Equal(t, 2, payload.Result.Documents)
		assert.Equal(t, 5, payload.Result.Pages)
		assert.Equal(t, 5, payload.Result.Chunks)
		assert.True(t, payload.Result.Lexical)
		assert.True(t, payload.Result.Embedded)
		assert.True(t, payload.Result.Mirrored)

		_, err = lexical.Load(env.IndexPath)
		require.NoError(t, err)

		_, err = env.S3Client.HeadObject(env.Ctx, service.DefaultArtifactKey)
		require.NoError(t, err)

		n, err := repository.NewChunkEmbeddingRepository(env.Pool).Count(env.Ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("query cites the termination clause", func(t *testing.T) {
		resp, err := env.Post("/api/rag-query", handlers.QueryRequest{Query: "How much notice is needed to terminate?", TopK: 3})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "lexical", resp.Header.Get("X-Retrieval-Tier"))

		var answer handlers.QueryResponse
		require.NoError(t, json.Unmarshal(resp.Data, &answer))
		require.NotEmpty(t, answer.Citations)
		assert.LessOrEqual(t, len(answer.Citations), 3)
		assert.Equal(t, "msa.txt", answer.Citations[0].S3Object)
		require.NotNil(t, answer.Citations[0].Page)
		assert.Equal(t, 2, *answer.Citations[0].Page)
		assert.Contains(t, answer.Answer, "thirty (30) days")
	})

	t.Run("query reads page json documents", func(t *testing.T) {
		resp, err := env.Post("/api/rag-query", handlers.QueryRequest{Query: "monthly rent"})
		require.NoError(t, err)

		var answer handlers.QueryResponse
		require.NoError(t, json.Unmarshal(resp.Data, &answer))
		require.NotEmpty(t, answer.Citations)
		assert.Equal(t, "lease.pages.json", answer.Citations[0].S3Object)
	})

	t.Run("invalid top_k is rejected", func(t *testing.T) {
		resp, err := env.Post("/api/rag-query", handlers.QueryRequest{Query: "rent", TopK: 50})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	})
}

func TestE2E_RestoreAfterRestart(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	resp, err := env.Post("/api/rag-ingest", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("from the mirror when the local artifact is gone", func(t *testing.T) {
		env.IndexPath = t.TempDir() + "/lexical.json.gz"
		provider := service.NewAtomicIndexProvider()

		result, err := env.NewIngestion(provider).Restore(env.Ctx, "")
		require.NoError(t, err)
		assert.Equal(t, service.SourceMirror, result.Source)
		assert.True(t, result.Embedded)
		assert.Equal(t, 5, provider.Current().Len())
	})

	t.Run("from the local artifact", func(t *testing.T) {
		provider := service.NewAtomicIndexProvider()

		result, err := env.NewIngestion(provider).Restore(env.Ctx, "")
		require.NoError(t, err)
		assert.Equal(t, service.SourceLocal, result.Source)
	})
}

func TestE2E_CLI(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()
	env.BuildBinaries()

	out, err := env.RunCLI("ingest")
	require.NoError(t, err, out)
	assert.Contains(t, out, "success: 2 documents, 5 pages, 5 chunks")

	out, err = env.RunCLI("ask", "when", "is", "rent", "payable?")
	require.NoError(t, err, out)
	assert.Contains(t, out, "lease.pages.json, page 2")
	assert.Contains(t, out, "(tier: lexical)")

	out, err = env.RunCLI("health")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Status: healthy")

	out, err = env.RunCLI("ask", "")
	assert.Error(t, err)
	assert.Contains(t, out, "400")
}
