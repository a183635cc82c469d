package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/clauseqa/internal/api"
	"github.com/cloo-solutions/clauseqa/internal/api/middleware"
	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/service"
)

// MaxTopK caps the number of passages a client may request.
const MaxTopK = 20

// QueryService answers questions and reports tier availability.
type QueryService interface {
	Query(ctx context.Context, in service.QueryInput) (*domain.QueryOutcome, error)
	Status() []service.TierStatus
}

// IngestService rebuilds the indexes from a corpus directory.
type IngestService interface {
	Ingest(ctx context.Context, dir string) (*service.IngestResult, error)
	Running() bool
	LastResult() *service.IngestResult
}

// HealthInfo is static deployment information reported by the health endpoint.
type HealthInfo struct {
	Region       string
	Model        string
	ManagedKBID  string
	GenerationOn bool
}

// RAGHandler serves the query, health and ingest endpoints.
type RAGHandler struct {
	query     QueryService
	ingest    IngestService
	provider  service.IndexProvider
	corpusDir string
	info      HealthInfo
}

// NewRAGHandler creates a RAGHandler. ingest may be nil when ingestion is not exposed.
func NewRAGHandler(query QueryService, ingest IngestService, provider service.IndexProvider, corpusDir string, info HealthInfo) *RAGHandler {
	return &RAGHandler{query: query, ingest: ingest, provider: provider, corpusDir: corpusDir, info: info}
}

// QueryRequest is the body of POST /api/rag-query. TopK 0 uses the configured default.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// CitationResponse is one cited passage.
type CitationResponse struct {
	S3Object    string         `json:"s3_object,omitempty"`
	Page        *int           `json:"page,omitempty"`
	Snippet     string         `json:"snippet"`
	Confidence  *float64       `json:"confidence,omitempty"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
}

// QueryResponse is the answer with its citations and the tier that served it.
type QueryResponse struct {
	Answer    string               `json:"answer"`
	Reasoning string               `json:"reasoning,omitempty"`
	Citations []CitationResponse   `json:"citations"`
	TierUsed  domain.Tier          `json:"tier_used"`
	Attempts  []domain.TierAttempt `json:"attempts,omitempty"`
	Raw       map[string]any       `json:"raw_response,omitempty"`
}

// IndexStats describes the published snapshot.
type IndexStats struct {
	Chunks     int       `json:"chunks"`
	Vocabulary int       `json:"vocabulary"`
	Embedded   bool      `json:"embedded"`
	Source     string    `json:"source,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

// HealthResponse is the body of GET /api/rag-health.
type HealthResponse struct {
	Status          string                `json:"status"`
	Mode            string                `json:"mode"`
	KnowledgeBaseID string                `json:"knowledge_base_id,omitempty"`
	Region          string                `json:"region,omitempty"`
	Model           string                `json:"model,omitempty"`
	Generation      bool                  `json:"generation"`
	Tiers           []service.TierStatus  `json:"tiers"`
	Index           IndexStats            `json:"index"`
	IngestRunning   bool                  `json:"ingest_running"`
	LastIngest      *service.IngestResult `json:"last_ingest,omitempty"`
}

// Query answers a question about the indexed contracts.
func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			api.HandleError(w, domain.ErrEmptyQuery)
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		api.HandleError(w, domain.ErrEmptyQuery)
		return
	}
	if req.TopK < 0 || req.TopK > MaxTopK {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "top_k must be between 1 and 20"))
		return
	}

	outcome, err := h.query.Query(r.Context(), service.QueryInput{Query: req.Query, TopK: req.TopK})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	w.Header().Set(middleware.TierUsedHeader, string(outcome.TierUsed))
	api.Success(w, http.StatusOK, toQueryResponse(outcome))
}

func toQueryResponse(o *domain.QueryOutcome) *QueryResponse {
	citations := make([]CitationResponse, 0, len(o.Citations))
	for _, c := range o.Citations {
		citations = append(citations, CitationResponse{
			S3Object:    c.SourceID,
			Page:        c.Page,
			Snippet:     c.Snippet,
			Confidence:  c.Confidence,
			RawMetadata: c.RawMetadata,
		})
	}
	return &QueryResponse{
		Answer:    o.Answer,
		Reasoning: o.Reasoning,
		Citations: citations,
		TierUsed:  o.TierUsed,
		Attempts:  o.Attempts,
		Raw: map[string]any{
			"source":            string(o.TierUsed),
			"chunks_considered": len(o.Citations),
		},
	}
}

// Health reports configured tiers and index statistics without calling any backend.
func (h *RAGHandler) Health(w http.ResponseWriter, r *http.Request) {
	mode := "local"
	if h.info.ManagedKBID != "" {
		mode = "managed"
	}

	resp := HealthResponse{
		Status:          "healthy",
		Mode:            mode,
		KnowledgeBaseID: maskID(h.info.ManagedKBID),
		Region:          h.info.Region,
		Model:           h.info.Model,
		Generation:      h.info.GenerationOn,
		Tiers:           h.query.Status(),
	}

	if snap := h.provider.Current(); snap != nil {
		resp.Index = IndexStats{
			Chunks:     snap.Len(),
			Vocabulary: snap.Lexical.VocabularySize(),
			Embedded:   snap.Dense != nil,
			Source:     snap.Source,
			BuiltAt:    snap.BuiltAt,
		}
	} else {
		resp.Status = "degraded"
	}
	if h.ingest != nil {
		resp.IngestRunning = h.ingest.Running()
		resp.LastIngest = h.ingest.LastResult()
	}

	api.Success(w, http.StatusOK, resp)
}

// Ingest rebuilds the indexes from the configured corpus directory.
func (h *RAGHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil || h.corpusDir == "" {
		api.HandleError(w, domain.NewConfigurationError("no corpus directory configured", nil))
		return
	}

	result, err := h.ingest.Ingest(r.Context(), h.corpusDir)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := "success"
	if result.Chunks == 0 {
		status = "warning"
	}
	api.Success(w, http.StatusOK, map[string]any{
		"status": status,
		"result": result,
	})
}

// maskID shortens a knowledge base id for display.
func maskID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10] + "..."
}
