//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/clauseqa/internal/api/handlers"
	"github.com/cloo-solutions/clauseqa/internal/dense"
	"github.com/cloo-solutions/clauseqa/internal/lexical"
	"github.com/cloo-solutions/clauseqa/internal/repository"
	"github.com/cloo-solutions/clauseqa/internal/server"
	"github.com/cloo-solutions/clauseqa/internal/service"
	"github.com/cloo-solutions/clauseqa/internal/storage"
	"github.com/cloo-solutions/clauseqa/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	S3Client     *storage.S3Client
	CorpusDir    string
	IndexPath    string
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and RustFS, writes a small contract corpus and
// serves the API against them.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "clauseqa-e2e",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		CorpusDir:  t.TempDir(),
		IndexPath:  filepath.Join(t.TempDir(), "lexical.json.gz"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.WriteCorpus()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	env.ServerURL, env.ServerCloser = env.startServer(port)

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// WriteCorpus writes two contracts: a form-feed separated text file and a page JSON file.
func (e *E2ETestEnv) WriteCorpus() {
	msa := strings.Join([]string{
		"MASTER SERVICES AGREEMENT. This agreement is entered into between Acme Corporation and Globex Limited for the provision of consulting services.",
		"Termination. Either party may terminate this Agreement upon thirty (30) days prior written notice to the other party.",
		"Payment. The Customer shall pay all undisputed invoices within forty-five (45) days of receipt.",
	}, "\f")
	e.writeFile("msa.txt", msa)

	lease, _ := json.Marshal([]map[string]any{
		{"page": 1, "text": "COMMERCIAL LEASE. The landlord leases the premises at 12 Harbour Street to the tenant for a term of five years."},
		{"page": 2, "text": "Rent. The tenant shall pay monthly rent of four thousand euros in advance on the first business day of each month."},
	})
	e.writeFile("lease.pages.json", string(lease))
}

func (e *E2ETestEnv) writeFile(name, content string) {
	if err := os.WriteFile(filepath.Join(e.CorpusDir, name), []byte(content), 0o644); err != nil {
		e.T.Fatalf("failed to write %s: %v", name, err)
	}
}

// BuildBinaries compiles the clauseqa CLI for black-box tests.
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "clauseqa-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "clauseqa"), "./cmd/clauseqa")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build clauseqa: %v\n%s", err, out)
	}
}

// RunCLI runs the clauseqa binary against the test server.
func (e *E2ETestEnv) RunCLI(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "clauseqa"), append([]string{"--api-url", e.ServerURL}, args...)...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	StatusCode int
	Header     http.Header
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

func (e *E2ETestEnv) Post(path string, body any) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

func (e *E2ETestEnv) doRequest(method, path string, body any) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{StatusCode: resp.StatusCode, Header: resp.Header}
	if err := json.Unmarshal(raw, apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (%d): %s", resp.StatusCode, raw)
	}
	return apiResp, nil
}

// NewIngestion wires an ingestion service to the environment's backends.
func (e *E2ETestEnv) NewIngestion(provider service.IndexProvider) *service.IngestionService {
	return service.NewIngestionService(provider, service.IngestionDeps{
		Embedder:   lengthEmbedder{},
		Embeddings: repository.NewChunkEmbeddingRepository(e.Pool),
		Mirror:     e.S3Client,
	}, service.IngestionConfig{
		IndexPath: e.IndexPath,
		Dense:     dense.BuildOptions{Model: "length-3"},
	})
}

func (e *E2ETestEnv) startServer(port int) (string, func()) {
	provider := service.NewAtomicIndexProvider()
	ingestion := e.NewIngestion(provider)

	orch := service.NewOrchestrator([]service.Tier{
		service.NewLexicalTier(provider, lexical.DefaultMinScore),
		service.NewKeywordTier(provider),
	}, service.NewSynthesizer(nil, service.SynthesizerConfig{}), service.OrchestratorConfig{})

	rag := handlers.NewRAGHandler(orch, ingestion, provider, e.CorpusDir, handlers.HealthInfo{})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.NewRouter(server.RouterConfig{RAGHandler: rag}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// lengthEmbedder stands in for an embedding service so that ingestion
// persists vectors to Postgres.
type lengthEmbedder struct{}

func (lengthEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		n := float64(len(text))
		norm := math.Sqrt(n*n + 1)
		out[i] = []float32{float32(n / norm), float32(1 / norm), 0}
	}
	return out, nil
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
