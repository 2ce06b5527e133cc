// Package e2e drives the resolve API over HTTP with Gherkin scenarios.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	jwttoken "pseudonym/internal/jwt_token"
	"pseudonym/internal/platform/config"
	"pseudonym/internal/platform/metrics"
	"pseudonym/internal/platform/secrets"
	"pseudonym/internal/pseudonym/bootstrap"
	"pseudonym/internal/pseudonym/handler"
	ratelimit "pseudonym/internal/ratelimit/middleware"
	"pseudonym/internal/ratelimit/store/bucket"
)

const signingKey = "e2e-signing-key"

// TestContext holds one scenario's server and the last response.
type TestContext struct {
	dir     string
	server  *httptest.Server
	runtime *bootstrap.Runtime
	jwt     *jwttoken.JWTService

	accessToken  string
	lastStatus   int
	lastBody     []byte
	remembered   map[string]string
	secretKeyHex string
}

func NewTestContext() *TestContext {
	return &TestContext{remembered: make(map[string]string)}
}

// StartServer builds a population over generated word lists of the given
// sizes and serves the resolve API in process. A previous server in the
// same scenario is replaced; its key and record directory are kept so a
// restart reads the same records.
func (tc *TestContext) StartServer(ctx context.Context, population, first, middle, last, rateLimit int) error {
	if tc.dir == "" {
		dir, err := os.MkdirTemp("", "pseudonym-e2e-*")
		if err != nil {
			return err
		}
		tc.dir = dir
		key, err := secrets.Generate()
		if err != nil {
			return err
		}
		tc.secretKeyHex = key
	}
	tc.StopServer()

	cfg := config.Default()
	cfg.Population.SecretKey = tc.secretKeyHex
	cfg.Population.Size = population
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(tc.dir, "records.db")
	var err error
	if cfg.Words.First, err = writeWords(tc.dir, "first", "going", first); err != nil {
		return err
	}
	if cfg.Words.Middle, err = writeWords(tc.dir, "middle", "hue", middle); err != nil {
		return err
	}
	if cfg.Words.Last, err = writeWords(tc.dir, "last", "beast", last); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	rt, err := bootstrap.Open(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	tc.runtime = rt
	tc.jwt = jwttoken.NewJWTService(signingKey, cfg.Server.JWTIssuer, jwttoken.Audience)

	limiter := ratelimit.New(bucket.NewInMemoryBucketStore(), rateLimit, logger)
	h := handler.New(rt.Population, logger, metrics.New(reg), jwttoken.NewJWTServiceAdapter(tc.jwt),
		handler.WithRateLimit(limiter.RateLimitClient()),
	)
	router := chi.NewRouter()
	h.Register(router)
	tc.server = httptest.NewServer(router)
	return nil
}

func (tc *TestContext) StopServer() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.runtime != nil {
		_ = tc.runtime.Close()
		tc.runtime = nil
	}
}

// Reset releases the scenario's server and files.
func (tc *TestContext) Reset() {
	tc.StopServer()
	if tc.dir != "" {
		_ = os.RemoveAll(tc.dir)
	}
	*tc = *NewTestContext()
}

func writeWords(dir, name, stem string, n int) (string, error) {
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "%s%c%c%c\n", stem, 'a'+i/676%26, 'a'+i/26%26, 'a'+i%26)
	}
	path := filepath.Join(dir, name+".txt")
	return path, os.WriteFile(path, []byte(b.String()), 0o600)
}

// IssueToken signs an access token for clientID.
func (tc *TestContext) IssueToken(clientID string, ttl time.Duration) error {
	token, err := tc.jwt.GenerateAccessToken("e2e-"+clientID, clientID, ttl)
	if err != nil {
		return err
	}
	tc.accessToken = token
	return nil
}

func (tc *TestContext) ClearToken() {
	tc.accessToken = ""
}

func (tc *TestContext) SetToken(token string) {
	tc.accessToken = token
}

// POST sends body as JSON with the current token, if any.
func (tc *TestContext) POST(path string, body any) error {
	if tc.server == nil {
		return fmt.Errorf("server not started")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) GetLastStatusCode() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	value, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return value, nil
}

func (tc *TestContext) Remember(name, value string) {
	tc.remembered[name] = value
}

func (tc *TestContext) Recall(name string) (string, bool) {
	value, ok := tc.remembered[name]
	return value, ok
}
