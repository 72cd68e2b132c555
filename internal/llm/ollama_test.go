package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOllamaClient(srv.URL+"/", "llama3", 0)
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func TestNewOllamaClient(t *testing.T) {
	c, err := NewOllamaClient("http://localhost:11434/", "llama3", 30)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", c.baseURL)
	assert.Equal(t, "llama3", c.model)
	assert.Equal(t, "ollama", c.Name())

	_, err = NewOllamaClient("", "llama3", 30)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewOllamaClient("http://localhost:11434", "", 30)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaRequest
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: "llama3", Response: `{"events":[]}`, Done: true})
	})

	out, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:   "find events",
		Document: []byte("Pilot on board 09:20"),
		MIMEType: "text/plain; charset=utf-8",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"events":[]}`, out)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Contains(t, got.Prompt, "find events")
	assert.Contains(t, got.Prompt, "Pilot on board 09:20")
}

func TestOllamaRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "{}"})
	})

	out, err := c.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaRejectsBinaryDocuments(t *testing.T) {
	var calls atomic.Int32
	c := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:   "p",
		Document: []byte("%PDF-1.7"),
		MIMEType: "application/pdf",
	})
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
	assert.Zero(t, calls.Load())
}

func TestOllamaHealthCheck(t *testing.T) {
	healthy := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, healthy.HealthCheck(context.Background()))

	down := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.Error(t, down.HealthCheck(context.Background()))
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retry(ctx, NewLimiter(0), time.Hour, func(context.Context) (string, error) {
		calls++
		cancel()
		return "", assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, NewLimiter(0).Limit())
	assert.InDelta(t, 0.5, float64(NewLimiter(30).Limit()), 1e-9)
}
