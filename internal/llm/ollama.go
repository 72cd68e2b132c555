package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OllamaClient talks to a local Ollama server. It can only read plain-text
// documents; binaries are rejected with ErrUnsupportedDocument.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    time.Duration
}

// NewOllamaClient creates a client for baseURL using model for every call.
func NewOllamaClient(baseURL, model string, perMinute int) (*OllamaClient, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("ollama needs a url and a model: %w", ErrNotConfigured)
	}
	return &OllamaClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: NewLimiter(perMinute),
		backoff: time.Second,
	}, nil
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *OllamaClient) Name() string { return "ollama" }

// Generate appends the document text to the prompt and asks for JSON output.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := req.Prompt
	if len(req.Document) > 0 {
		if !strings.HasPrefix(req.MIMEType, "text/") {
			return "", fmt.Errorf("ollama cannot read %s: %w", req.MIMEType, ErrUnsupportedDocument)
		}
		prompt += "\n\nDOCUMENT:\n" + string(req.Document)
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	return retry(ctx, c.limiter, c.backoff, func(ctx context.Context) (string, error) {
		return c.doGenerate(ctx, body)
	})
}

func (c *OllamaClient) doGenerate(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return genResp.Response, nil
}

// HealthCheck checks if Ollama is reachable
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("connecting to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	return nil
}
