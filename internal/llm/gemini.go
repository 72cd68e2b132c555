package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiClient sends documents inline to the Gemini API. The text model
// handles born-digital documents, the photo model scanned ones.
type GeminiClient struct {
	client     *genai.Client
	textModel  string
	photoModel string
	limiter    *rate.Limiter
	backoff    time.Duration
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey, textModel, photoModel string, perMinute int) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty: %w", ErrNotConfigured)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		textModel:  textModel,
		photoModel: photoModel,
		limiter:    NewLimiter(perMinute),
		backoff:    time.Second,
	}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) model(heavy bool) string {
	if heavy {
		return c.photoModel
	}
	return c.textModel
}

// Generate sends the document and prompt as a single user turn and asks for
// a JSON response.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var parts []*genai.Part
	if len(req.Document) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Document, req.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}
	model := c.model(req.Heavy)

	return retry(ctx, c.limiter, c.backoff, func(ctx context.Context) (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return "", fmt.Errorf("generating with %s: %w", model, err)
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", fmt.Errorf("%s returned an empty response", model)
		}
		return text, nil
	})
}

// HealthCheck fetches the text model's metadata.
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.textModel, &genai.GetModelConfig{}); err != nil {
		return fmt.Errorf("fetching model %s: %w", c.textModel, err)
	}
	return nil
}
