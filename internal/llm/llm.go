// Package llm holds the AI backends used to detect events in a Statement
// of Facts.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured is returned when a backend is missing its credentials or endpoint.
	ErrNotConfigured = errors.New("ai backend not configured")
	// ErrUnsupportedDocument is returned when a backend cannot read the document type.
	ErrUnsupportedDocument = errors.New("document type not supported by backend")
)

const maxAttempts = 3

// GenerateRequest is one detection call. Document may be empty for
// prompt-only calls.
type GenerateRequest struct {
	Prompt   string
	Document []byte
	MIMEType string
	// Heavy selects the slower, stronger model (photographed documents).
	Heavy bool
}

// Generator is an AI backend that answers with JSON text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	HealthCheck(ctx context.Context) error
	Name() string
}

// NewLimiter spaces calls evenly at perMinute. Zero or less means unlimited.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// retry runs call up to three times, waiting on the limiter before each
// attempt and backing off exponentially (base, 2*base) between them.
func retry(ctx context.Context, limiter *rate.Limiter, base time.Duration, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := base * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}

		response, err := call(ctx)
		if err == nil {
			return response, nil
		}
		if errors.Is(err, ErrUnsupportedDocument) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}
