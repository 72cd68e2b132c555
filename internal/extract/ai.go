package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/portops/sof-server/internal/llm"
	"github.com/portops/sof-server/internal/models"
)

// ErrMalformedResponse means the backend answered with something that is not
// an extraction.
var ErrMalformedResponse = errors.New("malformed detector response")

// AIDetector asks an llm.Generator to read the document.
type AIDetector struct {
	gen    llm.Generator
	logger zerolog.Logger
}

func NewAIDetector(gen llm.Generator, logger zerolog.Logger) *AIDetector {
	return &AIDetector{gen: gen, logger: logger}
}

// Detect sends the whole document with the detection prompt. Photo mode
// selects the backend's heavier model.
func (d *AIDetector) Detect(ctx context.Context, doc Document) (*models.Extraction, error) {
	response, err := d.gen.Generate(ctx, llm.GenerateRequest{
		Prompt:   detectionPrompt,
		Document: doc.Data,
		MIMEType: doc.MIMEType,
		Heavy:    doc.Mode == models.ModePhoto,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting events with %s: %w", d.gen.Name(), err)
	}

	ext, err := decodeExtraction(response)
	if err != nil {
		d.logger.Warn().
			Str("backend", d.gen.Name()).
			Str("file", doc.Filename).
			Int("response_bytes", len(response)).
			Msg("unreadable detector response")
		return nil, err
	}

	d.logger.Debug().
		Str("backend", d.gen.Name()).
		Str("file", doc.Filename).
		Int("events", len(ext.Events)).
		Msg("events detected")
	return ext, nil
}

// decodeExtraction tolerates a markdown code fence around the JSON.
func decodeExtraction(response string) (*models.Extraction, error) {
	body := strings.TrimSpace(response)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var ext models.Extraction
	if err := json.Unmarshal([]byte(body), &ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	events := ext.Events[:0]
	for _, ev := range ext.Events {
		ev.Name = strings.TrimSpace(ev.Name)
		if ev.Name == "" {
			continue
		}
		events = append(events, ev)
	}
	ext.Events = events
	if ext.Events == nil {
		ext.Events = []models.RawCandidate{}
	}
	return &ext, nil
}
