package requirements

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

const extractionPrompt = `Extract project scaffolding requirements from the request below.
Respond with a single JSON object and nothing else, using this shape:
{"name": "", "language": "", "framework": "", "runtime": "", "features": {"database": false, "docker": false, "auth": false, "sbom": false, "rest": false, "cli": false}}

Request:
%s`

// CompletionExtractor asks a language model to extract requirements,
// falling back to heuristics when the model is unavailable or returns
// something unusable.
type CompletionExtractor struct {
	model    llms.Model
	fallback Extractor
	logger   *zap.Logger
}

// NewCompletionExtractor creates an extractor backed by the given model.
func NewCompletionExtractor(model llms.Model, fallback Extractor, logger *zap.Logger) *CompletionExtractor {
	if fallback == nil {
		fallback = NewHeuristicExtractor()
	}
	return &CompletionExtractor{model: model, fallback: fallback, logger: logger}
}

// Extract calls the completion model and parses its JSON reply.
func (e *CompletionExtractor) Extract(ctx context.Context, text string) (ProjectRequirements, error) {
	if e.model == nil {
		return e.fallback.Extract(ctx, text)
	}

	reply, err := llms.GenerateFromSinglePrompt(ctx, e.model, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		e.logger.Warn("completion extraction failed, falling back to heuristics", zap.Error(err))
		return e.fallback.Extract(ctx, text)
	}

	req, err := parseExtraction(reply, text)
	if err != nil {
		e.logger.Warn("completion returned unusable extraction, falling back to heuristics", zap.Error(err))
		return e.fallback.Extract(ctx, text)
	}
	return req, nil
}

// parseExtraction decodes the model reply, tolerating markdown code fences.
func parseExtraction(reply, original string) (ProjectRequirements, error) {
	reply = strings.TrimSpace(reply)
	if start := strings.Index(reply, "{"); start >= 0 {
		if end := strings.LastIndex(reply, "}"); end > start {
			reply = reply[start : end+1]
		}
	}

	var req ProjectRequirements
	if err := json.Unmarshal([]byte(reply), &req); err != nil {
		return ProjectRequirements{}, fmt.Errorf("failed to decode extraction: %w", err)
	}
	req.Name = NormalizeName(req.Name)
	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	req.Framework = strings.ToLower(strings.TrimSpace(req.Framework))
	req.Description = strings.TrimSpace(original)
	if req.Features == nil {
		req.Features = map[string]bool{}
	}
	if err := req.Validate(); err != nil {
		return ProjectRequirements{}, err
	}
	return req, nil
}
