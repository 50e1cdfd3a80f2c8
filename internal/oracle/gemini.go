package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiModels is the subset of *genai.Models used here.
type GeminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiOracle struct {
	models GeminiModels
	model  string
	opts   options
}

func NewGeminiOracle(ctx context.Context, apiKey, model string, opts ...Option) (*GeminiOracle, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiOracle(client.Models, model, opts...), nil
}

func newGeminiOracle(models GeminiModels, model string, opts ...Option) *GeminiOracle {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiOracle{models: models, model: model, opts: buildOptions(opts)}
}

func (g *GeminiOracle) Generate(ctx context.Context, prompt string) (Reply, error) {
	st := g.opts.settings
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.opts.system, genai.RoleUser),
		Temperature:       genai.Ptr(st.Temperature),
		TopP:              genai.Ptr(st.TopP),
		TopK:              genai.Ptr(st.TopK),
		MaxOutputTokens:   st.MaxOutputTokens,
		ResponseMIMEType:  "application/json",
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: gemini: %w", ErrUnavailable, err)
	}
	reply := Reply{Model: g.model}
	if resp.ModelVersion != "" {
		reply.Model = resp.ModelVersion
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		reply.StopReason = string(fb.BlockReason)
		return reply, fmt.Errorf("%w: gemini prompt blocked (%s)", ErrSafetyBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return reply, fmt.Errorf("%w: gemini returned no candidates", ErrMalformedReply)
	}
	reason := resp.Candidates[0].FinishReason
	reply.StopReason = string(reason)
	switch reason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		return reply, fmt.Errorf("%w: gemini finish reason %s", ErrSafetyBlocked, reason)
	}
	reply.Text = resp.Text()
	return reply, nil
}
