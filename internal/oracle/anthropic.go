package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicOracle struct {
	messages AnthropicMessager
	model    string
	opts     options
}

func NewAnthropicOracle(apiKey, model string, opts ...Option) (*AnthropicOracle, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	return newAnthropicOracle(newAnthropicClient(apiKey), model, opts...), nil
}

func newAnthropicOracle(messages AnthropicMessager, model string, opts ...Option) *AnthropicOracle {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicOracle{messages: messages, model: model, opts: buildOptions(opts)}
}

func (a *AnthropicOracle) Generate(ctx context.Context, prompt string) (Reply, error) {
	st := a.opts.settings
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(st.MaxOutputTokens),
		System:      []anthropic.TextBlockParam{{Text: a.opts.system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(float64(st.Temperature)),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("%w: anthropic: %w", ErrUnavailable, err)
	}
	reply := Reply{Model: string(resp.Model), StopReason: string(resp.StopReason)}
	if reply.StopReason == "refusal" {
		return reply, fmt.Errorf("%w: anthropic stop reason %q", ErrSafetyBlocked, reply.StopReason)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	reply.Text = sb.String()
	return reply, nil
}
