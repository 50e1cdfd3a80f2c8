// Package oracle wraps the generative models used for term extraction and
// synonym arbitration behind one small interface, plus the admission,
// retry and tracing decorators composed around it.
package oracle

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrSafetyBlocked is terminal: the provider refused the prompt or the answer.
	ErrSafetyBlocked = errors.New("oracle reply blocked by safety filter")
	// ErrUnavailable covers network, timeout and provider transport failures.
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrAdmissionDenied means the usage limiter refused the call; the provider was not contacted.
	ErrAdmissionDenied = errors.New("oracle call denied by admission control")
	// ErrMalformedReply means no usable JSON object could be found in the reply text.
	ErrMalformedReply = errors.New("oracle reply malformed")
)

const systemPrompt = "Tu es un expert en terminologie médicale SNOMED CT. Réponds uniquement avec du JSON strict, sans texte autour."

type Reply struct {
	Text       string `json:"text"`
	Model      string `json:"model,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Oracle implementations must be safe for concurrent use.
type Oracle interface {
	Generate(ctx context.Context, prompt string) (Reply, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, prompt string) (Reply, error)

func (f Func) Generate(ctx context.Context, prompt string) (Reply, error) {
	return f(ctx, prompt)
}

// Admission is consulted before every provider call and told about every call issued.
type Admission interface {
	CanProceed(ctx context.Context) (bool, string)
	RecordCall(ctx context.Context, cost float64) error
}

// GenerationSettings are passed to the provider on every call.
type GenerationSettings struct {
	Temperature     float32 `yaml:"temperature"`
	TopP            float32 `yaml:"top_p"`
	TopK            float32 `yaml:"top_k"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Temperature:     0.3,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 8192,
	}
}

type options struct {
	log      *zap.Logger
	settings GenerationSettings
	system   string
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithGenerationSettings(s GenerationSettings) Option {
	return func(o *options) { o.settings = s }
}

func WithSystemPrompt(s string) Option {
	return func(o *options) { o.system = s }
}

func buildOptions(opts []Option) options {
	o := options{
		log:      zap.NewNop(),
		settings: DefaultGenerationSettings(),
		system:   systemPrompt,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
