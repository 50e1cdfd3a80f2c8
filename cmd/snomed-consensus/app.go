package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/config"
	"github.com/joelkehle/snomed-consensus/internal/consensus"
	"github.com/joelkehle/snomed-consensus/internal/extraction"
	"github.com/joelkehle/snomed-consensus/internal/oracle"
	"github.com/joelkehle/snomed-consensus/internal/terminology"
	"github.com/joelkehle/snomed-consensus/internal/usage"
)

// app holds the collaborators shared by extract and serve.
type app struct {
	store    *terminology.Store
	limiter  *usage.Limiter
	oracle   oracle.Oracle
	pipeline *consensus.Pipeline
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &app{}

	opts := cfg.TerminologyOptions()
	opts.Logger = log
	a.store = terminology.NewStore(opts)

	var admission oracle.Admission
	if !cfg.Usage.Disabled && cfg.Oracle.Provider != config.ProviderNone {
		l, err := usage.Open(cfg.Usage.DBPath, cfg.Usage.Limits, usage.WithLogger(log.Named("usage")))
		if err != nil {
			return nil, fmt.Errorf("open usage store: %w", err)
		}
		a.limiter = l
		admission = l
		lim := l.Limits()
		log.Debug("usage limits active",
			zap.String("db", cfg.Usage.DBPath),
			zap.Int("daily_calls", lim.Daily),
			zap.Int("hourly_calls", lim.Hourly),
			zap.Float64("max_daily_cost", lim.MaxDailyCost))
	}

	o, err := newOracle(ctx, cfg, admission, log.Named("oracle"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.oracle = o

	a.pipeline = consensus.NewPipeline(a.store, extraction.NewExtractor(o, log.Named("extraction")), o, consensus.Options{
		RunTimeout: cfg.Consensus.RunTimeout,
		Fusion:     cfg.FusionPolicy(),
		Thresholds: cfg.Consensus.Thresholds,
		Logger:     log.Named("consensus"),
		Tracer:     tracer,
	})
	return a, nil
}

func (a *app) close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
}

var errNoOracle = errors.New("no oracle configured")

// newOracle builds provider -> recorder -> admission gate -> retry -> tracing.
// The gate sits inside the retry loop so every attempt is admitted and counted.
func newOracle(ctx context.Context, cfg config.Config, admission oracle.Admission, log *zap.Logger) (oracle.Oracle, error) {
	oc := cfg.Oracle
	opts := []oracle.Option{oracle.WithLogger(log), oracle.WithGenerationSettings(oc.Generation)}
	if oc.SystemPrompt != "" {
		opts = append(opts, oracle.WithSystemPrompt(oc.SystemPrompt))
	}

	var base oracle.Oracle
	switch oc.Provider {
	case config.ProviderGemini:
		model := oc.Model
		if model == "" {
			model = oracle.DefaultGeminiModel
		}
		g, err := oracle.NewGeminiOracle(ctx, oc.APIKey, model, opts...)
		if err != nil {
			return nil, err
		}
		base = g
	case config.ProviderAnthropic:
		model := oc.Model
		if model == "" {
			model = oracle.DefaultAnthropicModel
		}
		an, err := oracle.NewAnthropicOracle(oc.APIKey, model, opts...)
		if err != nil {
			return nil, err
		}
		base = an
	case config.ProviderReplay:
		base = oracle.NewReplay(oc.ReplayDir)
	case config.ProviderNone:
		return oracle.Func(func(context.Context, string) (oracle.Reply, error) {
			return oracle.Reply{}, fmt.Errorf("%w: %w", oracle.ErrUnavailable, errNoOracle)
		}), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", oc.Provider)
	}

	if oc.RecordDir != "" && oc.Provider != config.ProviderReplay {
		rec, err := oracle.NewRecorder(base, oc.RecordDir)
		if err != nil {
			return nil, err
		}
		base = rec
	}
	o := oracle.Gate(base, admission, cfg.Usage.Limits.CostPerCall, opts...)
	o = oracle.WithRetry(o, oc.Retry, opts...)
	return oracle.Traced(o, tracer, oc.Provider), nil
}
