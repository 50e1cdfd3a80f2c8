package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type gated struct {
	next      Oracle
	admission Admission
	cost      float64
	log       *zap.Logger
}

// Gate asks admission before every call and records each call actually issued,
// whether or not the provider answered successfully.
func Gate(o Oracle, admission Admission, cost float64, opts ...Option) Oracle {
	if admission == nil {
		return o
	}
	return &gated{next: o, admission: admission, cost: cost, log: buildOptions(opts).log}
}

func (g *gated) Generate(ctx context.Context, prompt string) (Reply, error) {
	if ok, reason := g.admission.CanProceed(ctx); !ok {
		g.log.Warn("oracle call denied", zap.String("reason", reason))
		return Reply{}, fmt.Errorf("%w: %s", ErrAdmissionDenied, reason)
	}
	reply, err := g.next.Generate(ctx, prompt)
	if recErr := g.admission.RecordCall(context.WithoutCancel(ctx), g.cost); recErr != nil {
		g.log.Error("usage record failed", zap.Error(recErr))
	}
	return reply, err
}
