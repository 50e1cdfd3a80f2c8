package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
	"github.com/joelkehle/snomed-consensus/internal/oracle"
)

const DefaultRunTimeout = 180 * time.Second

// CandidateExtractor performs one extraction run.
type CandidateExtractor interface {
	Extract(ctx context.Context, note string) ([]extraction.Candidate, error)
}

type StageProgressFn func(stage, message string)

type Request struct {
	NoteText string `json:"note_text"`
	// Runs defaults to DefaultRuns and is capped at MaxRuns.
	Runs int `json:"runs,omitempty"`
}

type Options struct {
	RunTimeout time.Duration
	Fusion     FusionPolicy
	Thresholds Thresholds
	Rules      []PrefixRule
	Logger     *zap.Logger
	Tracer     trace.Tracer
	// Now is used for stats timestamps; defaults to time.Now.
	Now func() time.Time
}

type Pipeline struct {
	store       Terminology
	extractor   CandidateExtractor
	validator   *Validator
	filter      *CoherenceFilter
	categorizer *Categorizer
	opts        Options
	log         *zap.Logger
	tracer      trace.Tracer
}

// NewPipeline wires the stages. arbiter may be the same oracle as the one behind
// extractor, or nil to reject every ambiguous pair.
func NewPipeline(store Terminology, extractor CandidateExtractor, arbiter oracle.Oracle, opts Options) *Pipeline {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Fusion == "" {
		opts.Fusion = FuseCompletionOrder
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/joelkehle/snomed-consensus/internal/consensus")
	}
	var h Hierarchy
	if hs, ok := store.(Hierarchy); ok {
		h = hs
	}
	return &Pipeline{
		store:       store,
		extractor:   extractor,
		validator:   NewValidator(store, log.Named("validator")),
		filter:      NewCoherenceFilter(arbiter, opts.Thresholds, log.Named("coherence")),
		categorizer: NewCategorizer(h, opts.Rules),
		opts:        opts,
		log:         log,
		tracer:      tracer,
	}
}

func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	return p.RunWithProgress(ctx, req, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, req Request, progress StageProgressFn) (Result, error) {
	res := Result{RequestID: uuid.NewString()}
	res.Stats.StartedAt = p.opts.Now()
	res.Stats.FusionPolicy = string(p.opts.Fusion)

	note, truncated := extraction.PrepareNote(req.NoteText)
	if note == "" {
		return res, ErrEmptyNote
	}
	res.Stats.NoteTruncated = truncated
	runs := req.Runs
	if runs <= 0 {
		runs = DefaultRuns
	}
	runs = min(runs, MaxRuns)
	res.Stats.RunsRequested = runs

	ctx, span := p.tracer.Start(ctx, "consensus.pipeline", trace.WithAttributes(
		attribute.String("request_id", res.RequestID),
		attribute.Int("runs", runs),
	))
	defer span.End()
	log := p.log.With(zap.String("request_id", res.RequestID))

	if err := p.store.Load(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "terminology unloadable")
		return res, &StageError{Stage: "terminology", Err: err}
	}
	emit(progress, "terminology", "terminology ready")

	stageStarted := time.Now()
	validations, reports, err := p.runExtractions(ctx, note, runs, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return res, &StageError{Stage: "extraction", Err: err}
	}
	res.Stats.Runs = reports
	for _, r := range reports {
		res.Stats.CandidatesIn += r.Candidates
		res.Stats.Resolved += r.Resolved
		if r.Status == RunOK {
			res.Stats.RunsSucceeded++
		}
	}
	emit(progress, "extraction", fmt.Sprintf("%d/%d runs succeeded in %s", res.Stats.RunsSucceeded, runs, time.Since(stageStarted).Round(time.Millisecond)))

	fused := Fuse(validations, p.opts.Fusion)
	res.Stats.DuplicatesRemoved = fused.DuplicatesRemoved
	emit(progress, "fusion", fmt.Sprintf("%d unique codes, %d duplicates removed", len(fused.Records), fused.DuplicatesRemoved))

	stageStarted = time.Now()
	filterCtx, filterSpan := p.tracer.Start(ctx, "consensus.coherence", trace.WithAttributes(attribute.Int("pairs", len(fused.Records))))
	filtered := p.filter.Filter(filterCtx, fused.Records)
	filterSpan.SetAttributes(
		attribute.Int("arbitrated", filtered.Arbitrated),
		attribute.Int("rejected", filtered.Rejected),
	)
	if filtered.ArbitrationError != nil {
		filterSpan.RecordError(filtered.ArbitrationError)
	}
	filterSpan.End()
	res.Stats.Filtered = filtered.Rejected
	res.Stats.Arbitrated = filtered.Arbitrated
	res.Stats.Decisions = filtered.Decisions
	if filtered.ArbitrationError != nil {
		res.Stats.ArbitrationError = filtered.ArbitrationError.Error()
	}
	emit(progress, "coherence", fmt.Sprintf("%d accepted, %d rejected in %s", len(filtered.Accepted), filtered.Rejected, time.Since(stageStarted).Round(time.Millisecond)))

	final := Finalize(filtered.Accepted, p.categorizer, log)
	res.Stats.DiscardedDuplicates = len(final.Discarded)
	for _, e := range final.Entities {
		switch e.Category {
		case extraction.CategoryProcedure:
			res.Procedures = append(res.Procedures, e)
		case extraction.CategoryBodyStructure:
			res.BodyStructures = append(res.BodyStructures, e)
		case extraction.CategoryObservableEntity:
			res.Observables = append(res.Observables, e)
		case extraction.CategorySubstance:
			res.Substances = append(res.Substances, e)
		default:
			res.Findings = append(res.Findings, e)
		}
	}
	res.Stats.Final = len(final.Entities)
	res.Stats.CompletedAt = p.opts.Now()
	emit(progress, "finalize", fmt.Sprintf("%d entities", res.Stats.Final))

	span.SetAttributes(
		attribute.Int("runs_succeeded", res.Stats.RunsSucceeded),
		attribute.Int("entities", res.Stats.Final),
		attribute.Int("filtered", res.Stats.Filtered),
	)
	log.Info("consensus complete",
		zap.Int("runs", runs),
		zap.Int("runs_succeeded", res.Stats.RunsSucceeded),
		zap.Int("candidates_in", res.Stats.CandidatesIn),
		zap.Int("resolved", res.Stats.Resolved),
		zap.Int("duplicates_removed", res.Stats.DuplicatesRemoved),
		zap.Int("filtered", res.Stats.Filtered),
		zap.Int("final", res.Stats.Final))
	return res, nil
}

// runExtractions runs every extraction concurrently. Run failures are contained
// in the run's report; only cancellation of ctx itself is returned.
// Validations come back in completion order.
func (p *Pipeline) runExtractions(ctx context.Context, note string, runs int, log *zap.Logger) ([]RunValidation, []RunReport, error) {
	var (
		mu          sync.Mutex
		validations []RunValidation
		order       int
	)
	reports := make([]RunReport, runs)

	var g errgroup.Group
	for i := 0; i < runs; i++ {
		g.Go(func() error {
			v, rep := p.extractRun(ctx, i, note, log)
			mu.Lock()
			rep.Order = order
			order++
			if rep.Status == RunOK {
				validations = append(validations, v)
			}
			mu.Unlock()
			reports[i] = rep
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, reports, err
	}
	return validations, reports, nil
}

func (p *Pipeline) extractRun(ctx context.Context, runID int, note string, log *zap.Logger) (RunValidation, RunReport) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.opts.RunTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "consensus.extract_run", trace.WithAttributes(attribute.Int("run_id", runID)))
	defer span.End()

	rep := RunReport{RunID: runID}
	candidates, err := p.extractor.Extract(ctx, note)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("run %d: %w", runID, context.DeadlineExceeded)
	}
	rep.ElapsedMS = time.Since(started).Milliseconds()
	if err != nil {
		rep.Status = runStatus(err)
		rep.Error = err.Error()
		span.RecordError(err)
		span.SetAttributes(attribute.String("status", string(rep.Status)))
		log.Warn("extraction run failed",
			zap.Int("run_id", runID),
			zap.String("status", string(rep.Status)),
			zap.Int64("elapsed_ms", rep.ElapsedMS),
			zap.Error(err))
		return RunValidation{RunID: runID}, rep
	}

	v := p.validator.Validate(runID, candidates)
	rep.Status = RunOK
	rep.Candidates = v.Input
	rep.Resolved = v.Resolved
	rep.ByExact, rep.ByProposed, rep.ByClosest = v.ByExact, v.ByProposed, v.ByClosest
	span.SetAttributes(
		attribute.String("status", string(rep.Status)),
		attribute.Int("candidates", v.Input),
		attribute.Int("resolved", v.Resolved),
	)
	log.Info("extraction run complete",
		zap.Int("run_id", runID),
		zap.Int("candidates", v.Input),
		zap.Int("resolved", v.Resolved),
		zap.Int("unresolved", v.Unresolved),
		zap.Int64("elapsed_ms", rep.ElapsedMS))
	return v, rep
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}
