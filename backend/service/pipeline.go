package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cpqbox/quote/backend/model"
	"github.com/cpqbox/quote/backend/pkg/logger"
	"github.com/google/uuid"
)

// Stage names used in logs, metrics and errors
const (
	StageLookup   = "lookup"
	StageGenerate = generateStage
	StageRender   = "render"
	StageStore    = "store"
)

// NarrativeGenerator fills the narrative of a resolved quote
type NarrativeGenerator interface {
	Generate(ctx context.Context, q *model.ResolvedQuote) error
}

// QuoteRenderer turns a resolved quote into document bytes
type QuoteRenderer interface {
	Render(q *model.ResolvedQuote) ([]byte, error)
}

// PipelineOptions bounds the customer-visible part of a run
type PipelineOptions struct {
	Timeout        time.Duration
	StorageTimeout time.Duration
	NotifyGrace    time.Duration
	ValidDays      int
}

// Pipeline runs Lookup, Generate and Render for one request at a time. A
// single value is shared by all requests; it holds no per-request state.
type Pipeline struct {
	provider   LookupProvider
	policy     LookupPolicy
	generator  NarrativeGenerator
	renderer   QuoteRenderer
	storage    ArtifactStorage
	dispatcher *NotifyDispatcher
	opts       PipelineOptions

	now       func() time.Time
	newLeadID func(time.Time) string
}

// NewPipeline wires the stages. dispatcher may be nil to disable notifications.
func NewPipeline(provider LookupProvider, policy LookupPolicy, generator NarrativeGenerator, renderer QuoteRenderer,
	storage ArtifactStorage, dispatcher *NotifyDispatcher, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		provider:   provider,
		policy:     policy,
		generator:  generator,
		renderer:   renderer,
		storage:    storage,
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
		newLeadID:  NewLeadID,
	}
}

// NewLeadID returns web-<unix seconds>-<12 random hex digits>
func NewLeadID(t time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("web-%d-%s", t.Unix(), id[:12])
}

type stageTiming struct {
	name    string
	started time.Time
	elapsed time.Duration
}

// run is the per-request state; it never outlives Run
type run struct {
	quote    model.ResolvedQuote
	artifact model.QuoteArtifact
	state    model.State
	stages   []stageTiming
	started  time.Time
	notify   *NotifyHandle
}

// Run executes the pipeline for req and always returns a result
func (p *Pipeline) Run(ctx context.Context, req model.QuoteRequest) model.PipelineResult {
	res, _ := p.execute(ctx, req)
	return res
}

func (p *Pipeline) execute(ctx context.Context, req model.QuoteRequest) (model.PipelineResult, *run) {
	issued := p.now()
	r := &run{
		state:   model.StateReceived,
		started: time.Now(),
		quote: model.ResolvedQuote{
			LeadID:     p.newLeadID(issued),
			Request:    req,
			IssuedAt:   issued,
			ValidUntil: issued.AddDate(0, 0, p.opts.ValidDays),
		},
	}
	ctx = logger.WithLeadID(ctx, r.quote.LeadID)

	err := p.advance(ctx, r)
	p.finish(ctx, r, err)
	if err != nil {
		return model.Failure(err), r
	}
	return model.Success(r.artifact.URL, r.quote.LeadID), r
}

func (p *Pipeline) advance(ctx context.Context, r *run) error {
	if err := r.quote.Request.Validate(); err != nil {
		return err
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	err := p.stage(ctx, r, StageLookup, model.StateLookedUp, model.KindUpstream, func(ctx context.Context) error {
		candidates, err := p.provider.FetchCandidates(ctx, &r.quote.Request)
		if err != nil {
			return err
		}
		rec, err := Resolve(&r.quote.Request, candidates, p.policy)
		if err != nil {
			return err
		}
		r.quote.Record = rec
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, r, StageGenerate, model.StateGenerated, model.KindUpstream, func(ctx context.Context) error {
		return p.generator.Generate(ctx, &r.quote)
	})
	if err != nil {
		return err
	}

	var data []byte
	err = p.stage(ctx, r, StageRender, r.state, model.KindInternal, func(context.Context) error {
		var err error
		data, err = p.renderer.Render(&r.quote)
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, r, StageStore, model.StateRendered, model.KindUpstream, func(ctx context.Context) error {
		if p.opts.StorageTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.opts.StorageTimeout)
			defer cancel()
		}
		url, err := p.storage.Put(ctx, r.quote.LeadID, data)
		if errors.Is(err, ErrArtifactConflict) || errors.Is(err, ErrInvalidLeadID) {
			return model.NewError(model.KindInternal, StageStore, err)
		}
		if err != nil {
			return err
		}
		r.artifact = model.QuoteArtifact{
			LeadID:      r.quote.LeadID,
			URL:         url,
			ContentType: PDFContentType,
			Data:        data,
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.notify = p.dispatch(ctx, r)
	r.state = model.StateCompleted
	return nil
}

// stage runs fn, records its timing and moves r to next on success. Errors
// that are not already classified get fallback, or Timeout on a deadline.
// A panic in fn becomes an Internal error.
func (p *Pipeline) stage(ctx context.Context, r *run, name string, next model.State, fallback model.ErrorKind, fn func(context.Context) error) (err error) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = model.NewError(model.KindInternal, name, fmt.Errorf("panic: %v", rec))
		}
		elapsed := time.Since(started)
		r.stages = append(r.stages, stageTiming{name: name, started: started, elapsed: elapsed})

		outcome := "ok"
		if err != nil {
			err = classifyStageError(name, fallback, err)
			outcome = string(model.Classify(err))
		} else {
			r.state = next
		}
		stageDuration.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
	}()

	return fn(ctx)
}

func classifyStageError(stage string, fallback model.ErrorKind, err error) error {
	var pe *model.PipelineError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(model.KindTimeout, stage, err)
	}
	return model.NewError(fallback, stage, err)
}

func (p *Pipeline) dispatch(ctx context.Context, r *run) *NotifyHandle {
	if p.dispatcher == nil {
		return nil
	}
	h := p.dispatcher.Dispatch(ctx, Notification{
		LeadID:   r.artifact.LeadID,
		Caption:  OperatorSummary(&r.quote),
		FileName: r.artifact.LeadID + ".pdf",
		Document: r.artifact.Data,
	})
	if p.opts.NotifyGrace > 0 {
		if done, err := h.Wait(p.opts.NotifyGrace); done && err != nil {
			logger.Debug(ctx, "Notification failed within grace period", "error", err)
		}
	}
	return h
}

// finish writes the single summary record of a run and updates counters
func (p *Pipeline) finish(ctx context.Context, r *run, err error) {
	total := time.Since(r.started)
	outcome := "ok"
	if err != nil {
		r.state = model.StateFailed
		outcome = string(model.Classify(err))
	}
	requestsTotal.WithLabelValues(outcome).Inc()

	args := []any{
		"state", string(r.state),
		"fefco", r.quote.Request.Fefco,
		"qty", r.quote.Request.Qty,
		"sla_type", r.quote.Request.SLAType,
		"total_ms", total.Milliseconds(),
	}
	for _, s := range r.stages {
		args = append(args,
			s.name+"_started", s.started.UTC().Format(time.RFC3339Nano),
			s.name+"_ms", s.elapsed.Milliseconds(),
		)
	}
	if err != nil {
		args = append(args, "error_kind", outcome, "error", err.Error())
		if outcome == string(model.KindInternal) {
			logger.Error(ctx, "Quote pipeline failed", args...)
			return
		}
		logger.Warn(ctx, "Quote pipeline failed", args...)
		return
	}
	logger.Info(ctx, "Quote pipeline completed", args...)
}
