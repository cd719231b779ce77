package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"illustrationapi/internal/model"
	"illustrationapi/internal/repository"
	"illustrationapi/internal/reqid"
	"illustrationapi/internal/vision"
)

// ErrNoImages is returned when a request carries no page images.
var ErrNoImages = errors.New("at least one page image is required")

// minTemplateRows is the projection row count a run needs before its
// (carrier, product) is cached as a template.
const minTemplateRows = 5

var tracer = otel.Tracer("illustrationapi/internal/service")

// ExtractRequest is one illustration to extract. PageTexts is optional and
// aligned with Images by index.
type ExtractRequest struct {
	Images    []model.PageImage
	PageTexts []string
}

// ExtractionService defines the illustration extraction use case.
type ExtractionService interface {
	// Extract runs every stage over the pages and returns the merged result.
	// A model service failure aborts the run; unparsable replies do not.
	Extract(ctx context.Context, req ExtractRequest) (*model.ExtractionResult, error)
}

// Options tune an extraction service. The zero value runs the detail stages
// sequentially, logs to slog.Default and records no metrics.
type Options struct {
	Parallel bool
	Logger   *slog.Logger
	Metrics  *Metrics
}

type extractionService struct {
	client    vision.Client
	templates repository.TemplateRepository
	parallel  bool
	logger    *slog.Logger
	metrics   *Metrics
}

// NewExtractionService constructs the pipeline. templates may be nil, in
// which case no template lookups or writes are made.
func NewExtractionService(client vision.Client, templates repository.TemplateRepository, opts Options) ExtractionService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &extractionService{
		client:    client,
		templates: templates,
		parallel:  opts.Parallel,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

func (s *extractionService) Extract(ctx context.Context, req ExtractRequest) (*model.ExtractionResult, error) {
	if len(req.Images) == 0 {
		return nil, ErrNoImages
	}

	ctx, span := tracer.Start(ctx, "pipeline.extract", trace.WithAttributes(attribute.Int("pages", len(req.Images))))
	defer span.End()

	rid := reqid.From(ctx)
	start := time.Now()
	res := &model.ExtractionResult{
		Projections: []model.ProjectionRow{},
		Expenses:    []model.ExpenseRow{},
	}

	reply, err := s.call(ctx, identifyStage, req, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.apply(ctx, identifyStage, res, reply)

	tpl := s.lookupTemplate(ctx, res.Carrier, res.Product)
	res.TemplateUsed = tpl != nil

	replies, err := s.runDetailStages(ctx, req, tpl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for i, st := range detailStages {
		s.apply(ctx, st, res, replies[i])
	}

	res.Confidence = confidence(len(res.Projections))
	s.writeBack(ctx, res, len(req.Images))

	span.SetAttributes(
		attribute.String("carrier", res.Carrier),
		attribute.Bool("template_used", res.TemplateUsed),
		attribute.Float64("confidence", res.Confidence),
	)
	s.logger.Info("pipeline.done",
		"req_id", rid,
		"carrier", res.Carrier,
		"product", res.Product,
		"projections", len(res.Projections),
		"expenses", len(res.Expenses),
		"template_used", res.TemplateUsed,
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// runDetailStages returns the raw replies of detailStages, index-aligned.
// In parallel mode every stage writes only its own slot.
func (s *extractionService) runDetailStages(ctx context.Context, req ExtractRequest, tpl *model.Template) ([]string, error) {
	replies := make([]string, len(detailStages))

	if !s.parallel {
		for i, st := range detailStages {
			reply, err := s.call(ctx, st, req, templateHint(st, tpl))
			if err != nil {
				return nil, err
			}
			replies[i] = reply
		}
		return replies, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, st := range detailStages {
		g.Go(func() error {
			reply, err := s.call(gctx, st, req, templateHint(st, tpl))
			if err != nil {
				return err
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// call sends the stage's pages and instruction to the model.
func (s *extractionService) call(ctx context.Context, st stage, req ExtractRequest, hint string) (string, error) {
	from, to := st.pages(len(req.Images))

	ctx, span := tracer.Start(ctx, "pipeline.stage."+st.name, trace.WithAttributes(
		attribute.Int("page_from", from),
		attribute.Int("page_to", to),
	))
	defer span.End()

	started := time.Now()
	reply, err := s.client.Invoke(ctx, req.Images[from:to], instruction(st, hint, req.PageTexts, from, to))
	s.metrics.observeStage(st.name, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("pipeline.stage.failed",
			"req_id", reqid.From(ctx),
			"stage", st.name,
			"error", err,
		)
		return "", fmt.Errorf("%s stage: %w", st.name, err)
	}

	s.logger.Debug("pipeline.stage.ok",
		"req_id", reqid.From(ctx),
		"stage", st.name,
		"pages", to-from,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return reply, nil
}

func (s *extractionService) apply(ctx context.Context, st stage, res *model.ExtractionResult, reply string) {
	if st.apply(res, reply) {
		return
	}
	s.metrics.fallback(st.name)
	s.logger.Warn("pipeline.stage.fallback",
		"req_id", reqid.From(ctx),
		"stage", st.name,
		"reply_chars", len(reply),
	)
}

// lookupTemplate returns the cached template for the pair, or nil when the
// store is not configured, the carrier is unknown, nothing matches or the
// lookup failed.
func (s *extractionService) lookupTemplate(ctx context.Context, carrier, product string) *model.Template {
	ds := model.DocumentStructure{Carrier: carrier, Product: product}
	if s.templates == nil || !ds.KnownCarrier() {
		s.metrics.lookup(lookupSkipped)
		return nil
	}

	tpl, err := s.templates.GetTemplate(ctx, carrier, product)
	if err != nil {
		s.metrics.lookup(lookupError)
		s.logger.Warn("template.lookup.failed",
			"req_id", reqid.From(ctx),
			"carrier", carrier,
			"product", product,
			"error", err,
		)
		return nil
	}
	if tpl == nil {
		s.metrics.lookup(lookupMiss)
		return nil
	}

	s.metrics.lookup(lookupHit)
	s.logger.Info("template.lookup.hit",
		"req_id", reqid.From(ctx),
		"carrier", carrier,
		"product", product,
		"usage_count", tpl.UsageCount,
	)
	return tpl
}

// writeBack increments usage of a template that was used, or caches a new
// one for a known carrier with enough projection rows. Failures are logged
// and dropped.
func (s *extractionService) writeBack(ctx context.Context, res *model.ExtractionResult, pageCount int) {
	if s.templates == nil {
		return
	}
	rid := reqid.From(ctx)

	if res.TemplateUsed {
		err := s.templates.IncrementUsage(ctx, res.Carrier, res.Product)
		s.metrics.write("increment", err)
		if err != nil {
			s.logger.Warn("template.increment.failed", "req_id", rid, "carrier", res.Carrier, "product", res.Product, "error", err)
		}
		return
	}

	ds := model.DocumentStructure{Carrier: res.Carrier, Product: res.Product}
	if !ds.KnownCarrier() || len(res.Projections) < minTemplateRows {
		return
	}

	err := s.templates.SaveTemplate(ctx, &model.Template{
		Carrier:          res.Carrier,
		Product:          res.Product,
		PageSignatures:   []string{},
		FieldPatterns:    map[string]string{},
		SampleExtraction: summarize(res, pageCount),
		UsageCount:       1,
	})
	s.metrics.write("save", err)
	if err != nil {
		s.logger.Warn("template.save.failed", "req_id", rid, "carrier", res.Carrier, "product", res.Product, "error", err)
		return
	}
	s.logger.Info("template.saved", "req_id", rid, "carrier", res.Carrier, "product", res.Product)
}

func summarize(res *model.ExtractionResult, pageCount int) model.SampleSummary {
	sum := model.SampleSummary{
		PolicyFieldsFound: res.PolicyInfo.FoundFields(),
		ProjectionRows:    len(res.Projections),
		ExpenseRows:       len(res.Expenses),
		PageCount:         pageCount,
	}
	if n := len(res.Projections); n > 0 {
		sum.FirstYear = int(res.Projections[0].Year)
		sum.LastYear = int(res.Projections[n-1].Year)
	}
	return sum
}
