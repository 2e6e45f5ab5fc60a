package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/catalog"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/genconfig"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/recovery"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/app/observability/metrics"
)

// maxAttempts bounds the recovery loop independently of the strategies.
const maxAttempts = 8

var _ Service = (*ServiceImpl)(nil)

// Service turns a GeneratorInput into a scheduled, budgeted plan.
type Service interface {
	// Generate builds a plan under a new itinerary id.
	Generate(ctx context.Context, in *models.GeneratorInput) (*models.GeneratorOutput, error)
	// Regenerate rebuilds the plan for an existing itinerary id.
	Regenerate(ctx context.Context, itineraryID string, in *models.GeneratorInput) (*models.GeneratorOutput, error)
}

// Option configures a ServiceImpl.
type Option func(*ServiceImpl)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ServiceImpl) { s.now = now }
}

// WithIDGenerator replaces the itinerary id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *ServiceImpl) { s.newID = newID }
}

// WithBaseConfig replaces the defaults that request overrides merge onto.
func WithBaseConfig(cfg models.GeneratorConfig) Option {
	return func(s *ServiceImpl) { s.base = cfg }
}

// ServiceImpl runs the generation pipeline. Only I/O stages (catalog, oracle)
// can block; the pure stages run to completion.
type ServiceImpl struct {
	logger   *zap.Logger
	provider catalog.Provider
	oracle   catalog.Oracle
	recovery *recovery.Manager
	base     models.GeneratorConfig
	now      func() time.Time
	newID    func() string
}

func NewGeneratorService(provider catalog.Provider, oracle catalog.Oracle, rec *recovery.Manager, logger *zap.Logger, opts ...Option) *ServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = recovery.NewManager(logger)
	}
	s := &ServiceImpl{
		logger:   logger,
		provider: provider,
		oracle:   oracle,
		recovery: rec,
		base:     genconfig.Defaults(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ServiceImpl) Generate(ctx context.Context, in *models.GeneratorInput) (*models.GeneratorOutput, error) {
	return s.generate(ctx, s.newID(), in)
}

func (s *ServiceImpl) Regenerate(ctx context.Context, itineraryID string, in *models.GeneratorInput) (*models.GeneratorOutput, error) {
	if itineraryID == "" {
		itineraryID = s.newID()
	}
	return s.generate(ctx, itineraryID, in)
}

func (s *ServiceImpl) generate(ctx context.Context, id string, in *models.GeneratorInput) (*models.GeneratorOutput, error) {
	ctx, span := otel.Tracer("GeneratorService").Start(ctx, "Generate", trace.WithAttributes(
		attribute.String("itinerary.id", id),
	))
	defer span.End()

	l := s.logger.With(zap.String("method", "Generate"), zap.String("itinerary_id", id))
	l.Debug("Generating itinerary")
	started := s.now()

	if res := validation.ValidateInput(in); !res.Valid {
		err := fmt.Errorf("%w: %v", models.ErrInvalidInput, res.Err())
		l.Error("Generation input rejected", zap.Strings("errors", res.Messages()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid input")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user.id", in.UserID),
		attribute.Int("preferences.days", in.Preferences.Days),
	)

	cfg := genconfig.Merge(s.base, in.Config)
	var lastErr, cause error
	if res := genconfig.Validate(cfg); !res.Valid {
		lastErr = recovery.NewError(recovery.CodeValidation, "config", res.Err())
		cause = lastErr
		l.Warn("Generator config invalid", zap.Strings("errors", res.Messages()))
	}

	attempt := recovery.NewAttempt(in, cfg)
	var out *models.GeneratorOutput
	attempts := 0
	for attempts < maxAttempts {
		if lastErr == nil {
			attempts++
			var err error
			out, err = s.run(ctx, id, attempt)
			if err == nil {
				break
			}
			lastErr, cause = err, err
			l.Warn("Generation attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		}
		if !s.recovery.Recover(ctx, lastErr, attempt) {
			break
		}
		lastErr = nil
	}

	success := out != nil && lastErr == nil
	if !success {
		if cause == nil {
			cause = errors.New("recovery attempts exhausted")
		}
		out = recovery.Fallback(id, &attempt.Input, attempt.Config, cause, s.now())
		l.Error("Generation failed, returning fallback plan", zap.Error(cause))
		span.RecordError(cause)
		span.SetStatus(codes.Error, "Fallback plan")
	}

	elapsed := s.now().Sub(started)
	out.Metadata.Attempts = attempts
	out.Metadata.Recoveries = append([]string(nil), attempt.Recoveries...)
	out.Metadata.DurationMs = elapsed.Milliseconds()

	if res := validation.ValidateOutput(out); !res.Valid {
		l.Warn("Generated output does not match schema", zap.Strings("errors", res.Messages()))
		out.Warnings = append(out.Warnings, res.Messages()...)
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	metrics.Get().GenerationsTotal.Add(ctx, 1, attrs)
	metrics.Get().GenerationDuration.Record(ctx, elapsed.Seconds(), attrs)

	if success {
		l.Info("Itinerary generated",
			zap.Int("days", len(out.Days)),
			zap.Float64("total_cost", out.TotalCost),
			zap.Int("attempts", attempts))
		span.SetStatus(codes.Ok, "Itinerary generated")
	}
	return out, nil
}
