// Package discovery infers scored relationships over a contact set.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contactgraph/backend/internal/domain"
	"contactgraph/backend/internal/embedding"
	apperrors "contactgraph/backend/pkg/errors"
	"contactgraph/backend/pkg/logger"
)

// Outcome is the result of one discovery pass, split by tier.
type Outcome struct {
	Nodes  []NodeSpec  `json:"nodes"`
	High   []Candidate `json:"high"`
	Medium []Candidate `json:"medium"`
	Low    []Candidate `json:"low"`

	Discarded        int `json:"discarded"`
	TotalContacts    int `json:"total_contacts"`
	CompaniesFound   int `json:"companies_found"`
	TagRelationships int `json:"tag_relationships"`

	// StrategyErrors lists absorbed strategy failures.
	StrategyErrors []string      `json:"strategy_errors,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// Reviewable returns the medium and low candidates in queue order.
func (o *Outcome) Reviewable() []Candidate {
	out := make([]Candidate, 0, len(o.Medium)+len(o.Low))
	out = append(out, o.Medium...)
	return append(out, o.Low...)
}

// Engine runs the inference strategies.
type Engine struct {
	embeddings embedding.Provider
	generator  embedding.Generator
	logger     *zap.Logger
	tracer     trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEmbeddings fills missing contact embeddings from p for the semantic pass.
func WithEmbeddings(p embedding.Provider) EngineOption {
	return func(e *Engine) { e.embeddings = p }
}

// WithGenerator computes embeddings from contact text for contacts that
// neither carry one nor get one from the provider.
func WithGenerator(g embedding.Generator) EngineOption {
	return func(e *Engine) { e.generator = g }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a discovery engine
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: logger.Get(),
		tracer: otel.Tracer("contactgraph/discovery"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Discover runs every strategy over contacts and tiers the merged candidates.
// The context deadline is checked between passes.
func (e *Engine) Discover(ctx context.Context, userID string, contacts []domain.Contact, opts Options) (*Outcome, error) {
	start := time.Now()
	if err := ValidateInput(userID, contacts, opts); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	ctx, span := e.tracer.Start(ctx, "discovery.Discover", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("contacts", len(contacts)),
		attribute.Bool("semantic", opts.IncludeSemantic),
	))
	defer span.End()

	p := prepare(contacts)
	out := &Outcome{Nodes: p.nodes(), TotalContacts: len(contacts)}

	var (
		companyCands, tagCands, semanticCands []Candidate
		strategyErr                           error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, s := e.tracer.Start(gctx, "discovery.company")
		defer s.End()
		companyCands, out.CompaniesFound = companyPass(p)
		return gctx.Err()
	})
	g.Go(func() error {
		_, s := e.tracer.Start(gctx, "discovery.tags")
		defer s.End()
		tagCands, out.TagRelationships = tagPass(p, opts.MinTagSimilarity, opts.FullTagScan)
		return gctx.Err()
	})
	if opts.IncludeSemantic {
		g.Go(func() error {
			sctx, s := e.tracer.Start(gctx, "discovery.semantic")
			defer s.End()
			vectors, err := e.vectors(sctx, userID, p)
			if err != nil {
				// absorbed: only contacts that carry their own embedding take part
				strategyErr = err
				s.RecordError(err)
			}
			semanticCands = semanticPass(p, vectors, opts.MinSemanticSimilarity)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, apperrors.NewContextCancelled("discovery strategies", err)
	}
	if strategyErr != nil {
		e.logger.Warn("Embedding source failed; semantic pass ran on the embeddings it could collect", zap.String("user_id", userID), zap.Error(strategyErr))
		out.StrategyErrors = append(out.StrategyErrors, fmt.Sprintf("%s: %v", StrategySemantic, strategyErr))
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewContextCancelled("discovery social pass", err)
	}
	socialCands := socialPass(p, semanticCands)

	merged := merge(companyCands, tagCands, semanticCands, socialCands)
	for _, c := range merged {
		switch c.Tier {
		case domain.TierHigh:
			out.High = append(out.High, c)
		case domain.TierMedium:
			out.Medium = append(out.Medium, c)
		case domain.TierLow:
			out.Low = append(out.Low, c)
		case domain.TierDiscard:
			out.Discarded++
		default:
			return nil, fmt.Errorf("candidate %s %s->%s: unknown tier %q", c.EdgeType, c.SourceID, c.TargetID, c.Tier)
		}
	}

	out.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("candidates.high", len(out.High)),
		attribute.Int("candidates.medium", len(out.Medium)),
		attribute.Int("candidates.low", len(out.Low)),
	)
	e.logger.Debug("Discovery pass finished",
		zap.String("user_id", userID),
		zap.Int("contacts", out.TotalContacts),
		zap.Int("high", len(out.High)),
		zap.Int("medium", len(out.Medium)),
		zap.Int("low", len(out.Low)),
		zap.Int("discarded", out.Discarded),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

// vectors collects embeddings, asking the provider only for contacts that
// carry none and the generator only for what the provider lacks. Whatever was
// collected is returned even when a source fails.
func (e *Engine) vectors(ctx context.Context, userID string, p *prepared) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(p.contacts))
	var missing []domain.Contact
	for _, c := range p.contacts {
		if len(c.Embedding) > 0 {
			vectors[c.ID] = c.Embedding
		} else {
			missing = append(missing, c)
		}
	}

	var errs []error
	if len(missing) > 0 && e.embeddings != nil {
		ids := make([]string, len(missing))
		for i, c := range missing {
			ids[i] = c.ID
		}
		fetched, err := e.embeddings.Embeddings(ctx, userID, ids)
		if err != nil {
			errs = append(errs, err)
		}
		rest := missing[:0]
		for _, c := range missing {
			if v, ok := fetched[c.ID]; ok && len(v) > 0 {
				vectors[c.ID] = v
			} else {
				rest = append(rest, c)
			}
		}
		missing = rest
	}

	if len(missing) > 0 && e.generator != nil {
		var texts, owners []string
		for _, c := range missing {
			if text := embedding.ContactText(c); text != "" {
				texts = append(texts, text)
				owners = append(owners, c.ID)
			}
		}
		if len(texts) > 0 {
			generated, err := e.generator.Generate(ctx, texts)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("generate embeddings: %w", err))
			case len(generated) != len(texts):
				errs = append(errs, fmt.Errorf("generate embeddings: got %d vectors for %d contacts", len(generated), len(texts)))
			default:
				for i, id := range owners {
					vectors[id] = generated[i]
				}
			}
		}
	}
	return vectors, errors.Join(errs...)
}
