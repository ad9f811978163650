// Package service runs a classification end to end: domain lookup,
// constant tuning, batch classification, capacity reconciliation, and the
// optional side effects of saving the run and publishing its events.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/tierkit/internal/catalog"
	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/factor"
	"github.com/abhisek/tierkit/internal/logging"
	"github.com/abhisek/tierkit/internal/metrics"
	"github.com/abhisek/tierkit/internal/publish"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/report"
	"github.com/abhisek/tierkit/internal/store"
)

// ErrNoStore is returned when a request asks to save but no store is wired.
var ErrNoStore = errors.New("run history is not configured")

// ErrNoPublisher is returned when a request asks to publish but no
// publisher is wired.
var ErrNoPublisher = errors.New("publishing is not configured")

// Request describes one classification.
type Request struct {
	Domain     string
	Records    []factor.Record
	Constants  map[string]float64
	Mode       engine.Mode
	Parallel   int
	Source     string
	Reconcile  bool
	Capacities []reconcile.Capacity // nil uses the domain's own table
	Save       bool
	Publish    bool
}

// Outcome is the result of Classify.
type Outcome struct {
	RunID   string
	Batch   *engine.Batch
	Reports []reconcile.Report
	Saved   bool
	// PublishErr is set when the batch succeeded but its events could not
	// be delivered.
	PublishErr error
}

// Document renders the outcome for the report emitter.
func (o *Outcome) Document() *report.Document {
	doc := report.New(o.Batch, o.Reports)
	doc.RunID = o.RunID
	return doc
}

// Service wires the catalog to the optional store, publisher and metrics.
type Service struct {
	catalog   *catalog.Catalog
	runs      store.RunRepo
	publisher publish.Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRuns enables saving runs.
func WithRuns(r store.RunRepo) Option { return func(s *Service) { s.runs = r } }

// WithPublisher enables publishing run events.
func WithPublisher(p publish.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithMetrics records every batch.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger. The default is a "service" component logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func New(cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{catalog: cat, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.New("service")
	}
	return s
}

// Catalog returns the domains the service classifies against.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Runs returns the run repository, or nil when history is off.
func (s *Service) Runs() store.RunRepo { return s.runs }

// Classify runs req. Configuration problems (unknown domain, bad
// constants, invalid capacities, missing store or publisher) fail before
// any record is classified.
func (s *Service) Classify(ctx context.Context, req Request) (*Outcome, error) {
	if req.Save && s.runs == nil {
		return nil, ErrNoStore
	}
	if req.Publish && s.publisher == nil {
		return nil, ErrNoPublisher
	}

	def, err := s.catalog.Get(req.Domain)
	if err != nil {
		return nil, err
	}
	if def, err = def.Tune(req.Constants); err != nil {
		return nil, err
	}
	var caps []reconcile.Capacity
	if req.Capacities != nil {
		if caps, err = reconcile.ValidateCapacities(req.Capacities); err != nil {
			return nil, err
		}
	}

	start := s.now()
	batch, err := engine.Run(ctx, def.Domain, req.Records, engine.Options{
		Mode:     req.Mode,
		Parallel: req.Parallel,
		Logger:   s.log,
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveBatch(batch, s.now().Sub(start))
	}

	out := &Outcome{Batch: batch}
	if req.Reconcile || req.Capacities != nil {
		if out.Reports, err = def.Reconcile(batch.Results, caps); err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		for _, r := range out.Reports {
			if r.Issue != nil {
				s.log.Warn("capacity issue", slog.String("domain", batch.Domain), slog.String("cluster", r.Cluster), slog.String("issue", r.Issue.Error()))
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveReconciliation(batch.Domain, out.Reports)
		}
	}

	if !req.Save && !req.Publish {
		return out, nil
	}

	id := uuid.New()
	out.RunID = id.String()
	if req.Save {
		run := store.NewRun(batch, modeOrDefault(req.Mode), req.Source, out.Reports)
		run.ID = id
		run.Constants = req.Constants
		if err := s.runs.Save(ctx, run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		out.Saved = true
		s.log.Info("run saved", slog.String("run_id", out.RunID), slog.String("domain", batch.Domain))
	}
	if req.Publish {
		msgs, err := publish.Encode(out.RunID, batch, out.Reports, s.now())
		if err == nil {
			err = s.publisher.Publish(ctx, msgs...)
		}
		if err != nil {
			out.PublishErr = err
			s.log.Error("publish failed", slog.String("run_id", out.RunID), slog.String("error", err.Error()))
		}
	}
	return out, nil
}

func modeOrDefault(m engine.Mode) engine.Mode {
	if m == "" {
		return engine.SkipAndReport
	}
	return m
}
