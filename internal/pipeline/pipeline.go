// Package pipeline runs one capture end to end: extract, normalize, filter, persist the retained
// record, optionally export it, and publish a capture notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/export"
	"github.com/JakeFAU/scholar-crawler/internal/filter"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/normalize"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

const (
	// DefaultTimeout is the extraction deadline when none is configured.
	DefaultTimeout = 120 * time.Second
	// DefaultPersistTimeout bounds the post-extraction writes.
	DefaultPersistTimeout = 10 * time.Second
)

// Diagnostic codes added by the pipeline itself.
const (
	DiagStoreUnavailable = "store_unavailable"
	DiagExportFailed     = "export_failed"
	DiagPublishFailed    = "publish_failed"
)

// Factory returns the extractor serving one request.
type Factory func() researcher.Extractor

// Exporter writes a workbook for a set of records.
type Exporter interface {
	Export(ctx context.Context, source researcher.Source, records []researcher.Record) (export.Artifact, error)
}

// Config controls deadlines and the notification topic.
type Config struct {
	Timeout        time.Duration
	PersistTimeout time.Duration
	Topic          string
}

// Deps are the collaborators of a Pipeline. Exporter and Publisher are optional.
type Deps struct {
	Extractors map[researcher.Source]Factory
	Normalizer *normalize.Normalizer
	Filter     *filter.Filter
	Store      researcher.Store
	Exporter   Exporter
	Publisher  researcher.Publisher
	Clock      researcher.Clock
}

// Pipeline executes capture requests. It is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and applies config defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case len(deps.Extractors) == 0:
		return nil, errors.New("at least one extractor is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Filter == nil:
		return nil, errors.New("filter is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run captures one researcher. Failures are reported in the Response, never as a Go error.
func (p *Pipeline) Run(ctx context.Context, req Request) Response {
	start := p.deps.Clock.Now()
	resp := newResponse(req)
	logger := p.logger.With(zap.String("platform", string(req.Platform)))

	factory, ok := p.deps.Extractors[req.Platform]
	if !ok {
		resp.fail(researcher.KindInvalidInput, fmt.Errorf("%w: %q", researcher.ErrUnsupportedPlatform, req.Platform))
		return p.finish(resp, start, "invalid")
	}
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.ProfileURL) == "" {
		resp.fail(researcher.KindInvalidInput, fmt.Errorf("%w: query or profileUrl is required", researcher.ErrInvalidInput))
		return p.finish(resp, start, "invalid")
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	outcome := factory().Extract(runCtx, researcher.Query{
		Platform:        req.Platform,
		Name:            strings.TrimSpace(req.Query),
		ProfileURL:      strings.TrimSpace(req.ProfileURL),
		MaxPublications: req.MaxPublications,
	})
	cancel()

	switch o := outcome.(type) {
	case researcher.Extracted:
		p.complete(ctx, req, o.Raw, start, &resp, logger)
		return p.finish(resp, start, "extracted")
	case researcher.Blocked:
		logger.Info("capture blocked", zap.String("identifier", o.Identifier))
		resp.Blocked = &o
		resp.fail(researcher.KindBlocked, o)
		return p.finish(resp, start, "blocked")
	case researcher.NotFound:
		logger.Info("profile not found", zap.String("identifier", o.Identifier), zap.String("reason", o.Reason))
		resp.fail(researcher.KindNotFound, o)
		return p.finish(resp, start, "not_found")
	case researcher.Handoff:
		resp.Handoff = &o
		return p.finish(resp, start, "handoff")
	case researcher.Failed:
		logger.Warn("capture failed", zap.String("kind", string(o.Kind)), zap.Error(o.Err))
		resp.fail(o.Kind, o)
		return p.finish(resp, start, "failed")
	default:
		resp.fail(researcher.KindInternal, fmt.Errorf("unexpected outcome %T", outcome))
		return p.finish(resp, start, "failed")
	}
}

// complete turns raw data into a sealed record and runs the post-extraction writes. Those writes run
// detached from the request deadline, bounded by PersistTimeout.
func (p *Pipeline) complete(
	ctx context.Context,
	req Request,
	raw researcher.RawRecord,
	start time.Time,
	resp *Response,
	logger *zap.Logger,
) {
	rec := p.deps.Filter.Apply(p.deps.Normalizer.Normalize(raw))
	rec.ExecutionSeconds = p.deps.Clock.Now().Sub(start).Seconds()
	sealed := rec.Clone()
	logger = logger.With(zap.String("source_id", sealed.SourceID))

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PersistTimeout)
	defer cancel()

	if sealed.Retained {
		result, err := p.deps.Store.Put(postCtx, sealed)
		if err != nil {
			metrics.ObserveStoreWrite("error")
			logger.Warn("record not persisted", zap.Error(err))
			resp.Diagnostics = append(resp.Diagnostics, researcher.Diagnostic{
				Code: DiagStoreUnavailable, Message: err.Error(),
			})
		} else {
			metrics.ObserveStoreWrite(result.String())
			resp.Persisted = true
			logger.Info("record persisted", zap.Stringer("result", result))
		}
	} else {
		metrics.ObserveStoreWrite("skipped")
		logger.Info("record not retained, skipping persistence")
	}

	if req.ExportArtifact {
		if p.deps.Exporter == nil {
			resp.Diagnostics = append(resp.Diagnostics, researcher.Diagnostic{
				Code: DiagExportFailed, Message: "no export sink configured",
			})
		} else if artifact, err := p.deps.Exporter.Export(postCtx, sealed.Source, []researcher.Record{sealed}); err != nil {
			logger.Warn("export failed", zap.Error(err))
			resp.Diagnostics = append(resp.Diagnostics, researcher.Diagnostic{
				Code: DiagExportFailed, Message: err.Error(),
			})
		} else {
			resp.ArtifactHandle = artifact.Handle
		}
	}

	if p.deps.Publisher != nil && p.cfg.Topic != "" {
		notice := newNotification(sealed, resp.Persisted)
		if _, err := p.deps.Publisher.Publish(postCtx, p.cfg.Topic, notice); err != nil {
			logger.Warn("capture notification failed", zap.Error(err))
			resp.Diagnostics = append(resp.Diagnostics, researcher.Diagnostic{
				Code: DiagPublishFailed, Message: err.Error(),
			})
		}
	}

	resp.setRecord(sealed)
}

func (p *Pipeline) finish(resp Response, start time.Time, outcome string) Response {
	elapsed := p.deps.Clock.Now().Sub(start)
	resp.ExecutionTime = elapsed.Seconds()
	metrics.ObserveCapture(string(resp.Platform), outcome, elapsed)
	return resp
}
