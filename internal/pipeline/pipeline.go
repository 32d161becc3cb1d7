// Package pipeline runs one import: fetch, archive, size gate, transform.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cdw-asset-import/internal/apperr"
	"cdw-asset-import/internal/config"
	"cdw-asset-import/internal/files"
	"cdw-asset-import/internal/ledger"
	"cdw-asset-import/internal/metrics"
	"cdw-asset-import/pkg/importer"
)

// Fetcher copies the remote report to s.DownloadPath and returns the bytes written.
type Fetcher interface {
	Fetch(ctx context.Context, s config.Settings) (int64, error)
}

// Recorder persists the outcome of a run.
type Recorder interface {
	Record(ctx context.Context, r *ledger.Run) error
}

// Outcome is how a run ended.
type Outcome int

const (
	Proceed Outcome = iota
	NoData
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case NoData:
		return "no_data"
	default:
		return "fatal"
	}
}

// Result describes a finished run.
type Result struct {
	RunID         uuid.UUID
	Outcome       Outcome
	Err           error
	Stage         string
	Summary       importer.Summary
	DownloadBytes int64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// ExitCode maps the outcome to the process exit status.
func (r Result) ExitCode() int {
	if r.Outcome == Fatal {
		return 1
	}
	return 0
}

// Pipeline wires the stages of an import run.
type Pipeline struct {
	settings config.Settings
	fetcher  Fetcher
	log      *zap.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	mapping  *importer.MappingConfig
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithRecorder enables the run ledger.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMapping replaces the built-in column mapping.
func WithMapping(m *importer.MappingConfig) Option {
	return func(p *Pipeline) { p.mapping = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline for s.
func New(s config.Settings, f Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings: s,
		fetcher:  f,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	if p.mapping == nil {
		p.mapping = importer.DefaultMapping()
	}
	return p
}

// Run executes every stage in order and stops at the first failure. Metrics and
// the ledger are written afterwards whatever the outcome.
func (p *Pipeline) Run(ctx context.Context) Result {
	res := Result{RunID: uuid.New(), StartedAt: p.now()}
	log := p.log.With(zap.String("run_id", res.RunID.String()))

	log.Info("starting import", zap.Stringer("settings", p.settings))

	res = p.run(ctx, log, res)
	res.FinishedAt = p.now()

	switch res.Outcome {
	case Fatal:
		log.Error("import failed",
			zap.String("stage", res.Stage),
			zap.String("error_kind", string(apperr.KindOf(res.Err))),
			zap.Error(res.Err),
		)
	case NoData:
		log.Info("no data in report, nothing to import",
			zap.Int64("bytes", res.DownloadBytes),
			zap.Int64("min_size", p.settings.MinFileSize),
		)
	default:
		log.Info("import complete",
			zap.String("output", p.settings.OutputPath),
			zap.Int("rows_written", res.Summary.RowsWritten),
			zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
		)
	}

	p.report(ctx, log, res)
	return res
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, res Result) Result {
	s := p.settings

	fail := func(stage string, err error) Result {
		res.Outcome = Fatal
		res.Stage = stage
		res.Err = err
		return res
	}

	err := p.stage(ctx, log, "fetch", func() error {
		n, err := p.fetcher.Fetch(ctx, s)
		res.DownloadBytes = n
		return err
	})
	if err != nil {
		return fail("fetch", err)
	}
	p.metrics.SetDownloadBytes(res.DownloadBytes)

	err = p.stage(ctx, log, "archive", func() error {
		n, err := files.Archive(s.DownloadPath, s.ArchivePath)
		if err == nil {
			log.Debug("archived report", zap.String("archive", s.ArchivePath), zap.Int64("bytes", n))
		}
		return err
	})
	if err != nil {
		return fail("archive", err)
	}

	var gate files.Gate
	err = p.stage(ctx, log, "size_check", func() error {
		var size int64
		var err error
		gate, size, err = files.CheckSize(s.DownloadPath, s.MinFileSize)
		res.DownloadBytes = size
		return err
	})
	if err != nil {
		return fail("size_check", err)
	}
	if gate == files.GateNoData {
		res.Outcome = NoData
		return res
	}

	err = p.stage(ctx, log, "transform", func() error {
		summary, err := importer.Transform(importer.Options{
			TemplatePath:  s.TemplatePath,
			InputPath:     s.DownloadPath,
			OutputPath:    s.OutputPath,
			SourceLabel:   s.SourceCustomer,
			OverrideLabel: s.OverrideCustomer,
			Mapping:       p.mapping,
			HeaderCheck:   s.HeaderCheck,
		})
		res.Summary = summary
		for _, w := range summary.Samples {
			log.Warn("padded short row", zap.Int("line", w.Row), zap.String("detail", w.Message))
		}
		return classifyTransform(err)
	})
	if err != nil {
		return fail("transform", err)
	}
	p.metrics.SetRows(res.Summary.RowsRead, res.Summary.RowsWritten, res.Summary.Skipped,
		res.Summary.Overridden, res.Summary.Warnings)

	res.Outcome = Proceed
	return res
}

// stage runs fn unless ctx is already done, and records its duration.
func (p *Pipeline) stage(ctx context.Context, log *zap.Logger, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return apperr.New(apperr.KindUnknown, name, err)
	}

	start := p.now()
	err := fn()
	elapsed := p.now().Sub(start)
	p.metrics.ObserveStage(name, elapsed)

	if err != nil {
		return err
	}
	log.Info("stage complete", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}

func classifyTransform(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, importer.ErrSchemaMismatch) {
		return apperr.New(apperr.KindSchemaMismatch, "transform", err)
	}
	return apperr.New(apperr.KindIO, "transform", err)
}

func (p *Pipeline) report(ctx context.Context, log *zap.Logger, res Result) {
	kind := ""
	if res.Err != nil {
		kind = string(apperr.KindOf(res.Err))
	}
	p.metrics.Finish(res.Outcome.String(), kind, res.FinishedAt)

	if p.settings.MetricsFile != "" {
		if err := p.metrics.WriteTextfile(p.settings.MetricsFile); err != nil {
			log.Warn("failed to write metrics", zap.Error(err))
		}
	}

	if p.recorder == nil {
		return
	}
	run := &ledger.Run{
		ID:             res.RunID,
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
		Outcome:        res.Outcome.String(),
		ErrorKind:      kind,
		RemoteFile:     p.settings.RemoteFile,
		OutputFile:     p.settings.OutputPath,
		DownloadBytes:  res.DownloadBytes,
		RowsRead:       res.Summary.RowsRead,
		RowsWritten:    res.Summary.RowsWritten,
		RowsSkipped:    res.Summary.Skipped,
		RowsOverridden: res.Summary.Overridden,
	}
	if res.Err != nil {
		run.Message = res.Err.Error()
	}
	var serr *importer.SchemaError
	if errors.As(res.Err, &serr) {
		run.MissingHeaders = serr.Missing
	}

	// a cancelled run is still recorded
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.recorder.Record(recordCtx, run); err != nil {
		log.Warn("failed to record run", zap.Error(err))
	}
}
