package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/roach88/highmark/internal/fingerprint"
	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/lock"
	"github.com/roach88/highmark/internal/placement"
	"github.com/roach88/highmark/internal/plan"
	"github.com/roach88/highmark/internal/process"
	"github.com/roach88/highmark/internal/publish"
	"github.com/roach88/highmark/internal/record"
	"github.com/roach88/highmark/internal/render"
	"github.com/roach88/highmark/internal/stage"
	"github.com/roach88/highmark/internal/state"
)

// Source enumerates records and their annotations. It is queried twice per
// run: Stats for fingerprinting, Annotations for the records being built.
type Source interface {
	Records(ctx context.Context) ([]record.Record, error)
	Stats(ctx context.Context) (map[string]record.Stats, error)
	Annotations(ctx context.Context, id string) ([]record.Annotation, error)
}

// Options select what a run does.
type Options struct {
	// OutputRoot is the live output tree. Required.
	OutputRoot string

	// DryRun plans and counts without touching the filesystem.
	DryRun bool

	// Filter limits the run to records whose title or author contains it.
	// Filtered runs never remove entries.
	Filter string
}

// Engine runs syncs. It holds no per-run state and may run repeatedly.
type Engine struct {
	source Source
	docs   render.DocumentRenderer
	pages  render.PageRenderer
	fs     fsutil.FS
	stat   fingerprint.StatFunc
	env    process.Env
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageRenderer enables page images for PDF records.
func WithPageRenderer(p render.PageRenderer) Option {
	return func(e *Engine) {
		e.pages = p
	}
}

// WithFS replaces the filesystem used for output mutations.
func WithFS(fsys fsutil.FS) Option {
	return func(e *Engine) {
		e.fs = fsys
	}
}

// WithStat replaces the stat used to probe PDF source files.
func WithStat(stat fingerprint.StatFunc) Option {
	return func(e *Engine) {
		e.stat = stat
	}
}

// WithEnv pins the pid, clock and token generator.
func WithEnv(env process.Env) Option {
	return func(e *Engine) {
		e.env = env
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine reading from src and rendering documents with docs.
func New(src Source, docs render.DocumentRenderer, opts ...Option) *Engine {
	e := &Engine{
		source: src,
		docs:   docs,
		fs:     fsutil.OS{},
		env:    process.Current(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// planned is the read-only outcome of the planning phase.
type planned struct {
	root   string
	plan   *plan.Plan
	prev   *state.Store
	claims placement.Claims
	total  int
}

// Run performs one sync. A non-nil error is always an *Error; per-record
// failures are reported in the Report instead.
//
// Real runs hold the output-root lock from before the state file is read
// until it is written.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	root, err := outputRoot(opts.OutputRoot)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		handle, err := e.acquireLock(root)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := handle.Release(); rerr != nil {
				e.logger.Warn("release lock", "path", handle.Path(), "error", rerr)
			}
		}()
	}

	p, err := e.planRun(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Total:      p.total,
		Skipped:    len(p.plan.Skip),
		OutputRoot: p.root,
		DryRun:     opts.DryRun,
	}
	e.logger.Info("plan ready",
		"total", p.total,
		"build", len(p.plan.Build),
		"skip", len(p.plan.Skip),
		"remove", len(p.plan.Remove),
		"dry_run", opts.DryRun,
	)

	if opts.DryRun {
		e.dryRun(ctx, p, report)
		return report, nil
	}
	return e.apply(ctx, p, report)
}

func outputRoot(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", newError(ErrCodePlanningFailed, nil, "output root is required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", newError(ErrCodePlanningFailed, err, "resolve output root")
	}
	return root, nil
}

func (e *Engine) acquireLock(root string) (*lock.Handle, error) {
	if err := e.fs.MkdirAll(root, 0o755); err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "create output root")
	}
	handle, err := lock.Acquire(e.fs, root, e.env)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, newError(ErrCodeLockHeld, err, "another sync is running")
		}
		return nil, newError(ErrCodePlanningFailed, err, "acquire lock")
	}
	return handle, nil
}

func (e *Engine) planRun(ctx context.Context, root string, opts Options) (*planned, error) {
	records, err := e.source.Records(ctx)
	if err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "enumerate records")
	}
	stats, err := e.source.Stats(ctx)
	if err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "read annotation stats")
	}
	prints, err := fingerprint.BuildAll(ctx, records, stats, e.stat, e.pages != nil)
	if err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "fingerprint records")
	}

	// Placements are allocated over every record so a filter never shifts
	// collision suffixes.
	cands := make([]placement.Candidate, 0, len(records))
	for _, rec := range records {
		cands = append(cands, placement.Candidate{
			ID:      rec.ID,
			Title:   rec.Title,
			Kind:    rec.Kind,
			Produce: ShouldProduce(rec.Kind, stats[rec.ID], prints[rec.ID].Stamp.Present),
		})
	}
	alloc := placement.Allocate(cands)

	prev, err := state.Load(e.fs, root)
	if err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "load state")
	}
	for _, r := range prev.Rejected {
		e.logger.Warn("dropping invalid state entry", "id", r.ID, "reason", r.Reason)
	}

	full := strings.TrimSpace(opts.Filter) == ""
	var selected []plan.Candidate
	for _, rec := range records {
		if !Matches(rec, opts.Filter) {
			continue
		}
		selected = append(selected, plan.Candidate{
			Record:      rec,
			Fingerprint: prints[rec.ID].Fingerprint,
			Placement:   alloc[rec.ID],
		})
	}

	planner := &plan.Planner{Root: root, FS: e.fs}
	pl, err := planner.Plan(selected, prev.Assets, full)
	if err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "plan changes")
	}
	return &planned{root: root, plan: pl, prev: prev, claims: placement.ClaimsOf(alloc), total: len(selected)}, nil
}

func (e *Engine) builder() *stage.Builder {
	return &stage.Builder{Docs: e.docs, Pages: e.pages, FS: e.fs, Logger: e.logger}
}

func (e *Engine) dryRun(ctx context.Context, p *planned, report *Report) {
	b := e.builder()
	for _, item := range p.plan.Build {
		rec := item.Record
		var anns []record.Annotation
		if !item.Placement.IsNull() {
			var err error
			anns, err = e.source.Annotations(ctx, rec.ID)
			if err != nil {
				report.fail(rec.ID, rec.Title, fmt.Errorf("load annotations: %w", err))
				continue
			}
		}
		report.Succeeded++
		report.GeneratedFiles += b.Count(rec, item.Placement, anns)
		e.logger.Debug("would build", "id", rec.ID, "reason", item.Reason, "path", item.Placement.DocPath)
	}
	report.Removed = len(p.plan.Remove)
}

func (e *Engine) apply(ctx context.Context, p *planned, report *Report) (*Report, error) {
	area, err := stage.Create(e.fs, p.root, e.env)
	if err != nil {
		return nil, newError(ErrCodePlanningFailed, err, "create staging area")
	}
	defer func() {
		if rerr := area.Remove(); rerr != nil {
			e.logger.Warn("remove staging area", "dir", area.Dir, "error", rerr)
		}
	}()

	next := make(map[string]state.Asset, len(p.prev.Assets))
	for id, a := range p.prev.Assets {
		next[id] = a
	}

	pub := &publish.Publisher{Root: p.root, FS: e.fs, Env: e.env, Logger: e.logger, Claims: p.claims}
	b := e.builder()

	for _, item := range p.plan.Build {
		files, err := e.buildOne(ctx, b, pub, area, item)
		if err != nil {
			if publish.IsUnrecoverable(err) {
				return nil, newError(ErrCodePublishUnrecoverable, err, "publish %s", item.Record.ID)
			}
			e.logger.Error("record failed", "id", item.Record.ID, "title", item.Record.Title, "error", err)
			report.fail(item.Record.ID, item.Record.Title, err)
			continue
		}
		next[item.Record.ID] = state.Asset{
			ID:       item.Record.ID,
			Title:    item.Record.Title,
			Kind:     item.Record.Kind,
			Hash:     item.Fingerprint,
			Path:     item.Placement.DocPath,
			AssetDir: item.Placement.AssetDir,
		}
		report.Succeeded++
		report.GeneratedFiles += files
		e.logger.Info("built", "id", item.Record.ID, "reason", item.Reason, "path", item.Placement.DocPath, "files", files)
	}

	for _, gone := range p.plan.Remove {
		if err := pub.Remove(gone.Placement()); err != nil {
			e.logger.Warn("removal failed, will retry", "id", gone.ID, "error", err)
			continue
		}
		delete(next, gone.ID)
		report.Removed++
		e.logger.Info("removed", "id", gone.ID, "path", gone.Path)
	}

	if err := state.Save(e.fs, p.root, next, e.env.Now()); err != nil {
		return nil, newError(ErrCodeStateWriteFailed, err, "save state")
	}
	return report, nil
}

func (e *Engine) buildOne(ctx context.Context, b *stage.Builder, pub *publish.Publisher, area *stage.Area, item plan.Item) (int, error) {
	rec := item.Record
	defer func() {
		if err := area.Discard(rec.ID); err != nil {
			e.logger.Warn("discard staging leftovers", "id", rec.ID, "error", err)
		}
	}()

	var anns []record.Annotation
	if !item.Placement.IsNull() {
		var err error
		anns, err = e.source.Annotations(ctx, rec.ID)
		if err != nil {
			return 0, fmt.Errorf("load annotations: %w", err)
		}
	}

	out, err := b.Build(ctx, area, rec, item.Placement, anns)
	if err != nil {
		return 0, err
	}

	var prev placement.Placement
	if item.Previous != nil {
		prev = item.Previous.Placement()
	}
	if err := pub.Publish(publish.Request{
		Document:     out.Document,
		StagedAssets: out.AssetsDir,
		Next:         item.Placement,
		Prev:         prev,
	}); err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	return out.Files, nil
}
