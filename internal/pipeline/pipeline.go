// Package pipeline runs the fixed sequence of stages that mirrors a remote collection into a local
// working directory and packages it as a container.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
	"github.com/JakeFAU/collection-sync/internal/fetch"
	"github.com/JakeFAU/collection-sync/internal/pages"
	"github.com/JakeFAU/collection-sync/internal/progress"
	"github.com/JakeFAU/collection-sync/internal/reconcile"
)

// Reconciler inspects and repairs the working directory.
type Reconciler interface {
	EnsureWorkDir(dir string) error
	DeleteLoose(ctx context.Context, workDir string, files []*archive.FileReference) ([]string, error)
	VerifyChecksums(ctx context.Context, workDir string, files []*archive.FileReference) (reconcile.Report, error)
}

// Fetcher downloads missing files.
type Fetcher interface {
	FetchMissing(ctx context.Context, workDir string, files []*archive.FileReference, concurrency int) fetch.Summary
}

// Reporter receives the outcome of every run during the Report stage. Reporter errors are logged
// and never change the outcome.
type Reporter interface {
	Report(ctx context.Context, res Result) error
}

// Options identify the collection and the local layout of one run.
type Options struct {
	CollectionID  string
	WorkDir       string
	ContainerPath string
	Concurrency   int
	// DryRun stops after the first checksum pass; the reconciler is expected to be in dry-run mode
	// as well so nothing on disk changes.
	DryRun bool
}

// Dependencies are the collaborators a Pipeline drives.
type Dependencies struct {
	Extractor  archive.Extractor
	Reconciler Reconciler
	Fetcher    Fetcher
	Assembler  archive.Assembler
	Reporters  []Reporter
	Emitter    progress.Emitter
	Clock      archive.Clock
	IDs        archive.IDGenerator
	Logger     *zap.Logger
}

// Result is the outcome of one run.
type Result struct {
	RunID           string
	CollectionID    string
	CollectionTitle string
	Success         bool
	DryRun          bool
	// FailedStage and Err are set when a gating stage failed.
	FailedStage Stage
	Err         error
	// Degraded lists non-gating stages that failed.
	Degraded []Stage

	FilesListed     int
	FilesDeleted    int
	FilesCorrupted  int
	FilesValid      int
	FilesMissing    int
	FilesDownloaded int
	FilesFailed     int
	BytesDownloaded int64
	PagesIndexed    int
	Deleted         []string
	// ContainerPath is set once the container was assembled.
	ContainerPath string

	Started  time.Time
	Finished time.Time
}

// Pipeline runs sync runs for one collection.
type Pipeline struct {
	opts Options
	deps Dependencies
}

// New validates the wiring and returns a Pipeline.
func New(opts Options, deps Dependencies) (*Pipeline, error) {
	var missing []string
	if opts.CollectionID == "" {
		missing = append(missing, "collection id")
	}
	if opts.WorkDir == "" {
		missing = append(missing, "working directory")
	}
	if opts.ContainerPath == "" {
		missing = append(missing, "container path")
	}
	if deps.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if deps.Reconciler == nil {
		missing = append(missing, "reconciler")
	}
	if deps.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if deps.Assembler == nil && !opts.DryRun {
		missing = append(missing, "assembler")
	}
	if deps.Clock == nil {
		missing = append(missing, "clock")
	}
	if deps.IDs == nil {
		missing = append(missing, "id generator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: pipeline requires %v", archive.ErrConfig, missing)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, deps: deps}, nil
}

// runState is everything one run accumulates.
type runState struct {
	ctx    context.Context
	state  *archive.CollectionState
	result *Result
	logger *zap.Logger
}

// Run executes every stage in order and returns the outcome. It never panics on stage failure and
// never exits the process.
func (p *Pipeline) Run(ctx context.Context) Result {
	res := Result{
		CollectionID: p.opts.CollectionID,
		DryRun:       p.opts.DryRun,
		Started:      p.deps.Clock.Now(),
	}
	runID, err := p.newRunID()
	if err != nil {
		res.Err = err
		res.Finished = p.deps.Clock.Now()
		p.deps.Logger.Error("could not allocate run id", zap.Error(err))
		return res
	}
	res.RunID = runID.String()
	ctx = progress.NewContext(ctx, runID, p.opts.CollectionID)
	logger := p.deps.Logger.With(zap.String("run_id", res.RunID), zap.String("collection_id", p.opts.CollectionID))

	rs := &runState{
		ctx: ctx,
		state: &archive.CollectionState{
			CollectionID:  p.opts.CollectionID,
			WorkDir:       p.opts.WorkDir,
			ContainerPath: p.opts.ContainerPath,
		},
		result: &res,
		logger: logger,
	}
	p.emit(ctx, progress.Event{Kind: progress.KindRunStart, TS: res.Started})
	logger.Info("sync run started", zap.Bool("dry_run", p.opts.DryRun), zap.String("work_dir", p.opts.WorkDir))

	for _, s := range p.steps() {
		if err := p.runStep(rs, s); err != nil && s.gating {
			res.FailedStage = s.stage
			res.Err = err
			break
		}
	}
	res.Success = res.Err == nil
	res.Finished = p.deps.Clock.Now()
	p.report(rs)

	done := progress.Event{Kind: progress.KindRunDone, TS: res.Finished, Dur: res.Finished.Sub(res.Started)}
	if !res.Success {
		done.Kind = progress.KindRunError
		done.Note = fmt.Sprintf("%s: %v", res.FailedStage, res.Err)
	}
	p.emit(ctx, done)
	return res
}

func (p *Pipeline) newRunID() (uuid.UUID, error) {
	raw, err := p.deps.IDs.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id %q: %w", raw, err)
	}
	return id, nil
}

func (p *Pipeline) steps() []step {
	steps := []step{
		{StageCheckAccess, true, p.checkAccess},
		{StageEnsureWorkingDir, true, p.ensureWorkingDir},
		{StageFetchCollectionInfo, true, p.fetchCollectionInfo},
		{StageBuildIndex, true, p.buildIndex},
		{StageEnrichCrawlInfo, false, p.enrichCrawlInfo},
		{StageResolveTitles, false, p.resolveTitles},
		{StageDeleteLoose, true, p.deleteLoose},
		{StageVerifyChecksums1, true, p.verifyChecksums},
	}
	if p.opts.DryRun {
		return steps
	}
	return append(steps,
		step{StageFetchMissing, true, p.fetchMissing},
		step{StageVerifyChecksums2, true, p.verifyChecksums},
		step{StageBuildPageIndex, true, p.buildPageIndex},
		step{StageAssembleContainer, true, p.assembleContainer},
	)
}

func (p *Pipeline) runStep(rs *runState, s step) error {
	name := string(s.stage)
	start := p.deps.Clock.Now()
	p.emit(rs.ctx, progress.Event{Kind: progress.KindStageStart, Stage: name, TS: start})
	rs.logger.Debug("stage started", zap.String("stage", name))

	err := rs.ctx.Err()
	if err == nil {
		err = s.run(rs)
	}
	end := p.deps.Clock.Now()
	evt := progress.Event{Kind: progress.KindStageDone, Stage: name, TS: end, Dur: end.Sub(start)}
	if err != nil {
		evt.Kind = progress.KindStageError
		evt.Note = err.Error()
	}
	p.emit(rs.ctx, evt)

	switch {
	case err == nil:
		rs.logger.Info("stage completed", zap.String("stage", name), zap.Duration("dur", end.Sub(start)))
	case s.gating:
		rs.logger.Error("stage failed; aborting run", zap.String("stage", name), zap.Error(err))
	default:
		rs.result.Degraded = append(rs.result.Degraded, s.stage)
		rs.logger.Warn("stage failed; continuing", zap.String("stage", name), zap.Error(err))
	}
	return err
}

func (p *Pipeline) emit(ctx context.Context, evt progress.Event) {
	if p.deps.Emitter == nil {
		return
	}
	scope, ok := progress.FromContext(ctx)
	if !ok {
		return
	}
	evt.RunID = scope.RunID
	evt.Collection = scope.Collection
	p.deps.Emitter.Emit(evt)
}

func (p *Pipeline) checkAccess(rs *runState) error {
	return p.deps.Extractor.CheckAccess(rs.ctx)
}

func (p *Pipeline) ensureWorkingDir(rs *runState) error {
	return p.deps.Reconciler.EnsureWorkDir(rs.state.WorkDir)
}

func (p *Pipeline) fetchCollectionInfo(rs *runState) error {
	info, err := p.deps.Extractor.CollectionInfo(rs.ctx)
	if err != nil {
		return err
	}
	rs.state.Title = info.Title
	rs.state.Description = info.Description
	rs.result.CollectionTitle = info.Title
	return nil
}

func (p *Pipeline) buildIndex(rs *runState) error {
	files, err := p.deps.Extractor.ListFiles(rs.ctx)
	if err != nil {
		return err
	}
	rs.state.Files = files
	rs.result.FilesListed = len(files)
	rs.logger.Info("remote index built", zap.Int("files", len(files)))
	return nil
}

func (p *Pipeline) enrichCrawlInfo(rs *runState) error {
	return p.deps.Extractor.EnrichCrawlInfo(rs.ctx, rs.state.Files, p.opts.Concurrency)
}

func (p *Pipeline) resolveTitles(rs *runState) error {
	return p.deps.Extractor.ResolveTitles(rs.ctx, rs.state.Files, p.opts.Concurrency)
}

func (p *Pipeline) deleteLoose(rs *runState) error {
	deleted, err := p.deps.Reconciler.DeleteLoose(rs.ctx, rs.state.WorkDir, rs.state.Files)
	rs.result.Deleted = append(rs.result.Deleted, deleted...)
	rs.result.FilesDeleted = len(rs.result.Deleted)
	return err
}

func (p *Pipeline) verifyChecksums(rs *runState) error {
	report, err := p.deps.Reconciler.VerifyChecksums(rs.ctx, rs.state.WorkDir, rs.state.Files)
	if err != nil {
		return err
	}
	rs.result.FilesCorrupted += report.Corrupted
	rs.result.FilesValid = report.Valid
	rs.result.FilesMissing = report.Missing
	return nil
}

func (p *Pipeline) fetchMissing(rs *runState) error {
	summary := p.deps.Fetcher.FetchMissing(rs.ctx, rs.state.WorkDir, rs.state.Files, p.opts.Concurrency)
	rs.result.FilesDownloaded = summary.Downloaded
	rs.result.FilesFailed = summary.Failed
	rs.result.BytesDownloaded = summary.Bytes
	if err := rs.ctx.Err(); err != nil {
		return fmt.Errorf("fetch missing: %w", err)
	}
	return nil
}

func (p *Pipeline) buildPageIndex(rs *runState) error {
	rs.state.Pages = pages.Build(rs.state.Files, rs.logger)
	rs.result.PagesIndexed = len(rs.state.Pages)
	return nil
}

func (p *Pipeline) assembleContainer(rs *runState) error {
	// Files the platform offers no location for can never be fetched; they are left out of the
	// container instead of blocking every future run.
	var missing int
	var unavailable []string
	for _, f := range rs.state.Files {
		if f.Local != archive.LocalMissing {
			continue
		}
		if f.DownloadURL == "" {
			unavailable = append(unavailable, f.Filename)
			continue
		}
		missing++
	}
	if len(unavailable) > 0 {
		rs.logger.Warn("assembling without files that have no download location",
			zap.Int("count", len(unavailable)),
			zap.Strings("filenames", unavailable),
		)
	}
	if missing > 0 {
		return fmt.Errorf("%w: %d of %d files missing after fetch", archive.ErrIncomplete, missing, len(rs.state.Files))
	}
	err := p.deps.Assembler.Assemble(rs.ctx, archive.AssembleRequest{
		WorkDir:     rs.state.WorkDir,
		OutputPath:  rs.state.ContainerPath,
		Title:       rs.state.Title,
		Description: rs.state.Description,
		Pages:       rs.state.Pages,
	})
	if err != nil {
		return err
	}
	rs.result.ContainerPath = rs.state.ContainerPath
	return nil
}

// report runs the Report stage. It always runs, after success and failure alike, so history and
// metrics see every run.
func (p *Pipeline) report(rs *runState) {
	res := *rs.result
	fields := []zap.Field{
		zap.Bool("success", res.Success),
		zap.Bool("dry_run", res.DryRun),
		zap.Int("listed", res.FilesListed),
		zap.Int("deleted", res.FilesDeleted),
		zap.Int("corrupted", res.FilesCorrupted),
		zap.Int("valid", res.FilesValid),
		zap.Int("missing", res.FilesMissing),
		zap.Int("downloaded", res.FilesDownloaded),
		zap.Int("failed", res.FilesFailed),
		zap.Int64("bytes", res.BytesDownloaded),
		zap.Int("pages", res.PagesIndexed),
		zap.Duration("elapsed", res.Finished.Sub(res.Started)),
	}
	if res.Success {
		rs.logger.Info("sync run finished", append(fields, zap.String("container", res.ContainerPath))...)
	} else {
		rs.logger.Error("sync run failed", append(fields, zap.String("stage", string(res.FailedStage)), zap.Error(res.Err))...)
	}

	// Reporters get a fresh context so a canceled run is still recorded.
	ctx := context.WithoutCancel(rs.ctx)
	_ = p.runStep(&runState{ctx: ctx, state: rs.state, result: rs.result, logger: rs.logger}, step{
		stage: StageReport,
		run: func(*runState) error {
			var errs []error
			for _, r := range p.deps.Reporters {
				if r == nil {
					continue
				}
				if err := r.Report(ctx, res); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	})
}
