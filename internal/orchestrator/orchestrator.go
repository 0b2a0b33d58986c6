// Package orchestrator drives one template run from Pending to a terminal
// status.
//
// A run resolves every alias, enumerates the bindings and renders them one
// at a time in enumeration order. Each instance is PNG encoded and stored
// under the run id before progress is reported. The first failure marks the
// run Failed; outputs already stored are kept.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/blueprint-labs/blueprint/internal/binding"
	"github.com/blueprint-labs/blueprint/internal/compositor"
	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/imagecache"
	"github.com/blueprint-labs/blueprint/internal/platform/ctxlog"
	"github.com/blueprint-labs/blueprint/internal/resolve"
)

// OutputStore persists rendered instances under a run namespace.
type OutputStore interface {
	PutOutput(ctx context.Context, runID, name, contentType string, data []byte) error
}

// RunUpdater is the write side of the run repository.
type RunUpdater interface {
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, progress int) error
}

// Recorder is told about every status transition. Recording failures are
// logged and otherwise ignored.
type Recorder interface {
	RecordTransition(ctx context.Context, runID string, status domain.RunStatus, details map[string]any) error
}

type Deps struct {
	Catalog resolve.Catalog
	Fetcher imagecache.Fetcher
	// Describer supplies file_name metadata for output names. Optional.
	Describer binding.Describer
	Outputs   OutputStore
	Runs      RunUpdater
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
}

type Orchestrator struct {
	cfg       Config
	catalog   resolve.Catalog
	fetcher   imagecache.Fetcher
	describer binding.Describer
	outputs   OutputStore
	runs      RunUpdater
	recorder  Recorder
	logger    *slog.Logger
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Catalog == nil || deps.Fetcher == nil || deps.Outputs == nil || deps.Runs == nil {
		return nil, errors.New("catalog, fetcher, outputs and runs are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		catalog:   deps.Catalog,
		fetcher:   deps.Fetcher,
		describer: deps.Describer,
		outputs:   deps.Outputs,
		runs:      deps.Runs,
		recorder:  deps.Recorder,
		logger:    logger,
	}, nil
}

// Result summarises a finished run.
type Result struct {
	RunID string
	// Instances is the number of rendered outputs. Zero on success means an
	// alias expanded to no candidates.
	Instances int
	Outputs   []string
	Cache     imagecache.Stats
	Duration  time.Duration
}

// Run renders every instance of tmpl for the Pending run runID. The returned
// error is the cause of a Failed run; the run record has already been
// updated when Run returns.
func (o *Orchestrator) Run(ctx context.Context, runID string, tmpl domain.Template) (Result, error) {
	start := time.Now()
	ctx, logger := ctxlog.With(ctxlog.WithLogger(ctx, o.logger), "run_id", runID)
	res := Result{RunID: runID}

	if err := o.transition(ctx, runID, domain.RunRunning, 0, nil); err != nil {
		return res, o.fail(ctx, runID, 0, err)
	}
	if err := tmpl.Validate(); err != nil {
		return res, o.fail(ctx, runID, 0, err)
	}

	resolved, err := resolve.New(o.catalog).ResolveAliases(ctx, tmpl.Aliases)
	if err != nil {
		return res, o.fail(ctx, runID, 0, fmt.Errorf("resolve aliases: %w", err))
	}
	enum := binding.NewEnumerator(resolved)
	total := enum.Len()

	cache, err := imagecache.New(o.fetcher, o.cfg.CacheSize)
	if err != nil {
		return res, o.fail(ctx, runID, 0, err)
	}
	namer := binding.Unique(binding.PrimaryAliasNamer{Alias: o.cfg.PrimaryAlias, Describer: o.describer})

	cardinality := make(map[string]int, len(resolved))
	for alias, locs := range resolved {
		cardinality[alias] = len(locs)
	}
	logger.Info("run started", "aliases", cardinality, "instances", total, "layers", len(tmpl.Layers))
	if total == 0 {
		logger.Warn("template expands to zero instances", "aliases", cardinality)
	}

	progress := 0
	for b := range enum.All() {
		name, err := o.renderInstance(ctx, runID, tmpl, b, cache, namer)
		if err != nil {
			res.Cache = cache.Stats()
			return res, o.fail(ctx, runID, progress, err)
		}
		res.Outputs = append(res.Outputs, name)
		res.Instances++
		logger.Debug("instance rendered", "instance", b.Index, "output", name)

		if res.Instances < total {
			progress = intermediateProgress(res.Instances, total)
			if err := o.transition(ctx, runID, domain.RunRunning, progress, nil); err != nil {
				res.Cache = cache.Stats()
				return res, o.fail(ctx, runID, progress, err)
			}
		}
	}

	res.Cache = cache.Stats()
	res.Duration = time.Since(start)
	details := map[string]any{"instances": res.Instances}
	if err := o.transition(ctx, runID, domain.RunSucceeded, 100, details); err != nil {
		return res, o.fail(ctx, runID, progress, err)
	}
	logger.Info("run succeeded",
		"instances", res.Instances,
		"duration_ms", res.Duration.Milliseconds(),
		"cache_loads", res.Cache.Loads,
		"cache_hits", res.Cache.Hits,
	)
	return res, nil
}

func (o *Orchestrator) renderInstance(ctx context.Context, runID string, tmpl domain.Template, b binding.Binding, cache *imagecache.Cache, namer binding.Namer) (string, error) {
	canvas, err := compositor.Composite(ctx, tmpl, b, cache)
	if err != nil {
		return "", fmt.Errorf("instance %d: %w", b.Index, err)
	}
	data, err := compositor.EncodePNG(canvas)
	if err != nil {
		return "", fmt.Errorf("instance %d: %w", b.Index, err)
	}
	name, err := namer.Name(ctx, b)
	if err != nil {
		return "", &StorageError{Op: OpDescribeAsset, RunID: runID, Err: err}
	}
	if err := o.outputs.PutOutput(ctx, runID, name, compositor.ContentType, data); err != nil {
		return "", &StorageError{Op: OpPutOutput, RunID: runID, Err: err}
	}
	return name, nil
}

func (o *Orchestrator) transition(ctx context.Context, runID string, status domain.RunStatus, progress int, details map[string]any) error {
	if err := o.runs.UpdateRunStatus(ctx, runID, status, progress); err != nil {
		return &StorageError{Op: OpUpdateRun, RunID: runID, Err: err}
	}
	// Progress ticks are not transitions.
	if status == domain.RunRunning && progress > 0 {
		return nil
	}
	o.record(ctx, runID, status, details)
	return nil
}

// fail marks the run Failed and returns cause.
func (o *Orchestrator) fail(ctx context.Context, runID string, progress int, cause error) error {
	logger := ctxlog.FromContext(ctx)
	logger.Error("run failed", "error", cause, "progress", progress)
	if err := o.runs.UpdateRunStatus(ctx, runID, domain.RunFailed, progress); err != nil {
		logger.Error("mark run failed", "error", err)
		return errors.Join(cause, &StorageError{Op: OpUpdateRun, RunID: runID, Err: err})
	}
	o.record(ctx, runID, domain.RunFailed, map[string]any{"error": cause.Error()})
	return cause
}

func (o *Orchestrator) record(ctx context.Context, runID string, status domain.RunStatus, details map[string]any) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordTransition(ctx, runID, status, details); err != nil {
		ctxlog.FromContext(ctx).Warn("record run transition", "status", status, "error", err)
	}
}

// intermediateProgress is round(done*100/total), held below 100 until the
// last instance is stored.
func intermediateProgress(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(done) * 100 / float64(total)))
	return min(max(p, 0), 99)
}
