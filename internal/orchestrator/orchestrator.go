// Package orchestrator sequences one compress or decompress run: validation,
// workspace allocation, the engine call, archive packing or unpacking, and
// cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"pixpack-go/internal/archive"
	"pixpack-go/internal/engine"
	"pixpack-go/internal/job"
	"pixpack-go/internal/logger"
	"pixpack-go/internal/relay"
	"pixpack-go/internal/statistics"
	"pixpack-go/internal/workspace"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gitlab.com/tozd/go/errors"
)

// Pipeline stages, used as the "stage" log field and as statistics keys.
const (
	StageValidating    = "validating"
	StagePreparing     = "preparing"
	StageUnpacking     = "unpacking"
	StageEngineRunning = "engine_running"
	StagePackaging     = "packaging"
	StageCleanup       = "cleanup"
	StageDone          = "done"
	StageFailed        = "failed"
)

// ErrBusy is returned by Submit while another job is running.
var ErrBusy = errors.New("a job is already running")

// Options tunes the orchestrator.
type Options struct {
	// ItemPattern selects intermediate items in workspaces and archives.
	ItemPattern string
}

// Orchestrator runs jobs. Execute may be called concurrently; Submit allows
// one active job at a time.
type Orchestrator struct {
	workspaces *workspace.Manager
	adapter    *engine.Adapter
	logger     *logrus.Logger
	opts       Options

	mu        sync.Mutex
	running   bool
	lastStats *statistics.Statistics
}

// New returns an Orchestrator.
func New(workspaces *workspace.Manager, adapter *engine.Adapter, log *logrus.Logger, opts Options) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	if opts.ItemPattern == "" {
		opts.ItemPattern = engine.ItemPattern
	}
	return &Orchestrator{
		workspaces: workspaces,
		adapter:    adapter,
		logger:     log,
		opts:       opts,
	}
}

// run carries the per-job state through the stages.
type run struct {
	req    job.Request
	relay  *relay.Relay
	entry  *logrus.Entry
	stats  *statistics.Statistics
	ws     string
	output string
}

func (r *run) stage(name string) *logrus.Entry {
	return logger.WithStage(r.entry, name)
}

// Execute runs req to completion on the calling goroutine and returns its
// result. The observer receives progress and log events, then exactly one
// OnComplete carrying the same result. Execute never panics.
func (o *Orchestrator) Execute(ctx context.Context, req job.Request, observer relay.Observer) job.Result {
	jobID := uuid.NewString()
	r := &run{
		req:   req,
		relay: relay.New(observer, o.logger),
		entry: logger.WithJob(o.logger, jobID, req),
		stats: statistics.NewStatistics(),
	}

	result := o.execute(ctx, r)

	r.stats.Finalize()
	o.mu.Lock()
	o.lastStats = r.stats
	o.mu.Unlock()

	if result.Success {
		r.stage(StageDone).WithFields(logrus.Fields{
			"elapsed_ms": result.ElapsedMs,
			"items":      result.ItemCount,
		}).Info("Job finished")
		r.relay.Log(fmt.Sprintf("Done: %d item(s) in %d ms", result.ItemCount, result.ElapsedMs))
	} else {
		r.stage(StageFailed).WithField("error_kind", result.ErrorKind).Errorf("Job failed: %s", result.Error)
		r.relay.Log("Failed: " + result.Error)
	}
	r.relay.Finish(result)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (result job.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.entry.WithField("stack", string(debug.Stack())).Errorf("Pipeline panicked: %v", rec)
			result = job.Failed(job.E(job.KindEnvironment, "execute", fmt.Errorf("unexpected panic: %v", rec)))
		}
	}()

	start := time.Now()
	r.stage(StageValidating).Info("Validating request")
	if err := r.req.Validate(); err != nil {
		return job.Failed(err)
	}
	r.output = r.req.OutputPath()
	r.stats.RecordStage(StageValidating, time.Since(start))

	start = time.Now()
	r.stage(StagePreparing).Info("Allocating workspace")
	ws, err := o.workspaces.Create(r.req.Mode)
	if err != nil {
		return job.Failed(err)
	}
	r.ws = ws
	r.stats.RecordStage(StagePreparing, time.Since(start))
	defer o.cleanup(r)

	r.relay.Log(fmt.Sprintf("Workspace: %s", ws))
	var res job.Result
	if r.req.Mode == job.ModeCompress {
		res = o.compress(ctx, r)
	} else {
		res = o.decompress(ctx, r)
	}
	if res.Success {
		res.OutputPath = r.output
	}
	return res
}

func (o *Orchestrator) compress(ctx context.Context, r *run) job.Result {
	elapsed, err := o.runEngine(ctx, r, r.req.SourcePath, r.ws)
	if err != nil {
		return job.Failed(err)
	}

	start := time.Now()
	entry := r.stage(StagePackaging)
	entry.Info("Packing items")
	items, err := archive.ListItems(r.ws, o.opts.ItemPattern)
	if err != nil {
		return job.Failed(job.E(job.KindEnvironment, "list items", err))
	}
	if len(items) == 0 {
		return job.Failed(job.Errorf(job.KindNoOutput, "pack archive", "engine produced no items from %s", r.req.SourcePath))
	}
	r.relay.Log(fmt.Sprintf("Packing %d item(s) into %s", len(items), r.req.DestinationPath))
	count, err := archive.Pack(ctx, items, r.req.DestinationPath)
	if err != nil {
		return job.Failed(err)
	}
	r.stats.SetArchiveEntries(int64(count))
	r.stats.RecordStage(StagePackaging, time.Since(start))
	entry.WithField("entries", count).Info("Archive written")
	return job.Succeeded(elapsed, count, r.output)
}

func (o *Orchestrator) decompress(ctx context.Context, r *run) job.Result {
	start := time.Now()
	entry := r.stage(StageUnpacking)
	entry.Info("Unpacking archive")
	count, err := archive.Unpack(ctx, r.req.SourcePath, r.ws, o.opts.ItemPattern)
	if err != nil {
		return job.Failed(err)
	}
	if count == 0 {
		return job.Failed(job.Errorf(job.KindNoInput, "unpack archive", "no %s entries in %s", o.opts.ItemPattern, r.req.SourcePath))
	}
	r.stats.SetArchiveEntries(int64(count))
	r.stats.RecordStage(StageUnpacking, time.Since(start))
	entry.WithField("entries", count).Info("Archive unpacked")
	r.relay.Log(fmt.Sprintf("Unpacked %d item(s)", count))

	if err := os.MkdirAll(r.output, 0755); err != nil {
		return job.Failed(job.E(job.KindEnvironment, "create output folder", err))
	}
	elapsed, err := o.runEngine(ctx, r, r.ws, r.output)
	if err != nil {
		return job.Failed(err)
	}
	written := r.stats.Written()
	if written == 0 {
		return job.Failed(job.Errorf(job.KindNoOutput, "decode items", "none of the %d item(s) in %s could be decoded", count, r.req.SourcePath))
	}
	return job.Succeeded(elapsed, int(written), r.output)
}

func (o *Orchestrator) runEngine(ctx context.Context, r *run, source, output string) (int64, error) {
	start := time.Now()
	r.stage(StageEngineRunning).Info("Running engine")
	params := engine.Params{
		SourceDir: source,
		OutputDir: output,
		Variant:   r.req.EngineVariant,
		Workers:   r.req.WorkerCount,
		Stats:     r.stats,
	}
	cb := engine.Callbacks{
		OnProgress: r.relay.Progress,
		OnLog:      r.relay.Log,
	}
	elapsed, err := o.adapter.Run(ctx, r.req.Mode, params, cb)
	r.stats.RecordStage(StageEngineRunning, time.Since(start))
	return elapsed, err
}

func (o *Orchestrator) cleanup(r *run) {
	start := time.Now()
	entry := r.stage(StageCleanup)
	if err := o.workspaces.Destroy(r.ws); err != nil {
		entry.Warnf("Workspace cleanup failed: %v", err)
		r.relay.Log(fmt.Sprintf("Warning: could not remove workspace %s: %v", r.ws, err))
		return
	}
	r.stats.RecordStage(StageCleanup, time.Since(start))
	entry.Debug("Workspace removed")
}

// Submit runs req on a new goroutine and returns a channel that receives its
// result. It returns ErrBusy if a submitted job is still running.
func (o *Orchestrator) Submit(ctx context.Context, req job.Request, observer relay.Observer) (<-chan job.Result, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.running = true
	o.mu.Unlock()

	done := make(chan job.Result, 1)
	go func() {
		result := o.Execute(ctx, req, observer)
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		done <- result
		close(done)
	}()
	return done, nil
}

// Running reports whether a submitted job is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastStats returns the statistics of the most recent finished run, or nil.
func (o *Orchestrator) LastStats() *statistics.Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats
}
