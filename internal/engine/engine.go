// Package engine holds the processing engine boundary, the invocation
// adapter the orchestrator uses, and the default LZ77 image engine.
package engine

import (
	"context"

	"pixpack-go/internal/job"
	"pixpack-go/internal/statistics"
)

// Params describes one engine invocation.
type Params struct {
	SourceDir string
	OutputDir string
	Variant   job.EngineVariant
	Workers   int

	// Stats is optional; engines record per-item counters into it.
	Stats *statistics.Statistics
}

// Callbacks receive progress and log events. Engines may call them from any
// goroutine, any number of times. Nil fields are ignored.
type Callbacks struct {
	OnProgress func(percent int)
	OnLog      func(line string)
}

func (c Callbacks) progress(percent int) {
	if c.OnProgress != nil {
		c.OnProgress(percent)
	}
}

func (c Callbacks) log(line string) {
	if c.OnLog != nil {
		c.OnLog(line)
	}
}

// Engine transforms every item of a folder. Each call blocks until all of
// the engine's workers have finished and returns the elapsed codec time in
// milliseconds.
type Engine interface {
	Compress(ctx context.Context, p Params, cb Callbacks) (int64, error)
	Decompress(ctx context.Context, p Params, cb Callbacks) (int64, error)
}
