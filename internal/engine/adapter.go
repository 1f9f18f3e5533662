package engine

import (
	"context"
	"time"

	"pixpack-go/internal/job"

	"github.com/sirupsen/logrus"
	"gitlab.com/tozd/go/errors"
)

// Adapter invokes an Engine for one job and translates anything that goes
// wrong inside it into a *job.Error of kind KindEngine.
type Adapter struct {
	engine Engine
	logger *logrus.Logger
}

// NewAdapter wraps engine.
func NewAdapter(engine Engine, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{engine: engine, logger: logger}
}

// Run calls the engine operation matching mode and blocks until it returns.
// It never panics.
func (a *Adapter) Run(ctx context.Context, mode job.Mode, p Params, cb Callbacks) (elapsedMs int64, err error) {
	const op = "run engine"
	entry := a.logger.WithFields(logrus.Fields{
		"mode":    mode.String(),
		"variant": p.Variant.String(),
		"workers": p.Workers,
		"source":  p.SourceDir,
		"output":  p.OutputDir,
	})

	if a.engine == nil {
		return 0, job.Errorf(job.KindEngine, op, "engine unavailable")
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("Engine panicked: %v", r)
			elapsedMs = 0
			err = job.E(job.KindEngine, op, errors.Errorf("engine panicked: %v", r))
		}
	}()

	entry.Debug("Invoking engine")
	switch mode {
	case job.ModeCompress:
		elapsedMs, err = a.engine.Compress(ctx, p, cb)
	case job.ModeDecompress:
		elapsedMs, err = a.engine.Decompress(ctx, p, cb)
	default:
		return 0, job.Errorf(job.KindValidation, op, "unknown mode %d", int(mode))
	}

	entry = entry.WithField("duration", time.Since(start).String())
	if err != nil {
		entry.Warnf("Engine failed: %v", err)
		return elapsedMs, job.E(job.KindEngine, op, err)
	}
	entry.WithField("elapsed_ms", elapsedMs).Debug("Engine finished")
	return elapsedMs, nil
}
