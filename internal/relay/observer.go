package relay

import (
	"pixpack-go/internal/job"

	"github.com/sirupsen/logrus"
)

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(percent int)
	Log      func(line string)
	Complete func(result job.Result)
}

func (f ObserverFuncs) OnProgress(percent int) {
	if f.Progress != nil {
		f.Progress(percent)
	}
}

func (f ObserverFuncs) OnLog(line string) {
	if f.Log != nil {
		f.Log(line)
	}
}

func (f ObserverFuncs) OnComplete(result job.Result) {
	if f.Complete != nil {
		f.Complete(result)
	}
}

// Multi fans every event out to each observer in order.
func Multi(observers ...Observer) Observer {
	return multi(observers)
}

type multi []Observer

func (m multi) OnProgress(percent int) {
	for _, o := range m {
		o.OnProgress(percent)
	}
}

func (m multi) OnLog(line string) {
	for _, o := range m {
		o.OnLog(line)
	}
}

func (m multi) OnComplete(result job.Result) {
	for _, o := range m {
		o.OnComplete(result)
	}
}

// LogObserver writes engine log lines to a logrus entry at info level.
type LogObserver struct {
	Entry *logrus.Entry
}

func (o LogObserver) OnProgress(percent int) {
	o.Entry.WithField("progress", percent).Debug("Progress")
}

func (o LogObserver) OnLog(line string) {
	o.Entry.Info(line)
}

func (o LogObserver) OnComplete(result job.Result) {
	fields := logrus.Fields{
		"success":    result.Success,
		"elapsed_ms": result.ElapsedMs,
		"items":      result.ItemCount,
	}
	if result.Success {
		o.Entry.WithFields(fields).Info("Job completed")
		return
	}
	o.Entry.WithFields(fields).WithField("error", result.Error).Error("Job failed")
}
