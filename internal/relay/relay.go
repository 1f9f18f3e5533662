// Package relay delivers engine progress and log events to a single observer.
//
// Engine callbacks may fire from any goroutine. The relay queues every event
// and a single drain goroutine hands them to the observer in arrival order, so
// an observer never sees concurrent calls and the engine never waits on it.
package relay

import (
	"sync"
	"sync/atomic"

	"pixpack-go/internal/job"

	"github.com/sirupsen/logrus"
)

// Observer receives the events of one run.
type Observer interface {
	OnProgress(percent int)
	OnLog(line string)
	OnComplete(result job.Result)
}

type eventKind int

const (
	eventProgress eventKind = iota
	eventLog
	eventComplete
)

type event struct {
	kind    eventKind
	percent int
	line    string
	result  job.Result
}

// Relay is the queued bridge between engine callbacks and an Observer.
type Relay struct {
	observer Observer
	logger   *logrus.Logger

	mu     sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

// New starts a relay draining into observer. A nil observer discards events.
func New(observer Observer, logger *logrus.Logger) *Relay {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	r := &Relay{
		observer: observer,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go r.drain()
	return r
}

// Clamp bounds percent to [0, 100].
func Clamp(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// Progress queues a progress event, clamped to [0, 100]. Safe for concurrent use.
func (r *Relay) Progress(percent int) {
	r.push(event{kind: eventProgress, percent: Clamp(percent)})
}

// Log queues a log line. Safe for concurrent use.
func (r *Relay) Log(line string) {
	r.push(event{kind: eventLog, line: line})
}

// Finish queues the completion event, stops accepting new events and waits
// until everything queued, completion included, reached the observer.
func (r *Relay) Finish(result job.Result) {
	r.mu.Lock()
	if !r.closed {
		r.queue = append(r.queue, event{kind: eventComplete, result: result})
		r.closed = true
	}
	r.mu.Unlock()
	r.signal()
	<-r.done
}

// Close stops accepting events and waits for the queue to drain without
// sending a completion.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
	<-r.done
}

// Delivered returns how many events reached the observer.
func (r *Relay) Delivered() int64 {
	return r.delivered.Load()
}

// Dropped returns how many events arrived after the relay was closed.
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Relay) push(e event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	r.queue = append(r.queue, e)
	r.mu.Unlock()
	r.signal()
}

func (r *Relay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) drain() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.mu.Unlock()
			<-r.wake
			r.mu.Lock()
		}
		if len(r.queue) == 0 && r.closed {
			r.mu.Unlock()
			return
		}
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, e := range batch {
			r.deliver(e)
		}
	}
}

func (r *Relay) deliver(e event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("Observer panicked: %v", p)
		}
	}()
	switch e.kind {
	case eventProgress:
		r.observer.OnProgress(e.percent)
	case eventLog:
		r.observer.OnLog(e.line)
	case eventComplete:
		r.observer.OnComplete(e.result)
	}
	r.delivered.Add(1)
}
