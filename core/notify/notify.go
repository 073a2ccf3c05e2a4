/*
Package notify delivers change notifications decoupled from the
request/response cycle. A write dispatches into a buffered queue and
returns; a single worker invokes the entity callback and the configured
sinks. Failures are logged, never propagated, and must not fail the write.
*/
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/relabs-tech/modelapi/core"
	"github.com/relabs-tech/modelapi/core/logger"
	"github.com/relabs-tech/modelapi/core/store"
)

// Change describes one successful write.
type Change struct {
	Entity    string         `json:"entity"`
	Operation core.Operation `json:"operation"`
	Record    store.Record   `json:"record"`
}

// Sink receives change notifications.
type Sink interface {
	Deliver(ctx context.Context, change Change) error
}

type job struct {
	change   Change
	callback func(entity string, record store.Record)
}

// Dispatcher fans changes out to sinks and entity callbacks from a worker
// goroutine. Dispatch never blocks the caller; when the queue is full the
// notification is dropped with a warning.
type Dispatcher struct {
	sinks []Sink
	queue chan job
	wg    sync.WaitGroup

	// DeliveryTimeout bounds a single sink delivery. Defaults to 10s.
	DeliveryTimeout time.Duration
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks:           sinks,
		queue:           make(chan job, 256),
		DeliveryTimeout: 10 * time.Second,
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Dispatch queues a change for asynchronous delivery. The callback may be
// nil.
func (d *Dispatcher) Dispatch(change Change, callback func(entity string, record store.Record)) {
	select {
	case d.queue <- job{change: change, callback: callback}:
	default:
		logger.Default().Warningf("notification queue full, dropping %s change for %s",
			change.Operation, change.Entity)
	}
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	rlog := logger.Default()
	for j := range d.queue {
		if j.callback != nil {
			callWithPanicEnvelope(j.callback, j.change)
		}
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.DeliveryTimeout)
			if err := sink.Deliver(ctx, j.change); err != nil {
				rlog.WithError(err).Errorf("cannot deliver %s notification for %s",
					j.change.Operation, j.change.Entity)
			}
			cancel()
		}
	}
}

func callWithPanicEnvelope(callback func(string, store.Record), change Change) {
	defer func() {
		if r := recover(); r != nil {
			logger.Default().Errorf("recovered from panic in change callback for %s: %v",
				change.Entity, r)
		}
	}()
	callback(change.Entity, change.Record)
}

// LogSink logs every change. Useful as a default sink in development.
type LogSink struct{}

// Deliver implements the Sink interface.
func (LogSink) Deliver(ctx context.Context, change Change) error {
	logger.FromContext(ctx).Infof("%s %s %v", change.Operation, change.Entity,
		change.Record)
	return nil
}
