package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
)

// Handler consumes events. Errors are logged by the dispatcher and dropped.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Emitter is the producer side of the dispatcher.
type Emitter interface {
	Emit(ev Event)
}

// Metrics receives per-delivery outcomes.
type Metrics interface {
	EventDelivered(handler string, kind string, err error)
}

type noopMetrics struct{}

func (noopMetrics) EventDelivered(string, string, error) {}

type subscription struct {
	name    string
	handler Handler
}

// Dispatcher fans events out to subscribed handlers on a worker pool. Emit
// never blocks on delivery and delivery failures never reach the emitter.
// Delivery is at most once.
type Dispatcher struct {
	log     zerolog.Logger
	pool    *workerpool.WorkerPool
	timeout time.Duration
	metrics Metrics

	mu      sync.RWMutex
	subs    []subscription
	stopped bool
}

func NewDispatcher(log zerolog.Logger, workers int, timeout time.Duration, metrics Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{
		log:     log.With().Str("component", "event_dispatcher").Logger(),
		pool:    workerpool.New(workers),
		timeout: timeout,
		metrics: metrics,
	}
}

func (d *Dispatcher) Subscribe(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, subscription{name: name, handler: h})
}

// Emit queues ev for every subscriber. Events emitted after Stop are dropped.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn().Str("kind", string(ev.Kind())).Str("incident_id", ev.Incident()).
			Msg("dispatcher stopped, dropping event")
		return
	}
	for _, sub := range d.subs {
		sub := sub
		d.pool.Submit(func() {
			d.deliver(sub, ev)
		})
	}
}

func (d *Dispatcher) deliver(sub subscription, ev Event) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return sub.handler.HandleEvent(ctx, ev)
	}()

	d.metrics.EventDelivered(sub.name, string(ev.Kind()), err)
	if err != nil {
		d.log.Error().Err(err).
			Str("handler", sub.name).
			Str("kind", string(ev.Kind())).
			Str("incident_id", ev.Incident()).
			Msg("event delivery failed")
		return
	}
	d.log.Debug().
		Str("handler", sub.name).
		Str("kind", string(ev.Kind())).
		Str("incident_id", ev.Incident()).
		Msg("event delivered")
}

// Stop rejects new events and waits for queued deliveries to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	d.pool.StopWait()
}
