// Package events fans connection state updates out to UI subscribers. The
// orchestrator publishes every transition here; consumers (terminal renderer,
// dashboard, tests) subscribe instead of polling orchestrator state.
package events

import (
	"sync"

	"whatsapp-connector/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	published = promauto.NewCounter(prometheus.CounterOpts{
		Name: "state_updates_published_total",
		Help: "Total number of state updates published",
	})
	dropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "state_updates_dropped_total",
		Help: "State updates dropped because a subscriber fell behind",
	})
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "state_update_subscribers",
		Help: "Current number of state update subscribers",
	})
)

// Handler consumes state updates, one at a time, in publish order.
type Handler func(types.StateUpdate)

type subscriber struct {
	ch      chan types.StateUpdate
	handler Handler
}

// Dispatcher delivers updates to each subscriber in order. A slow subscriber
// loses its oldest pending update rather than blocking the orchestrator.
type Dispatcher struct {
	mutex   sync.Mutex
	subs    []*subscriber
	pool    *WorkerPool
	buffer  int
	maxSubs int
	closed  bool
}

// NewDispatcher creates a dispatcher whose subscribers each get a buffer of
// pending updates and a worker from a pool of at most maxSubscribers. A
// buffer below 1 is raised to 1 so the drop-oldest path can always land the
// newest update.
func NewDispatcher(buffer, maxSubscribers int) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if maxSubscribers < 1 {
		maxSubscribers = 1
	}
	return &Dispatcher{
		pool:    NewWorkerPool(maxSubscribers),
		buffer:  buffer,
		maxSubs: maxSubscribers,
	}
}

// Subscribe registers a handler. Each subscriber is served by its own worker,
// so one handler never delays another. Subscribers beyond maxSubscribers are
// refused: each one permanently occupies a pool worker, and admitting more
// would block here with the mutex held, wedging Publish.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed || len(d.subs) >= d.maxSubs {
		return
	}

	s := &subscriber{
		ch:      make(chan types.StateUpdate, d.buffer),
		handler: h,
	}
	d.subs = append(d.subs, s)
	subscribers.Inc()

	d.pool.Submit(func() {
		for u := range s.ch {
			s.handler(u)
		}
	})
}

// Publish hands an update to every subscriber without blocking.
func (d *Dispatcher) Publish(u types.StateUpdate) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed {
		return
	}
	published.Inc()

	for _, s := range d.subs {
		select {
		case s.ch <- u:
		default:
			// Full buffer: sacrifice the oldest pending update.
			select {
			case <-s.ch:
				dropped.Inc()
			default:
			}
			select {
			case s.ch <- u:
			default:
				// The worker raced the refill; the newest update is lost
				// too, and that loss must be visible.
				dropped.Inc()
			}
		}
	}
}

// Close stops delivery and waits for in-flight handlers to drain.
func (d *Dispatcher) Close() {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return
	}
	d.closed = true
	for _, s := range d.subs {
		close(s.ch)
	}
	subscribers.Sub(float64(len(d.subs)))
	d.subs = nil
	d.mutex.Unlock()

	d.pool.Wait()
}
