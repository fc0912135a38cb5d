package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
	"github.com/opsdash/authgate/internal/pkg/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
	processTimeout = 5 * time.Second
)

// Dispatcher hands audit events to a fixed set of workers, sharded by email so
// events about one account are delivered in order. It never blocks the
// request path: when a worker channel is full the event is dropped.
type Dispatcher struct {
	workers []chan domain.AuthEvent
	service ports.AuditService
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	base   context.Context
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, service ports.AuditService, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan domain.AuthEvent, numWorkers),
		service: service,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.AuthEvent, channelBuffer)
	}
	return d
}

// Start launches the workers. Values of ctx reach the sinks; its
// cancellation does not stop delivery, Close does.
func (d *Dispatcher) Start(ctx context.Context) {
	d.base = context.WithoutCancel(ctx)
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(i, ch)
	}
}

// Enqueue implements ports.AuditRecorder.
func (d *Dispatcher) Enqueue(ev domain.AuthEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.AuditEventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		return
	}

	idx := d.shardIndex(ev)
	select {
	case d.workers[idx] <- ev:
		metrics.AuditQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	default:
		metrics.AuditEventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		d.log.Warn().Str("type", string(ev.Type)).Int("worker_id", idx).Msg("audit queue full, event dropped")
	}
}

// Close stops accepting events, drains what is queued and waits for the
// workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.workers {
			close(ch)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// shardIndex maps an event deterministically to a worker index.
func (d *Dispatcher) shardIndex(ev domain.AuthEvent) int {
	key := ev.Email
	if key == "" {
		key = strconv.FormatInt(ev.UserID, 10)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(id int, ch <-chan domain.AuthEvent) {
	defer d.wg.Done()
	label := strconv.Itoa(id)

	for ev := range ch {
		metrics.AuditQueueDepth.WithLabelValues(label).Set(float64(len(ch)))

		ctx, cancel := context.WithTimeout(d.base, processTimeout)
		if err := d.service.Process(ctx, ev); err != nil {
			d.log.Error().Err(err).
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Int("worker_id", id).
				Msg("audit event processing failed")
		}
		cancel()
	}
}
