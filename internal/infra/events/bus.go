package events

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/event"
	"invoicing-platform/internal/infra/metrics"
)

var _ event.Bus = (*Bus)(nil)

// Bus is the in-process event dispatcher. Handlers are registered once at
// startup; Publish hands each delivery to a small worker pool so a slow
// handler never blocks the publishing request.
//
// Delivery is at-least-once and unordered across names. Handler errors are
// logged, not retried; handlers own their idempotency.
type Bus struct {
	mu       sync.RWMutex
	handlers map[model.EventName][]event.Handler

	jobs chan job
	wg   sync.WaitGroup
	n    int
	sync bool // deliver inline, used by tests and the CLI seed path

	log     *zerolog.Logger
	entropy *ulidSource
}

type job struct {
	ctx context.Context
	ev  *model.Event
	h   event.Handler
}

// ulidSource guards the monotonic entropy reader, which is not safe for
// concurrent use.
type ulidSource struct {
	mu sync.Mutex
	r  *ulid.MonotonicEntropy
}

func (s *ulidSource) next(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.r).String()
}

func NewBus(workers int, logger *zerolog.Logger) *Bus {
	if workers <= 0 {
		workers = 4
	}
	l := logger.With().Str("component", "EventBus").Logger()
	return &Bus{
		handlers: make(map[model.EventName][]event.Handler),
		jobs:     make(chan job, workers*8),
		n:        workers,
		log:      &l,
		entropy:  &ulidSource{r: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)},
	}
}

// NewSyncBus delivers events inline on the publishing goroutine.
func NewSyncBus(logger *zerolog.Logger) *Bus {
	b := NewBus(1, logger)
	b.sync = true
	return b
}

func (b *Bus) Register(name model.EventName, h event.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Start launches the dispatch workers. Not needed in sync mode.
func (b *Bus) Start(ctx context.Context) {
	if b.sync {
		return
	}
	for i := 0; i < b.n; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-b.jobs:
					if !ok {
						return
					}
					b.deliver(j)
				}
			}
		}()
	}
}

// Stop drains in-flight deliveries.
func (b *Bus) Stop() {
	if b.sync {
		return
	}
	close(b.jobs)
	b.wg.Wait()
}

func (b *Bus) Publish(ctx context.Context, ev *model.Event) {
	if ev == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = b.entropy.next(ev.OccurredAt)
	}
	metrics.IncEventPublished(string(ev.Name))

	b.mu.RLock()
	hs := append([]event.Handler(nil), b.handlers[ev.Name]...)
	b.mu.RUnlock()

	for _, h := range hs {
		j := job{ctx: ctx, ev: ev, h: h}
		if b.sync {
			b.deliver(j)
			continue
		}
		select {
		case b.jobs <- j:
		default:
			// Saturated pool: deliver inline rather than drop the event.
			b.deliver(j)
		}
	}
}

func (b *Bus) deliver(j job) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", string(j.ev.Name)).Str("event_id", j.ev.ID).Msg("event handler panicked")
		}
	}()
	if err := j.h(j.ctx, j.ev); err != nil {
		b.log.Error().Err(err).Str("event", string(j.ev.Name)).Str("event_id", j.ev.ID).Msg("event handler failed")
	}
}
