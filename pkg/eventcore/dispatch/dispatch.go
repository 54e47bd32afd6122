package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tusquake/eventcore/pkg/eventcore/broker"
	"github.com/tusquake/eventcore/pkg/eventcore/dedupe"
	"github.com/tusquake/eventcore/pkg/eventcore/deadletter"
	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
	ecerrors "github.com/tusquake/eventcore/pkg/eventcore/errors"
	"github.com/tusquake/eventcore/pkg/eventcore/observability"
)

// Handler processes a decoded event. A handler classifies its own failures:
// return ecerrors.Retryable(err) to request another attempt,
// ecerrors.Fatal(err) to dead-letter immediately. Unclassified errors are
// fatal.
type Handler interface {
	Handle(ctx context.Context, evt envelope.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt envelope.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt envelope.Event) error {
	return f(ctx, evt)
}

// DeliveryOrder is the ordering guarantee a subscription asks for.
type DeliveryOrder int

const (
	// OrderNone makes no ordering promise across events.
	OrderNone DeliveryOrder = iota

	// OrderPerSubject delivers events sharing a subject id in occurred-at
	// order. Partition-sequential processing provides this guarantee.
	OrderPerSubject
)

// Subscription describes one registered handler. Subscriptions are immutable
// for the life of a run.
type Subscription struct {
	// HandlerID names the handler in logs, metrics, and dead letters.
	HandlerID string

	// EventTypes is the set of types this handler receives.
	EventTypes []string

	// Order is the requested delivery ordering.
	Order DeliveryOrder

	handler Handler
}

// Config configures a Dispatcher.
type Config struct {
	// Broker is the delivery transport. Required.
	Broker broker.Broker

	// Group is the consumer group id. Required; it is a configuration
	// input, not a constant.
	Group string

	// Types, when set, gates dispatch on schema version: an event whose
	// version the registered TypeDef does not accept is dead-lettered
	// before any handler runs. Optional; nil skips the gate.
	Types *envelope.Registry

	// Tracker suppresses duplicate deliveries. Default: a tracker of
	// dedupe.DefaultCapacity.
	Tracker *dedupe.Tracker

	// DeadLetters receives terminally failed events. Default: an
	// in-memory store.
	DeadLetters deadletter.Sink

	// Retry bounds the per-handler retry budget. Default:
	// ecerrors.DefaultRetry.
	Retry ecerrors.RetryConfig

	// ShutdownGrace is how long in-flight handler calls may run after
	// shutdown begins. Default: 5 seconds.
	ShutdownGrace time.Duration

	// Metrics receives delivery attempt records. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces message dispatch. Default: NoopSpanManager.
	Spans observability.SpanManager

	// Logger for structured dispatch logging. Optional.
	Logger *slog.Logger
}

// Dispatcher pulls messages from the broker and drives each one to a
// terminal state.
type Dispatcher struct {
	cfg Config

	mu      sync.Mutex
	subs    []*Subscription
	table   map[string][]*Subscription // event type -> subscriptions, built at Run
	running atomic.Bool

	// shutdownDrops counts retries dead-lettered because shutdown arrived
	// during their backoff wait, for the shutdown log record.
	shutdownDrops atomic.Int64
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("dispatcher: broker is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("dispatcher: consumer group is required")
	}
	if cfg.Tracker == nil {
		tracker, err := dedupe.NewTracker(dedupe.DefaultCapacity)
		if err != nil {
			return nil, err
		}
		cfg.Tracker = tracker
	}
	if cfg.DeadLetters == nil {
		cfg.DeadLetters = deadletter.NewMemory()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = ecerrors.DefaultRetry
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Register adds a handler for the given event types. All registrations must
// happen before Run; the set is immutable during a run.
func (d *Dispatcher) Register(handlerID string, eventTypes []string, h Handler, order DeliveryOrder) error {
	if d.running.Load() {
		return fmt.Errorf("dispatcher: register %q: dispatcher is already running", handlerID)
	}
	if handlerID == "" {
		return fmt.Errorf("dispatcher: handler id is required")
	}
	if len(eventTypes) == 0 {
		return fmt.Errorf("dispatcher: register %q: at least one event type is required", handlerID)
	}
	if h == nil {
		return fmt.Errorf("dispatcher: register %q: handler is required", handlerID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, &Subscription{
		HandlerID:  handlerID,
		EventTypes: eventTypes,
		Order:      order,
		handler:    h,
	})
	return nil
}

// Subscriptions returns the registered subscriptions.
func (d *Dispatcher) Subscriptions() []*Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Subscription, len(d.subs))
	copy(out, d.subs)
	return out
}

// buildTable resolves registrations into the type -> handlers dispatch table.
func (d *Dispatcher) buildTable() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.table = make(map[string][]*Subscription)
	for _, sub := range d.subs {
		for _, t := range sub.EventTypes {
			d.table[t] = append(d.table[t], sub)
		}
	}
}

// Run subscribes to the broker and processes messages until ctx is
// cancelled. One worker runs per partition. On cancellation, workers stop
// pulling, in-flight handler calls get the shutdown grace to finish, and
// still-pending retries are dead-lettered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher: already running")
	}
	defer d.running.Store(false)
	d.shutdownDrops.Store(0)

	d.buildTable()
	for _, sub := range d.Subscriptions() {
		observability.LogSubscriptionActive(d.cfg.Logger, sub.HandlerID, sub.EventTypes)
	}

	consumer, err := d.cfg.Broker.Subscribe(ctx, d.cfg.Group)
	if err != nil {
		return fmt.Errorf("dispatcher: subscribe: %w", err)
	}
	defer consumer.Close()

	// Handlers get a context that survives run cancellation by the grace
	// period, so shutdown lets in-flight work finish instead of yanking it.
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(d.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-handlerCtx.Done():
		}
		cancelHandlers()
	}()
	defer cancelHandlers()

	var wg sync.WaitGroup
	for p := 0; p < consumer.Partitions(); p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			w := &worker{
				dispatcher: d,
				consumer:   consumer,
				partition:  partition,
				handlerCtx: handlerCtx,
				logger:     observability.EnrichLogger(d.cfg.Logger, d.cfg.Group, partition),
			}
			w.run(ctx)
		}(p)
	}
	wg.Wait()
	observability.LogShutdown(d.cfg.Logger, int(d.shutdownDrops.Load()))
	return nil
}

// handlersFor returns the subscriptions registered for an event type.
func (d *Dispatcher) handlersFor(eventType string) []*Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table[eventType]
}
