package events

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/resilience"
)

// BreakerEvent describes one circuit breaker state change
type BreakerEvent struct {
	Dependency string    `json:"dependency"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey returns breaker.<dependency>.<state>
func (e BreakerEvent) RoutingKey() string {
	return "breaker." + e.Dependency + "." + strings.ToLower(e.To)
}

// NotifierConfig holds breaker notifier settings
type NotifierConfig struct {
	BufferSize     int
	PublishTimeout time.Duration
}

// DefaultNotifierConfig returns default notifier settings
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		BufferSize:     256,
		PublishTimeout: 5 * time.Second,
	}
}

// BreakerNotifier publishes breaker state changes in the background. Handle
// never blocks, so it is safe as a breaker OnStateChange hook; events that
// do not fit the buffer are dropped.
type BreakerNotifier struct {
	publisher Publisher
	config    NotifierConfig
	events    chan BreakerEvent
	logger    *logging.Logger

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	doneCh    chan struct{}
}

// NewBreakerNotifier creates a notifier publishing through publisher
func NewBreakerNotifier(publisher Publisher, config NotifierConfig) *BreakerNotifier {
	defaults := DefaultNotifierConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}

	return &BreakerNotifier{
		publisher: publisher,
		config:    config,
		events:    make(chan BreakerEvent, config.BufferSize),
		logger:    logging.GetLogger(),
		doneCh:    make(chan struct{}),
	}
}

// Handle queues a state change for publishing
func (n *BreakerNotifier) Handle(name string, from, to resilience.CircuitState) {
	event := BreakerEvent{
		Dependency: name,
		From:       from.String(),
		To:         to.String(),
		OccurredAt: time.Now().UTC(),
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped.Add(1)
		return
	}

	select {
	case n.events <- event:
	default:
		n.dropped.Add(1)
	}
}

// Start begins publishing queued events
func (n *BreakerNotifier) Start() {
	n.startOnce.Do(func() {
		go n.run()
	})
}

// Stop publishes the events still queued and waits for the worker to exit.
// Events handled after Stop are dropped.
func (n *BreakerNotifier) Stop() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()

	n.Start()
	<-n.doneCh
}

// Stats returns published, dropped and failed event counts
func (n *BreakerNotifier) Stats() (published, dropped, failed int64) {
	return n.published.Load(), n.dropped.Load(), n.failed.Load()
}

func (n *BreakerNotifier) run() {
	defer close(n.doneCh)

	for event := range n.events {
		n.publish(event)
	}
}

func (n *BreakerNotifier) publish(event BreakerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.PublishTimeout)
	defer cancel()

	if err := n.publisher.Publish(ctx, event.RoutingKey(), event); err != nil {
		n.failed.Add(1)
		n.logger.Warn("Breaker event publish failed",
			"dependency", event.Dependency,
			"to", event.To,
			"error", err.Error(),
		)
		return
	}
	n.published.Add(1)
}
