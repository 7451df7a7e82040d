package kg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-kg/internal/message"
)

// Agent defaults.
const (
	DefaultQueueSize    = 256
	DefaultSummaryEvery = 100
)

// Subscriber is the part of the MQTT client the agent needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	// Topic is the subscription filter, usually "#".
	Topic string
	QoS   byte

	// QueueSize bounds the messages waiting for the engine. A full queue
	// blocks the transport callback.
	QueueSize int

	// SummaryEvery logs message statistics, and dumps the state files
	// when DumpDir is set, after every SummaryEvery DATA messages.
	SummaryEvery int
	DumpDir      string

	// Ignore reports topics that are never device telemetry, such as the
	// agent's own status topic under a wildcard subscription.
	Ignore func(topic string) bool
}

type queued struct {
	topic   string
	payload []byte
}

// Agent feeds bus messages to an Engine one at a time, in arrival order.
//
// Transport callbacks only enqueue; a single consumer goroutine parses
// and handles, which keeps the engine single-writer.
type Agent struct {
	engine *Engine
	sub    Subscriber
	cfg    AgentConfig
	logger Logger

	queue    chan queued
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	started   bool
	processed int
}

// NewAgent creates an agent. sub may be nil when messages are only
// delivered through Submit.
func NewAgent(engine *Engine, sub Subscriber, cfg AgentConfig) *Agent {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = DefaultSummaryEvery
	}
	if cfg.Topic == "" {
		cfg.Topic = "#"
	}
	return &Agent{
		engine: engine,
		sub:    sub,
		cfg:    cfg,
		logger: engine.logger,
		queue:  make(chan queued, cfg.QueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the consumer and subscribes to the bus.
// The consumer runs until ctx is cancelled or Stop is called.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	go a.run(ctx)
	a.started = true

	if a.sub == nil {
		return nil
	}
	if err := a.sub.Subscribe(a.cfg.Topic, a.cfg.QoS, func(topic string, payload []byte) error {
		return a.Submit(ctx, topic, payload)
	}); err != nil {
		a.stop()
		return fmt.Errorf("subscribing to %s: %w", a.cfg.Topic, err)
	}

	a.logger.Info("agent started", "topic", a.cfg.Topic, "queue_size", a.cfg.QueueSize)
	return nil
}

// Submit queues one raw payload. It blocks while the queue is full.
//
// Returns ErrAgentStopped once the agent has stopped, or the context
// error if ctx ends first.
func (a *Agent) Submit(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-a.stopCh:
		return ErrAgentStopped
	default:
	}

	select {
	case a.queue <- queued{topic: topic, payload: payload}:
		a.engine.metrics.queueDepth(len(a.queue))
		return nil
	case <-a.stopCh:
		return ErrAgentStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes and waits for the consumer to finish the message in
// hand. Messages still queued are discarded.
func (a *Agent) Stop() {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return
	}

	if a.sub != nil {
		if err := a.sub.Unsubscribe(a.cfg.Topic); err != nil {
			a.logger.Warn("unsubscribing failed", "topic", a.cfg.Topic, "error", err)
		}
	}
	a.stop()
	<-a.done
	a.logger.Info("agent stopped", "processed", a.Processed())
}

func (a *Agent) stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Processed returns the number of DATA messages handled so far.
func (a *Agent) Processed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processed
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.stop()
			return
		case <-a.stopCh:
			return
		case q := <-a.queue:
			a.engine.metrics.queueDepth(len(a.queue))
			a.process(ctx, q)
		}
	}
}

func (a *Agent) process(ctx context.Context, q queued) {
	if a.cfg.Ignore != nil && a.cfg.Ignore(q.topic) {
		return
	}

	msg, err := message.Parse(q.payload)
	if err != nil {
		a.engine.metrics.message("invalid", err)
		a.logger.Warn("discarding malformed message", "topic", q.topic, "error", err)
		return
	}

	// Handle logs and counts its own failures.
	if err := a.engine.Handle(ctx, msg); err != nil && errors.Is(err, context.Canceled) {
		return
	}

	if msg.Kind() != message.CategoryData {
		return
	}
	a.mu.Lock()
	a.processed++
	n := a.processed
	a.mu.Unlock()

	if n%a.cfg.SummaryEvery == 0 {
		a.summarise(n)
	}
}

func (a *Agent) summarise(n int) {
	stats := a.engine.Stats()
	reg := a.engine.registry.GetStats()
	a.logger.Info("processing summary",
		"processed", n,
		"failed", stats.Failed,
		"avg_processing", stats.AvgProcessing,
		"devices", reg.TotalDevices,
		"samples", reg.TotalSamples,
		"corpus_rows", a.engine.corpus.Len(),
	)
	if a.cfg.DumpDir == "" {
		return
	}
	if err := a.engine.Dump(a.cfg.DumpDir); err != nil {
		a.logger.Warn("writing state dump failed", "dir", a.cfg.DumpDir, "error", err)
	}
}
