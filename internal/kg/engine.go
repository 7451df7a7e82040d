package kg

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-kg/internal/audit"
	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
)

// Event channels broadcast to the WebSocket hub.
const (
	EventDeviceCreated    = "device.created"
	EventDeviceIntegrated = "device.integrated"
	EventDeviceRetired    = "device.retired"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SchemaResolver turns a class name into its schema and corpus rows.
type SchemaResolver interface {
	Resolve(class string) (*sdf.Schema, []sdf.Row, error)
}

// EventBroadcaster is the interface for broadcasting WebSocket events.
type EventBroadcaster interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// Broadcasters fans each event out to several broadcasters, in order.
type Broadcasters []EventBroadcaster

// Broadcast implements EventBroadcaster.
func (b Broadcasters) Broadcast(channel string, payload any) {
	for _, x := range b {
		x.Broadcast(channel, payload)
	}
}

// Sink receives a copy of every sample written to the graph.
// Implementations must not block.
type Sink interface {
	WriteTelemetry(deviceID, class, module, attribute string, value any, ts time.Time)
}

// Config tunes the engine. Zero fields take the DefaultConfig value.
type Config struct {
	// Threshold is the number of buffered samples that triggers integration.
	Threshold int

	// Retention is the age after which buffered samples are evicted.
	Retention time.Duration

	// CandidateClasses is how many top-voted classes Resolve-Class keeps.
	CandidateClasses int

	// QueryWindow is the length of the new device's earliest window
	// compared against candidate histories.
	QueryWindow int

	// Workers bounds the scatter-gather pools of Resolve-Class and
	// Resolve-Instance.
	Workers int

	// StaleFactor multiplies the winner's period to decide retirement.
	StaleFactor int

	// Precision is the number of decimals numbers are rounded to before
	// they are written to the graph.
	Precision int

	// DeferUnmatched moves devices with no eligible candidate to Deferred
	// instead of Integrated.
	DeferUnmatched bool

	// StoreTimeout bounds every graph store call.
	StoreTimeout time.Duration

	// ReadRetries is the maximum number of attempts for graph reads.
	ReadRetries int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:        20,
		Retention:        10 * time.Minute,
		CandidateClasses: 5,
		QueryWindow:      20,
		Workers:          runtime.NumCPU(),
		StaleFactor:      2,
		Precision:        2,
		StoreTimeout:     5 * time.Second,
		ReadRetries:      3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.CandidateClasses <= 0 {
		c.CandidateClasses = d.CandidateClasses
	}
	if c.QueryWindow <= 0 {
		c.QueryWindow = d.QueryWindow
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.StaleFactor <= 0 {
		c.StaleFactor = d.StaleFactor
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.ReadRetries <= 0 {
		c.ReadRetries = d.ReadRetries
	}
	return c
}

// Deps are the collaborators of an Engine. Store, Resolver and Registry
// are required; the rest may be nil.
type Deps struct {
	Store       graph.Store
	Resolver    SchemaResolver
	Registry    *device.Registry
	Corpus      *Corpus // created when nil
	Tracker     *StateTracker
	Metrics     *Metrics
	Audit       audit.Repository
	Transitions device.TransitionRepository
	Hub         EventBroadcaster
	Sink        Sink
	Logger      Logger
}

// Engine keeps the graph consistent with the device fleet and integrates
// new devices into it.
//
// Handle is the single writer of the registry, the corpus and the
// declaration sets; messages must be delivered to it one at a time (the
// Agent does this). Read accessors are safe to call concurrently with
// Handle.
type Engine struct {
	cfg Config

	store       graph.Store
	resolver    SchemaResolver
	registry    *device.Registry
	corpus      *Corpus
	tracker     *StateTracker
	metrics     *Metrics
	audit       audit.Repository
	transitions device.TransitionRepository
	hub         EventBroadcaster
	sink        Sink
	logger      Logger

	// Declarations already issued to the store. Owned by Handle.
	declaredClasses    map[string]bool
	declaredModules    map[string]bool
	declaredAttributes map[string]graph.ValueType
	declaredOwnership  map[string]bool

	statsMu sync.Mutex
	stats   messageStats
}

// NewEngine creates an engine.
//
// Parameters:
//   - cfg: Tuning; zero fields take DefaultConfig values
//   - deps: Collaborators; Store, Resolver and Registry are required
//
// Returns:
//   - *Engine: Ready to Bootstrap and Handle messages
//   - error: ErrMissingDependency if a required collaborator is nil
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: graph store", ErrMissingDependency)
	case deps.Resolver == nil:
		return nil, fmt.Errorf("%w: schema resolver", ErrMissingDependency)
	case deps.Registry == nil:
		return nil, fmt.Errorf("%w: device registry", ErrMissingDependency)
	}

	e := &Engine{
		cfg:                cfg.withDefaults(),
		resolver:           deps.Resolver,
		registry:           deps.Registry,
		corpus:             deps.Corpus,
		tracker:            deps.Tracker,
		metrics:            deps.Metrics,
		audit:              deps.Audit,
		transitions:        deps.Transitions,
		hub:                deps.Hub,
		sink:               deps.Sink,
		logger:             deps.Logger,
		declaredClasses:    make(map[string]bool),
		declaredModules:    make(map[string]bool),
		declaredAttributes: make(map[string]graph.ValueType),
		declaredOwnership:  make(map[string]bool),
		stats:              newMessageStats(),
	}
	if e.corpus == nil {
		e.corpus = NewCorpus()
	}
	if e.tracker == nil {
		e.tracker = NewStateTracker()
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	e.store = instrument(deps.Store, e.tracker, e.metrics)

	return e, nil
}

// Registry returns the device registry the engine writes to.
func (e *Engine) Registry() *device.Registry { return e.registry }

// Corpus returns the similarity corpus.
func (e *Engine) Corpus() *Corpus { return e.corpus }

// Tracker returns the state-time tracker.
func (e *Engine) Tracker() *StateTracker { return e.tracker }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// storeCtx bounds one store call.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

func (e *Engine) broadcast(channel string, payload any) {
	if e.hub != nil {
		e.hub.Broadcast(channel, payload)
	}
}

// recordTransition persists a lifecycle change. Failures are logged, not
// returned: history is operational visibility, not graph state.
func (e *Engine) recordTransition(ctx context.Context, id string, from, to device.State, reason string) {
	if e.transitions == nil {
		return
	}
	if err := e.transitions.RecordTransition(ctx, id, from, to, reason); err != nil {
		e.logger.Warn("recording state transition failed", "device_id", id, "to", to, "error", err)
	}
}
