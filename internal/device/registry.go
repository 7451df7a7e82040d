package device

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-kg/internal/graph"
)

// Logger defines the logging interface used by the Registry.
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

// Registry is the in-memory mirror of graph-resident devices.
//
// The consistency handler is its only writer; the API and dumps read
// deep copies concurrently.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Create registers a new device with no modules and no samples.
// Returns ErrDeviceExists if the id is taken.
func (r *Registry) Create(id, class string, state State) error {
	if id == "" || class == "" {
		return fmt.Errorf("%w: id and class are required", ErrInvalidDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	r.devices[id] = &Device{
		ID:      id,
		Class:   class,
		State:   state,
		Modules: make(map[string]*Module),
	}

	r.logger.Debug("device registered", "device_id", id, "class", class, "state", state)
	return nil
}

// Load registers a device that already exists in the graph. It starts
// Integrated with empty buffers, so it becomes matchable once it reports
// enough samples and is never integrated again.
func (r *Registry) Load(id, class string) error {
	if err := r.Create(id, class, StateIntegrated); err != nil {
		return err
	}
	r.mu.Lock()
	r.devices[id].Bootstrapped = true
	r.mu.Unlock()
	return nil
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// Get returns a deep copy of a device.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// List returns deep copies of every device, sorted by id.
func (r *Registry) List() []*Device {
	return r.Select(nil)
}

// Select returns deep copies of the devices keep accepts, sorted by id.
// A nil keep selects every device. The copies form an immutable snapshot
// the caller may share between goroutines.
func (r *Registry) Select(keep func(*Device) bool) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, id := range slices.Sorted(maps.Keys(r.devices)) {
		d := r.devices[id]
		if keep == nil || keep(d) {
			out = append(out, d.DeepCopy())
		}
	}
	return out
}

// SetState moves a device along its lifecycle.
// Returns ErrInvalidState for transitions the lifecycle does not allow.
func (r *Registry) SetState(id string, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if d.State == to {
		return nil
	}
	if !d.State.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, d.State, to)
	}

	r.logger.Debug("device state changed", "device_id", id, "from", d.State, "to", to)
	d.State = to
	return nil
}

// SetPresence records a CONNECTED (online) or DISCONNECTED announcement.
// An announcement older than the one already held is ignored, so a late
// redelivery cannot flip the device back.
func (r *Registry) SetPresence(id string, online bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if at.Before(d.PresenceAt) {
		return nil
	}
	d.Online = online
	d.PresenceAt = at
	return nil
}

// AddModule attaches a module instance to a device.
//
// The new buffers are back-filled with the type default for every sample
// already held, which is what the graph reported for the module before it
// existed, so the lockstep invariant holds.
func (r *Registry) AddModule(id, module string, attributes map[string]graph.ValueType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if _, ok := d.Modules[module]; ok {
		return fmt.Errorf("%w: %s/%s", ErrModuleExists, id, module)
	}

	m := &Module{Name: module, Attributes: make(map[string]*Attribute, len(attributes))}
	for name, vt := range attributes {
		values := make([]graph.Value, len(d.Timestamps))
		for i := range values {
			values[i] = graph.Default(vt)
		}
		m.Attributes[name] = &Attribute{Type: vt, Values: values}
	}
	d.Modules[module] = m
	return nil
}

// Record appends one sample to every buffer of a device and evicts
// samples older than ts - horizon.
//
// Attributes missing from values repeat their previous value (or the type
// default when the buffer is empty), so all buffers stay in lockstep.
// Period becomes the delta to the previous timestamp.
//
// Returns the number of samples evicted from the front.
func (r *Registry) Record(id string, ts time.Time, values map[string]map[string]graph.Value, horizon time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	for module, attrs := range values {
		m, ok := d.Modules[module]
		if !ok {
			return 0, fmt.Errorf("%w: %s/%s", ErrUnknownAttribute, id, module)
		}
		for attr := range attrs {
			if _, ok := m.Attributes[attr]; !ok {
				return 0, fmt.Errorf("%w: %s/%s/%s", ErrUnknownAttribute, id, module, attr)
			}
		}
	}

	if last := d.LastSeen(); !last.IsZero() {
		if err := CheckOrder(id, last, ts); err != nil {
			return 0, err
		}
		d.Period = ts.Sub(last)
	}

	d.Timestamps = append(d.Timestamps, ts)
	for module, m := range d.Modules {
		for attr, a := range m.Attributes {
			v, ok := values[module][attr]
			switch {
			case ok:
			case len(a.Values) > 0:
				v = a.Values[len(a.Values)-1]
			default:
				v = graph.Default(a.Type)
			}
			a.Values = append(a.Values, v)
		}
	}

	return d.evict(ts.Add(-horizon)), nil
}

// CheckOrder returns ErrOutOfOrder when ts is before last and
// ErrDuplicateSample when it repeats last. A zero last accepts anything.
func CheckOrder(id string, last, ts time.Time) error {
	switch {
	case last.IsZero() || ts.After(last):
		return nil
	case ts.Equal(last):
		return fmt.Errorf("%w: %s at %s", ErrDuplicateSample, id, ts.Format(time.RFC3339Nano))
	default:
		return fmt.Errorf("%w: %s at %s is before %s", ErrOutOfOrder, id, ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
}

// evict drops samples with a timestamp strictly before cutoff.
func (d *Device) evict(cutoff time.Time) int {
	n := 0
	for n < len(d.Timestamps) && d.Timestamps[n].Before(cutoff) {
		n++
	}
	if n == 0 {
		return 0
	}

	d.Timestamps = slices.Delete(d.Timestamps, 0, n)
	for _, m := range d.Modules {
		for _, a := range m.Attributes {
			a.Values = slices.Delete(a.Values, 0, n)
		}
	}
	return n
}

// Remove deletes a device.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)

	r.logger.Info("device removed from registry", "device_id", id)
	return nil
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	TotalSamples int            `json:"total_samples"`
	ByState      map[State]int  `json:"by_state"`
	ByClass      map[string]int `json:"by_class"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByState:      make(map[State]int),
		ByClass:      make(map[string]int),
	}
	for _, d := range r.devices {
		stats.TotalSamples += len(d.Timestamps)
		stats.ByState[d.State]++
		stats.ByClass[d.Class]++
	}
	return stats
}
