package device

import (
	"maps"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-kg/internal/graph"
)

// State is where a device is in its integration lifecycle.
//
//	Unseen ─▶ SchemaPending ─▶ Buffering ─▶ Integrated
//	                                    └─▶ Deferred
//
// Unseen is implicit: a device the registry has no entry for.
type State string

// Lifecycle states.
const (
	StateUnseen        State = "unseen"
	StateSchemaPending State = "schema_pending"
	StateBuffering     State = "buffering"
	StateIntegrated    State = "integrated"
	StateDeferred      State = "deferred"
)

// Settled reports whether integration has run for a device in this state.
// Integrated and Deferred are both terminal.
func (s State) Settled() bool {
	return s == StateIntegrated || s == StateDeferred
}

// canTransition lists the allowed edges of the lifecycle.
func (s State) canTransition(to State) bool {
	switch s {
	case StateSchemaPending:
		return to == StateBuffering
	case StateBuffering:
		return to == StateIntegrated || to == StateDeferred
	default:
		return false
	}
}

// Attribute is the rolling buffer of one attribute.
type Attribute struct {
	Type   graph.ValueType `json:"type"`
	Values []graph.Value   `json:"values"`
}

// Module is one module instance of a device.
type Module struct {
	Name       string                `json:"name"`
	Attributes map[string]*Attribute `json:"attributes"`
}

// AttributeNames returns the module's attribute names, sorted.
func (m *Module) AttributeNames() []string {
	return slices.Sorted(maps.Keys(m.Attributes))
}

// Device is the in-memory mirror of one graph-resident device.
//
// Invariant: every attribute buffer has exactly len(Timestamps) values.
type Device struct {
	ID    string `json:"id"`
	Class string `json:"class"`
	State State  `json:"state"`

	// Period is the delta between the two most recent timestamps.
	Period time.Duration `json:"period"`

	// Timestamps is the retained window of message times, oldest first.
	Timestamps []time.Time `json:"timestamps"`

	Modules map[string]*Module `json:"modules"`

	// Bootstrapped marks devices loaded from the graph at startup.
	Bootstrapped bool `json:"bootstrapped,omitempty"`

	// Online is the latest CONNECTED/DISCONNECTED announcement, taken at
	// PresenceAt. A device that never announced itself is offline.
	Online     bool      `json:"online"`
	PresenceAt time.Time `json:"presence_at,omitzero"`
}

// Integrated reports whether the device has been placed in the graph.
func (d *Device) Integrated() bool {
	return d.State == StateIntegrated
}

// Samples returns the number of buffered samples.
func (d *Device) Samples() int {
	return len(d.Timestamps)
}

// LastSeen returns the most recent timestamp, or the zero time.
func (d *Device) LastSeen() time.Time {
	if len(d.Timestamps) == 0 {
		return time.Time{}
	}
	return d.Timestamps[len(d.Timestamps)-1]
}

// ModuleSet returns the device's module names, sorted.
func (d *Device) ModuleSet() []string {
	return slices.Sorted(maps.Keys(d.Modules))
}

// Series returns the buffer of module/attribute, or nil.
func (d *Device) Series(module, attribute string) []graph.Value {
	m, ok := d.Modules[module]
	if !ok {
		return nil
	}
	a, ok := m.Attributes[attribute]
	if !ok {
		return nil
	}
	return a.Values
}

// DeepCopy returns a copy sharing no mutable state with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Timestamps = slices.Clone(d.Timestamps)
	cp.Modules = make(map[string]*Module, len(d.Modules))
	for name, m := range d.Modules {
		mc := &Module{Name: m.Name, Attributes: make(map[string]*Attribute, len(m.Attributes))}
		for attr, a := range m.Attributes {
			mc.Attributes[attr] = &Attribute{Type: a.Type, Values: slices.Clone(a.Values)}
		}
		cp.Modules[name] = mc
	}
	return &cp
}
