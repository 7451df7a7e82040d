// Package device provides the Device Registry: the in-memory mirror of
// every device the knowledge graph holds.
//
// Each entry carries the device's class, its lifecycle State, and a
// time-bounded window of samples: one timestamp slice plus one value
// buffer per module attribute, always of equal length.
//
// # Lifecycle
//
//	SchemaPending  first message seen, modules not yet declared
//	Buffering      modules declared, collecting samples
//	Integrated     placed in the graph next to its closest peer
//	Deferred       integration ran but found no peer (policy "defer")
//
// # Buffers
//
// Record appends one sample per call. Attributes the message did not
// report repeat their last value. After appending, samples older than
// latest - horizon are evicted from the front of every buffer at once.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Readers receive deep
// copies.
//
// Lifecycle transitions can be persisted through TransitionRepository
// (SQLite table device_transitions).
package device
