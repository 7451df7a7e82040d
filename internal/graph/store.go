package graph

import (
	"context"
	"fmt"
	"time"
)

// Store is the transactional graph the engine keeps consistent with the
// device fleet. Each call commits or fails as a unit.
type Store interface {
	// Define declares device classes, module types and attribute types.
	// Re-declaring an existing type is a no-op; re-declaring an attribute
	// type with a different value type returns ErrTypeConflict.
	Define(ctx context.Context, def Definition) error

	// Insert creates device nodes, module nodes with initial values, and
	// task/service relations.
	Insert(ctx context.Context, ins Insertion) error

	// Update replaces attribute values on one device and sets its timestamp.
	// Returns ErrNotFound if the device or one of the modules does not exist.
	Update(ctx context.Context, upd Update) error

	// Delete removes devices, their module nodes and every relation
	// touching them. Unknown ids are ignored.
	Delete(ctx context.Context, del Deletion) error

	// Match reads bindings from the store.
	Match(ctx context.Context, q Query) ([]Binding, error)
}

// Seeder loads an initial topology into a store.
type Seeder interface {
	Seed(ctx context.Context, topo Topology) error
}

// AttributeType declares a named attribute kind and its value type.
type AttributeType struct {
	Name string
	Type ValueType
}

// ModuleType declares a module kind and the attribute types it owns.
type ModuleType struct {
	Name string
	Owns []string
}

// Definition is a schema statement.
type Definition struct {
	DeviceClasses []string
	Attributes    []AttributeType
	Modules       []ModuleType
}

// Empty reports whether the definition declares nothing.
func (d Definition) Empty() bool {
	return len(d.DeviceClasses) == 0 && len(d.Attributes) == 0 && len(d.Modules) == 0
}

// DeviceNode is one device instance.
type DeviceNode struct {
	ID        string    `json:"id"`
	Class     string    `json:"class"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ModuleNode is one module instance contained by a device.
type ModuleNode struct {
	DeviceID string
	Module   string
	Values   map[string]Value
}

// RelationKind names an edge between a task or service and a device.
type RelationKind string

// Relation kinds.
const (
	// Needs links a task to a device it requires.
	Needs RelationKind = "needs"
	// Fulfils links a device to a service it provides.
	Fulfils RelationKind = "fulfils"
)

// Valid reports whether k is a known relation kind.
func (k RelationKind) Valid() bool {
	return k == Needs || k == Fulfils
}

// Relation is one task or service edge.
type Relation struct {
	Kind     RelationKind `json:"kind"`
	Entity   string       `json:"entity"`
	DeviceID string       `json:"device_id"`
}

// Insertion is a batch of nodes and edges created in one transaction.
type Insertion struct {
	Devices   []DeviceNode
	Modules   []ModuleNode
	Relations []Relation
}

// Update replaces values on one device.
type Update struct {
	DeviceID  string
	Timestamp time.Time
	// Values maps module -> attribute -> new value.
	Values map[string]map[string]Value
}

// Deletion removes devices and everything hanging off them.
type Deletion struct {
	DeviceIDs []string
}

// Target selects what a Query returns.
type Target int

// Match targets.
const (
	// MatchDevices returns every device, optionally filtered by class.
	MatchDevices Target = iota
	// MatchRelations returns the relations of one device.
	MatchRelations
	// MatchAttributes returns the current attribute values of one device.
	MatchAttributes
)

// String implements fmt.Stringer.
func (t Target) String() string {
	switch t {
	case MatchDevices:
		return "devices"
	case MatchRelations:
		return "relations"
	case MatchAttributes:
		return "attributes"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Query is a read statement.
type Query struct {
	Target   Target
	DeviceID string
	Class    string
}

// Validate checks that the query carries what its target needs.
func (q Query) Validate() error {
	switch q.Target {
	case MatchDevices:
		return nil
	case MatchRelations, MatchAttributes:
		if q.DeviceID == "" {
			return fmt.Errorf("%w: %s match requires a device id", ErrInvalidQuery, q.Target)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown target %d", ErrInvalidQuery, int(q.Target))
	}
}

// AttributeValue is the current value of one attribute instance.
type AttributeValue struct {
	DeviceID  string `json:"device_id"`
	Module    string `json:"module"`
	Attribute string `json:"attribute"`
	Value     Value  `json:"value"`
}

// Binding is one result row of a Match. Exactly one field is set,
// according to the query target.
type Binding struct {
	Device    *DeviceNode
	Relation  *Relation
	Attribute *AttributeValue
}

func validateInsertion(ins Insertion) error {
	for _, d := range ins.Devices {
		if d.ID == "" || d.Class == "" {
			return fmt.Errorf("%w: device node needs id and class", ErrInvalidQuery)
		}
	}
	for _, m := range ins.Modules {
		if m.DeviceID == "" || m.Module == "" {
			return fmt.Errorf("%w: module node needs device id and module", ErrInvalidQuery)
		}
	}
	for _, r := range ins.Relations {
		if !r.Kind.Valid() || r.Entity == "" || r.DeviceID == "" {
			return fmt.Errorf("%w: relation %+v", ErrInvalidQuery, r)
		}
	}
	return nil
}

func validateDefinition(def Definition) error {
	for _, a := range def.Attributes {
		if a.Name == "" || !a.Type.Valid() {
			return fmt.Errorf("%w: attribute type %+v", ErrInvalidQuery, a)
		}
	}
	for _, m := range def.Modules {
		if m.Name == "" {
			return fmt.Errorf("%w: module type without name", ErrInvalidQuery)
		}
	}
	return nil
}
