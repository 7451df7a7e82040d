package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store backed by maps.
//
// Thread Safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	classes    map[string]bool
	attributes map[string]ValueType
	ownership  map[string]map[string]bool
	devices    map[string]*memDevice
	entities   map[entityKey]string
	relations  map[Relation]bool
}

type memDevice struct {
	node    DeviceNode
	modules map[string]map[string]Value
}

type entityKey struct {
	kind string
	name string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes:    make(map[string]bool),
		attributes: make(map[string]ValueType),
		ownership:  make(map[string]map[string]bool),
		devices:    make(map[string]*memDevice),
		entities:   make(map[entityKey]string),
		relations:  make(map[Relation]bool),
	}
}

// Define implements Store.
func (s *MemoryStore) Define(ctx context.Context, def Definition) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	if err := validateDefinition(def); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]ValueType, len(def.Attributes))
	for _, a := range def.Attributes {
		existing, ok := s.attributes[a.Name]
		if !ok {
			existing, ok = pending[a.Name]
		}
		if ok && existing != a.Type {
			return fmt.Errorf("%w: %s is %s, not %s", ErrTypeConflict, a.Name, existing, a.Type)
		}
		pending[a.Name] = a.Type
	}

	for _, c := range def.DeviceClasses {
		s.classes[c] = true
	}
	maps.Copy(s.attributes, pending)
	for _, m := range def.Modules {
		owned, ok := s.ownership[m.Name]
		if !ok {
			owned = make(map[string]bool)
			s.ownership[m.Name] = owned
		}
		for _, a := range m.Owns {
			owned[a] = true
		}
	}
	return nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, ins Insertion) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	if err := validateInsertion(ins); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]bool, len(ins.Devices))
	for _, d := range ins.Devices {
		if _, ok := s.devices[d.ID]; ok || batch[d.ID] {
			return fmt.Errorf("%w: device %s already exists", ErrTransaction, d.ID)
		}
		batch[d.ID] = true
	}
	exists := func(id string) bool {
		_, ok := s.devices[id]
		return ok || batch[id]
	}
	for _, m := range ins.Modules {
		if !exists(m.DeviceID) {
			return fmt.Errorf("%w: device %s", ErrNotFound, m.DeviceID)
		}
		if dev, ok := s.devices[m.DeviceID]; ok {
			if _, dup := dev.modules[m.Module]; dup {
				return fmt.Errorf("%w: module %s/%s already exists", ErrTransaction, m.DeviceID, m.Module)
			}
		}
	}
	for _, r := range ins.Relations {
		if !exists(r.DeviceID) {
			return fmt.Errorf("%w: device %s", ErrNotFound, r.DeviceID)
		}
	}

	for _, d := range ins.Devices {
		s.devices[d.ID] = &memDevice{node: d, modules: make(map[string]map[string]Value)}
	}
	for _, m := range ins.Modules {
		s.devices[m.DeviceID].modules[m.Module] = maps.Clone(m.Values)
		if s.devices[m.DeviceID].modules[m.Module] == nil {
			s.devices[m.DeviceID].modules[m.Module] = make(map[string]Value)
		}
	}
	for _, r := range ins.Relations {
		s.relations[r] = true
	}
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, upd Update) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[upd.DeviceID]
	if !ok {
		return fmt.Errorf("%w: device %s", ErrNotFound, upd.DeviceID)
	}
	for module := range upd.Values {
		if _, ok := dev.modules[module]; !ok {
			return fmt.Errorf("%w: module %s/%s", ErrNotFound, upd.DeviceID, module)
		}
	}

	for module, values := range upd.Values {
		maps.Copy(dev.modules[module], values)
	}
	if !upd.Timestamp.IsZero() {
		dev.node.Timestamp = upd.Timestamp
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, del Deletion) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range del.DeviceIDs {
		delete(s.devices, id)
	}
	maps.DeleteFunc(s.relations, func(r Relation, _ bool) bool {
		return slices.Contains(del.DeviceIDs, r.DeviceID)
	})
	return nil
}

// Match implements Store.
func (s *MemoryStore) Match(ctx context.Context, q Query) ([]Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Binding
	switch q.Target {
	case MatchDevices:
		for _, id := range slices.Sorted(maps.Keys(s.devices)) {
			node := s.devices[id].node
			if q.Class != "" && node.Class != q.Class {
				continue
			}
			out = append(out, Binding{Device: &node})
		}
	case MatchRelations:
		for r := range s.relations {
			if r.DeviceID == q.DeviceID {
				rel := r
				out = append(out, Binding{Relation: &rel})
			}
		}
		sortRelations(out)
	case MatchAttributes:
		dev, ok := s.devices[q.DeviceID]
		if !ok {
			return nil, nil
		}
		for _, module := range slices.Sorted(maps.Keys(dev.modules)) {
			values := dev.modules[module]
			for _, attr := range slices.Sorted(maps.Keys(values)) {
				out = append(out, Binding{Attribute: &AttributeValue{
					DeviceID:  q.DeviceID,
					Module:    module,
					Attribute: attr,
					Value:     values[attr],
				}})
			}
		}
	}
	return out, nil
}

// Seed implements Seeder. Existing entities, devices and relations are
// left untouched.
func (s *MemoryStore) Seed(ctx context.Context, topo Topology) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	if err := topo.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range topo.Tasks {
		s.entities[entityKey{kind: entityTask, name: e.Name}] = e.Description
	}
	for _, e := range topo.Services {
		s.entities[entityKey{kind: entityService, name: e.Name}] = e.Description
	}
	for _, d := range topo.Devices {
		s.classes[d.Class] = true
		if _, ok := s.devices[d.ID]; !ok {
			s.devices[d.ID] = &memDevice{
				node:    DeviceNode{ID: d.ID, Class: d.Class},
				modules: make(map[string]map[string]Value),
			}
		}
		for _, r := range d.Relations() {
			s.relations[r] = true
		}
	}
	return nil
}

// DeviceClasses returns every declared device class, sorted.
func (s *MemoryStore) DeviceClasses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.classes))
}

// AttributeType returns the declared value type of an attribute type.
func (s *MemoryStore) AttributeType(name string) (ValueType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.attributes[name]
	return t, ok
}

// Owns reports whether module type owns attribute type.
func (s *MemoryStore) Owns(module, attribute string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownership[module][attribute]
}

func sortRelations(bindings []Binding) {
	sort.Slice(bindings, func(i, j int) bool {
		a, b := bindings[i].Relation, bindings[j].Relation
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Entity < b.Entity
	})
}
