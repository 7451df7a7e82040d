package kg

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
)

// valueType maps a description value type onto the store's.
func valueType(t string) graph.ValueType {
	return graph.ValueType(t)
}

// declareClass declares a device class in the store the first time it is seen.
func (e *Engine) declareClass(ctx context.Context, class string) error {
	if e.declaredClasses[class] {
		return nil
	}
	callCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.Define(callCtx, graph.Definition{DeviceClasses: []string{class}}); err != nil {
		return fmt.Errorf("declaring class %s: %w", class, err)
	}
	e.declaredClasses[class] = true
	return nil
}

// Sync instantiates every module of schema the device does not have yet.
//
// Module and attribute types are declared once per process; a module
// type's ownership of an attribute is declared once per pair. Each new
// module instance is inserted with type defaults so it is queryable before
// its first real value arrives, and gets empty buffers in the registry.
// Syncing a device that already has every module is a no-op.
//
// Parameters:
//   - ctx: Context for cancellation
//   - dev: Snapshot of the device
//   - schema: Structured description of the device's class
//
// Returns:
//   - int: Number of module instances created
//   - error: Store or registry failure; declarations that succeeded stay recorded
func (e *Engine) Sync(ctx context.Context, dev *device.Device, schema *sdf.Schema) (int, error) {
	var missing []string
	for _, name := range schema.ModuleNames() {
		if _, ok := dev.Modules[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	def, err := e.pendingDefinition(schema, missing)
	if err != nil {
		return 0, err
	}
	if !def.Empty() {
		callCtx, cancel := e.storeCtx(ctx)
		err := e.store.Define(callCtx, def)
		cancel()
		if err != nil {
			return 0, fmt.Errorf("declaring modules of %s: %w", dev.ID, err)
		}
		e.markDeclared(def)
	}

	ins := graph.Insertion{Modules: make([]graph.ModuleNode, 0, len(missing))}
	for _, name := range missing {
		mod := schema.Modules[name]
		values := make(map[string]graph.Value, len(mod.Attributes))
		for attrName, attr := range mod.Attributes {
			values[attrName] = graph.Default(valueType(attr.Type))
		}
		ins.Modules = append(ins.Modules, graph.ModuleNode{DeviceID: dev.ID, Module: name, Values: values})
	}
	callCtx, cancel := e.storeCtx(ctx)
	err = e.store.Insert(callCtx, ins)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("inserting modules of %s: %w", dev.ID, err)
	}

	for _, name := range missing {
		types := make(map[string]graph.ValueType)
		for attrName, attr := range schema.Modules[name].Attributes {
			types[attrName] = valueType(attr.Type)
		}
		if err := e.registry.AddModule(dev.ID, name, types); err != nil {
			return 0, err
		}
	}

	e.logger.Info("modules synchronised", "device_id", dev.ID, "class", schema.Class, "modules", missing)
	return len(missing), nil
}

// pendingDefinition collects the declarations the modules still need.
// An attribute already declared with another value type is reported as
// graph.ErrTypeConflict before anything reaches the store.
func (e *Engine) pendingDefinition(schema *sdf.Schema, modules []string) (graph.Definition, error) {
	var def graph.Definition
	queued := make(map[string]bool)

	for _, name := range modules {
		mod := schema.Modules[name]
		var owns []string
		for _, attrName := range mod.AttributeNames() {
			vt := valueType(mod.Attributes[attrName].Type)
			if existing, ok := e.declaredAttributes[attrName]; ok {
				if existing != vt {
					return graph.Definition{}, fmt.Errorf("%w: %s is %s, %s declares %s",
						graph.ErrTypeConflict, attrName, existing, schema.Class, vt)
				}
			} else if !queued[attrName] {
				def.Attributes = append(def.Attributes, graph.AttributeType{Name: attrName, Type: vt})
				queued[attrName] = true
			}
			if !e.declaredOwnership[name+"/"+attrName] {
				owns = append(owns, attrName)
			}
		}
		if !e.declaredModules[name] || len(owns) > 0 {
			def.Modules = append(def.Modules, graph.ModuleType{Name: name, Owns: owns})
		}
	}
	return def, nil
}

func (e *Engine) markDeclared(def graph.Definition) {
	for _, a := range def.Attributes {
		e.declaredAttributes[a.Name] = a.Type
	}
	for _, m := range def.Modules {
		e.declaredModules[m.Name] = true
		for _, a := range m.Owns {
			e.declaredOwnership[m.Name+"/"+a] = true
		}
	}
}
