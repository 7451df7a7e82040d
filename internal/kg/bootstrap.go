package kg

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
)

// Bootstrap loads the devices already present in the graph.
//
// Each device is registered as Integrated with empty buffers and the
// modules the graph holds for it, so it is never integrated again and
// becomes a Resolve-Instance candidate once it reports enough samples.
// The corpus is primed with the classes of those devices; a class with no
// description is logged and skipped.
//
// Returns the number of devices loaded.
func (e *Engine) Bootstrap(ctx context.Context) (int, error) {
	bindings, err := e.match(ctx, graph.Query{Target: graph.MatchDevices})
	if err != nil {
		return 0, fmt.Errorf("listing graph devices: %w", err)
	}

	loaded := 0
	classes := make(map[string]bool)
	for _, b := range bindings {
		if b.Device == nil || e.registry.Exists(b.Device.ID) {
			continue
		}
		node := b.Device
		if err := e.registry.Load(node.ID, node.Class); err != nil {
			return loaded, err
		}
		if err := e.loadModules(ctx, node.ID); err != nil {
			return loaded, err
		}
		loaded++

		if !classes[node.Class] {
			classes[node.Class] = true
			if _, err := e.schemaFor(node.Class); err != nil {
				e.logger.Warn("class of graph device has no usable description", "class", node.Class, "error", err)
			}
		}
	}

	e.logger.Info("graph devices loaded", "devices", loaded, "classes", len(classes))
	return loaded, nil
}

// loadModules mirrors the module instances the graph holds for a device.
func (e *Engine) loadModules(ctx context.Context, id string) error {
	bindings, err := e.match(ctx, graph.Query{Target: graph.MatchAttributes, DeviceID: id})
	if err != nil {
		return fmt.Errorf("reading modules of %s: %w", id, err)
	}

	modules := make(map[string]map[string]graph.ValueType)
	var order []string
	for _, b := range bindings {
		if b.Attribute == nil {
			continue
		}
		a := b.Attribute
		if _, ok := modules[a.Module]; !ok {
			modules[a.Module] = make(map[string]graph.ValueType)
			order = append(order, a.Module)
		}
		modules[a.Module][a.Attribute] = a.Value.Type
	}

	for _, name := range order {
		if err := e.registry.AddModule(id, name, modules[name]); err != nil && !errors.Is(err, device.ErrModuleExists) {
			return err
		}
	}
	return nil
}
