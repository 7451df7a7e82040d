package kg

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
)

// Write persists one sample of a device and appends it to its buffers.
//
// Numbers are rounded to the configured precision before they reach the
// graph or the buffers. The store update replaces every
// reported attribute and the device timestamp in one transaction. The
// registry then appends the sample, updates the period and evicts samples
// older than the retention horizon.
//
// Returns the number of samples evicted.
func (e *Engine) Write(ctx context.Context, deviceID, class string, ts time.Time, values map[string]map[string]graph.Value) (int, error) {
	rounded := make(map[string]map[string]graph.Value, len(values))
	for module, attrs := range values {
		out := make(map[string]graph.Value, len(attrs))
		for name, v := range attrs {
			out[name] = v.Rounded(e.cfg.Precision)
		}
		rounded[module] = out
	}

	callCtx, cancel := e.storeCtx(ctx)
	err := e.store.Update(callCtx, graph.Update{DeviceID: deviceID, Timestamp: ts, Values: rounded})
	cancel()
	if err != nil {
		return 0, fmt.Errorf("updating attributes of %s: %w", deviceID, err)
	}

	evicted, err := e.registry.Record(deviceID, ts, rounded, e.cfg.Retention)
	if err != nil {
		return 0, err
	}
	e.metrics.evicted(evicted)

	if e.sink != nil {
		for module, attrs := range rounded {
			for name, v := range attrs {
				e.sink.WriteTelemetry(deviceID, class, module, name, v.Any(), ts)
			}
		}
	}
	return evicted, nil
}

// coerceValues converts reported values to their declared types.
// Returns ErrSchemaMismatch for modules or attributes schema does not
// declare, or values that do not fit the declared type.
func coerceValues(schema *sdf.Schema, data map[string]map[string]any) (map[string]map[string]graph.Value, error) {
	out := make(map[string]map[string]graph.Value, len(data))
	for module, attrs := range data {
		mod, ok := schema.Module(module)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no module %q", ErrSchemaMismatch, schema.Class, module)
		}
		values := make(map[string]graph.Value, len(attrs))
		for name, raw := range attrs {
			attr, ok := mod.Attributes[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s/%s has no attribute %q", ErrSchemaMismatch, schema.Class, module, name)
			}
			v, err := graph.Coerce(valueType(attr.Type), raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s/%s: %w", ErrSchemaMismatch, schema.Class, module, name, err)
			}
			values[name] = v
		}
		out[module] = values
	}
	return out, nil
}
