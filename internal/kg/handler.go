package kg

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/message"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
)

// Handle processes one inbound message. DATA messages drive the graph;
// CONNECTED and DISCONNECTED update the presence of a known device, which
// protects it from retirement while it is online.
//
// A failing step aborts the message: the error is returned and whatever
// earlier steps changed stays changed.
func (e *Engine) Handle(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case message.Data:
		return e.handleData(ctx, m)
	case message.Connected:
		e.metrics.message(message.CategoryConnected, nil)
		e.presence(m.Header, true)
		e.logger.Info("device connected", "device_id", m.DeviceID, "class", m.Class, "topic", m.Topic)
	case message.Disconnected:
		e.metrics.message(message.CategoryDisconnected, nil)
		e.presence(m.Header, false)
		e.logger.Info("device disconnected", "device_id", m.DeviceID, "class", m.Class, "topic", m.Topic)
	default:
		return fmt.Errorf("%w: %T", message.ErrUnknownCategory, msg)
	}
	return nil
}

// presence records an announcement for a registered device. Devices the
// agent has not seen DATA from yet have nothing to protect.
func (e *Engine) presence(h message.Header, online bool) {
	at := h.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if err := e.registry.SetPresence(h.DeviceID, online, at); err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		e.logger.Warn("recording presence failed", "device_id", h.DeviceID, "error", err)
	}
}

func (e *Engine) handleData(ctx context.Context, m message.Data) (err error) {
	prev := e.tracker.Enter(ActivityProcessing)
	start := time.Now()
	defer func() {
		e.tracker.Enter(prev)
		elapsed := time.Since(start)
		e.metrics.processing(elapsed)
		e.metrics.message(message.CategoryData, err)
		e.recordMessage(m.DeviceID, elapsed, err)
		switch {
		case err == nil:
		case errors.Is(err, device.ErrDuplicateSample):
			e.logger.Debug("duplicate message ignored", "device_id", m.DeviceID, "timestamp", m.Timestamp)
		default:
			e.logger.Warn("message dropped", "device_id", m.DeviceID, "class", m.Class, "error", err)
		}
	}()

	schema, err := e.schemaFor(m.Class)
	if err != nil {
		return err
	}
	values, err := coerceValues(schema, m.Modules)
	if err != nil {
		return err
	}

	dev, err := e.ensureDevice(ctx, m)
	if err != nil {
		return err
	}
	if err := device.CheckOrder(dev.ID, dev.LastSeen(), m.Timestamp); err != nil {
		return err
	}

	if dev.State == device.StateSchemaPending || !slices.Equal(dev.ModuleSet(), m.ModuleSet()) {
		if dev, err = e.syncDevice(ctx, dev, schema); err != nil {
			return err
		}
	}

	if dev.State == device.StateBuffering && dev.Samples() >= e.cfg.Threshold {
		if _, err := e.Integrate(ctx, dev.ID, m.Timestamp); err != nil {
			return err
		}
	}

	_, err = e.Write(ctx, dev.ID, dev.Class, m.Timestamp, values)
	return err
}

// schemaFor returns the cached schema of class, resolving it and growing
// the corpus on first use.
func (e *Engine) schemaFor(class string) (*sdf.Schema, error) {
	if schema, ok := e.corpus.Schema(class); ok {
		return schema, nil
	}
	schema, rows, err := e.resolver.Resolve(class)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", class, err)
	}
	added := e.corpus.Add(schema, rows)
	e.logger.Info("class resolved", "class", class, "modules", len(schema.Modules), "rows", added, "corpus_rows", e.corpus.Len())
	return schema, nil
}

// ensureDevice returns the registry snapshot of the message's device,
// creating the device in the graph and the registry on first sight.
func (e *Engine) ensureDevice(ctx context.Context, m message.Data) (*device.Device, error) {
	dev, err := e.registry.Get(m.DeviceID)
	if err == nil {
		if dev.Class != m.Class {
			return nil, fmt.Errorf("%w: %s is %s, message says %s", ErrClassChanged, m.DeviceID, dev.Class, m.Class)
		}
		return dev, nil
	}

	if err := e.declareClass(ctx, m.Class); err != nil {
		return nil, err
	}
	callCtx, cancel := e.storeCtx(ctx)
	err = e.store.Insert(callCtx, graph.Insertion{Devices: []graph.DeviceNode{{ID: m.DeviceID, Class: m.Class}}})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("inserting device %s: %w", m.DeviceID, err)
	}
	if err := e.registry.Create(m.DeviceID, m.Class, device.StateSchemaPending); err != nil {
		return nil, err
	}

	e.recordTransition(ctx, m.DeviceID, device.StateUnseen, device.StateSchemaPending, "first message")
	e.broadcast(EventDeviceCreated, map[string]any{
		"device_id": m.DeviceID,
		"class":     m.Class,
		"topic":     m.Topic,
		"timestamp": m.Timestamp,
	})
	e.logger.Info("device created", "device_id", m.DeviceID, "class", m.Class)

	return e.registry.Get(m.DeviceID)
}

// syncDevice runs the Schema Synchronizer and moves a new device on to
// Buffering. Returns a fresh snapshot.
func (e *Engine) syncDevice(ctx context.Context, dev *device.Device, schema *sdf.Schema) (*device.Device, error) {
	if _, err := e.Sync(ctx, dev, schema); err != nil {
		return nil, err
	}
	if dev.State == device.StateSchemaPending {
		if err := e.registry.SetState(dev.ID, device.StateBuffering); err != nil {
			return nil, err
		}
		e.recordTransition(ctx, dev.ID, device.StateSchemaPending, device.StateBuffering, "schema synchronised")
	}
	return e.registry.Get(dev.ID)
}
