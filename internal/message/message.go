// Package message decodes device telemetry published on the bus.
//
// Every payload is parsed exactly once, at the transport boundary, into one
// of three concrete types:
//
//	msg, err := message.Parse(payload)
//	switch m := msg.(type) {
//	case message.Data:
//	    handler.Handle(ctx, m)
//	case message.Connected, message.Disconnected:
//	    log.Info("device presence", "device_id", m.Device())
//	}
package message

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category values carried in the "category" field.
const (
	CategoryConnected    = "CONNECTED"
	CategoryDisconnected = "DISCONNECTED"
	CategoryData         = "DATA"
)

// TimestampLayout is the wire format of the "timestamp" field
// (ISO-8601 with microseconds, no zone).
const TimestampLayout = "2006-01-02T15:04:05.999999"

// idAttribute is the per-module echo of the device id; it is not telemetry.
const idAttribute = "uuid"

// Message is the closed set of inbound message kinds.
type Message interface {
	// Device returns the id of the device the message refers to.
	Device() string
	// Kind returns the wire category.
	Kind() string

	sealed()
}

// Header carries the fields common to every category.
type Header struct {
	Class     string
	DeviceID  string
	Topic     string
	Timestamp time.Time
}

// Device implements Message.
func (h Header) Device() string { return h.DeviceID }

func (Header) sealed() {}

// Connected announces that a device came online.
type Connected struct{ Header }

// Kind implements Message.
func (Connected) Kind() string { return CategoryConnected }

// Disconnected announces that a device went offline.
type Disconnected struct{ Header }

// Kind implements Message.
func (Disconnected) Kind() string { return CategoryDisconnected }

// Data is one telemetry sample: module name -> attribute name -> value.
// Values are float64, string or bool.
type Data struct {
	Header
	Modules map[string]map[string]any
}

// Kind implements Message.
func (Data) Kind() string { return CategoryData }

// ModuleSet returns the reported module names, sorted.
func (d Data) ModuleSet() []string {
	names := make([]string, 0, len(d.Modules))
	for name := range d.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// wire mirrors the JSON published by devices.
type wire struct {
	Category  string                    `json:"category"`
	Class     string                    `json:"class"`
	Topic     string                    `json:"topic"`
	UUID      string                    `json:"uuid"`
	Timestamp string                    `json:"timestamp"`
	Data      map[string]map[string]any `json:"data"`
}

// Parse decodes a raw payload into a Message.
func Parse(payload []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if w.UUID == "" {
		return nil, fmt.Errorf("%w: uuid", ErrMissingField)
	}

	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return nil, err
	}

	header := Header{
		Class:     w.Class,
		DeviceID:  w.UUID,
		Topic:     w.Topic,
		Timestamp: ts,
	}

	switch strings.ToUpper(w.Category) {
	case CategoryConnected:
		return Connected{Header: header}, nil
	case CategoryDisconnected:
		return Disconnected{Header: header}, nil
	case CategoryData:
		if w.Class == "" {
			return nil, fmt.Errorf("%w: class", ErrMissingField)
		}
		if len(w.Data) == 0 {
			return nil, fmt.Errorf("%w: data", ErrMissingField)
		}
		return Data{Header: header, Modules: normalise(w.Data)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, w.Category)
	}
}

// ParseTimestamp accepts the device wire layout and falls back to RFC 3339.
// Zone-less timestamps are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	if ts, err := time.ParseInLocation(TimestampLayout, s, time.UTC); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return ts.UTC(), nil
}

// FormatTimestamp renders ts in the device wire layout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// normalise drops the per-module id echo and modules left empty by it.
func normalise(data map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(data))
	for module, attrs := range data {
		clean := make(map[string]any, len(attrs))
		for name, value := range attrs {
			if name == idAttribute {
				continue
			}
			clean[name] = value
		}
		if len(clean) > 0 {
			out[module] = clean
		}
	}
	return out
}
