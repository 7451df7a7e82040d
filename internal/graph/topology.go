package graph

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	entityTask    = "task"
	entityService = "service"
)

// Entity is a task or service devices can be attached to.
type Entity struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedDevice is a device present before the agent starts, with the
// relations it already participates in.
type SeedDevice struct {
	ID       string   `yaml:"id"`
	Class    string   `yaml:"class"`
	NeededBy []string `yaml:"needed_by"`
	Fulfils  []string `yaml:"fulfils"`
}

// Relations returns the device's edges.
func (d SeedDevice) Relations() []Relation {
	out := make([]Relation, 0, len(d.NeededBy)+len(d.Fulfils))
	for _, task := range d.NeededBy {
		out = append(out, Relation{Kind: Needs, Entity: task, DeviceID: d.ID})
	}
	for _, service := range d.Fulfils {
		out = append(out, Relation{Kind: Fulfils, Entity: service, DeviceID: d.ID})
	}
	return out
}

// Topology is the initial knowledge base: the tasks and services of the
// deployment and the devices already serving them.
//
//	tasks:
//	  - name: monitor_air
//	    description: Keep indoor air quality within limits
//	services:
//	  - name: air_quality
//	devices:
//	  - id: aq-01
//	    class: AirQuality
//	    needed_by: [monitor_air]
//	    fulfils: [air_quality]
type Topology struct {
	Tasks    []Entity     `yaml:"tasks"`
	Services []Entity     `yaml:"services"`
	Devices  []SeedDevice `yaml:"devices"`
}

// LoadTopology reads a topology YAML file.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from trusted config
	if err != nil {
		return Topology{}, fmt.Errorf("reading topology: %w", err)
	}

	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return Topology{}, fmt.Errorf("parsing topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return Topology{}, err
	}
	return topo, nil
}

// Validate checks that every device has an id and class and that every
// relation names a declared task or service.
func (t Topology) Validate() error {
	tasks := make(map[string]bool, len(t.Tasks))
	for _, e := range t.Tasks {
		tasks[e.Name] = true
	}
	services := make(map[string]bool, len(t.Services))
	for _, e := range t.Services {
		services[e.Name] = true
	}

	var errs []error
	seen := make(map[string]bool, len(t.Devices))
	for i, d := range t.Devices {
		if d.ID == "" || d.Class == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: id and class are required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		for _, task := range d.NeededBy {
			if !tasks[task] {
				errs = append(errs, fmt.Errorf("device %s: unknown task %q", d.ID, task))
			}
		}
		for _, service := range d.Fulfils {
			if !services[service] {
				errs = append(errs, fmt.Errorf("device %s: unknown service %q", d.ID, service))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: topology: %w", ErrInvalidQuery, errors.Join(errs...))
	}
	return nil
}
