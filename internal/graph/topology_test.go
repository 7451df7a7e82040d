package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	body := `
tasks:
  - name: monitor_air
    description: Keep indoor air quality within limits
services:
  - name: air_quality
devices:
  - id: aq-01
    class: AirQuality
    needed_by: [monitor_air]
    fulfils: [air_quality]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology() error = %v", err)
	}
	if len(topo.Devices) != 1 || topo.Tasks[0].Description == "" {
		t.Fatalf("topology = %+v", topo)
	}

	rels := topo.Devices[0].Relations()
	want := []Relation{
		{Kind: Needs, Entity: "monitor_air", DeviceID: "aq-01"},
		{Kind: Fulfils, Entity: "air_quality", DeviceID: "aq-01"},
	}
	if len(rels) != len(want) || rels[0] != want[0] || rels[1] != want[1] {
		t.Errorf("Relations() = %+v, want %+v", rels, want)
	}
}

func TestTopology_Validate(t *testing.T) {
	topo := Topology{
		Tasks: []Entity{{Name: "monitor_air"}},
		Devices: []SeedDevice{
			{ID: "a", Class: "C", NeededBy: []string{"unknown_task"}},
			{ID: "a", Class: "C"},
			{Class: "C"},
			{ID: "b", Class: "C", Fulfils: []string{"nothing"}},
		},
	}

	err := topo.Validate()
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("Validate() error = %v, want ErrInvalidQuery", err)
	}
}

func TestLoadTopology_Missing(t *testing.T) {
	if _, err := LoadTopology(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadTopology() expected error")
	}
}
