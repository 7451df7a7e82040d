package kg

import "testing"

func TestCorpus_Add(t *testing.T) {
	c := NewCorpus()

	aq := airQualitySchema()
	if added := c.Add(aq, aq.Rows()); added != 3 {
		t.Errorf("Add() = %d, want 3", added)
	}
	if !c.Has("AirQuality") {
		t.Error("Has(AirQuality) = false after Add")
	}

	// A second file describing AirQuality again contributes nothing.
	th := thermostatSchema()
	rows := append(th.Rows(), aq.Rows()...)
	if added := c.Add(th, rows); added != 2 {
		t.Errorf("Add() = %d, want 2 (Thermostat rows only)", added)
	}

	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
	if got := c.Classes(); len(got) != 2 || got[0] != "AirQuality" || got[1] != "Thermostat" {
		t.Errorf("Classes() = %v", got)
	}
	if s, ok := c.Schema("Thermostat"); !ok || s != th {
		t.Error("Schema(Thermostat) should return the cached schema")
	}
}

func TestCorpus_RowsSnapshot(t *testing.T) {
	c := NewCorpus()
	aq := airQualitySchema()
	c.Add(aq, aq.Rows())

	rows := c.Rows()
	rows[0].Class = "Mutated"
	if c.Rows()[0].Class != "AirQuality" {
		t.Error("Rows() must return a copy")
	}
}

func TestCorpus_RowsWithoutSchema(t *testing.T) {
	c := NewCorpus()
	// Things referenced from another class file add rows but no schema.
	c.Add(nil, meterSchema().Rows())

	if c.Has("Meter") {
		t.Error("Has(Meter) = true without a schema")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
