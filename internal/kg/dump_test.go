package kg

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDump(t *testing.T) {
	h := newHarness(t, testConfig())
	h.handle(t,
		aq("U1", t0, 20, 40),
		aq("U1", t0.Add(time.Second), 21, 41),
	)

	dir := filepath.Join(t.TempDir(), "state")
	if err := h.engine.Dump(dir); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, DevicesFile))
	if err != nil {
		t.Fatal(err)
	}
	var devices map[string]struct {
		Class      string      `json:"class"`
		State      string      `json:"state"`
		Timestamps []time.Time `json:"timestamps"`
		Modules    map[string]struct {
			Attributes map[string]struct {
				Values []any `json:"values"`
			} `json:"attributes"`
		} `json:"modules"`
	}
	if err := json.Unmarshal(data, &devices); err != nil {
		t.Fatalf("devices.json: %v", err)
	}
	u1, ok := devices["U1"]
	if !ok || u1.Class != "AirQuality" || u1.State != "buffering" || len(u1.Timestamps) != 2 {
		t.Fatalf("devices.json U1 = %+v", u1)
	}
	if got := u1.Modules["sensor"].Attributes["humidity"].Values; len(got) != 2 || got[1] != 41.0 {
		t.Errorf("humidity = %v, want [40 41]", got)
	}

	states := readCSV(t, filepath.Join(dir, StatesFile))
	if len(states) < 2 || states[0][0] != "ts" || states[0][1] != "states" {
		t.Fatalf("states.csv = %v", states)
	}
	if states[1][1] != "0" {
		t.Errorf("first activity = %s, want 0 (idle)", states[1][1])
	}

	times := readCSV(t, filepath.Join(dir, StateTimesFile))
	if len(times) != 1 || len(times[0]) != 4 || times[0][0] != "state_times" {
		t.Errorf("state_times.csv = %v", times)
	}

	if _, err := os.Stat(filepath.Join(dir, DevicesFile+".tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("%s: %v", filepath.Base(path), err)
	}
	return rows
}
