package kg

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Dump file names written by Dump.
const (
	DevicesFile    = "devices.json"
	StatesFile     = "states.csv"
	StateTimesFile = "state_times.csv"

	dumpPermissions = 0o640
	dumpDirPerm     = 0o750
)

// Dump writes the operational snapshots into dir:
//
//   - devices.json: every registry device keyed by id, with its buffers
//   - states.csv: the activity log (seconds since start, activity)
//   - state_times.csv: seconds spent idle, processing and querying
//
// Files are replaced atomically. The snapshots are derived state and can
// be rebuilt from the graph and the message stream.
func (e *Engine) Dump(dir string) error {
	if err := os.MkdirAll(dir, dumpDirPerm); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	devices := make(map[string]any)
	for _, d := range e.registry.List() {
		devices[d.ID] = d
	}
	body, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, DevicesFile), body); err != nil {
		return err
	}

	rows := [][]string{{"ts", "states"}}
	for _, c := range e.tracker.History() {
		rows = append(rows, []string{
			strconv.FormatFloat(c.Offset.Seconds(), 'f', 6, 64),
			strconv.Itoa(int(c.State)),
		})
	}
	if err := writeCSV(filepath.Join(dir, StatesFile), rows); err != nil {
		return err
	}

	durations := e.tracker.Durations()
	times := []string{"state_times"}
	for _, a := range []Activity{ActivityIdle, ActivityProcessing, ActivityQuerying} {
		times = append(times, strconv.FormatFloat(durations[a].Seconds(), 'f', 6, 64))
	}
	return writeCSV(filepath.Join(dir, StateTimesFile), [][]string{times})
}

func writeCSV(path string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, dumpPermissions); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
