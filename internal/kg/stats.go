package kg

import "time"

// DeviceMessageStats are the message counters of one device.
type DeviceMessageStats struct {
	Messages      int           `json:"messages"`
	Failed        int           `json:"failed"`
	AvgProcessing time.Duration `json:"avg_processing"`
}

// MessageStats summarises DATA message handling.
type MessageStats struct {
	Total         int                           `json:"total"`
	Failed        int                           `json:"failed"`
	AvgProcessing time.Duration                 `json:"avg_processing"`
	Devices       map[string]DeviceMessageStats `json:"devices"`
}

type deviceCounters struct {
	messages int
	failed   int
	elapsed  time.Duration
}

type messageStats struct {
	total   int
	failed  int
	elapsed time.Duration
	devices map[string]*deviceCounters
}

func newMessageStats() messageStats {
	return messageStats{devices: make(map[string]*deviceCounters)}
}

// recordMessage accounts one handled DATA message and returns the running total.
func (e *Engine) recordMessage(deviceID string, elapsed time.Duration, err error) int {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	c, ok := e.stats.devices[deviceID]
	if !ok {
		c = &deviceCounters{}
		e.stats.devices[deviceID] = c
	}
	e.stats.total++
	e.stats.elapsed += elapsed
	c.messages++
	c.elapsed += elapsed
	if err != nil {
		e.stats.failed++
		c.failed++
	}
	return e.stats.total
}

// Stats returns a snapshot of the message counters.
func (e *Engine) Stats() MessageStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := MessageStats{
		Total:         e.stats.total,
		Failed:        e.stats.failed,
		AvgProcessing: average(e.stats.elapsed, e.stats.total),
		Devices:       make(map[string]DeviceMessageStats, len(e.stats.devices)),
	}
	for id, c := range e.stats.devices {
		out.Devices[id] = DeviceMessageStats{
			Messages:      c.messages,
			Failed:        c.failed,
			AvgProcessing: average(c.elapsed, c.messages),
		}
	}
	return out
}

func average(total time.Duration, n int) time.Duration {
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
