package observability

import "sync"

// Metrics provides basic in-memory counters for ticket lifecycle events,
// keyed per guild.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]int64),
	}
}

// Incr increments the named lifecycle counter for a guild.
func (m *Metrics) Incr(guildID, name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[guildID+"|"+name]++
}

// Count returns the current value of a counter.
func (m *Metrics) Count(guildID, name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[guildID+"|"+name]
}

// Snapshot copies all counters, for the readiness/debug endpoints.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
