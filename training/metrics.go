package training

import (
	"fmt"
	"sort"
	"strings"
)

// LossMeter tracks running means of named scalar losses across an epoch.
// Order of first observation is preserved for reporting.
type LossMeter struct {
	names  []string
	sums   map[string]float64
	counts map[string]int
}

func NewLossMeter() *LossMeter {
	return &LossMeter{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Update records one observation of each named loss.
func (m *LossMeter) Update(losses map[string]float64) {
	keys := make([]string, 0, len(losses))
	for name := range losses {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if _, seen := m.sums[name]; !seen {
			m.names = append(m.names, name)
		}
		m.sums[name] += losses[name]
		m.counts[name]++
	}
}

// Mean returns the running mean of a named loss, or 0 if never observed.
func (m *LossMeter) Mean(name string) float64 {
	n := m.counts[name]
	if n == 0 {
		return 0
	}
	return m.sums[name] / float64(n)
}

// Means returns running means for every observed loss.
func (m *LossMeter) Means() map[string]float64 {
	out := make(map[string]float64, len(m.names))
	for _, name := range m.names {
		out[name] = m.Mean(name)
	}
	return out
}

// Reset clears all accumulated observations.
func (m *LossMeter) Reset() {
	m.names = m.names[:0]
	m.sums = make(map[string]float64)
	m.counts = make(map[string]int)
}

// String formats the running means as "name: value" pairs in first-seen
// order, suitable for per-iteration progress lines.
func (m *LossMeter) String() string {
	var b strings.Builder
	for i, name := range m.names {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%s: %.4f", name, m.Mean(name))
	}
	return b.String()
}
