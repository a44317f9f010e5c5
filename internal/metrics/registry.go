package metrics

import (
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing event count.
type Counter struct {
	n atomic.Int64
}

// Inc adds one.
func (c *Counter) Inc() { c.n.Add(1) }

// Add adds delta; negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if delta > 0 {
		c.n.Add(delta)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.n.Load() }

// Registry holds named histograms and counters. A nil *Registry is valid and
// hands out detached instruments, so callers never need to check.
type Registry struct {
	mu       sync.RWMutex
	hists    map[string]*Histogram
	counters map[string]*Counter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		hists:    make(map[string]*Histogram),
		counters: make(map[string]*Counter),
	}
}

// Register returns the histogram called name, creating it with bounds on
// first use.
func (r *Registry) Register(name string, bounds []int64) *Histogram {
	if r == nil {
		return NewHistogram(bounds)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hists[name]; ok {
		return h
	}
	h := NewHistogram(bounds)
	r.hists[name] = h
	return h
}

// Counter returns the counter called name, creating it on first use.
func (r *Registry) Counter(name string) *Counter {
	if r == nil {
		return &Counter{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	return c
}

// Report is the JSON body of the metrics endpoint.
type Report struct {
	Latency  map[string]Snapshot `json:"latency"`
	Counters map[string]int64    `json:"counters"`
}

// Snapshot returns the current value of every instrument.
func (r *Registry) Snapshot() Report {
	rep := Report{
		Latency:  map[string]Snapshot{},
		Counters: map[string]int64{},
	}
	if r == nil {
		return rep
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, h := range r.hists {
		rep.Latency[name] = h.Snapshot()
	}
	for name, c := range r.counters {
		rep.Counters[name] = c.Value()
	}
	return rep
}
