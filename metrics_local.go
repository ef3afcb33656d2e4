package reporterz

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// LocalFactory keeps metrics in memory. Values are looked up with
// CounterValue and GaugeValue, using tags written as "k1=v1,k2=v2" in any
// order. Safe for concurrent use.
type LocalFactory struct {
	counters map[string]*localMetric
	gauges   map[string]*localMetric
	mu       sync.Mutex
}

// NewLocalFactory creates an empty LocalFactory.
func NewLocalFactory() *LocalFactory {
	return &LocalFactory{
		counters: make(map[string]*localMetric),
		gauges:   make(map[string]*localMetric),
	}
}

type localMetric struct {
	value atomic.Int64
}

func (m *localMetric) Inc(delta int64)    { m.value.Add(delta) }
func (m *localMetric) Update(value int64) { m.value.Store(value) }

// Counter implements Factory.
func (f *LocalFactory) Counter(name string, tags map[string]string) Counter {
	return f.get(f.counters, metricKey(name, tags))
}

// Gauge implements Factory.
func (f *LocalFactory) Gauge(name string, tags map[string]string) Gauge {
	return f.get(f.gauges, metricKey(name, tags))
}

func (f *LocalFactory) get(m map[string]*localMetric, key string) *localMetric {
	f.mu.Lock()
	defer f.mu.Unlock()

	metric, ok := m[key]
	if !ok {
		metric = &localMetric{}
		m[key] = metric
	}
	return metric
}

// CounterValue returns the current value of a counter, 0 if never created.
func (f *LocalFactory) CounterValue(name, tags string) int64 {
	return f.lookup(f.counters, metricKey(name, parseTags(tags)))
}

// GaugeValue returns the last value of a gauge, 0 if never created.
func (f *LocalFactory) GaugeValue(name, tags string) int64 {
	return f.lookup(f.gauges, metricKey(name, parseTags(tags)))
}

func (f *LocalFactory) lookup(m map[string]*localMetric, key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if metric, ok := m[key]; ok {
		return metric.value.Load()
	}
	return 0
}

// Snapshot copies every counter and gauge keyed by "name|tags".
func (f *LocalFactory) Snapshot() (counters, gauges map[string]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counters = make(map[string]int64, len(f.counters))
	for k, v := range f.counters {
		counters[k] = v.value.Load()
	}
	gauges = make(map[string]int64, len(f.gauges))
	for k, v := range f.gauges {
		gauges[k] = v.value.Load()
	}
	return counters, gauges
}

func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "|" + strings.Join(pairs, ",")
}

func parseTags(tags string) map[string]string {
	if tags == "" {
		return nil
	}
	result := make(map[string]string)
	for _, entry := range strings.Split(tags, ",") {
		key, value, _ := strings.Cut(entry, "=")
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return result
}
