package reporterz

import (
	"errors"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory exposes pipeline metrics through a Prometheus registerer.
// Every metric name becomes one vector whose label names are the tag keys of
// the first request for that name.
type PrometheusFactory struct {
	registerer prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	namespace  string
	mu         sync.Mutex
}

// NewPrometheusFactory creates a factory registering into registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusFactory(namespace string, registerer prometheus.Registerer) *PrometheusFactory {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusFactory{
		registerer: registerer,
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Counter implements Factory.
func (f *PrometheusFactory) Counter(name string, tags map[string]string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	vec, ok := f.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: f.namespace,
			Name:      name,
			Help:      helpText(name),
		}, labelNames(tags))
		vec = registerOrExisting(f.registerer, vec)
		f.counters[name] = vec
	}

	counter, err := vec.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return nullMetric{}
	}
	return promCounter{counter}
}

// Gauge implements Factory.
func (f *PrometheusFactory) Gauge(name string, tags map[string]string) Gauge {
	f.mu.Lock()
	defer f.mu.Unlock()

	vec, ok := f.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: f.namespace,
			Name:      name,
			Help:      helpText(name),
		}, labelNames(tags))
		vec = registerOrExisting(f.registerer, vec)
		f.gauges[name] = vec
	}

	gauge, err := vec.GetMetricWith(prometheus.Labels(tags))
	if err != nil {
		return nullMetric{}
	}
	return promGauge{gauge}
}

func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func helpText(name string) string {
	switch name {
	case MetricReporterSpans:
		return "Spans handled by the reporter, by result"
	case MetricReporterQueueLength:
		return "Commands waiting in the reporter queue"
	case MetricTraces:
		return "Traces started by the tracer"
	case MetricStartedSpans:
		return "Spans started by the tracer"
	case MetricSamplerDecisions:
		return "Sampling decisions for new traces"
	default:
		return name
	}
}

type promCounter struct {
	counter prometheus.Counter
}

func (c promCounter) Inc(delta int64) {
	if delta > 0 {
		c.counter.Add(float64(delta))
	}
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (g promGauge) Update(value int64) {
	g.gauge.Set(float64(value))
}
