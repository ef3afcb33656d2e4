package reporterz

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc(delta int64)
}

// Gauge records the latest observed value.
type Gauge interface {
	Update(value int64)
}

// Factory creates metrics identified by a name and a set of tags.
// Asking twice for the same name and tags must return metrics that share
// state.
type Factory interface {
	Counter(name string, tags map[string]string) Counter
	Gauge(name string, tags map[string]string) Gauge
}

// Metrics names used by the pipeline.
const (
	MetricReporterSpans       = "reporter_spans"
	MetricReporterQueueLength = "reporter_queue_length"
	MetricTraces              = "traces"
	MetricStartedSpans        = "started_spans"
	MetricSamplerDecisions    = "sampler_decisions"
)

// Metrics is the set of counters and gauges emitted by the tracer and the
// reporter.
//
// reporter_spans carries result=ok, result=dropped and result=err. Spans
// lost to a failed send count under err, not dropped, so a dashboard that
// sums losses must add both.
type Metrics struct {
	// Spans flushed to the transport.
	ReporterSuccess Counter
	// Spans lost to a sender or transport failure.
	ReporterFailure Counter
	// Spans rejected because the queue was full or closed.
	ReporterDropped Counter
	// Queue depth, sampled once per flush tick.
	ReporterQueueLength Gauge

	TracesStartedSampled    Counter
	TracesStartedNotSampled Counter
	SpansStartedSampled     Counter
	SpansStartedNotSampled  Counter

	SamplerSampled    Counter
	SamplerNotSampled Counter
}

// NewMetrics builds Metrics from factory.
func NewMetrics(factory Factory) *Metrics {
	if factory == nil {
		factory = NullFactory
	}
	return &Metrics{
		ReporterSuccess:     factory.Counter(MetricReporterSpans, map[string]string{"result": "ok"}),
		ReporterFailure:     factory.Counter(MetricReporterSpans, map[string]string{"result": "err"}),
		ReporterDropped:     factory.Counter(MetricReporterSpans, map[string]string{"result": "dropped"}),
		ReporterQueueLength: factory.Gauge(MetricReporterQueueLength, nil),

		TracesStartedSampled:    factory.Counter(MetricTraces, map[string]string{"sampled": "y", "state": "started"}),
		TracesStartedNotSampled: factory.Counter(MetricTraces, map[string]string{"sampled": "n", "state": "started"}),
		SpansStartedSampled:     factory.Counter(MetricStartedSpans, map[string]string{"sampled": "y"}),
		SpansStartedNotSampled:  factory.Counter(MetricStartedSpans, map[string]string{"sampled": "n"}),

		SamplerSampled:    factory.Counter(MetricSamplerDecisions, map[string]string{"sampled": "y"}),
		SamplerNotSampled: factory.Counter(MetricSamplerDecisions, map[string]string{"sampled": "n"}),
	}
}

// NullFactory creates metrics that discard every update.
var NullFactory Factory = nullFactory{}

type nullFactory struct{}

func (nullFactory) Counter(string, map[string]string) Counter { return nullMetric{} }
func (nullFactory) Gauge(string, map[string]string) Gauge     { return nullMetric{} }

type nullMetric struct{}

func (nullMetric) Inc(int64)    {}
func (nullMetric) Update(int64) {}
