package main

import (
	"github.com/zoobzio/reporterz"
)

// teeFactory hands every update to all of its factories.
type teeFactory []reporterz.Factory

func (t teeFactory) Counter(name string, tags map[string]string) reporterz.Counter {
	counters := make(teeCounter, 0, len(t))
	for _, f := range t {
		counters = append(counters, f.Counter(name, tags))
	}
	return counters
}

func (t teeFactory) Gauge(name string, tags map[string]string) reporterz.Gauge {
	gauges := make(teeGauge, 0, len(t))
	for _, f := range t {
		gauges = append(gauges, f.Gauge(name, tags))
	}
	return gauges
}

type teeCounter []reporterz.Counter

func (c teeCounter) Inc(delta int64) {
	for _, counter := range c {
		counter.Inc(delta)
	}
}

type teeGauge []reporterz.Gauge

func (g teeGauge) Update(value int64) {
	for _, gauge := range g {
		gauge.Update(value)
	}
}
