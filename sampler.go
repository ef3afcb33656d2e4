package reporterz

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/zoobzio/clockz"
	"golang.org/x/time/rate"
)

// Sampler tag keys and types.
const (
	SamplerTypeTagKey  = "sampler.type"
	SamplerParamTagKey = "sampler.param"

	SamplerTypeConst         = "const"
	SamplerTypeProbabilistic = "probabilistic"
	SamplerTypeRateLimiting  = "ratelimiting"
)

// ErrInvalidSamplingRate is returned for probabilistic rates outside [0, 1].
var ErrInvalidSamplingRate = errors.New("sampling rate must be between 0.0 and 1.0")

// SamplingStatus is the outcome of a sampling decision. Tags describe the
// sampler and are attached to the root span of sampled traces.
type SamplingStatus struct {
	Tags    map[string]TagValue
	Sampled bool
}

// Equal reports whether both statuses carry the same decision and tags.
func (s SamplingStatus) Equal(other SamplingStatus) bool {
	return s.Sampled == other.Sampled && maps.Equal(s.Tags, other.Tags)
}

// Sampler decides whether a new trace should be recorded.
type Sampler interface {
	Sample(operation string, id TraceID) SamplingStatus
	Close()
}

// ConstSampler always returns the same decision.
type ConstSampler struct {
	tags     map[string]TagValue
	decision bool
}

// NewConstSampler creates a sampler that always returns decision.
func NewConstSampler(decision bool) *ConstSampler {
	return &ConstSampler{
		decision: decision,
		tags: map[string]TagValue{
			SamplerTypeTagKey:  StringValue(SamplerTypeConst),
			SamplerParamTagKey: BoolValue(decision),
		},
	}
}

// Sample implements Sampler.
func (s *ConstSampler) Sample(string, TraceID) SamplingStatus {
	return SamplingStatus{Sampled: s.decision, Tags: s.tags}
}

// Close implements Sampler.
func (*ConstSampler) Close() {}

func (s *ConstSampler) String() string {
	return fmt.Sprintf("ConstSampler(decision=%t)", s.decision)
}

// ProbabilisticSampler samples a fixed fraction of traces based on the low
// 64 bits of the trace id. The same id always gets the same decision.
type ProbabilisticSampler struct {
	tags             map[string]TagValue
	rate             float64
	positiveBoundary int64
	negativeBoundary int64
}

// NewProbabilisticSampler creates a sampler keeping roughly rate of all
// traces. rate must be within [0.0, 1.0].
func NewProbabilisticSampler(rate float64) (*ProbabilisticSampler, error) {
	if math.IsNaN(rate) || rate < 0.0 || rate > 1.0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSamplingRate, rate)
	}
	return &ProbabilisticSampler{
		rate:             rate,
		positiveBoundary: scaleBoundary(math.MaxInt64, rate),
		negativeBoundary: scaleBoundary(math.MinInt64, rate),
		tags: map[string]TagValue{
			SamplerTypeTagKey:  StringValue(SamplerTypeProbabilistic),
			SamplerParamTagKey: Float64Value(rate),
		},
	}, nil
}

// scaleBoundary truncates limit*rate toward zero. float64(MaxInt64) rounds up
// to 2^63, which does not fit an int64, so that case clamps to MaxInt64.
func scaleBoundary(limit int64, rate float64) int64 {
	v := float64(limit) * rate
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	if v <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(v)
}

// Sample implements Sampler.
func (s *ProbabilisticSampler) Sample(_ string, id TraceID) SamplingStatus {
	low := int64(id.Low)
	if low > 0 {
		return SamplingStatus{Sampled: low <= s.positiveBoundary, Tags: s.tags}
	}
	return SamplingStatus{Sampled: low >= s.negativeBoundary, Tags: s.tags}
}

// SamplingRate returns the configured rate.
func (s *ProbabilisticSampler) SamplingRate() float64 {
	return s.rate
}

// Close implements Sampler.
func (*ProbabilisticSampler) Close() {}

func (s *ProbabilisticSampler) String() string {
	return fmt.Sprintf("ProbabilisticSampler(rate=%v)", s.rate)
}

// RateLimitingSampler samples at most a fixed number of traces per second.
// Safe for concurrent use.
type RateLimitingSampler struct {
	limiter            *rate.Limiter
	clock              clockz.Clock
	tags               map[string]TagValue
	maxTracesPerSecond float64
}

// NewRateLimitingSampler creates a sampler admitting maxTracesPerSecond
// traces, with a burst of max(1, ceil(maxTracesPerSecond)). A nil clock uses
// clockz.RealClock.
func NewRateLimitingSampler(maxTracesPerSecond float64, clock clockz.Clock) *RateLimitingSampler {
	if clock == nil {
		clock = clockz.RealClock
	}
	if maxTracesPerSecond < 0 {
		maxTracesPerSecond = 0
	}
	burst := int(math.Ceil(maxTracesPerSecond))
	if burst < 1 {
		burst = 1
	}
	return &RateLimitingSampler{
		limiter:            rate.NewLimiter(rate.Limit(maxTracesPerSecond), burst),
		clock:              clock,
		maxTracesPerSecond: maxTracesPerSecond,
		tags: map[string]TagValue{
			SamplerTypeTagKey:  StringValue(SamplerTypeRateLimiting),
			SamplerParamTagKey: Float64Value(maxTracesPerSecond),
		},
	}
}

// Sample implements Sampler.
func (s *RateLimitingSampler) Sample(string, TraceID) SamplingStatus {
	return SamplingStatus{
		Sampled: s.limiter.AllowN(s.clock.Now(), 1),
		Tags:    s.tags,
	}
}

// MaxTracesPerSecond returns the configured limit.
func (s *RateLimitingSampler) MaxTracesPerSecond() float64 {
	return s.maxTracesPerSecond
}

// Close implements Sampler.
func (*RateLimitingSampler) Close() {}

func (s *RateLimitingSampler) String() string {
	return fmt.Sprintf("RateLimitingSampler(maxTracesPerSecond=%v)", s.maxTracesPerSecond)
}
