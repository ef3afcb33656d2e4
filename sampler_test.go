package reporterz

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestConstSampler(t *testing.T) {
	for _, decision := range []bool{true, false} {
		sampler := NewConstSampler(decision)
		first := sampler.Sample("op", TraceID{Low: 1})
		second := sampler.Sample("other", TraceID{Low: math.MaxUint64})

		assert.Equal(t, decision, first.Sampled)
		assert.True(t, first.Equal(second))
		assert.Equal(t, StringValue(SamplerTypeConst), first.Tags[SamplerTypeTagKey])
		assert.Equal(t, BoolValue(decision), first.Tags[SamplerParamTagKey])
	}
}

func TestProbabilisticSamplerRejectsInvalidRates(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.1, math.NaN(), math.Inf(1)} {
		_, err := NewProbabilisticSampler(rate)
		assert.ErrorIs(t, err, ErrInvalidSamplingRate, "rate %v", rate)
	}
}

func TestProbabilisticSamplerFullRateSamplesEverything(t *testing.T) {
	sampler, err := NewProbabilisticSampler(1.0)
	require.NoError(t, err)

	ids := []uint64{1, 2, math.MaxInt64, 1 << 63, math.MaxUint64, 0x8000000000000001}
	for _, low := range ids {
		assert.True(t, sampler.Sample("op", TraceID{Low: low}).Sampled, "low %x", low)
	}
}

func TestProbabilisticSamplerZeroRateSamplesNothing(t *testing.T) {
	sampler, err := NewProbabilisticSampler(0.0)
	require.NoError(t, err)

	ids := []uint64{1, 2, math.MaxInt64, 1 << 63, math.MaxUint64}
	for _, low := range ids {
		assert.False(t, sampler.Sample("op", TraceID{Low: low}).Sampled, "low %x", low)
	}

	// Zero sits on both boundaries. Generated ids are never zero.
	assert.True(t, sampler.Sample("op", TraceID{}).Sampled)
}

func TestProbabilisticSamplerBoundaries(t *testing.T) {
	sampler, err := NewProbabilisticSampler(0.5)
	require.NoError(t, err)

	half := int64(math.MaxInt64 / 2)
	assert.True(t, sampler.Sample("op", TraceID{Low: uint64(half - 10)}).Sampled)
	assert.False(t, sampler.Sample("op", TraceID{Low: uint64(half + 1024)}).Sampled)

	negHalf := int64(math.MinInt64 / 2)
	assert.True(t, sampler.Sample("op", TraceID{Low: uint64(negHalf + 10)}).Sampled)
	assert.False(t, sampler.Sample("op", TraceID{Low: uint64(negHalf - 1024)}).Sampled)

	// High bits never influence the decision.
	id := TraceID{Low: uint64(half - 10)}
	withHigh := TraceID{High: 99, Low: id.Low}
	assert.Equal(t, sampler.Sample("op", id).Sampled, sampler.Sample("op", withHigh).Sampled)
}

func TestProbabilisticSamplerIsDeterministic(t *testing.T) {
	sampler, err := NewProbabilisticSampler(0.3)
	require.NoError(t, err)

	sampled := 0
	for i := uint64(1); i <= 1000; i++ {
		id := TraceID{Low: i * 0x9E3779B97F4A7C15}
		first := sampler.Sample("op", id)
		assert.Equal(t, first, sampler.Sample("op", id))
		if first.Sampled {
			sampled++
		}
	}
	// Multiplicative hashing spreads ids evenly over the int64 range.
	assert.InDelta(t, 300, sampled, 60)
	assert.Equal(t, Float64Value(0.3), sampler.Sample("op", TraceID{Low: 1}).Tags[SamplerParamTagKey])
	assert.InDelta(t, 0.3, sampler.SamplingRate(), 0)
}

func TestRateLimitingSampler(t *testing.T) {
	clock := clockz.NewFakeClock()
	sampler := NewRateLimitingSampler(2, clock)

	assert.True(t, sampler.Sample("op", TraceID{Low: 1}).Sampled)
	assert.True(t, sampler.Sample("op", TraceID{Low: 2}).Sampled)
	assert.False(t, sampler.Sample("op", TraceID{Low: 3}).Sampled)

	clock.Advance(500 * time.Millisecond)
	assert.True(t, sampler.Sample("op", TraceID{Low: 4}).Sampled)
	assert.False(t, sampler.Sample("op", TraceID{Low: 5}).Sampled)

	clock.Advance(time.Second)
	assert.True(t, sampler.Sample("op", TraceID{Low: 6}).Sampled)
	assert.True(t, sampler.Sample("op", TraceID{Low: 7}).Sampled)
	assert.False(t, sampler.Sample("op", TraceID{Low: 8}).Sampled)

	status := sampler.Sample("op", TraceID{Low: 9})
	assert.Equal(t, StringValue(SamplerTypeRateLimiting), status.Tags[SamplerTypeTagKey])
	assert.InDelta(t, 2.0, sampler.MaxTracesPerSecond(), 0)
}

func TestRateLimitingSamplerFractionalRateAllowsOneBurst(t *testing.T) {
	clock := clockz.NewFakeClock()
	sampler := NewRateLimitingSampler(0.5, clock)

	assert.True(t, sampler.Sample("op", TraceID{Low: 1}).Sampled)
	assert.False(t, sampler.Sample("op", TraceID{Low: 2}).Sampled)

	clock.Advance(2 * time.Second)
	assert.True(t, sampler.Sample("op", TraceID{Low: 3}).Sampled)
}

func TestSamplingStatusEqual(t *testing.T) {
	a := SamplingStatus{Sampled: true, Tags: map[string]TagValue{"k": StringValue("v")}}
	b := SamplingStatus{Sampled: true, Tags: map[string]TagValue{"k": StringValue("v")}}
	c := SamplingStatus{Sampled: true, Tags: map[string]TagValue{"k": StringValue("w")}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(SamplingStatus{Tags: a.Tags}))
}
