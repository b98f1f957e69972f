package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/sagaflow/config"
)

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestRetryPolicy_DelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Jitter:       false,
	}
	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 1*time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 4*time.Second, p.Delay(4))
	assert.Equal(t, 8*time.Second, p.Delay(5))
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
	assert.Equal(t, 5*time.Second, p.Delay(8))
}

func TestRetryPolicy_JitterStaysBounded(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Jitter:       true,
	}
	for i := 0; i < 200; i++ {
		d := p.Delay(4) // base 4s, jittered ±25%
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 1*time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.RetryConfig{
		MaxAttempts:  7,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
	})
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay)
	assert.True(t, p.Jitter)
}
