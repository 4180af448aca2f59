package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_CalculateDelay_NoJitter(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2}
	require.Equal(t, time.Second, p.CalculateDelay(1))
	require.Equal(t, 2*time.Second, p.CalculateDelay(2))
	require.Equal(t, 4*time.Second, p.CalculateDelay(3))
}

func TestPolicy_CalculateDelay_CapsAtMax(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}
	require.Equal(t, 5*time.Second, p.CalculateDelay(10))
}

func TestPolicy_CalculateDelay_Jitter(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2, Jitter: true}
	d := p.CalculateDelay(1)
	require.GreaterOrEqual(t, d, time.Second)
	require.LessOrEqual(t, d, time.Duration(1.2*float64(time.Second)))
}

func TestRegistry_Overrides(t *testing.T) {
	r := NewRegistry()

	exc := r.Get("ExceptionIngested")
	require.Equal(t, 5, exc.MaxRetries)
	require.Equal(t, 2*time.Second, exc.InitialDelay)
	require.Equal(t, 600*time.Second, exc.MaxDelay)

	tool := r.Get("ToolExecutionRequested")
	require.Equal(t, 3, tool.MaxRetries)
	require.Equal(t, time.Second, tool.InitialDelay)
	require.Equal(t, 300*time.Second, tool.MaxDelay)

	fb := r.Get("FeedbackCaptured")
	require.Equal(t, 2, fb.MaxRetries)
	require.Equal(t, 500*time.Millisecond, fb.InitialDelay)
	require.Equal(t, 60*time.Second, fb.MaxDelay)

	require.Equal(t, DefaultPolicy, r.Get("SomeOtherEventType"))
}

func TestRegistry_Set(t *testing.T) {
	r := NewRegistry()
	r.Set("Custom", Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 1})
	require.Equal(t, 1, r.MaxRetries("Custom"))
}
