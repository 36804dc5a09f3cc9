package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_SleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	require.NoError(t, clock.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, clock.Sleep(context.Background(), 4*time.Second))

	assert.Equal(t, start.Add(6*time.Second), clock.Now())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestManualClock_SleepCancelled(t *testing.T) {
	clock := NewManualClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, clock.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, clock.Sleeps())
}

func TestSystemClock_SleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := SystemClock{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAppendUnique(t *testing.T) {
	out := AppendUnique([]string{"a", "b"}, "b", "c", "a", "d")
	assert.Equal(t, []string{"a", "b", "c", "d"}, out)
}

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	a, err := MarshalCanonical(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := MarshalCanonical(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}
