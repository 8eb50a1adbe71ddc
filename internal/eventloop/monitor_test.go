package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAndResetReportsHighSincePreviousRead(t *testing.T) {
	m := New(0)

	m.Record(150 * time.Millisecond)
	m.Record(100 * time.Millisecond)

	got := m.ReadAndReset()
	assert.Equal(t, 100*time.Millisecond, got.Delay)
	assert.Equal(t, 150*time.Millisecond, got.High)

	// No new recordings: high resets, delay keeps the last value.
	got = m.ReadAndReset()
	assert.Equal(t, 100*time.Millisecond, got.Delay)
	assert.Zero(t, got.High)
}

func TestHighIsNotMaxSinceStart(t *testing.T) {
	m := New(0)

	m.Record(500 * time.Millisecond)
	first := m.ReadAndReset()
	require.Equal(t, 500*time.Millisecond, first.High)

	m.Record(20 * time.Millisecond)
	m.Record(40 * time.Millisecond)
	m.Record(10 * time.Millisecond)

	second := m.ReadAndReset()
	assert.Equal(t, 10*time.Millisecond, second.Delay)
	assert.Equal(t, 40*time.Millisecond, second.High)
}

func TestRecordClampsNegative(t *testing.T) {
	m := New(0)
	m.Record(-3 * time.Millisecond)

	got := m.ReadAndReset()
	assert.Zero(t, got.Delay)
	assert.Zero(t, got.High)
}

func TestNewDefaultsInterval(t *testing.T) {
	assert.Equal(t, DefaultProbeInterval, New(-1).Interval())
	assert.Equal(t, 2*time.Millisecond, New(2*time.Millisecond).Interval())
}

func TestRunRecordsLateWakeups(t *testing.T) {
	m := New(time.Millisecond)

	// Each call advances the fake clock by 4ms, so every probe is 3ms late.
	base := time.Unix(0, 0)
	calls := 0
	m.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 4 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.high > 0
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	got := m.ReadAndReset()
	assert.Equal(t, 3*time.Millisecond, got.Delay)
	assert.Equal(t, 3*time.Millisecond, got.High)
}

func TestMillis(t *testing.T) {
	assert.Equal(t, 1.5, Millis(1500*time.Microsecond))
	assert.Equal(t, float64(0), Millis(0))
}
