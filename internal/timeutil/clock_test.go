package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))

	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestUnixSeconds(t *testing.T) {
	assert.Equal(t, 1.5, UnixSeconds(time.Unix(1, 500_000_000)))
	assert.Equal(t, 0.0, UnixSeconds(time.Unix(0, 0)))
}

func TestStopwatch_Lap(t *testing.T) {
	start := time.Unix(100, 0)
	sw := StartStopwatch(start)

	assert.Equal(t, 250*time.Millisecond, sw.Lap(start.Add(250*time.Millisecond)))
	assert.Equal(t, time.Duration(0), sw.Lap(start.Add(250*time.Millisecond)), "no time passed")
	assert.Equal(t, time.Duration(0), sw.Lap(start), "clock stepped back")
	assert.Equal(t, 750*time.Millisecond, sw.Lap(start.Add(time.Second)), "measured from the last forward lap")
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	assert.Equal(t, start, clock.Now())

	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case got := <-ticker.C():
		assert.Equal(t, start.Add(100*time.Millisecond), got)
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	clock.Advance(time.Second)
	clock.Advance(time.Second)
	require.Len(t, ticker.C(), 1, "unconsumed ticks are not queued twice")
	assert.Equal(t, start.Add(1100*time.Millisecond), <-ticker.C())
}

func TestMockClock_StoppedTickerIsDropped(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Millisecond)
	ticker.Stop()

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	assert.Empty(t, clock.tickers)
}
