package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeSleepAdvancesTime(t *testing.T) {
	start := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	fake.Sleep(5 * time.Second)
	fake.Sleep(250 * time.Millisecond)
	fake.Advance(time.Minute)

	assert.Equal(t, start.Add(time.Minute+5250*time.Millisecond), fake.Now())
	assert.Equal(t, []time.Duration{5 * time.Second, 250 * time.Millisecond}, fake.Sleeps())
}

func TestRealClock(t *testing.T) {
	c := Real()
	before := time.Now()
	c.Sleep(time.Millisecond)
	assert.False(t, c.Now().Before(before))
}
