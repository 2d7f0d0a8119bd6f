package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake(t *testing.T) {
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	c := NewFake(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestDate(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	// 23:30 UTC on Jan 6 is already Jan 7 in Amsterdam.
	ts := time.Date(2025, 1, 6, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), Date(ts, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), Date(ts, ams))
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), Date(ts, nil))
}
