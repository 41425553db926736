package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampKeepsZoneOffset(t *testing.T) {
	loc, err := Zone(DefaultZone)
	require.NoError(t, err)

	c := NewFixed(time.Date(2024, 5, 1, 9, 30, 0, 0, loc))
	assert.Equal(t, "2024-05-01T09:30:00+07:00", Stamp(c))
}

func TestSystemClockUsesLocation(t *testing.T) {
	loc, err := Zone(DefaultZone)
	require.NoError(t, err)

	now := NewSystem(loc).Now()
	assert.Equal(t, loc, now.Location())
}

func TestZone(t *testing.T) {
	loc, err := Zone("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = Zone("Mars/Olympus_Mons")
	assert.Error(t, err)
}
