package clinic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSlotOverlap_HalfOpen(t *testing.T) {
	// GIVEN a 09:00-10:00 slot
	a := NewTimeSlot(NewClockTime(9, 0), NewClockTime(10, 0))

	// THEN a slot starting exactly at its end does not overlap
	b := NewTimeSlot(NewClockTime(10, 0), NewClockTime(11, 0))
	assert.False(t, a.Overlaps(b))
	assert.False(t, b.Overlaps(a))

	// AND a slot sharing any interior instant overlaps
	c := NewTimeSlot(NewClockTime(9, 30), NewClockTime(10, 30))
	assert.True(t, a.Overlaps(c))
	assert.True(t, c.Overlaps(a))

	// AND a fully contained slot overlaps
	d := NewTimeSlot(NewClockTime(9, 15), NewClockTime(9, 45))
	assert.True(t, a.Overlaps(d))

	// AND a slot ending exactly at its start does not overlap
	e := NewTimeSlot(NewClockTime(8, 0), NewClockTime(9, 0))
	assert.False(t, a.Overlaps(e))
}

func TestTimeSlotValidity(t *testing.T) {
	assert.True(t, NewTimeSlot(NewClockTime(9, 0), NewClockTime(9, 1)).Valid())
	assert.False(t, NewTimeSlot(NewClockTime(9, 0), NewClockTime(9, 0)).Valid())
	assert.False(t, NewTimeSlot(NewClockTime(10, 0), NewClockTime(9, 0)).Valid())
}

func TestClockTimeParsing(t *testing.T) {
	ct, err := ParseClockTime("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, ct.Hour())
	assert.Equal(t, 30, ct.Minute())
	assert.Equal(t, "09:30", ct.String())

	_, err = ParseClockTime("25:00")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseClockTime("nine")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDayDateArithmetic(t *testing.T) {
	d, err := ParseDayDate("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Tuesday, d.Weekday())
	assert.Equal(t, "2026-03-11", d.AddDays(1).String())
	assert.Equal(t, "2026-03-31", d.AddDays(21).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.Equal(t, 0, d.Compare(d))

	_, err = ParseDayDate("10/03/2026")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClockTimeDifference(t *testing.T) {
	// Late-arrival minutes are a whole-minute difference
	scheduled := NewClockTime(9, 0)
	actual := NewClockTime(9, 25)
	assert.Equal(t, 25, actual.Sub(scheduled))
	assert.Equal(t, -25, scheduled.Sub(actual))
}
