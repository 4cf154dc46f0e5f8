package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnniversaryInHandlesLeapAnchor(t *testing.T) {
	anchor := New(1960, time.February, 29)

	assert.Equal(t, New(2024, time.February, 29), AnniversaryIn(2024, anchor))
	assert.Equal(t, New(2025, time.February, 28), AnniversaryIn(2025, anchor))
}

func TestNextAnniversaryOnOrAfter(t *testing.T) {
	anchor := New(1960, time.June, 15)

	assert.Equal(t, New(2024, time.June, 15), NextAnniversaryOnOrAfter(anchor, New(2024, time.June, 1)))
	assert.Equal(t, New(2025, time.June, 15), NextAnniversaryOnOrAfter(anchor, New(2024, time.June, 16)))
}

func TestAgeOnFloorsBeforeBirthday(t *testing.T) {
	birth := New(1947, time.June, 15)

	assert.Equal(t, 75, AgeOn(birth, New(2023, time.April, 16)))
	assert.Equal(t, 77, AgeOn(birth, New(2024, time.June, 15)))
	assert.Equal(t, 76, AgeOn(birth, New(2024, time.April, 16)))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 1, DaysBetween(New(2024, time.January, 1), New(2024, time.January, 2)))
	assert.Equal(t, -1, DaysBetween(New(2024, time.January, 2), New(2024, time.January, 1)))
	assert.Equal(t, 0, DaysBetween(New(2024, time.January, 1), New(2024, time.January, 1)))
}

func TestAddDays(t *testing.T) {
	assert.Equal(t, New(2024, time.March, 1), AddDays(New(2024, time.February, 29), 1))
}

func TestMonthStart(t *testing.T) {
	assert.Equal(t, New(2024, time.March, 1), MonthStart(2024, New(1960, time.March, 15)))
}

func TestIsLeapYear(t *testing.T) {
	assert.True(t, IsLeapYear(2024))
	assert.False(t, IsLeapYear(2025))
	assert.False(t, IsLeapYear(1900))
	assert.True(t, IsLeapYear(2000))
}
