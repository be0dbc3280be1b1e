package attendance_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/kottokmotors/clockin.click/internal/attendance"
	"github.com/kottokmotors/clockin.click/internal/user"
)

func evt(userID, state string, at time.Time) attendance.Event {
	return attendance.Event{
		UserTypeYearMonth: attendance.BucketTag("learner", at),
		DateTimeStamp:     at.UTC().Format(user.TimeFormat),
		UserID:            userID,
		State:             state,
		ClockedBy:         userID,
	}
}

func TestPairMinutesFullDay(t *testing.T) {
	c := qt.New(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []attendance.Event{
		evt("u-1", user.StatusIn, day.Add(9*time.Hour)),
		evt("u-1", user.StatusOut, day.Add(17*time.Hour)),
	}
	c.Assert(attendance.PairMinutes(events), qt.Equals, 480.0)
}

func TestPairMinutesLockstep(t *testing.T) {
	c := qt.New(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// In, In, Out: the first pair is consumed without contributing
	// and the trailing Out has no partner, so the total is zero.
	events := []attendance.Event{
		evt("u-1", user.StatusIn, day.Add(9*time.Hour)),
		evt("u-1", user.StatusIn, day.Add(9*time.Hour+30*time.Minute)),
		evt("u-1", user.StatusOut, day.Add(17*time.Hour)),
	}
	c.Assert(attendance.PairMinutes(events), qt.Equals, 0.0)

	// A well-formed pair following a malformed one still counts.
	events = []attendance.Event{
		evt("u-1", user.StatusIn, day.Add(9*time.Hour)),
		evt("u-1", user.StatusIn, day.Add(9*time.Hour+30*time.Minute)),
		evt("u-1", user.StatusIn, day.Add(18*time.Hour)),
		evt("u-1", user.StatusOut, day.Add(19*time.Hour)),
	}
	c.Assert(attendance.PairMinutes(events), qt.Equals, 60.0)
}

func TestPairMinutesOutBeforeIn(t *testing.T) {
	c := qt.New(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []attendance.Event{
		evt("u-1", user.StatusOut, day.Add(9*time.Hour)),
		evt("u-1", user.StatusIn, day.Add(17*time.Hour)),
	}
	c.Assert(attendance.PairMinutes(events), qt.Equals, 0.0)
}

func TestPairMinutesOddTrailingEventIgnored(t *testing.T) {
	c := qt.New(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []attendance.Event{
		evt("u-1", user.StatusIn, day.Add(9*time.Hour)),
		evt("u-1", user.StatusOut, day.Add(12*time.Hour)),
		evt("u-1", user.StatusIn, day.Add(13*time.Hour)),
	}
	c.Assert(attendance.PairMinutes(events), qt.Equals, 180.0)
}

func TestMinutesByUserGroups(t *testing.T) {
	c := qt.New(t)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []attendance.Event{
		evt("u-1", user.StatusIn, day.Add(9*time.Hour)),
		evt("u-2", user.StatusIn, day.Add(10*time.Hour)),
		evt("u-1", user.StatusOut, day.Add(12*time.Hour)),
		evt("u-2", user.StatusOut, day.Add(11*time.Hour)),
	}
	totals := attendance.MinutesByUser(events)
	c.Assert(totals, qt.DeepEquals, map[string]float64{
		"u-1": 180.0,
		"u-2": 60.0,
	})
}

func TestTotalsNamesAndRounding(t *testing.T) {
	c := qt.New(t)

	minutes := map[string]float64{
		"u-1": 100.0,
		"u-2": 90.5,
	}
	names := map[string]user.User{
		"u-1": {UserID: "u-1", FirstName: "Ada", LastName: "Lovelace"},
	}
	got := attendance.Totals(minutes, names)
	c.Assert(got, qt.DeepEquals, []attendance.UserTotal{
		{UserID: "u-1", Name: "Ada Lovelace", Minutes: 100.0, Hours: 1.67},
		{UserID: "u-2", Name: "Unknown", Minutes: 90.5, Hours: 1.51},
	})
}

func TestSumHours(t *testing.T) {
	c := qt.New(t)

	c.Assert(attendance.SumHours(map[string]float64{"a": 480, "b": 60}), qt.Equals, 9.0)
	c.Assert(attendance.SumHours(map[string]float64{"a": 100}), qt.Equals, 1.67)
	c.Assert(attendance.SumHours(nil), qt.Equals, 0.0)
}
