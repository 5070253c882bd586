package schedule

import "time"

// maxDaySteps bounds the day-advance loop. Any weekly cadence, including a
// single active weekday, resolves within 7 steps; 14 guarantees termination
// even for degenerate configurations.
const maxDaySteps = 14

// NextValidTime returns the next instant at or after base at which the agent
// is allowed to act, honoring its weekday set and time-of-day window.
//
// All window math happens in loc, the one process-wide reference timezone
// (see config.ScheduleTimezone). Agents do not carry their own timezone;
// multi-region deployments would need a per-agent timezone, which this
// system deliberately does not model.
//
// The result is returned in UTC. Pure and deterministic; safe for concurrent
// use.
func NextValidTime(base time.Time, agent Agent, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	overnight := agent.CallFrom > agent.CallTo
	cur := base.In(loc)

	for i := 0; i < maxDaySteps; i++ {
		if agent.Workdays.IsZero() || agent.Workdays.Contains(cur.Weekday()) {
			tod := TimeOfDay(cur.Hour()*60 + cur.Minute())
			switch {
			case withinWindow(tod, agent.CallFrom, agent.CallTo):
				return cur.UTC()
			case !overnight && tod < agent.CallFrom:
				// Too early: snap to call_from the same day.
				return resolveLocal(cur.Year(), cur.Month(), cur.Day(), agent.CallFrom, loc).UTC()
			}
		}
		// Too late, before an overnight window's start, or an inactive day:
		// snap to call_from and advance one day.
		next := cur.AddDate(0, 0, 1)
		cur = resolveLocal(next.Year(), next.Month(), next.Day(), agent.CallFrom, loc)
	}

	// Iteration bound hit: return the best snapped candidate rather than
	// failing. The scheduler must never stall on a pathological config.
	return cur.UTC()
}

// withinWindow reports whether t falls inside the [from, to] window,
// inclusive on both ends. An overnight window (from > to) spans midnight.
func withinWindow(t, from, to TimeOfDay) bool {
	if from <= to {
		return t >= from && t <= to
	}
	return t >= from || t <= to
}

// resolveLocal maps the wall clock (year, month, day, tod) in loc to an
// instant, correcting for DST transitions:
//   - a wall time that occurs twice (fall-back) resolves to the later
//     occurrence;
//   - a wall time that does not exist (spring-forward gap) advances
//     minute-by-minute until the local→UTC→local round trip is stable.
func resolveLocal(year int, month time.Month, day int, tod TimeOfDay, loc *time.Location) time.Time {
	for i := 0; i < 24*60; i++ {
		// Normalize the stepped wall clock arithmetically, without timezone
		// involvement, so carried minutes roll into hours and days.
		want := time.Date(year, month, day, tod.Hour(), tod.Minute()+i, 0, 0, time.UTC)
		got := time.Date(want.Year(), want.Month(), want.Day(), want.Hour(), want.Minute(), 0, 0, loc)
		if sameWallClock(got, want) {
			return preferLater(got)
		}
	}
	// Unreachable with sane zone data; fall back to Go's own normalization.
	return time.Date(year, month, day, tod.Hour(), tod.Minute(), 0, 0, loc)
}

// preferLater returns the later instant when t's wall clock is ambiguous
// (occurs twice across a fall-back transition).
func preferLater(t time.Time) time.Time {
	if later := t.Add(time.Hour); sameWallClock(t, later) {
		return later
	}
	return t
}

func sameWallClock(a, b time.Time) bool {
	return a.Day() == b.Day() && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
