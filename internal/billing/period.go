package billing

import "time"

// CurrentWindow computes the monthly billing period containing now, anchored
// to the subscription's start date. The window is half-open: [start, end).
//
// The anchor day clamps independently to the last valid day of each target
// month: a subscription started Jan 31 yields Feb 29 (leap) or Feb 28 as a
// period bound, and Mar 31 again the month after. Pure; both inputs are
// normalized to UTC.
func CurrentWindow(startedAt, now time.Time) (time.Time, time.Time) {
	anchor := startedAt.UTC()
	now = now.UTC()

	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	// Not yet reached this cycle's anniversary day.
	if now.Day() < anchor.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}

	return addMonthsClamped(anchor, months), addMonthsClamped(anchor, months+1)
}

// addMonthsClamped advances the anchor by whole months, clamping the day to
// the target month's last valid day. time.AddDate is unsuitable here: it
// normalizes Jan 31 + 1 month to Mar 2/3 instead of clamping to February.
func addMonthsClamped(anchor time.Time, months int) time.Time {
	total := int(anchor.Month()) - 1 + months
	year := anchor.Year() + total/12
	month := time.Month(total%12 + 1)

	day := anchor.Day()
	if last := daysInMonth(year, month); day > last {
		day = last
	}

	return time.Date(year, month, day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(),
		time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
