package ledger

import "time"

// DayLayout is the canonical day-key format used for cycle bucketing.
const DayLayout = "2006-01-02"

// DayKey truncates a stored ISO datetime to its day key. Bucketing works on
// the stored string, so no timezone conversion happens here.
func DayKey(isoDatetime string) string {
	if len(isoDatetime) <= 10 {
		return isoDatetime
	}
	return isoDatetime[:10]
}

// ParseDay parses a day key (or the day prefix of an ISO datetime) into a
// UTC midnight time.
func ParseDay(value string) (time.Time, error) {
	return time.Parse(DayLayout, DayKey(value))
}

// SubtractCalendarMonths moves a date back by whole calendar months,
// clamping the day to the target month's length so e.g. March 31 minus one
// month is February 28, not March 3.
func SubtractCalendarMonths(anchor time.Time, months int) time.Time {
	if months <= 0 {
		return anchor
	}
	month0 := anchor.Year()*12 + int(anchor.Month()) - 1 - months
	year := month0 / 12
	month := time.Month(month0%12 + 1)
	day := anchor.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
