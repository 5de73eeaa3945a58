package schedule

import "time"

// dstProbeDeltas are the DST shift sizes probed when disambiguating a
// repeated wall-clock time. One hour covers almost every zone; thirty
// minutes covers Lord Howe Island.
var dstProbeDeltas = []time.Duration{30 * time.Minute, time.Hour}

// resolveLocal maps civil wall-clock fields in loc to an absolute
// instant.
//
// If the wall-clock time does not exist (erased by a forward DST jump)
// it returns ok=false. If it exists twice (a backward DST jump), the
// first of the two instants is returned, so a repeated hour never
// yields a duplicate occurrence.
func resolveLocal(year int, month time.Month, day, hour, minute, sec int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, hour, minute, sec, 0, loc)
	if !sameWall(t, year, month, day, hour, minute, sec) {
		// time.Date normalized the fields away: the wall time was
		// skipped by a DST transition.
		return time.Time{}, false
	}
	earliest := t
	for _, delta := range dstProbeDeltas {
		if e := t.Add(-delta); sameWall(e, year, month, day, hour, minute, sec) && e.Before(earliest) {
			earliest = e
		}
	}
	return earliest, true
}

// sameWall reports whether t's wall-clock reading equals the given
// civil fields.
func sameWall(t time.Time, year int, month time.Month, day, hour, minute, sec int) bool {
	y, m, d := t.Date()
	return y == year && m == month && d == day &&
		t.Hour() == hour && t.Minute() == minute && t.Second() == sec
}

// civilWeekday returns the weekday of a civil date. The weekday of a
// calendar date is location-independent, so it is computed at noon UTC
// to stay clear of DST boundaries.
func civilWeekday(year int, month time.Month, day int) time.Weekday {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC).Weekday()
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}
