package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxCronScanDays bounds the forward search for the next matching
// instant. An expression that matches nothing within this window (e.g.
// "0 0 30 2 *") exhausts the iterator instead of spinning forever.
const maxCronScanDays = 366 * 5

// cronSchedule is a parsed cron expression. Field values are bitmasks;
// bit n set means value n matches.
type cronSchedule struct {
	second, minute, hour uint64
	dom, month, dow      uint64

	// domRestricted/dowRestricted record whether the day fields were
	// written as something narrower than "*". They drive the day_or
	// union/intersection semantics.
	domRestricted bool
	dowRestricted bool

	hasSeconds bool
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// parseCron parses a five-field (minute hour dom month dow) or
// six-field (with a leading seconds field) cron expression.
func parseCron(expr string) (*cronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@") {
		return nil, fmt.Errorf("%w: cron descriptors like %q are not supported, use field syntax", ErrInvalidSpec, expr)
	}

	fields := strings.Fields(expr)
	var cs cronSchedule
	switch len(fields) {
	case 5:
		cs.second = 1 // only second 0 matches
	case 6:
		cs.hasSeconds = true
	default:
		return nil, fmt.Errorf("%w: cron expression %q has %d fields, want 5 or 6", ErrInvalidSpec, expr, len(fields))
	}

	idx := 0
	if cs.hasSeconds {
		bits, _, err := parseCronField(fields[idx], 0, 59, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: seconds field: %v", ErrInvalidSpec, err)
		}
		cs.second = bits
		idx++
	}

	var err error
	if cs.minute, _, err = parseCronField(fields[idx], 0, 59, nil); err != nil {
		return nil, fmt.Errorf("%w: minute field: %v", ErrInvalidSpec, err)
	}
	if cs.hour, _, err = parseCronField(fields[idx+1], 0, 23, nil); err != nil {
		return nil, fmt.Errorf("%w: hour field: %v", ErrInvalidSpec, err)
	}
	if cs.dom, cs.domRestricted, err = parseCronField(fields[idx+2], 1, 31, nil); err != nil {
		return nil, fmt.Errorf("%w: day-of-month field: %v", ErrInvalidSpec, err)
	}
	if cs.month, _, err = parseCronField(fields[idx+3], 1, 12, monthNames); err != nil {
		return nil, fmt.Errorf("%w: month field: %v", ErrInvalidSpec, err)
	}
	if cs.dow, cs.dowRestricted, err = parseCronField(fields[idx+4], 0, 7, dowNames); err != nil {
		return nil, fmt.Errorf("%w: day-of-week field: %v", ErrInvalidSpec, err)
	}
	// 7 is an alias for Sunday.
	if cs.dow&(1<<7) != 0 {
		cs.dow |= 1
		cs.dow &^= 1 << 7
	}

	return &cs, nil
}

// parseCronField parses one cron field into a bitmask. restricted is
// false when any comma-separated part is star-based, i.e. the field
// matches every value.
func parseCronField(field string, lo, hi int, names map[string]int) (uint64, bool, error) {
	var bits uint64
	restricted := true

	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, false, fmt.Errorf("empty list element in %q", field)
		}

		rangeExpr, stepExpr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			s, err := strconv.Atoi(stepExpr)
			if err != nil || s <= 0 {
				return 0, false, fmt.Errorf("bad step %q in %q", stepExpr, field)
			}
			step = s
		}

		var from, to int
		switch {
		case rangeExpr == "*":
			restricted = false
			from, to = lo, hi
		case strings.Contains(rangeExpr, "-"):
			loStr, hiStr, _ := strings.Cut(rangeExpr, "-")
			var err error
			if from, err = parseCronValue(loStr, names); err != nil {
				return 0, false, fmt.Errorf("bad range start in %q: %v", field, err)
			}
			if to, err = parseCronValue(hiStr, names); err != nil {
				return 0, false, fmt.Errorf("bad range end in %q: %v", field, err)
			}
		default:
			v, err := parseCronValue(rangeExpr, names)
			if err != nil {
				return 0, false, fmt.Errorf("bad value in %q: %v", field, err)
			}
			from = v
			if hasStep {
				// "n/step" means n through the field maximum.
				to = hi
			} else {
				to = v
			}
		}

		if from < lo || to > hi || from > to {
			return 0, false, fmt.Errorf("value out of range [%d,%d] in %q", lo, hi, field)
		}
		for v := from; v <= to; v += step {
			bits |= 1 << uint(v)
		}
	}

	return bits, restricted, nil
}

func parseCronValue(s string, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// dayMatches applies the day_or semantics: when both day fields are
// restricted, dayOr=true fires if either matches and dayOr=false only
// if both match. When at most one is restricted, both must match (an
// unrestricted field matches every day).
func (cs *cronSchedule) dayMatches(dayOr bool, dom int, dow time.Weekday) bool {
	domMatch := cs.dom&(1<<uint(dom)) != 0
	dowMatch := cs.dow&(1<<uint(dow)) != 0
	if dayOr && cs.domRestricted && cs.dowRestricted {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}

// timesOfDay returns the ascending wall-clock (hour, minute, second)
// combinations the schedule fires at on any matching day.
func (cs *cronSchedule) timesOfDay() [][3]int {
	hours := bitValues(cs.hour, 0, 23)
	minutes := bitValues(cs.minute, 0, 59)
	seconds := bitValues(cs.second, 0, 59)

	combos := make([][3]int, 0, len(hours)*len(minutes)*len(seconds))
	for _, h := range hours {
		for _, m := range minutes {
			for _, s := range seconds {
				combos = append(combos, [3]int{h, m, s})
			}
		}
	}
	return combos
}

func bitValues(bits uint64, lo, hi int) []int {
	vals := make([]int, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		if bits&(1<<uint(v)) != 0 {
			vals = append(vals, v)
		}
	}
	sort.Ints(vals)
	return vals
}

// iterate walks matching civil days in the schedule's timezone and
// resolves each firing wall-clock time to an absolute instant,
// skipping times erased by DST and taking only the first instant of a
// repeated hour.
func (s Cron) iterate(after time.Time) (*Iterator, error) {
	cs, err := parseCron(s.Expression)
	if err != nil {
		return nil, err
	}
	loc, err := loadZone(s.Timezone)
	if err != nil {
		return nil, err
	}

	combos := cs.timesOfDay()
	local := after.In(loc)
	year, month, day := local.Date()

	comboIdx := 0
	scanned := 0
	dayOK := cs.month&(1<<uint(month)) != 0 && cs.dayMatches(s.DayOr, day, civilWeekday(year, month, day))

	advanceDay := func() bool {
		for {
			day++
			if day > daysIn(year, month) {
				day = 1
				month++
				if month > time.December {
					month = time.January
					year++
				}
			}
			scanned++
			if scanned > maxCronScanDays {
				return false
			}
			if cs.month&(1<<uint(month)) != 0 && cs.dayMatches(s.DayOr, day, civilWeekday(year, month, day)) {
				comboIdx = 0
				return true
			}
		}
	}

	return &Iterator{next: func() (time.Time, bool) {
		for {
			if !dayOK || comboIdx >= len(combos) {
				if !advanceDay() {
					return time.Time{}, false
				}
				dayOK = true
			}
			c := combos[comboIdx]
			comboIdx++
			t, ok := resolveLocal(year, month, day, c[0], c[1], c[2], loc)
			if !ok || !t.After(after) {
				continue
			}
			scanned = 0
			return t, true
		}
	}}, nil
}
