package schedule

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// parseRRule parses the rule text (DTSTART/RRULE/RDATE/EXDATE lines)
// and rejects features the engine does not materialize.
func parseRRule(text string) (*rrule.Set, error) {
	set, err := rrule.StrToRRuleSet(text)
	if err != nil {
		return nil, fmt.Errorf("%w: rrule: %v", ErrInvalidSpec, err)
	}
	if r := set.GetRRule(); r != nil && r.OrigOptions.Freq == rrule.SECONDLY {
		// Sub-minute recurrence is rejected up front rather than
		// silently coarsened by the materializer.
		return nil, fmt.Errorf("%w: rrule: SECONDLY frequency is not supported", ErrInvalidSpec)
	}
	return set, nil
}

// iterate expands the rule and re-anchors each occurrence's wall-clock
// fields into the schedule's timezone. Rule text should be written as
// floating local time (DTSTART without TZID); the declared Timezone
// field decides where that local time lives, and the usual DST rules
// apply (skipped times vanish, repeated times occur once).
func (s RRule) iterate(after time.Time) (*Iterator, error) {
	set, err := parseRRule(s.Rule)
	if err != nil {
		return nil, err
	}
	loc, err := loadZone(s.Timezone)
	if err != nil {
		return nil, err
	}

	next := set.Iterator()
	return &Iterator{next: func() (time.Time, bool) {
		for {
			t, ok := next()
			if !ok {
				return time.Time{}, false
			}
			year, month, day := t.Date()
			resolved, exists := resolveLocal(year, month, day, t.Hour(), t.Minute(), t.Second(), loc)
			if !exists || !resolved.After(after) {
				continue
			}
			return resolved, true
		}
	}}, nil
}
