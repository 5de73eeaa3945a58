package schedule

import "time"

// iterate returns occurrences anchor + k*every strictly after the given
// instant. k is recomputed from the anchor on every step; the iterator
// never adds the period to a previous occurrence, so floating-point or
// DST drift cannot accumulate.
func (s Interval) iterate(after time.Time) (*Iterator, error) {
	loc, err := loadZone(s.Timezone)
	if err != nil {
		return nil, err
	}

	// Smallest integer k such that anchor + k*every > after. Duration
	// division truncates toward zero, so nudge in both directions.
	k := int64(after.Sub(s.Anchor) / s.Every)
	for !s.Anchor.Add(time.Duration(k) * s.Every).After(after) {
		k++
	}

	next := k
	return &Iterator{next: func() (time.Time, bool) {
		t := s.Anchor.Add(time.Duration(next) * s.Every)
		next++
		return t.In(loc), true
	}}, nil
}
