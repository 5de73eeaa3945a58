package schedule

import (
	"fmt"
	"time"
)

// Iterator produces a strictly increasing, lazy sequence of occurrence
// instants. It is restartable: a new iterator created with the last
// returned instant as "after" continues the same series.
type Iterator struct {
	next func() (time.Time, bool)
}

// Next returns the next occurrence, or ok=false when the series is
// exhausted (finite rules) or the search bound was reached.
func (it *Iterator) Next() (time.Time, bool) {
	return it.next()
}

// Iterate returns an iterator over occurrences strictly after the given
// instant. The spec is validated first.
func Iterate(spec Spec, after time.Time) (*Iterator, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec.iterate(after)
}

// Occurrences returns up to limit occurrences strictly after the given
// instant, in ascending order, normalized to the schedule's timezone.
func Occurrences(spec Spec, after time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	it, err := Iterate(spec, after)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, limit)
	for len(out) < limit {
		t, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
