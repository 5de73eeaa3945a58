package schedule

import (
	"encoding/json"
	"fmt"
)

// MarshalSpec encodes a spec into its kind tag and JSON payload for
// persistence.
func MarshalSpec(spec Spec) (Kind, []byte, error) {
	if spec == nil {
		return "", nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s spec: %w", spec.Kind(), err)
	}
	return spec.Kind(), payload, nil
}

// UnmarshalSpec decodes a persisted spec from its kind tag and JSON
// payload.
func UnmarshalSpec(kind Kind, payload []byte) (Spec, error) {
	switch kind {
	case KindInterval:
		var s Interval
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("%w: decode interval spec: %v", ErrInvalidSpec, err)
		}
		return s, nil
	case KindCron:
		var s Cron
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("%w: decode cron spec: %v", ErrInvalidSpec, err)
		}
		return s, nil
	case KindRRule:
		var s RRule
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("%w: decode rrule spec: %v", ErrInvalidSpec, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown spec kind %q", ErrInvalidSpec, kind)
	}
}
