package orchestration

import (
	"testing"
	"time"
)

func TestBackoffDelayCurve(t *testing.T) {
	p := BackoffPolicy{Base: 10 * time.Second, Factor: 2, Cap: 10 * time.Minute}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second}, // clamped to the first attempt
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{7, 10 * time.Minute}, // 640s exceeds the cap
		{100, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffZeroValueUsesDefaults(t *testing.T) {
	var p BackoffPolicy
	if got := p.Delay(1); got != DefaultBackoff.Base {
		t.Errorf("zero policy Delay(1) = %v, want %v", got, DefaultBackoff.Base)
	}
	if got := p.Delay(1000); got != DefaultBackoff.Cap {
		t.Errorf("zero policy Delay(1000) = %v, want cap %v", got, DefaultBackoff.Cap)
	}
}

func TestRunValidate(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	good := &Run{
		ID:    "r1",
		State: Running(base.Add(time.Minute)),
		StateHistory: []TransitionRecord{
			{State: Pending(base)},
			{State: Running(base.Add(time.Minute))},
		},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid run rejected: %v", err)
	}

	cases := []struct {
		name string
		run  *Run
	}{
		{"missing id", &Run{State: Pending(base)}},
		{"missing state", &Run{ID: "r1"}},
		{"unknown state type", &Run{ID: "r1", State: RunState{Type: "bogus", Timestamp: base}}},
		{"negative counter", &Run{ID: "r1", State: Pending(base), RunCount: -1}},
		{"history not strictly increasing", &Run{
			ID:    "r1",
			State: Running(base),
			StateHistory: []TransitionRecord{
				{State: Pending(base)},
				{State: Running(base)},
			},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsCorrupt(err) {
				t.Errorf("expected corrupt classification, got %v", err)
			}
		})
	}
}
