package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSpec is wrapped by every validation failure so callers can
// distinguish a bad specification from an infrastructure fault with
// errors.Is.
var ErrInvalidSpec = errors.New("invalid schedule spec")

// Kind identifies the concrete type of a schedule specification.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
	KindRRule    Kind = "rrule"
)

// Spec is a validated, immutable recurrence specification. The set of
// implementations is closed: Interval, Cron, and RRule.
type Spec interface {
	// Kind returns the specification kind.
	Kind() Kind

	// Validate checks the specification without expanding it. A spec
	// that fails validation must never be persisted.
	Validate() error

	// iterate returns the occurrence iterator for instants strictly
	// after the given time. The spec must already be valid.
	iterate(after time.Time) (*Iterator, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Interval fires at anchor + k*every for integer k. Each occurrence is
// computed from the anchor, never from the previous occurrence, so no
// drift accumulates.
type Interval struct {
	// Every is the fixed period between occurrences.
	Every time.Duration `json:"every" validate:"required,gt=0"`

	// Anchor is the instant the series is aligned to.
	Anchor time.Time `json:"anchor" validate:"required"`

	// Timezone is an IANA zone name used to present occurrences.
	// Defaults to UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Kind returns KindInterval.
func (s Interval) Kind() Kind { return KindInterval }

// Validate checks the interval parameters and timezone.
func (s Interval) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: interval: %v", ErrInvalidSpec, err)
	}
	if s.Every < time.Second {
		return fmt.Errorf("%w: interval must be at least one second, got %s", ErrInvalidSpec, s.Every)
	}
	if _, err := loadZone(s.Timezone); err != nil {
		return err
	}
	return nil
}

// Cron fires according to a five- or six-field cron expression
// evaluated on wall-clock fields in the schedule's timezone.
type Cron struct {
	// Expression is a standard cron expression. Six fields are
	// interpreted as having a leading seconds field.
	Expression string `json:"expression" validate:"required"`

	// Timezone is an IANA zone name the expression is evaluated in.
	// Defaults to UTC.
	Timezone string `json:"timezone,omitempty"`

	// DayOr controls how day-of-month and day-of-week combine when
	// both are restricted: true unions the matches (standard cron),
	// false intersects them.
	DayOr bool `json:"day_or"`
}

// Kind returns KindCron.
func (s Cron) Kind() Kind { return KindCron }

// Validate parses the expression and timezone.
func (s Cron) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: cron: %v", ErrInvalidSpec, err)
	}
	if _, err := parseCron(s.Expression); err != nil {
		return err
	}
	if _, err := loadZone(s.Timezone); err != nil {
		return err
	}
	return nil
}

// RRule fires according to an RFC 5545 recurrence rule. The rule is
// expanded on wall-clock fields in the schedule's timezone.
type RRule struct {
	// Rule is the textual recurrence rule, e.g.
	// "DTSTART:20260101T090000\nRRULE:FREQ=DAILY;INTERVAL=2".
	Rule string `json:"rule" validate:"required"`

	// Timezone is an IANA zone name the rule is evaluated in.
	// Defaults to UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Kind returns KindRRule.
func (s RRule) Kind() Kind { return KindRRule }

// Validate parses the rule text and rejects unsupported features.
func (s RRule) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: rrule: %v", ErrInvalidSpec, err)
	}
	if _, err := parseRRule(s.Rule); err != nil {
		return err
	}
	if _, err := loadZone(s.Timezone); err != nil {
		return err
	}
	return nil
}

// loadZone resolves an IANA timezone name, defaulting to UTC.
func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSpec, name)
	}
	return loc, nil
}
