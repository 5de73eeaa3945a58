// Package schedule implements the recurrence engine: it converts a
// declarative schedule specification (fixed interval, cron expression,
// or RFC 5545 recurrence rule) into an ordered, lazy sequence of future
// occurrence instants.
//
// The engine is a pure function of (spec, after, limit). It holds no
// shared state and performs no I/O, so it is safe to call concurrently
// from the materializer, preview tooling, and validation paths.
//
// All wall-clock arithmetic happens in the schedule's declared timezone
// and is then normalized to absolute instants. A wall-clock time erased
// by a forward DST jump produces no occurrence; a wall-clock time
// repeated by a backward DST jump produces exactly one occurrence, the
// first.
package schedule
