// Package orchestration implements the run-orchestration pipeline: an
// authoritative state machine for runs whose transitions are mediated
// by an ordered, statically composed set of policy rules.
//
// Every attempted state change flows through Pipeline.ProposeTransition,
// which loads the run, evaluates the rule set, and commits exactly one
// outcome per proposed change using an optimistic compare-and-set on the
// run's version. Rules may allow, reject, or rewrite a proposal; side
// effects taken during evaluation (slot acquisition, cache writes) are
// provisional and are rolled back when the attempt aborts.
//
// Rule rejections are ordinary outcomes returned to the caller, never
// errors. Errors are reserved for infrastructure faults and corrupt
// state.
package orchestration
