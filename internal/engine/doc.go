// Package engine implements the execution engine: the admission queue and
// bounded worker pools, per-execution process supervision, the status state
// machine, job aggregation, duplicate-submission protection, and report
// finalization. Callers submit scripts or jobs and either poll status or
// block on Await for the result.
package engine
