// Package deployment provides pure functions for bulk deployment planning.
//
// This package contains the functional core logic the orchestrator uses to
// sequence a set of services and judge the result. All functions are pure
// (no I/O, no side effects).
//
// # Functions
//
//   - Ordering: Group services into dependency tiers (Tiers, Dependencies, ShouldSkip)
//   - Selection: Restrict a run to a subset of services (FilterServices)
//   - Failure policy: Decide whether an attempt may be retried (Classify)
//   - Outcomes: Reduce per-service results to a run status (Aggregate)
//
// # Usage
//
// The imperative shell (internal/shell/orchestrator) walks the tiers in order,
// deploys each tier with bounded parallelism and consults these functions
// between steps.
//
//	tiers := deployment.Tiers(services)
//	deps := deployment.Dependencies(tiers)
//	if skip, reason := deployment.ShouldSkip(svc.ID, deps, outcomes); skip {
//	    // record skipped
//	}
//	status := deployment.Aggregate(results)
package deployment
