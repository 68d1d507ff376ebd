// Package engine drives governance runs through their state machine:
//
//	RECEIVED -> ASSESSING -> AUTO_APPROVED -> RESOLVED
//	                      -> WAITING -> RESOLVED | EXPIRED
//	                      -> ERROR
//
// Every side effect is a memoized step recorded in the run store, so a run
// can be re-driven from its last persisted phase after a crash without
// repeating work. A waiting run holds no goroutine; it resumes only when a
// decision event arrives or the reaper finds its deadline has passed.
package engine
