// Package runstore persists governance runs, their memoized step results and
// the bookmarks of runs suspended for human review.
//
// All check-and-set transitions (Create, RecordStep, Resume, Expire) are
// serialised per run, so the first writer wins and later writers observe the
// stored value.
package runstore
