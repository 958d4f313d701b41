// Package dicho implements dichotomous decomposition of large vehicle routing instances.
//
// An instance that passes the candidacy gate is bisected by balanced clustering, its vehicles
// are shared between the two halves, each half is solved recursively (first half first, since
// its idle vehicles and unused fill/empty stops move to the second half), and the two results
// are merged, cleaned and repaired. Every routed or unassigned service id is accounted for
// exactly once after each step; a broken count aborts with a *ConservationError.
package dicho
