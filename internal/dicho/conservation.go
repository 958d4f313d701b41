package dicho

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"vrpdicho/internal/model"
)

// ErrClusterContract is returned when the clusterer hands back more groups than requested.
var ErrClusterContract = errors.New("dicho: clusterer returned more than 2 clusters")

// ConservationError reports a result that does not account for every service of its
// instance exactly once.
type ConservationError struct {
	Stage      string
	Level      int
	Expected   int
	Missing    []string
	Duplicated []string
	Unknown    []string
}

func (e *ConservationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dicho: service conservation broken after %s (level %d, %d services)", e.Stage, e.Level, e.Expected)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing %v", e.Missing)
	}
	if len(e.Duplicated) > 0 {
		fmt.Fprintf(&b, "; duplicated %v", e.Duplicated)
	}
	if len(e.Unknown) > 0 {
		fmt.Fprintf(&b, "; unknown %v", e.Unknown)
	}
	return b.String()
}

// CheckConservation verifies that routed plus unassigned service ids equal the instance's
// service set, with no duplicates and no omissions.
func CheckConservation(p *model.Problem, res *model.Result) error {
	return checkConservation("result", 0, p, res)
}

func checkConservation(stage string, level int, p *model.Problem, res *model.Result) error {
	expected := make(map[string]bool, len(p.Services))
	for _, s := range p.Services {
		expected[s.ID] = false
	}
	e := &ConservationError{Stage: stage, Level: level, Expected: len(p.Services)}
	seen := func(id string) {
		done, ok := expected[id]
		switch {
		case !ok:
			e.Unknown = append(e.Unknown, id)
		case done:
			e.Duplicated = append(e.Duplicated, id)
		default:
			expected[id] = true
		}
	}
	for _, id := range res.RoutedServiceIDs() {
		seen(id)
	}
	for _, u := range res.Unassigned {
		seen(u.ServiceID)
	}
	for id, done := range expected {
		if !done {
			e.Missing = append(e.Missing, id)
		}
	}
	if len(e.Missing) == 0 && len(e.Duplicated) == 0 && len(e.Unknown) == 0 {
		return nil
	}
	sort.Strings(e.Missing)
	return e
}
