package dicho

import (
	"math"

	"vrpdicho/internal/model"
)

// Candidate reports whether an instance qualifies for decomposition. Every instance below the
// root is a candidate; the root must be large, uncapacitated in fixed costs and free of
// shipments, schedules and lateness.
func Candidate(inst *model.Instance, opts Options) bool {
	if inst.Level > 0 {
		return true
	}
	p := inst.Problem
	if len(p.Vehicles) <= divisionLimit(p, opts) {
		return false
	}
	if p.Schedule != nil || len(p.Shipments) > 0 {
		return false
	}
	if len(p.Services)-p.RoutedMissionCount() <= opts.MinRootServices {
		return false
	}
	for _, v := range p.Vehicles {
		if v.CostFixed != 0 || v.CostLateMultiplier != 0 {
			return false
		}
	}
	anyTW := false
	for _, s := range p.Services {
		if s.Activity.LateMultiplier != 0 {
			return false
		}
		if len(s.Activity.Timewindows) > 0 {
			anyTW = true
		}
	}
	if !anyTW {
		return false
	}
	for _, pt := range p.Points {
		if pt.Location == nil {
			return false
		}
	}
	return true
}

// divisionLimit is the vehicle count at or below which an instance is not split.
func divisionLimit(p *model.Problem, opts Options) int {
	if p.Resolution.DichoDivisionVecLimit > 0 {
		return p.Resolution.DichoDivisionVecLimit
	}
	return opts.DivisionVecLimit
}

const levelBalance = 0.66666

// LevelCoeff is 2^(1/(L-level)) with L the approximate recursion depth needed to bring the
// vehicle limit down to the division limit when each split keeps about two thirds of it.
func LevelCoeff(p *model.Problem, limit, level int) float64 {
	vl := p.EffectiveVehicleLimit()
	if limit <= 0 || vl <= 0 {
		return 1
	}
	depth := math.Log(float64(limit)/float64(vl)) / math.Log(levelBalance)
	if depth-float64(level) <= 0 {
		return 1
	}
	return math.Pow(2, 1/(depth-float64(level)))
}

// EscalateExclusionCosts returns copies of services whose exclusion cost is raised by
// avg * (coeff^level - 1), avg being the mean exclusion cost of services. Level 0 returns
// services unchanged.
func EscalateExclusionCosts(services []*model.Service, level int, coeff float64) []*model.Service {
	if level <= 0 || len(services) == 0 {
		return services
	}
	sum := 0.0
	for _, s := range services {
		sum += s.ExclusionCost
	}
	inc := sum / float64(len(services)) * (math.Pow(coeff, float64(level)) - 1)
	out := make([]*model.Service, len(services))
	for i, s := range services {
		c := s.Clone()
		c.ExclusionCost += inc
		out[i] = c
	}
	return out
}
