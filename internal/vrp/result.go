package vrp

import (
	"vrpdicho/internal/model"
)

const ReasonPoorlyPopulated = "route was poorly populated"

// MergeResults concatenates routes and unassigned lists and sums cost and elapsed time.
// Nil results are skipped. No reassignment is done.
func MergeResults(results ...*model.Result) *model.Result {
	out := &model.Result{Routes: []model.Route{}, Unassigned: []model.Unassigned{}}
	for _, r := range results {
		if r == nil {
			continue
		}
		c := r.Clone()
		out.Routes = append(out.Routes, c.Routes...)
		out.Unassigned = append(out.Unassigned, c.Unassigned...)
		out.Cost += r.Cost
		out.Elapsed += r.Elapsed
	}
	return out
}

// RemoveEmptyRoutes drops routes without any service activity and returns how many were dropped.
func RemoveEmptyRoutes(res *model.Result) int {
	kept := res.Routes[:0]
	dropped := 0
	for _, r := range res.Routes {
		if r.ServiceCount() == 0 {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	res.Routes = kept
	return dropped
}

// RemovePoorlyPopulatedRoutes dissolves routes whose load and duration both stay under
// ratio of the vehicle's capacities and work time. Their services become unassigned.
func RemovePoorlyPopulatedRoutes(p *model.Problem, res *model.Result, ratio float64) int {
	services := p.ServiceIndex()
	kept := res.Routes[:0]
	dissolved := 0
	for _, r := range res.Routes {
		v := p.Vehicle(r.VehicleID)
		if v == nil || r.ServiceCount() == 0 || !underLoaded(v, r, services, ratio) || !underTimed(v, r, ratio) {
			kept = append(kept, r)
			continue
		}
		for _, a := range r.Activities {
			if a.ServiceID == "" {
				continue
			}
			res.Unassigned = append(res.Unassigned, model.Unassigned{ServiceID: a.ServiceID, PointID: a.PointID, Reason: ReasonPoorlyPopulated})
		}
		dissolved++
	}
	res.Routes = kept
	return dissolved
}

func underLoaded(v *model.Vehicle, r model.Route, services map[string]*model.Service, ratio float64) bool {
	if len(v.Capacities) == 0 {
		return true
	}
	loads := map[string]float64{}
	for _, a := range r.Activities {
		s := services[a.ServiceID]
		if s == nil {
			continue
		}
		for _, q := range s.Quantities {
			if !q.Fill && !q.Empty {
				loads[q.UnitID] += q.Value
			}
		}
	}
	for _, c := range v.Capacities {
		if c.Limit <= 0 {
			continue
		}
		if loads[c.UnitID]/c.Limit >= ratio {
			return false
		}
	}
	return true
}

func underTimed(v *model.Vehicle, r model.Route, ratio float64) bool {
	work := v.WorkTime()
	if work <= 0 {
		return false
	}
	return routeDuration(r) < ratio*work
}

func routeDuration(r model.Route) float64 {
	if r.TotalTime > 0 {
		return r.TotalTime
	}
	if len(r.Activities) == 0 {
		return 0
	}
	return r.Activities[len(r.Activities)-1].BeginTime - r.Activities[0].BeginTime
}

// RemoveUsedFillEmptyServices returns the candidates that appear on a route of res.
func RemoveUsedFillEmptyServices(candidates []*model.Service, res *model.Result) []*model.Service {
	if res == nil {
		return nil
	}
	routed := toSet(res.RoutedServiceIDs())
	out := []*model.Service{}
	for _, s := range candidates {
		if _, ok := routed[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// BuildInitialRoutes turns result routes into warm-start hints. Routes without missions are skipped.
func BuildInitialRoutes(results ...*model.Result) []model.RouteHint {
	out := []model.RouteHint{}
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, r := range res.Routes {
			ids := []string{}
			for _, a := range r.Activities {
				switch {
				case a.ServiceID != "":
					ids = append(ids, a.ServiceID)
				case a.RestID != "":
					ids = append(ids, a.RestID)
				}
			}
			if len(ids) == 0 {
				continue
			}
			out = append(out, model.RouteHint{VehicleID: r.VehicleID, MissionIDs: ids})
		}
	}
	return out
}
