package dicho

import (
	"vrpdicho/internal/model"
	"vrpdicho/internal/vrp"
)

// fillHandOff splits the duplicated fill/empty pool after the first half was solved.
type fillHandOff struct {
	Used      []*model.Service // routed by the first half
	Remaining []*model.Service // handed to the second half
}

func handOffFills(fills []*model.Service, first *model.Result) fillHandOff {
	used := vrp.RemoveUsedFillEmptyServices(fills, first)
	usedIDs := map[string]bool{}
	for _, s := range used {
		usedIDs[s.ID] = true
	}
	h := fillHandOff{Used: used, Remaining: []*model.Service{}}
	for _, s := range fills {
		if !usedIDs[s.ID] {
			h.Remaining = append(h.Remaining, s)
		}
	}
	return h
}

// fillOrEmptyServices lists fill services then empty services, each once.
func fillOrEmptyServices(services []*model.Service) []*model.Service {
	out := []*model.Service{}
	seen := map[string]bool{}
	for _, pick := range []func(*model.Service) bool{(*model.Service).HasFill, (*model.Service).HasEmpty} {
		for _, s := range services {
			if pick(s) && !seen[s.ID] {
				seen[s.ID] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// addServices copies services missing from child into it, with their points.
func addServices(parent, child *model.Problem, services []*model.Service) {
	if len(services) == 0 {
		return
	}
	have := map[string]bool{}
	for _, s := range child.Services {
		have[s.ID] = true
	}
	points := map[string]bool{}
	for _, pt := range child.Points {
		points[pt.ID] = true
	}
	for _, s := range services {
		if have[s.ID] {
			continue
		}
		have[s.ID] = true
		child.Services = append(child.Services, s.Clone())
		addPoint(parent, child, points, s.Activity.PointID)
	}
	vrp.SyncMatrix(parent, child)
}

func addPoint(parent, child *model.Problem, have map[string]bool, id string) {
	if id == "" || have[id] {
		return
	}
	if pt := parent.Point(id); pt != nil {
		c := *pt
		child.Points = append(child.Points, &c)
		have[id] = true
	}
}

func removeServices(p *model.Problem, ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := make([]*model.Service, 0, len(p.Services))
	for _, s := range p.Services {
		if !drop[s.ID] {
			kept = append(kept, s)
		}
	}
	p.Services = kept
}

func dropUnassigned(list []model.Unassigned, ids []string) []model.Unassigned {
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	out := make([]model.Unassigned, 0, len(list))
	for _, u := range list {
		if !drop[u.ServiceID] {
			out = append(out, u)
		}
	}
	return out
}

// transferIdleVehicles moves every vehicle of from that serves nothing in res (empty route or
// no route) to to, with its depots, raising to's vehicle limit once per vehicle. The empty
// routes of moved vehicles are dropped from res.
func transferIdleVehicles(parent *model.Problem, res *model.Result, from, to *model.Problem) int {
	routed := map[string]bool{}
	for _, r := range res.Routes {
		if r.ServiceCount() > 0 {
			routed[r.VehicleID] = true
		}
	}
	points := map[string]bool{}
	for _, pt := range to.Points {
		points[pt.ID] = true
	}
	moved := map[string]bool{}
	kept := make([]*model.Vehicle, 0, len(from.Vehicles))
	for _, v := range from.Vehicles {
		if routed[v.ID] {
			kept = append(kept, v)
			continue
		}
		moved[v.ID] = true
		to.Vehicles = append(to.Vehicles, v)
		addPoint(parent, to, points, v.StartPointID)
		addPoint(parent, to, points, v.EndPointID)
		to.Resolution.VehicleLimit++
	}
	if len(moved) == 0 {
		return 0
	}
	from.Vehicles = kept
	routes := res.Routes[:0]
	for _, r := range res.Routes {
		if !moved[r.VehicleID] {
			routes = append(routes, r)
		}
	}
	res.Routes = routes
	vrp.SyncMatrix(parent, to)
	return len(moved)
}

// StripSkillViolations moves every routed service whose vehicle holds none of the service's
// skill sets to the unassigned list. It returns the number of services moved.
func StripSkillViolations(p *model.Problem, res *model.Result) int {
	services := p.ServiceIndex()
	moved := 0
	for ri := range res.Routes {
		route := &res.Routes[ri]
		v := p.Vehicle(route.VehicleID)
		kept := make([]model.RouteActivity, 0, len(route.Activities))
		for _, a := range route.Activities {
			if s := services[a.ServiceID]; a.ServiceID != "" && s != nil && len(s.Skills) > 0 && (v == nil || !v.Satisfies(s.Skills)) {
				res.Unassigned = append(res.Unassigned, model.Unassigned{ServiceID: a.ServiceID, PointID: a.PointID, Reason: ReasonSkills})
				moved++
				continue
			}
			kept = append(kept, a)
		}
		route.Activities = kept
	}
	return moved
}
