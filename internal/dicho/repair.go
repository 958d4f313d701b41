package dicho

import (
	"context"
	"log"
	"strings"

	"vrpdicho/internal/model"
	"vrpdicho/internal/vrp"
)

const (
	repairDurationFactor = 3.99
	repairMinDuration    = 150
	repairMinMinimum     = 100
	repairBatch          = 3
	repairBatchFree      = 6
)

type skillGroup struct {
	skills   []string
	services []*model.Service
}

// groupBySkills groups services by their exact skill set, in order of first appearance.
func groupBySkills(services []*model.Service) []skillGroup {
	index := map[string]int{}
	out := []skillGroup{}
	for _, s := range services {
		set := sortedUnique(s.Skills)
		key := strings.Join(set, ",")
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, skillGroup{skills: set})
		}
		out[i].services = append(out[i].services, s)
	}
	return out
}

// repair retries unassigned services on small sub-instances made of a few compatible vehicles,
// the services those vehicles already serve and the still unassigned services of one skill
// group. A sub-result is kept unless it leaves more services unassigned than it was given;
// kept sub-results replace every route of their vehicles.
func (r *run) repair(ctx context.Context, inst *model.Instance, res *model.Result) {
	if len(res.Unassigned) == 0 || ctx.Err() != nil {
		return
	}
	p := inst.Problem
	r.report(StageRepair, inst, res)
	p.Routes = vrp.BuildInitialRoutes(res)
	p.Resolution.InitDuration = 0

	pending := map[string]bool{}
	for _, u := range res.Unassigned {
		pending[u.ServiceID] = true
	}
	var unassigned []*model.Service
	for _, s := range p.Services {
		if pending[s.ID] {
			unassigned = append(unassigned, s)
		}
	}
	before := len(res.Unassigned)

	for _, g := range groupBySkills(unassigned) {
		if len(res.Unassigned) == 0 || ctx.Err() != nil {
			break
		}
		vehicles := compatibleVehicles(p, g)
		if len(vehicles) == 0 {
			continue
		}
		r.rng.Shuffle(len(vehicles), func(i, j int) { vehicles[i], vehicles[j] = vehicles[j], vehicles[i] })
		size := repairBatch
		if len(g.skills) == 0 && len(p.Routes) > 0 {
			size = min(len(p.Routes), repairBatchFree)
		}

		var accepted []*model.Result
		for start := 0; start < len(vehicles) && ctx.Err() == nil; start += size {
			batch := vehicles[start:min(start+size, len(vehicles))]
			out, ok := r.repairBatch(ctx, inst, res, g, batch, len(vehicles), len(unassigned))
			if ok {
				accepted = append(accepted, out)
			}
		}

		replaced := map[string]bool{}
		for _, out := range accepted {
			for _, route := range out.Routes {
				replaced[route.VehicleID] = true
			}
		}
		hints := make([]model.RouteHint, 0, len(p.Routes))
		for _, h := range p.Routes {
			if !replaced[h.VehicleID] {
				hints = append(hints, h)
			}
		}
		p.Routes = append(hints, vrp.BuildInitialRoutes(accepted...)...)
	}
	log.Printf("[dicho] level %d: repair placed %d of %d unassigned services", inst.Level, before-len(res.Unassigned), before)
}

// repairBatch solves one vehicle batch of a skill group and merges an accepted sub-result
// into res.
func (r *run) repairBatch(ctx context.Context, inst *model.Instance, res *model.Result, g skillGroup, batch []*model.Vehicle, groupVehicles, allUnassigned int) (*model.Result, bool) {
	p := inst.Problem
	inGroup := map[string]bool{}
	for _, s := range g.services {
		inGroup[s.ID] = true
	}
	remaining := []string{}
	for _, u := range res.Unassigned {
		if inGroup[u.ServiceID] {
			remaining = append(remaining, u.ServiceID)
		}
	}
	if len(remaining) == 0 {
		return nil, false
	}
	onBatch := map[string]bool{}
	for _, v := range batch {
		onBatch[v.ID] = true
	}
	assigned := []string{}
	for _, route := range res.Routes {
		if !onBatch[route.VehicleID] {
			continue
		}
		for _, a := range route.Activities {
			if a.ServiceID != "" {
				assigned = append(assigned, a.ServiceID)
			}
		}
	}

	sub := vrp.BuildPartialInstance(inst, append(remaining, assigned...), vehicleIDs(batch))
	sub.Problem.Vehicles = floorVehicleCosts(sub.Problem.Vehicles)
	rate := float64(len(batch)) / float64(groupVehicles) * float64(len(g.services)) / float64(allUnassigned)
	sr := &sub.Problem.Resolution
	if pr := p.Resolution; pr.Duration > 0 {
		sr.Duration = max(int64(float64(pr.Duration)/repairDurationFactor*rate), repairMinDuration)
	}
	if pr := p.Resolution; pr.MinimumDuration > 0 {
		sr.MinimumDuration = max(int64(float64(pr.MinimumDuration)/repairDurationFactor*rate), repairMinMinimum)
	}
	sr.AllowEmptyResult = true

	out := r.solve(ctx, sub, "repair")
	if out == nil {
		return nil, false
	}
	res.Elapsed += out.Elapsed
	if len(remaining) < len(out.Unassigned) {
		return nil, false
	}
	StripSkillViolations(sub.Problem, out)

	settled := map[string]bool{}
	for _, id := range out.RoutedServiceIDs() {
		settled[id] = true
	}
	for _, id := range out.UnassignedIDs() {
		settled[id] = true
	}
	kept := make([]model.Unassigned, 0, len(res.Unassigned))
	for _, u := range res.Unassigned {
		if !settled[u.ServiceID] {
			kept = append(kept, u)
		}
	}
	res.Unassigned = append(kept, out.Unassigned...)
	routes := make([]model.Route, 0, len(res.Routes)+len(out.Routes))
	for _, route := range res.Routes {
		if !onBatch[route.VehicleID] {
			routes = append(routes, route)
		}
	}
	res.Routes = append(routes, out.Routes...)
	return out, true
}

// compatibleVehicles lists the vehicles able to serve a skill group. Sticky vehicles of the
// group's services take precedence over skills.
func compatibleVehicles(p *model.Problem, g skillGroup) []*model.Vehicle {
	sticky := map[string]bool{}
	for _, s := range g.services {
		for _, id := range s.StickyVehicleIDs {
			sticky[id] = true
		}
	}
	out := []*model.Vehicle{}
	for _, v := range p.Vehicles {
		if len(sticky) > 0 {
			if sticky[v.ID] {
				out = append(out, v)
			}
			continue
		}
		if v.Satisfies(g.skills) {
			out = append(out, v)
		}
	}
	return out
}
