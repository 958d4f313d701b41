package opt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vrpdicho/internal/model"
)

// Unassigned reasons for services no vehicle of the instance could ever serve.
const (
	ReasonNoSkills   = "no vehicle with compatible skills"
	ReasonNoSticky   = "no compatible sticky vehicle"
	ReasonCapacity   = "service quantity exceeds vehicle capacity"
	ReasonTimewindow = "service cannot be reached within time windows"
)

// ErrEmptyResult is returned when nothing could be routed and the instance does not allow empty results.
var ErrEmptyResult = errors.New("opt: empty result")

// Solver runs the ALNS engine on a model instance.
type Solver struct {
	Seed          int64
	DefaultBudget time.Duration
	MaxIterations int
	Metrics       *MetricsStore
}

func NewSolver(ms *MetricsStore) *Solver {
	return &Solver{DefaultBudget: 2 * time.Second, Metrics: ms}
}

// Solve returns nil and ctx.Err() when cancelled.
func (s *Solver) Solve(ctx context.Context, inst *model.Instance, job *model.Job) (*model.Result, error) {
	started := time.Now()
	pr := inst.Problem
	p, err := buildProblem(pr)
	if err != nil {
		return nil, err
	}
	res := pr.Resolution
	budget := time.Duration(res.Duration) * time.Millisecond
	if budget <= 0 {
		budget = s.DefaultBudget
	}
	if budget <= 0 {
		budget = 2 * time.Second
	}
	if init := time.Duration(res.InitDuration) * time.Millisecond; init > 0 && init < budget {
		budget = init
	}
	p.MinDuration = time.Duration(res.MinimumDuration) * time.Millisecond
	p.IterationsLimit = s.MaxIterations
	p.OnIteration = func(it int, best Solution) {
		job.Report(model.Progress{Stage: "opt.iteration", Level: inst.Level, Services: len(p.Nodes), Unassigned: len(best.Unassigned), Iteration: it})
	}

	sol, m, err := Solve(ctx, p, s.Seed, budget)
	if err != nil {
		return nil, err
	}
	out := toResult(pr, p, sol)
	out.Elapsed = float64(time.Since(started).Milliseconds())
	if s.Metrics != nil && job != nil {
		s.Metrics.Record(job.ID, model.SolveStats{
			Level:         inst.Level,
			SplitNumber:   res.SplitNumber,
			Services:      len(p.Nodes),
			Vehicles:      len(p.Vehicles),
			Unassigned:    len(out.Unassigned),
			Iterations:    m.Iterations,
			Improvements:  m.Improvements,
			AcceptedWorse: m.AcceptedWorse,
			BestCost:      m.BestCost,
			ElapsedMs:     out.Elapsed,
			At:            time.Now().UTC(),
		})
	}
	if !res.AllowEmptyResult && len(pr.Services) > 0 && len(out.RoutedServiceIDs()) == 0 {
		return nil, ErrEmptyResult
	}
	return out, nil
}

func buildProblem(pr *model.Problem) (Problem, error) {
	pointIdx := make(map[string]int, len(pr.Points))
	for _, pt := range pr.Points {
		pointIdx[pt.ID] = pt.MatrixIndex
	}
	index := func(id string) int {
		if id == "" {
			return -1
		}
		if i, ok := pointIdx[id]; ok {
			return i
		}
		return -1
	}
	p := Problem{VehicleLimit: pr.EffectiveVehicleLimit()}
	nodeOf := make(map[string]int, len(pr.Services))
	for _, s := range pr.Services {
		i, ok := pointIdx[s.Activity.PointID]
		if !ok {
			return Problem{}, fmt.Errorf("service %s: unknown point %q", s.ID, s.Activity.PointID)
		}
		nodeOf[s.ID] = len(p.Nodes)
		p.Nodes = append(p.Nodes, Node{
			ID:         s.ID,
			Index:      i,
			ServiceSec: s.Activity.Duration,
			TWs:        s.Activity.Timewindows,
			Quantities: s.Quantities,
			Skills:     s.Skills,
			Sticky:     s.StickyVehicleIDs,
			Exclusion:  s.ExclusionCost,
		})
	}
	for _, v := range pr.Vehicles {
		m := pr.Matrix(v.MatrixID)
		if m == nil || len(m.Time) == 0 {
			return Problem{}, fmt.Errorf("vehicle %s: no time matrix", v.ID)
		}
		ev := Vehicle{
			ID:          v.ID,
			Start:       index(v.StartPointID),
			End:         index(v.EndPointID),
			Time:        m.Time,
			Dist:        m.Distance,
			Skills:      v.Skills,
			MaxDuration: v.Duration,
			CostFixed:   v.CostFixed,
			CostTime:    v.CostTimeMultiplier,
			CostDist:    v.CostDistanceMultiplier,
		}
		if ev.CostTime == 0 {
			ev.CostTime = 1
		}
		if len(v.Capacities) > 0 {
			ev.Capacities = make(map[string]float64, len(v.Capacities))
			for _, c := range v.Capacities {
				ev.Capacities[c.UnitID] = c.Limit
			}
		}
		if v.Timewindow != nil {
			ev.TWStart = v.Timewindow.Start
			ev.TWEnd = v.Timewindow.End
		}
		p.Vehicles = append(p.Vehicles, ev)
	}
	for _, h := range pr.Routes {
		plan := RoutePlan{VehicleID: h.VehicleID}
		for _, id := range h.MissionIDs {
			// rests and foreign missions are not engine nodes
			if n, ok := nodeOf[id]; ok {
				plan.Order = append(plan.Order, n)
			}
		}
		if len(plan.Order) > 0 {
			p.Seed = append(p.Seed, plan)
		}
	}
	return p, nil
}

func toResult(pr *model.Problem, p Problem, sol Solution) *model.Result {
	p.prepare()
	out := &model.Result{Routes: []model.Route{}, Unassigned: []model.Unassigned{}}
	for vi, pl := range sol.Plans {
		route := model.Route{VehicleID: pl.VehicleID, Activities: []model.RouteActivity{}}
		if len(pl.Order) > 0 {
			st, _ := schedulePlan(p, pl.Order, vi)
			for i, idx := range pl.Order {
				svc := pr.Services[idx]
				route.Activities = append(route.Activities, model.RouteActivity{ServiceID: svc.ID, PointID: svc.Activity.PointID, BeginTime: st.begins[i]})
			}
			route.TotalTime = st.end - p.Vehicles[vi].TWStart
			c, _ := planCostOf(p, pl.Order, vi)
			out.Cost += c
		}
		out.Routes = append(out.Routes, route)
	}
	for _, idx := range sol.Unassigned {
		svc := pr.Services[idx]
		out.Unassigned = append(out.Unassigned, model.Unassigned{ServiceID: svc.ID, PointID: svc.Activity.PointID, Reason: structuralReason(p, idx)})
	}
	return out
}

// structuralReason explains services no vehicle can serve even on an empty route.
// Services left out for lack of room get no reason.
func structuralReason(p Problem, idx int) string {
	n := p.Nodes[idx]
	compatible := []int{}
	for vi := range p.Vehicles {
		if p.compat[vi][idx] {
			compatible = append(compatible, vi)
		}
	}
	if len(compatible) == 0 {
		if len(n.Sticky) > 0 {
			return ReasonNoSticky
		}
		return ReasonNoSkills
	}
	fits := false
	for _, vi := range compatible {
		if quantityFits(p.Vehicles[vi], n) {
			fits = true
			break
		}
	}
	if !fits {
		return ReasonCapacity
	}
	for _, vi := range compatible {
		if _, ok := schedulePlan(p, []int{idx}, vi); ok {
			return ""
		}
	}
	return ReasonTimewindow
}

func quantityFits(v Vehicle, n Node) bool {
	for _, q := range n.Quantities {
		if q.Fill || q.Empty {
			continue
		}
		if limit, ok := v.Capacities[q.UnitID]; ok && q.Value > limit {
			return false
		}
	}
	return true
}
