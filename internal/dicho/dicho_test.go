package dicho

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdicho/internal/cluster"
	"vrpdicho/internal/model"
)

type call struct {
	level     int
	services  int
	vehicles  []string
	limit     int
	exclusion float64
	coeff     float64
}

// fakeSolver puts every service on the first vehicle able to serve it, or spreads them over
// all compatible vehicles in turn.
type fakeSolver struct {
	mu     sync.Mutex
	calls  []call
	fail   func(inst *model.Instance) bool
	leave  func(inst *model.Instance, s *model.Service) bool
	spread bool
	// cancel runs once the cancelAfter-th call has been answered.
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeSolver) Solve(ctx context.Context, inst *model.Instance, job *model.Job) (*model.Result, error) {
	p := inst.Problem
	minExclusion := math.Inf(1)
	for _, s := range p.Services {
		minExclusion = math.Min(minExclusion, s.ExclusionCost)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{
		level:     inst.Level,
		services:  len(p.Services),
		vehicles:  vehicleIDs(p.Vehicles),
		limit:     p.Resolution.VehicleLimit,
		exclusion: minExclusion,
		coeff:     p.Resolution.DichoLevelCoeff,
	})
	n := len(f.calls)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.cancel != nil && n == f.cancelAfter {
		defer f.cancel()
	}
	if f.fail != nil && f.fail(inst) {
		return nil, errors.New("infeasible")
	}
	res := &model.Result{Routes: []model.Route{}, Unassigned: []model.Unassigned{}, Elapsed: 1}
	for _, v := range p.Vehicles {
		res.Routes = append(res.Routes, model.Route{VehicleID: v.ID})
	}
	next := 0
	for _, s := range p.Services {
		if f.leave != nil && f.leave(inst, s) {
			res.Unassigned = append(res.Unassigned, model.Unassigned{ServiceID: s.ID})
			continue
		}
		placed := false
		for k := range p.Vehicles {
			i := k
			if f.spread {
				i = (next + k) % len(p.Vehicles)
			}
			v := p.Vehicles[i]
			if v.Satisfies(s.Skills) && (len(s.StickyVehicleIDs) == 0 || contains(s.StickyVehicleIDs, v.ID)) {
				res.Routes[i].Activities = append(res.Routes[i].Activities, model.RouteActivity{ServiceID: s.ID, PointID: s.Activity.PointID})
				placed = true
				next = i + 1
				break
			}
		}
		if !placed {
			res.Unassigned = append(res.Unassigned, model.Unassigned{ServiceID: s.ID, Reason: "no compatible vehicle"})
		}
	}
	return res, nil
}

func contains(list []string, id string) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}

// halves splits services in two by position, or returns a fixed number of groups.
type halves struct {
	calls  int
	groups int
}

func (h *halves) Cluster(ctx context.Context, inst *model.Instance, k int, _ cluster.Options) ([][]*model.Service, error) {
	h.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := inst.Problem.Services
	switch h.groups {
	case 1:
		return [][]*model.Service{s}, nil
	case 3:
		third := len(s) / 3
		return [][]*model.Service{s[:third], s[third : 2*third], s[2*third:]}, nil
	}
	mid := len(s) / 2
	return [][]*model.Service{s[:mid], s[mid:]}, nil
}

// largeInstance has n services on distinct points and the given vehicles, none with fixed cost.
func largeInstance(n int, vehicles ...string) *model.Instance {
	p := &model.Problem{Resolution: model.Resolution{DichoDivisionVecLimit: 2}}
	p.Points = append(p.Points, &model.Point{ID: "depot", MatrixIndex: 0, Location: &model.Location{Lat: 48, Lon: 2}})
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%d", i)
		p.Points = append(p.Points, &model.Point{ID: id, MatrixIndex: i, Location: &model.Location{Lat: 48 + float64(i)*0.001, Lon: 2 + float64(i%7)*0.001}})
		p.Services = append(p.Services, &model.Service{ID: fmt.Sprintf("s%d", i), Activity: model.Activity{PointID: id, Duration: 60}})
	}
	p.Services[0].Activity.Timewindows = []model.Timewindow{{Start: 0, End: 3600}}
	for _, id := range vehicles {
		p.Vehicles = append(p.Vehicles, &model.Vehicle{ID: id, StartPointID: "depot", EndPointID: "depot"})
	}
	return &model.Instance{Problem: p}
}

func testOptions() Options {
	return Options{Seed: 7}
}

func TestScenarioDecomposesIntoTwoChildren(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	require.True(t, Candidate(inst, testOptions().withDefaults()))

	solver := &fakeSolver{}
	d := New(solver, &halves{}, testOptions())
	res, err := d.Run(context.Background(), inst, nil)
	require.NoError(t, err)

	require.Len(t, solver.calls, 2)
	total := 0
	for _, c := range solver.calls {
		assert.Equal(t, 1, c.level)
		total += c.services
	}
	assert.Equal(t, 500, total)
	assert.Len(t, res.RoutedServiceIDs(), 500)
	assert.Empty(t, res.Unassigned)
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestIdleVehiclesMoveToSecondChild(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	solver := &fakeSolver{}
	_, err := New(solver, &halves{}, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	require.Len(t, solver.calls, 2)
	// the first half gets v1 and v3 but only routes on v1
	assert.Equal(t, []string{"v1", "v3"}, solver.calls[0].vehicles)
	assert.Equal(t, []string{"v2", "v3"}, solver.calls[1].vehicles)
	assert.Equal(t, 2, solver.calls[1].limit)
}

func TestScenarioAllChildrenFail(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	solver := &fakeSolver{fail: func(*model.Instance) bool { return true }}
	res, err := New(solver, &halves{}, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Routes)
	require.Len(t, res.Unassigned, 500)
	for _, u := range res.Unassigned {
		assert.Equal(t, ReasonNoSolution, u.Reason)
	}
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestCancelBetweenChildren(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst := largeInstance(500, "v1", "v2", "v3")
	solver := &fakeSolver{cancelAfter: 1, cancel: cancel}
	res, err := New(solver, &halves{}, testOptions()).Run(ctx, inst, nil)
	require.NoError(t, err)

	// the second half never reaches the solver
	require.Len(t, solver.calls, 1)
	assert.Len(t, res.RoutedServiceIDs(), 250)
	require.Len(t, res.Unassigned, 250)
	for _, u := range res.Unassigned {
		assert.Equal(t, ReasonNoSolution, u.Reason)
	}
	assert.Contains(t, res.RoutedServiceIDs(), "s1")
	assert.Contains(t, res.UnassignedIDs(), "s500")
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestCancelledRunSolvesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inst := largeInstance(500, "v1", "v2", "v3")
	solver := &fakeSolver{}
	clusterer := &halves{}
	res, err := New(solver, clusterer, testOptions()).Run(ctx, inst, nil)
	require.NoError(t, err)

	assert.Empty(t, solver.calls)
	assert.Equal(t, 1, clusterer.calls)
	assert.Empty(t, res.Routes)
	require.Len(t, res.Unassigned, 500)
	for _, u := range res.Unassigned {
		assert.Equal(t, ReasonNoSolution, u.Reason)
	}
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestCancelSkipsRepair(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst := largeInstance(500, "v1", "v2", "v3")
	// the first half leaves a service for repair, then the job is cancelled
	solver := &fakeSolver{cancelAfter: 1, cancel: cancel, leave: func(_ *model.Instance, s *model.Service) bool {
		return s.ID == "s2"
	}}
	res, err := New(solver, &halves{}, testOptions()).Run(ctx, inst, nil)
	require.NoError(t, err)

	require.Len(t, solver.calls, 1)
	assert.Contains(t, res.UnassignedIDs(), "s2")
	assert.Len(t, res.Unassigned, 251)
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

// deepInstance needs two levels of splits to get down to two vehicles per sub-problem.
func deepInstance() *model.Instance {
	inst := largeInstance(1000, "v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8")
	p := inst.Problem
	p.Services[0].Quantities = []model.Quantity{{UnitID: "kg", Fill: true}}
	p.Services[999].Quantities = []model.Quantity{{UnitID: "kg", Empty: true}}
	return inst
}

func TestScenarioRecursesToSecondLevel(t *testing.T) {
	inst := deepInstance()
	solver := &fakeSolver{spread: true}
	clusterer := &halves{}
	res, err := New(solver, clusterer, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	// one split at the root and one in each half
	assert.Equal(t, 3, clusterer.calls)
	require.Len(t, solver.calls, 4)
	sizes := []int{}
	for _, c := range solver.calls {
		assert.Equal(t, 2, c.level)
		assert.Len(t, c.vehicles, 2)
		assert.Equal(t, 2, c.limit)
		assert.Greater(t, c.coeff, 1.0)
		assert.Greater(t, c.exclusion, 60.0)
		sizes = append(sizes, c.services)
	}
	// the first half's own split hands both utility stops to its first child, which uses them;
	// the second half of the root then goes without them
	assert.Equal(t, []int{251, 250, 249, 250}, sizes)

	assert.Empty(t, res.Unassigned)
	assert.Len(t, res.RoutedServiceIDs(), 1000)
	assert.Len(t, res.Routes, 8)
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestCancelInsideSecondLevel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst := deepInstance()
	solver := &fakeSolver{spread: true, cancelAfter: 2, cancel: cancel}
	res, err := New(solver, &halves{}, testOptions()).Run(ctx, inst, nil)
	require.NoError(t, err)

	// the first half of the root completes; the second half is cancelled while splitting
	require.Len(t, solver.calls, 2)
	assert.Len(t, res.RoutedServiceIDs(), 501)
	require.Len(t, res.Unassigned, 499)
	for _, u := range res.Unassigned {
		assert.Equal(t, ReasonNoSolution, u.Reason)
	}
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestSmallInstanceIsSolvedDirectly(t *testing.T) {
	inst := largeInstance(50, "v1", "v2", "v3")
	solver := &fakeSolver{}
	clusterer := &halves{}
	res, err := New(solver, clusterer, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	require.Len(t, solver.calls, 1)
	assert.Equal(t, 0, solver.calls[0].level)
	assert.Zero(t, clusterer.calls)
	assert.Len(t, res.RoutedServiceIDs(), 50)
}

func TestDegenerateClusteringFallsBackToDirectSolve(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	solver := &fakeSolver{}
	clusterer := &halves{groups: 1}
	res, err := New(solver, clusterer, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultOptions().MaxSplitAttempts, clusterer.calls)
	require.Len(t, solver.calls, 1)
	assert.Equal(t, 0, solver.calls[0].level)
	assert.Equal(t, 500, solver.calls[0].services)
	assert.NoError(t, CheckConservation(inst.Problem, res))
}

func TestClusterContractViolationAborts(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	res, err := New(&fakeSolver{}, &halves{groups: 3}, testOptions()).Run(context.Background(), inst, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrClusterContract)
}

func TestRunDoesNotModifyInput(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	_, err := New(&fakeSolver{}, &halves{}, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)
	assert.Zero(t, inst.Problem.Vehicles[0].CostFixed)
	assert.Zero(t, inst.Problem.Services[0].ExclusionCost)
	assert.Empty(t, inst.Problem.Matrices)
	assert.Zero(t, inst.Problem.Resolution.SplitNumber)
}

func fillInstance() *model.Instance {
	inst := largeInstance(500, "v1", "v2", "v3")
	p := inst.Problem
	p.Services[0].Quantities = []model.Quantity{{UnitID: "kg", Fill: true}}
	p.Services[499].Quantities = []model.Quantity{{UnitID: "kg", Empty: true}}
	return inst
}

func TestFillServicesUsedByFirstChild(t *testing.T) {
	inst := fillInstance()
	solver := &fakeSolver{}
	res, err := New(solver, &halves{}, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	require.Len(t, solver.calls, 2)
	// both utility stops go to the first half, which routes them
	assert.Equal(t, 251, solver.calls[0].services)
	assert.Equal(t, 249, solver.calls[1].services)
	assert.NoError(t, CheckConservation(inst.Problem, res))
	assert.Len(t, res.RoutedServiceIDs(), 500)
}

func TestUnusedFillServicesMoveToSecondChild(t *testing.T) {
	inst := fillInstance()
	solver := &fakeSolver{leave: func(inst *model.Instance, s *model.Service) bool {
		// the first half never uses utility stops
		return s.IsFillOrEmpty() && contains(vehicleIDs(inst.Problem.Vehicles), "v1")
	}}
	res, err := New(solver, &halves{}, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)

	require.Len(t, solver.calls, 2)
	assert.Equal(t, 251, solver.calls[0].services)
	assert.Equal(t, 251, solver.calls[1].services)
	assert.NoError(t, CheckConservation(inst.Problem, res))
	assert.Empty(t, res.Unassigned)
}

func TestFirstChildFailureHandsAllFillsToSecond(t *testing.T) {
	inst := fillInstance()
	solver := &fakeSolver{fail: func(inst *model.Instance) bool {
		return contains(vehicleIDs(inst.Problem.Vehicles), "v1") && len(inst.Problem.Vehicles) == 2 && inst.Level == 1
	}}
	res, err := New(solver, &halves{}, testOptions()).Run(context.Background(), inst, nil)
	require.NoError(t, err)
	require.NoError(t, CheckConservation(inst.Problem, res))

	reasons := map[string]string{}
	for _, u := range res.Unassigned {
		reasons[u.ServiceID] = u.Reason
	}
	// s1 is a fill of the failed half: the second half served it
	assert.NotContains(t, reasons, "s1")
	assert.NotContains(t, reasons, "s500")
}

func TestProgressStages(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	var mu sync.Mutex
	stages := []string{}
	job := &model.Job{ID: "j1", OnProgress: func(p model.Progress) {
		mu.Lock()
		stages = append(stages, p.Stage)
		mu.Unlock()
		assert.Equal(t, "j1", p.JobID)
	}}
	_, err := New(&fakeSolver{}, &halves{}, testOptions()).Run(context.Background(), inst, job)
	require.NoError(t, err)
	assert.Equal(t, StageStart, stages[0])
	assert.Equal(t, StageDone, stages[len(stages)-1])
	assert.Contains(t, stages, StageSplit)
	assert.Contains(t, stages, StageChild)
	assert.Contains(t, stages, StageMerge)
}

func TestClusterSinkOnDebug(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	inst.Problem.Configuration.DebugOutputClusters = true
	d := New(&fakeSolver{}, &halves{}, testOptions())
	seen := 0
	d.Sink = func(parent *model.Instance, children []*model.Instance) {
		seen++
		assert.Len(t, children, 2)
	}
	_, err := d.Run(context.Background(), inst, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestBuildChildrenPartitions(t *testing.T) {
	inst := largeInstance(11, "v1", "v2", "v3")
	p := inst.Problem
	p.Resolution.VehicleLimit = 3
	p.Resolution.SplitNumber = 1
	p.Resolution.TotalSplitNumber = 2
	// one service against ten: the ten get two vehicles and become child 0
	children := buildChildren(inst, p.Services[:1], p.Services[1:])
	require.Len(t, children, 2)
	c0, c1 := children[0].Problem, children[1].Problem
	assert.Len(t, c0.Services, 10)
	assert.Len(t, c1.Services, 1)

	ids := map[string]int{}
	for _, c := range children {
		assert.Equal(t, 1, c.Level)
		for _, v := range c.Problem.Vehicles {
			ids[v.ID]++
		}
	}
	assert.Equal(t, map[string]int{"v1": 1, "v2": 1, "v3": 1}, ids)
	assert.Len(t, c0.Vehicles, 2)
	assert.Equal(t, 2, c0.Resolution.VehicleLimit)
	assert.Equal(t, 1, c1.Resolution.VehicleLimit)
	assert.Equal(t, 1, c0.Resolution.SplitNumber)
	assert.Equal(t, 2, c1.Resolution.SplitNumber)
	assert.Equal(t, 3, c0.Resolution.TotalSplitNumber)
}

func TestRepairFillsSkillGroups(t *testing.T) {
	p := &model.Problem{}
	p.Points = []*model.Point{{ID: "depot"}, {ID: "p"}}
	p.Vehicles = []*model.Vehicle{
		{ID: "v1", Skills: [][]string{{"a"}}},
		{ID: "v2", Skills: [][]string{{"b"}}},
		{ID: "v3"},
		{ID: "v4", Skills: [][]string{{"a"}, {"b"}}},
	}
	res := &model.Result{Routes: []model.Route{{VehicleID: "v3", Activities: []model.RouteActivity{{ServiceID: "r1"}}}}}
	p.Services = append(p.Services, &model.Service{ID: "r1", Activity: model.Activity{PointID: "p"}})
	for i := 1; i <= 10; i++ {
		skill := "a"
		if i > 5 {
			skill = "b"
		}
		id := fmt.Sprintf("s%d", i)
		p.Services = append(p.Services, &model.Service{ID: id, Skills: []string{skill}, Activity: model.Activity{PointID: "p"}})
		res.Unassigned = append(res.Unassigned, model.Unassigned{ServiceID: id})
	}
	inst := &model.Instance{Problem: p}
	solver := &fakeSolver{}
	r := &run{Decomposer: New(solver, &halves{}, testOptions()), rng: rand.New(rand.NewSource(3))}

	r.repair(context.Background(), inst, res)

	assert.Empty(t, res.Unassigned)
	assert.Len(t, res.RoutedServiceIDs(), 11)
	assert.NoError(t, CheckConservation(p, res))
	assert.Len(t, solver.calls, 2)
	// hints follow the repaired routes
	hinted := map[string]bool{}
	for _, h := range p.Routes {
		hinted[h.VehicleID] = true
	}
	assert.True(t, hinted["v3"])
}

func TestRepairRejectsRegression(t *testing.T) {
	p := &model.Problem{Points: []*model.Point{{ID: "p"}}}
	p.Vehicles = []*model.Vehicle{{ID: "v1"}}
	p.Services = []*model.Service{
		{ID: "s1", Activity: model.Activity{PointID: "p"}},
		{ID: "s2", Activity: model.Activity{PointID: "p"}},
		{ID: "s3", Activity: model.Activity{PointID: "p"}},
	}
	res := &model.Result{
		Routes:     []model.Route{{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "s1"}, {ServiceID: "s2"}}}},
		Unassigned: []model.Unassigned{{ServiceID: "s3"}},
	}
	// the sub-solve drops everything: three unassigned for one given
	solver := &fakeSolver{leave: func(*model.Instance, *model.Service) bool { return true }}
	r := &run{Decomposer: New(solver, &halves{}, testOptions()), rng: rand.New(rand.NewSource(1))}
	r.repair(context.Background(), &model.Instance{Problem: p}, res)

	require.Len(t, solver.calls, 1)
	assert.Equal(t, []string{"s3"}, res.UnassignedIDs())
	assert.Equal(t, []string{"s1", "s2"}, res.RoutedServiceIDs())
}

func TestRepairStickyOverridesSkills(t *testing.T) {
	p := &model.Problem{Points: []*model.Point{{ID: "p"}}}
	p.Vehicles = []*model.Vehicle{{ID: "v1", Skills: [][]string{{"a"}}}, {ID: "v2"}}
	p.Services = []*model.Service{{ID: "s1", Skills: []string{"a"}, StickyVehicleIDs: []string{"v2"}, Activity: model.Activity{PointID: "p"}}}
	g := groupBySkills(p.Services)
	require.Len(t, g, 1)
	assert.Equal(t, []string{"v2"}, vehicleIDs(compatibleVehicles(p, g[0])))
}

func TestGroupBySkillsUsesExactSets(t *testing.T) {
	services := []*model.Service{
		{ID: "s1"},
		{ID: "s2", Skills: []string{"b", "a"}},
		{ID: "s3", Skills: []string{"a", "b"}},
		{ID: "s4", Skills: []string{"a"}},
	}
	g := groupBySkills(services)
	require.Len(t, g, 3)
	assert.Empty(t, g[0].skills)
	assert.Equal(t, []string{"a", "b"}, g[1].skills)
	assert.Len(t, g[1].services, 2)
}
