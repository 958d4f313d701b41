package dicho

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdicho/internal/model"
)

func TestCandidate(t *testing.T) {
	opts := DefaultOptions()
	cases := []struct {
		name   string
		mutate func(inst *model.Instance)
		want   bool
	}{
		{"large root", func(*model.Instance) {}, true},
		{"too few vehicles", func(inst *model.Instance) { inst.Problem.Vehicles = inst.Problem.Vehicles[:2] }, false},
		{"schedule", func(inst *model.Instance) { inst.Problem.Schedule = &model.Schedule{RangeEnd: 6} }, false},
		{"shipments", func(inst *model.Instance) { inst.Problem.Shipments = []model.Shipment{{ID: "sh1"}} }, false},
		{"mostly routed", func(inst *model.Instance) {
			hint := model.RouteHint{VehicleID: "v1"}
			for _, s := range inst.Problem.Services[:100] {
				hint.MissionIDs = append(hint.MissionIDs, s.ID)
			}
			inst.Problem.Routes = []model.RouteHint{hint}
		}, false},
		{"fixed cost", func(inst *model.Instance) { inst.Problem.Vehicles[1].CostFixed = 10 }, false},
		{"vehicle lateness", func(inst *model.Instance) { inst.Problem.Vehicles[2].CostLateMultiplier = 1 }, false},
		{"service lateness", func(inst *model.Instance) { inst.Problem.Services[3].Activity.LateMultiplier = 1 }, false},
		{"no timewindow", func(inst *model.Instance) { inst.Problem.Services[0].Activity.Timewindows = nil }, false},
		{"point without location", func(inst *model.Instance) { inst.Problem.Points[4].Location = nil }, false},
		{"level above root", func(inst *model.Instance) {
			inst.Level = 1
			inst.Problem.Services = inst.Problem.Services[:3]
			inst.Problem.Vehicles = inst.Problem.Vehicles[:1]
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst := largeInstance(500, "v1", "v2", "v3")
			tc.mutate(inst)
			assert.Equal(t, tc.want, Candidate(inst, opts))
		})
	}
}

func TestDivisionLimitPrefersResolution(t *testing.T) {
	p := &model.Problem{}
	assert.Equal(t, 3, divisionLimit(p, DefaultOptions()))
	p.Resolution.DichoDivisionVecLimit = 5
	assert.Equal(t, 5, divisionLimit(p, DefaultOptions()))
}

func TestLevelCoeff(t *testing.T) {
	p := largeInstance(10, "v1", "v2", "v3").Problem
	assert.InDelta(t, 2.0, LevelCoeff(p, 2, 0), 0.01)
	assert.Equal(t, 1.0, LevelCoeff(p, 2, 1))
	assert.Equal(t, 1.0, LevelCoeff(p, 0, 0))
	assert.Equal(t, 1.0, LevelCoeff(&model.Problem{}, 2, 0))
}

func TestEscalateExclusionCostsGrowsWithLevel(t *testing.T) {
	services := []*model.Service{{ID: "s1", ExclusionCost: 10}, {ID: "s2", ExclusionCost: 20}}

	same := EscalateExclusionCosts(services, 0, 1.5)
	assert.Equal(t, 10.0, same[0].ExclusionCost)

	one := EscalateExclusionCosts(services, 1, 1.5)
	two := EscalateExclusionCosts(services, 2, 1.5)
	assert.InDelta(t, 17.5, one[0].ExclusionCost, 1e-9)
	assert.InDelta(t, 27.5, one[1].ExclusionCost, 1e-9)
	assert.InDelta(t, 28.75, two[0].ExclusionCost, 1e-9)
	assert.Greater(t, two[1].ExclusionCost, one[1].ExclusionCost)
	assert.Equal(t, 10.0, services[0].ExclusionCost)
}

func TestConfigureRoot(t *testing.T) {
	inst := largeInstance(500, "v1", "v2", "v3")
	original := inst.Problem.Vehicles[0]
	inst.Problem.Vehicles[1].CostDistanceMultiplier = 2

	configure(inst, 2)
	r := inst.Problem.Resolution
	assert.True(t, r.AllowEmptyResult)
	assert.Equal(t, 1, r.SplitNumber)
	assert.Equal(t, 2, r.TotalSplitNumber)
	assert.Equal(t, 3, r.VehicleLimit)
	assert.Equal(t, int64(fastInitDuration), r.InitDuration)
	assert.Zero(t, r.Duration)
	assert.Equal(t, []string{"parallel_cheapest_insertion"}, r.FirstSolutionStrategy)

	assert.Equal(t, floorCostFixed, inst.Problem.Vehicles[0].CostFixed)
	assert.Equal(t, floorDistanceCost, inst.Problem.Vehicles[0].CostDistanceMultiplier)
	assert.Equal(t, 2.0, inst.Problem.Vehicles[1].CostDistanceMultiplier)
	assert.Zero(t, original.CostFixed)
}

func TestConfigureLevelDurations(t *testing.T) {
	inst := largeInstance(50, "v1", "v2")
	inst.Level = 1
	inst.Problem.Resolution.Duration = 2660
	configure(inst, 2)
	r := inst.Problem.Resolution
	assert.InDelta(t, 1000, float64(r.Duration), 1)
	assert.Equal(t, int64(defaultLevelMinimum), r.MinimumDuration)
	assert.Zero(t, r.InitDuration)
	assert.Zero(t, inst.Problem.Vehicles[0].CostFixed)

	other := largeInstance(50, "v1", "v2")
	other.Level = 2
	configure(other, 2)
	assert.Equal(t, int64(defaultLevelDuration), other.Problem.Resolution.Duration)
}

func TestScaleDurations(t *testing.T) {
	child := largeInstance(25, "v1")
	child.Problem.Resolution.Duration = 1000
	child.Problem.Resolution.MinimumDuration = 400
	scaleDurations(child, 100)
	assert.Equal(t, int64(500), child.Problem.Resolution.Duration)
	assert.Equal(t, int64(200), child.Problem.Resolution.MinimumDuration)
}

func TestWorthSplitting(t *testing.T) {
	assert.True(t, worthSplitting(nil, 3))
	partial := &model.Result{Unassigned: []model.Unassigned{{ServiceID: "s1", Reason: "x"}}}
	assert.True(t, worthSplitting(partial, 3))
	explained := &model.Result{Unassigned: []model.Unassigned{{ServiceID: "s1", Reason: "x"}, {ServiceID: "s2", Reason: "y"}}}
	assert.False(t, worthSplitting(explained, 2))
	explained.Unassigned[1].Reason = ""
	assert.True(t, worthSplitting(explained, 2))
}

func servicesWith(prefix string, n int, skills ...string) []*model.Service {
	out := make([]*model.Service, n)
	for i := range out {
		out[i] = &model.Service{ID: fmt.Sprintf("%s%d", prefix, i), Skills: skills}
	}
	return out
}

func TestSplitVehiclesFollowsSkills(t *testing.T) {
	vehicles := []*model.Vehicle{{ID: "v1", Skills: [][]string{{"frozen"}}}, {ID: "v2"}, {ID: "v3"}, {ID: "v4"}}
	out := SplitVehicles(vehicles, servicesWith("a", 10), servicesWith("b", 10, "frozen"))
	assert.Equal(t, []string{"v2", "v3"}, vehicleIDs(out[0]))
	assert.Equal(t, []string{"v1", "v4"}, vehicleIDs(out[1]))
}

func TestSplitVehiclesNeverStarvesACluster(t *testing.T) {
	vehicles := []*model.Vehicle{
		{ID: "v1", Skills: [][]string{{"x"}}},
		{ID: "v2", Skills: [][]string{{"x"}}},
		{ID: "v3", Skills: [][]string{{"x"}}},
	}
	out := SplitVehicles(vehicles, servicesWith("a", 10), servicesWith("b", 10, "x"))
	assert.Equal(t, []string{"v1"}, vehicleIDs(out[0]))
	assert.Equal(t, []string{"v2", "v3"}, vehicleIDs(out[1]))
}

func TestSplitVehiclesSingleVehicle(t *testing.T) {
	out := SplitVehicles([]*model.Vehicle{{ID: "v1"}}, servicesWith("a", 3), servicesWith("b", 3))
	assert.Len(t, out[0], 1)
	assert.Empty(t, out[1])
}

func TestCheckConservation(t *testing.T) {
	p := &model.Problem{Services: []*model.Service{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}}
	ok := &model.Result{
		Routes:     []model.Route{{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "s1"}, {RestID: "r1"}, {ServiceID: "s2"}}}},
		Unassigned: []model.Unassigned{{ServiceID: "s3"}},
	}
	require.NoError(t, CheckConservation(p, ok))

	bad := &model.Result{
		Routes:     []model.Route{{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "s1"}, {ServiceID: "s9"}}}},
		Unassigned: []model.Unassigned{{ServiceID: "s1"}},
	}
	err := CheckConservation(p, bad)
	var ce *ConservationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"s2", "s3"}, ce.Missing)
	assert.Equal(t, []string{"s1"}, ce.Duplicated)
	assert.Equal(t, []string{"s9"}, ce.Unknown)
	assert.Contains(t, err.Error(), "missing")
}

func TestStripSkillViolations(t *testing.T) {
	p := &model.Problem{
		Vehicles: []*model.Vehicle{{ID: "v1", Skills: [][]string{{"a"}}}},
		Services: []*model.Service{{ID: "s1", Skills: []string{"b"}}, {ID: "s2"}, {ID: "s3", Skills: []string{"a"}}},
	}
	res := &model.Result{Routes: []model.Route{{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "s1"}, {ServiceID: "s2"}, {ServiceID: "s3"}}}}}

	assert.Equal(t, 1, StripSkillViolations(p, res))
	assert.Equal(t, []string{"s2", "s3"}, res.RoutedServiceIDs())
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "s1", res.Unassigned[0].ServiceID)
	assert.Equal(t, ReasonSkills, res.Unassigned[0].Reason)
	assert.NoError(t, CheckConservation(p, res))
}

func TestTransferIdleVehicles(t *testing.T) {
	parent := &model.Problem{Points: []*model.Point{{ID: "d1"}, {ID: "d2", MatrixIndex: 1}, {ID: "p", MatrixIndex: 2}}}
	from := &model.Problem{Vehicles: []*model.Vehicle{{ID: "v1", StartPointID: "d1"}, {ID: "v2", StartPointID: "d2", EndPointID: "d2"}}}
	to := &model.Problem{Points: []*model.Point{{ID: "p"}}, Resolution: model.Resolution{VehicleLimit: 1}}
	res := &model.Result{Routes: []model.Route{
		{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "s1"}}},
		{VehicleID: "v2"},
	}}

	assert.Equal(t, 1, transferIdleVehicles(parent, res, from, to))
	assert.Equal(t, []string{"v1"}, vehicleIDs(from.Vehicles))
	assert.Equal(t, []string{"v2"}, vehicleIDs(to.Vehicles))
	assert.Equal(t, 2, to.Resolution.VehicleLimit)
	require.Len(t, to.Points, 2)
	assert.Equal(t, "d2", to.Points[1].ID)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, "v1", res.Routes[0].VehicleID)
}

func TestHandOffFills(t *testing.T) {
	fills := []*model.Service{{ID: "f1"}, {ID: "f2"}}
	res := &model.Result{Routes: []model.Route{{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "f2"}}}}}
	h := handOffFills(fills, res)
	assert.Equal(t, []string{"f2"}, serviceIDs(h.Used))
	assert.Equal(t, []string{"f1"}, serviceIDs(h.Remaining))
}

func TestFillOrEmptyServicesOrder(t *testing.T) {
	services := []*model.Service{
		{ID: "e1", Quantities: []model.Quantity{{Empty: true}}},
		{ID: "s1"},
		{ID: "f1", Quantities: []model.Quantity{{Fill: true}}},
		{ID: "fe", Quantities: []model.Quantity{{Fill: true}, {Empty: true}}},
	}
	assert.Equal(t, []string{"f1", "fe", "e1"}, serviceIDs(fillOrEmptyServices(services)))
}
