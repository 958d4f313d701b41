package dicho

import (
	"vrpdicho/internal/cluster"
	"vrpdicho/internal/model"
)

// Options tune the decomposition. Zero fields take the defaults of DefaultOptions.
type Options struct {
	DivisionVecLimit     int             `yaml:"division_vec_limit"`
	MinRootServices      int             `yaml:"min_root_services"`
	MinSplitServices     int             `yaml:"min_split_services"`
	UnassignedRatio      float64         `yaml:"unassigned_ratio"`
	MaxSplitAttempts     int             `yaml:"max_split_attempts"`
	PoorlyPopulatedRatio float64         `yaml:"poorly_populated_ratio"`
	SpeedKph             float64         `yaml:"speed_kph"`
	Seed                 int64           `yaml:"seed"`
	Cluster              cluster.Options `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		DivisionVecLimit:     3,
		MinRootServices:      400,
		MinSplitServices:     100,
		UnassignedRatio:      0.7,
		MaxSplitAttempts:     10,
		PoorlyPopulatedRatio: 0.5,
		SpeedKph:             50,
		Cluster: cluster.Options{
			MaxIterations:            100,
			Restarts:                 5,
			CutSymbol:                cluster.CutDuration,
			LastIterationBalanceRate: 0,
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DivisionVecLimit <= 0 {
		o.DivisionVecLimit = d.DivisionVecLimit
	}
	if o.MinRootServices <= 0 {
		o.MinRootServices = d.MinRootServices
	}
	if o.MinSplitServices <= 0 {
		o.MinSplitServices = d.MinSplitServices
	}
	if o.UnassignedRatio <= 0 {
		o.UnassignedRatio = d.UnassignedRatio
	}
	if o.MaxSplitAttempts <= 0 {
		o.MaxSplitAttempts = d.MaxSplitAttempts
	}
	if o.PoorlyPopulatedRatio <= 0 {
		o.PoorlyPopulatedRatio = d.PoorlyPopulatedRatio
	}
	if o.SpeedKph <= 0 {
		o.SpeedKph = d.SpeedKph
	}
	if o.Cluster.MaxIterations <= 0 {
		o.Cluster.MaxIterations = d.Cluster.MaxIterations
	}
	if o.Cluster.Restarts <= 0 {
		o.Cluster.Restarts = d.Cluster.Restarts
	}
	if o.Cluster.CutSymbol == "" {
		o.Cluster.CutSymbol = d.Cluster.CutSymbol
	}
	return o
}

const (
	levelDurationFactor  = 2.66
	defaultLevelDuration = 80000
	defaultLevelMinimum  = 70000
	fastInitDuration     = 1000
	floorCostFixed       = 1e6
	floorDistanceCost    = 0.05
)

// configure derives the resolution and vehicle settings of a candidate instance for its level.
// Vehicles are replaced by adjusted copies.
func configure(inst *model.Instance, limit int) {
	p := inst.Problem
	r := &p.Resolution
	r.AllowEmptyResult = true
	r.DichoDivisionVecLimit = limit
	if inst.Level > 0 {
		if r.Duration > 0 {
			r.Duration = int64(float64(r.Duration) / levelDurationFactor)
		} else {
			r.Duration = defaultLevelDuration
		}
		if r.MinimumDuration > 0 {
			r.MinimumDuration = int64(float64(r.MinimumDuration) / levelDurationFactor)
		} else {
			r.MinimumDuration = defaultLevelMinimum
		}
	}
	if inst.Level == 0 {
		r.DichoLevelCoeff = LevelCoeff(p, limit, 0)
		r.SplitNumber = 1
		r.TotalSplitNumber = 2
		p.Vehicles = floorVehicleCosts(p.Vehicles)
	}
	if r.VehicleLimit <= 0 {
		r.VehicleLimit = len(p.Vehicles)
	}
	if len(p.Vehicles) > limit && len(p.Services) > 100 && r.VehicleLimit > limit {
		r.InitDuration = fastInitDuration
	} else {
		r.InitDuration = 0
	}
	r.FirstSolutionStrategy = []string{"parallel_cheapest_insertion"}
}

// floorVehicleCosts returns copies of vehicles with a large fixed cost and a minimal distance
// multiplier where those are unset, so idle vehicles are never free.
func floorVehicleCosts(vehicles []*model.Vehicle) []*model.Vehicle {
	out := make([]*model.Vehicle, len(vehicles))
	for i, v := range vehicles {
		c := v.Clone()
		if c.CostFixed <= 0 {
			c.CostFixed = floorCostFixed
		}
		if c.CostDistanceMultiplier == 0 {
			c.CostDistanceMultiplier = floorDistanceCost
		}
		out[i] = c
	}
	return out
}

// scaleDurations gives a child budgets proportional to its share of the parent's services,
// with twice the headroom.
func scaleDurations(child *model.Instance, parentServices int) {
	if parentServices == 0 {
		return
	}
	r := &child.Problem.Resolution
	share := float64(len(child.Problem.Services)) / float64(parentServices) * 2
	if r.Duration > 0 {
		r.Duration = int64(float64(r.Duration) * share)
	}
	if r.MinimumDuration > 0 {
		r.MinimumDuration = int64(float64(r.MinimumDuration) * share)
	}
}
