// Package cluster partitions the services of an instance into geographically compact,
// balanced groups.
package cluster

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"vrpdicho/internal/model"
)

const (
	CutDuration = "duration"
	CutVisits   = "visits"
)

var ErrMissingLocation = errors.New("cluster: point without location")

type Options struct {
	MaxIterations            int
	Restarts                 int
	CutSymbol                string
	LastIterationBalanceRate float64
	// Tolerance is the allowed overshoot of a cluster over its fair share of the cut symbol.
	Tolerance float64
	Seed      int64
}

// KMeans is a balanced k-means clusterer. Services sharing a point are never separated.
type KMeans struct{}

func NewKMeans() *KMeans { return &KMeans{} }

// unit is a group of services at the same point.
type unit struct {
	services []*model.Service
	lat, lon float64
	weight   float64
}

type centroid struct{ lat, lon float64 }

// Cluster returns at most k non-empty service groups. Fewer groups are returned when the
// instance has fewer distinct points than k or a restart collapses.
func (km *KMeans) Cluster(ctx context.Context, inst *model.Instance, k int, opts Options) ([][]*model.Service, error) {
	units, err := buildUnits(inst.Problem, opts.CutSymbol)
	if err != nil {
		return nil, err
	}
	if k <= 1 || len(units) < k {
		return [][]*model.Service{inst.Problem.Services}, nil
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 100
	}
	if opts.Restarts <= 0 {
		opts.Restarts = 1
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 0.1
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var best []int
	bestScore := math.MaxFloat64
	for r := 0; r < opts.Restarts; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assign := run(units, k, opts, rng)
		if s := score(units, assign, k); s < bestScore {
			bestScore = s
			best = assign
		}
	}

	groups := make([][]*model.Service, k)
	for i, u := range units {
		groups[best[i]] = append(groups[best[i]], u.services...)
	}
	out := [][]*model.Service{}
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

func buildUnits(p *model.Problem, cut string) ([]unit, error) {
	byPoint := map[string]int{}
	units := []unit{}
	for _, s := range p.Services {
		idx, ok := byPoint[s.Activity.PointID]
		if !ok {
			pt := p.Point(s.Activity.PointID)
			if pt == nil || pt.Location == nil {
				return nil, ErrMissingLocation
			}
			idx = len(units)
			byPoint[s.Activity.PointID] = idx
			units = append(units, unit{lat: pt.Location.Lat, lon: pt.Location.Lon})
		}
		u := &units[idx]
		u.services = append(u.services, s)
		if cut == CutVisits {
			u.weight++
		} else {
			// a zero-duration stop still costs a visit
			u.weight += math.Max(s.Activity.Duration, 1)
		}
	}
	return units, nil
}

// run is one restart: farthest-first seeding followed by capacity-bounded Lloyd iterations.
func run(units []unit, k int, opts Options, rng *rand.Rand) []int {
	total := 0.0
	for _, u := range units {
		total += u.weight
	}
	cents := seedCentroids(units, k, rng)
	assign := make([]int, len(units))
	for i := range assign {
		assign[i] = -1
	}
	for it := 0; it < opts.MaxIterations; it++ {
		tol := opts.Tolerance
		last := it == opts.MaxIterations-1
		if last {
			tol = opts.LastIterationBalanceRate
		}
		limit := total / float64(k) * (1 + tol)
		next := assignBalanced(units, cents, limit)
		changed := false
		for i := range next {
			if next[i] != assign[i] {
				changed = true
				break
			}
		}
		assign = next
		cents = recenter(units, assign, cents)
		if !changed {
			break
		}
	}
	return assign
}

func seedCentroids(units []unit, k int, rng *rand.Rand) []centroid {
	seeds := []int{rng.Intn(len(units))}
	for len(seeds) < k {
		maxd := -1.0
		maxi := -1
		for i := range units {
			skip := false
			for _, s := range seeds {
				if s == i {
					skip = true
					break
				}
			}
			if skip {
				continue
			}
			mind := math.MaxFloat64
			for _, s := range seeds {
				if d := dist(units[i].lat, units[i].lon, units[s].lat, units[s].lon); d < mind {
					mind = d
				}
			}
			if mind > maxd {
				maxd = mind
				maxi = i
			}
		}
		if maxi < 0 {
			break
		}
		seeds = append(seeds, maxi)
	}
	out := make([]centroid, len(seeds))
	for i, s := range seeds {
		out[i] = centroid{units[s].lat, units[s].lon}
	}
	return out
}

// assignBalanced places units with the largest nearest/second-nearest gap first so the units that
// care most get their preferred cluster before capacity runs out.
func assignBalanced(units []unit, cents []centroid, limit float64) []int {
	type pref struct {
		idx    int
		order  []int
		regret float64
	}
	prefs := make([]pref, len(units))
	for i, u := range units {
		order := make([]int, len(cents))
		d := make([]float64, len(cents))
		for c := range cents {
			order[c] = c
			d[c] = dist(u.lat, u.lon, cents[c].lat, cents[c].lon)
		}
		sort.SliceStable(order, func(a, b int) bool { return d[order[a]] < d[order[b]] })
		regret := 0.0
		if len(order) > 1 {
			regret = d[order[1]] - d[order[0]]
		}
		prefs[i] = pref{idx: i, order: order, regret: regret}
	}
	sort.SliceStable(prefs, func(a, b int) bool { return prefs[a].regret > prefs[b].regret })

	load := make([]float64, len(cents))
	assign := make([]int, len(units))
	for _, p := range prefs {
		w := units[p.idx].weight
		chosen := -1
		for _, c := range p.order {
			if load[c]+w <= limit || load[c] == 0 {
				chosen = c
				break
			}
		}
		if chosen < 0 {
			// every cluster is full: take the least loaded
			chosen = 0
			for c := range load {
				if load[c] < load[chosen] {
					chosen = c
				}
			}
		}
		assign[p.idx] = chosen
		load[chosen] += w
	}
	return assign
}

func recenter(units []unit, assign []int, prev []centroid) []centroid {
	sumLat := make([]float64, len(prev))
	sumLon := make([]float64, len(prev))
	wt := make([]float64, len(prev))
	for i, u := range units {
		c := assign[i]
		sumLat[c] += u.lat * u.weight
		sumLon[c] += u.lon * u.weight
		wt[c] += u.weight
	}
	out := make([]centroid, len(prev))
	for c := range prev {
		if wt[c] == 0 {
			out[c] = prev[c]
			continue
		}
		out[c] = centroid{sumLat[c] / wt[c], sumLon[c] / wt[c]}
	}
	return out
}

// score is the weighted spread plus a penalty for imbalance between clusters.
func score(units []unit, assign []int, k int) float64 {
	cents := recenter(units, assign, make([]centroid, k))
	load := make([]float64, k)
	spread := 0.0
	total := 0.0
	for i, u := range units {
		c := assign[i]
		load[c] += u.weight
		total += u.weight
		spread += u.weight * dist(u.lat, u.lon, cents[c].lat, cents[c].lon)
	}
	imbalance := 0.0
	fair := total / float64(k)
	for _, l := range load {
		imbalance += math.Abs(l - fair)
	}
	if total == 0 {
		return spread
	}
	return spread * (1 + imbalance/total)
}

func dist(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
