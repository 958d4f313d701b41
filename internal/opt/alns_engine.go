package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"vrpdicho/internal/model"
)

// Node is a service seen by the engine. Index is the service point's matrix index.
type Node struct {
	ID         string
	Index      int
	ServiceSec float64
	TWs        []model.Timewindow
	Quantities []model.Quantity
	Skills     []string
	Sticky     []string
	Exclusion  float64
}

// Vehicle is a vehicle seen by the engine. Start/End are matrix indices, -1 when the route is open.
type Vehicle struct {
	ID          string
	Start, End  int
	Time, Dist  [][]float64
	Skills      [][]string
	Capacities  map[string]float64
	TWStart     float64
	TWEnd       float64 // 0 = open
	MaxDuration float64 // 0 = unbounded
	CostFixed   float64
	CostTime    float64
	CostDist    float64
}

type Problem struct {
	Nodes                   []Node
	Vehicles                []Vehicle
	VehicleLimit            int           // 0 = all vehicles
	Seed                    []RoutePlan   // warm start, node indices per vehicle
	IterationsLimit         int           // optional iteration cap
	MinDuration             time.Duration // search may stop on stall only after this
	StallIterations         int           // iterations without improvement before stopping
	InitialTemp             float64       // initial temperature for SA
	Cooling                 float64       // cooling factor per iteration
	InitialRemovalWeights   []float64     // [random, shaw]
	InitialInsertionWeights []float64     // [greedy, regret2]
	OnIteration             func(iteration int, best Solution)

	compat [][]bool // [vehicle][node]
}

type RoutePlan struct {
	VehicleID string
	Order     []int // indices into Nodes
}

type Solution struct {
	Plans      []RoutePlan
	Unassigned []int
	Cost       float64
}

type Metrics struct {
	RemovalSelects        [2]int // random, shaw
	InsertSelects         [2]int // greedy, regret2
	Iterations            int
	Improvements          int
	AcceptedWorse         int
	BestCost              float64
	FinalCost             float64
	FinalRemovalWeights   [2]float64
	FinalInsertionWeights [2]float64
	Snapshots             []WeightSnapshot
}

type WeightSnapshot struct {
	Iteration int
	Removal   [2]float64
	Insertion [2]float64
}

// planStats are the schedule figures of one route.
type planStats struct {
	dist   float64
	end    float64
	begins []float64
}

// unassignedPenalty applies to services without an exclusion cost.
const unassignedPenalty = 1e7

// Solve runs an ALNS search with random/shaw removal, greedy/regret insertion and
// intra/inter-route local search. It returns ctx.Err() when cancelled.
func Solve(ctx context.Context, p Problem, seed int64, timeBudget time.Duration) (Solution, Metrics, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	p.prepare()
	started := time.Now()

	curr := greedySeed(p)
	best := curr
	m := Metrics{BestCost: best.Cost}
	if err := ctx.Err(); err != nil {
		return Solution{}, m, err
	}
	if len(p.Nodes) == 0 || len(p.Vehicles) == 0 {
		m.FinalCost = best.Cost
		return best, m, nil
	}
	// operator weights (removal + insertion)
	remW := []float64{1, 1} // random, shaw
	insW := []float64{1, 1} // greedy, regret2
	if len(p.InitialRemovalWeights) == 2 {
		remW = []float64{p.InitialRemovalWeights[0], p.InitialRemovalWeights[1]}
	}
	if len(p.InitialInsertionWeights) == 2 {
		insW = []float64{p.InitialInsertionWeights[0], p.InitialInsertionWeights[1]}
	}
	temp := 1.0
	if p.InitialTemp > 0 {
		temp = p.InitialTemp
	}
	cool := 0.995
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}
	stall := p.StallIterations
	if stall <= 0 {
		stall = 500
	}
	sinceImprove := 0
	deadline := started.Add(timeBudget)
	snapshotEvery := 50
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Solution{}, m, err
		}
		m.Iterations++
		if p.IterationsLimit > 0 && m.Iterations > p.IterationsLimit {
			break
		}
		if sinceImprove >= stall && time.Since(started) >= p.MinDuration {
			break
		}
		k := 1 + rng.Intn(3)
		// select operators by roulette wheel
		op := selectOp(remW, rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW, rng)
		m.InsertSelects[ip]++
		var removedIdx []int
		switch op {
		case 0:
			removedIdx = pickRandomNodes(curr, k, rng)
		case 1:
			removedIdx = shawRemoval(p, curr, k, rng)
		}
		cand := removeNodes(curr, removedIdx)
		switch ip {
		case 0:
			cand = greedyInsert(p, cand, removedIdx)
		case 1:
			cand = regretInsert(p, cand, removedIdx)
		}
		// previously unplaced services get another chance every iteration
		cand = cheapestInsert(p, cand, curr.Unassigned)
		// local improvements per iteration
		cand = twoOptImprove(p, cand)
		cand = crossExchangeImprove(p, cand)
		cand = twoOptStarImprove(p, cand) // inter-route segment swaps
		cand.Cost = cost(p, cand)
		// acceptance criterion (simulated annealing-like)
		delta := cand.Cost - curr.Cost
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = cand
			if curr.Cost+1e-9 < best.Cost {
				best = curr
				remW[op] += 0.1
				insW[ip] += 0.1
				m.Improvements++
				m.BestCost = best.Cost
				sinceImprove = 0
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				m.AcceptedWorse++
				sinceImprove++
			}
		} else {
			// slight penalty for non-acceptance
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
			sinceImprove++
		}
		temp *= cool
		// snapshot weights
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: [2]float64{remW[0], remW[1]}, Insertion: [2]float64{insW[0], insW[1]}})
		}
		if p.OnIteration != nil && m.Iterations%100 == 0 {
			p.OnIteration(m.Iterations, best)
		}
	}
	best = orOptLocalImprove(p, best)
	if err := ctx.Err(); err != nil {
		return Solution{}, m, err
	}
	m.BestCost = best.Cost
	m.FinalCost = best.Cost
	m.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	m.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	return best, m, nil
}

func (p *Problem) prepare() {
	p.compat = make([][]bool, len(p.Vehicles))
	for vi, v := range p.Vehicles {
		row := make([]bool, len(p.Nodes))
		for ni, n := range p.Nodes {
			row[ni] = skillsMatch(v.Skills, n.Skills) && stickyMatch(n.Sticky, v.ID)
		}
		p.compat[vi] = row
	}
}

func skillsMatch(groups [][]string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, g := range groups {
		have := map[string]bool{}
		for _, s := range g {
			have[s] = true
		}
		ok := true
		for _, r := range required {
			if !have[r] {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func stickyMatch(sticky []string, vehicleID string) bool {
	if len(sticky) == 0 {
		return true
	}
	for _, id := range sticky {
		if id == vehicleID {
			return true
		}
	}
	return false
}

func usedVehicles(sol Solution) int {
	n := 0
	for _, pl := range sol.Plans {
		if len(pl.Order) > 0 {
			n++
		}
	}
	return n
}

// canOpen reports whether one more vehicle may start a route.
func canOpen(p Problem, sol Solution) bool {
	return p.VehicleLimit <= 0 || usedVehicles(sol) < p.VehicleLimit
}

// greedySeed replays warm-start routes where feasible and inserts the rest by cheapest insertion.
func greedySeed(p Problem) Solution {
	plans := make([]RoutePlan, len(p.Vehicles))
	for vi := range plans {
		plans[vi] = RoutePlan{VehicleID: p.Vehicles[vi].ID, Order: []int{}}
	}
	sol := Solution{Plans: plans}
	byID := map[string]int{}
	for vi, v := range p.Vehicles {
		byID[v.ID] = vi
	}
	placed := make([]bool, len(p.Nodes))
	for _, h := range p.Seed {
		vi, ok := byID[h.VehicleID]
		if !ok || len(sol.Plans[vi].Order) > 0 {
			continue
		}
		for _, idx := range h.Order {
			if idx < 0 || idx >= len(p.Nodes) || placed[idx] || !p.compat[vi][idx] {
				continue
			}
			if len(sol.Plans[vi].Order) == 0 && !canOpen(p, sol) {
				break
			}
			tmp := insertAt(sol.Plans[vi].Order, idx, len(sol.Plans[vi].Order))
			if _, ok := schedulePlan(p, tmp, vi); ok {
				sol.Plans[vi].Order = tmp
				placed[idx] = true
			}
		}
	}
	rest := []int{}
	for i := range p.Nodes {
		if !placed[i] {
			rest = append(rest, i)
		}
	}
	sol = cheapestInsert(p, sol, rest)
	sol.Cost = cost(p, sol)
	return sol
}

func pickRandomNodes(sol Solution, k int, rng *rand.Rand) []int {
	all := []int{}
	for _, pl := range sol.Plans {
		all = append(all, pl.Order...)
	}
	if len(all) == 0 {
		return nil
	}
	removed := []int{}
	for i := 0; i < k && len(all) > 0; i++ {
		j := rng.Intn(len(all))
		removed = append(removed, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return removed
}

// removeNodes drops removed nodes from the plans. The result carries no unassigned list:
// callers reinsert both the removed nodes and the previous unassigned ones.
func removeNodes(sol Solution, removed []int) Solution {
	rm := map[int]bool{}
	for _, i := range removed {
		rm[i] = true
	}
	out := Solution{Plans: make([]RoutePlan, len(sol.Plans))}
	for i := range sol.Plans {
		out.Plans[i].VehicleID = sol.Plans[i].VehicleID
		out.Plans[i].Order = []int{}
		for _, idx := range sol.Plans[i].Order {
			if !rm[idx] {
				out.Plans[i].Order = append(out.Plans[i].Order, idx)
			}
		}
	}
	return out
}

// bestPosition finds the cheapest feasible insertion of idx over all vehicles.
// It returns the best and second best deltas for regret computation.
func bestPosition(p Problem, sol Solution, idx int, open bool) (vi, pos int, best1, best2 float64) {
	vi, pos = -1, -1
	best1, best2 = math.MaxFloat64, math.MaxFloat64
	for v, pl := range sol.Plans {
		if !p.compat[v][idx] {
			continue
		}
		if len(pl.Order) == 0 && !open {
			continue
		}
		base, ok := planCostOf(p, pl.Order, v)
		if !ok {
			continue
		}
		for at := 0; at <= len(pl.Order); at++ {
			c, ok := planCostOf(p, insertAt(pl.Order, idx, at), v)
			if !ok {
				continue
			}
			d := c - base
			if d < best1 {
				best2 = best1
				best1 = d
				vi, pos = v, at
			} else if d < best2 {
				best2 = d
			}
		}
	}
	return vi, pos, best1, best2
}

func regretInsert(p Problem, sol Solution, removed []int) Solution {
	nodes := append([]int(nil), removed...)
	for len(nodes) > 0 {
		bestNode, bestPlan, bestPos := -1, -1, -1
		bestRegret := -1.0
		open := canOpen(p, sol)
		for ni, idx := range nodes {
			v, at, b1, b2 := bestPosition(p, sol, idx, open)
			if v < 0 {
				continue
			}
			regret := b2 - b1
			if b2 == math.MaxFloat64 {
				// a single option left: place it first
				regret = math.MaxFloat64
			}
			if regret > bestRegret {
				bestRegret = regret
				bestNode, bestPlan, bestPos = ni, v, at
			}
		}
		if bestNode == -1 {
			sol.Unassigned = append(sol.Unassigned, nodes...)
			break
		}
		pl := &sol.Plans[bestPlan]
		pl.Order = insertAt(pl.Order, nodes[bestNode], bestPos)
		nodes = append(nodes[:bestNode], nodes[bestNode+1:]...)
	}
	sol.Cost = cost(p, sol)
	return sol
}

// greedyInsert inserts nodes by cheapest feasible insertion, best node first.
func greedyInsert(p Problem, sol Solution, removed []int) Solution {
	nodes := append([]int(nil), removed...)
	for len(nodes) > 0 {
		bestPlan, bestPos, bestNode := -1, -1, 0
		bestCost := math.MaxFloat64
		open := canOpen(p, sol)
		for ni, idx := range nodes {
			v, at, c, _ := bestPosition(p, sol, idx, open)
			if v >= 0 && c < bestCost {
				bestCost = c
				bestPlan, bestPos, bestNode = v, at, ni
			}
		}
		if bestPlan == -1 {
			sol.Unassigned = append(sol.Unassigned, nodes...)
			break
		}
		pl := &sol.Plans[bestPlan]
		pl.Order = insertAt(pl.Order, nodes[bestNode], bestPos)
		nodes = append(nodes[:bestNode], nodes[bestNode+1:]...)
	}
	sol.Cost = cost(p, sol)
	return sol
}

// cheapestInsert places nodes one after another in the given order at their cheapest position.
func cheapestInsert(p Problem, sol Solution, nodes []int) Solution {
	for _, idx := range nodes {
		v, at, _, _ := bestPosition(p, sol, idx, canOpen(p, sol))
		if v < 0 {
			sol.Unassigned = append(sol.Unassigned, idx)
			continue
		}
		sol.Plans[v].Order = insertAt(sol.Plans[v].Order, idx, at)
	}
	return sol
}

func insertAt(order []int, idx, pos int) []int {
	out := make([]int, 0, len(order)+1)
	out = append(out, order[:pos]...)
	out = append(out, idx)
	out = append(out, order[pos:]...)
	return out
}

func cost(p Problem, s Solution) float64 {
	total := 0.0
	for vi, pl := range s.Plans {
		c, ok := planCostOf(p, pl.Order, vi)
		if !ok {
			c = unassignedPenalty * float64(len(pl.Order))
		}
		total += c
	}
	for _, idx := range s.Unassigned {
		if e := p.Nodes[idx].Exclusion; e > 0 {
			total += e
		} else {
			total += unassignedPenalty
		}
	}
	return total
}

func planCostOf(p Problem, order []int, vi int) (float64, bool) {
	if len(order) == 0 {
		return 0, true
	}
	st, ok := schedulePlan(p, order, vi)
	if !ok {
		return 0, false
	}
	v := p.Vehicles[vi]
	return v.CostFixed + v.CostTime*(st.end-v.TWStart) + v.CostDist*st.dist, true
}

func travel(v Vehicle, from, to int) (float64, float64) {
	if from < 0 || to < 0 {
		return 0, 0
	}
	t, d := 0.0, 0.0
	if from < len(v.Time) && to < len(v.Time[from]) {
		t = v.Time[from][to]
	}
	if from < len(v.Dist) && to < len(v.Dist[from]) {
		d = v.Dist[from][to]
	}
	return t, d
}

// earliestStart returns the first feasible service start at or after arrival.
func earliestStart(tws []model.Timewindow, arrival float64) (float64, bool) {
	if len(tws) == 0 {
		return arrival, true
	}
	for _, tw := range tws {
		if tw.End > 0 && arrival > tw.End {
			continue
		}
		return math.Max(arrival, tw.Start), true
	}
	return 0, false
}

// schedulePlan propagates arrival times, time windows and loads along a route.
func schedulePlan(p Problem, order []int, vi int) (planStats, bool) {
	v := p.Vehicles[vi]
	st := planStats{begins: make([]float64, len(order))}
	t := v.TWStart
	cur := v.Start
	var loads map[string]float64
	if len(v.Capacities) > 0 {
		loads = make(map[string]float64, len(v.Capacities))
	}
	for i, idx := range order {
		nd := p.Nodes[idx]
		tt, dd := travel(v, cur, nd.Index)
		t += tt
		st.dist += dd
		begin, ok := earliestStart(nd.TWs, t)
		if !ok {
			return st, false
		}
		st.begins[i] = begin
		t = begin + nd.ServiceSec
		if loads != nil {
			for _, q := range nd.Quantities {
				limit, bounded := v.Capacities[q.UnitID]
				if !bounded {
					continue
				}
				if q.Fill || q.Empty {
					loads[q.UnitID] = 0
					continue
				}
				loads[q.UnitID] += q.Value
				if loads[q.UnitID] > limit+1e-9 {
					return st, false
				}
			}
		}
		cur = nd.Index
	}
	tt, dd := travel(v, cur, v.End)
	t += tt
	st.dist += dd
	st.end = t
	if v.TWEnd > 0 && t > v.TWEnd {
		return st, false
	}
	if v.MaxDuration > 0 && t-v.TWStart > v.MaxDuration {
		return st, false
	}
	return st, true
}

// orOptLocalImprove attempts relocating single nodes within each plan if it reduces cost and remains feasible.
func orOptLocalImprove(p Problem, sol Solution) Solution {
	for vi := range sol.Plans {
		improved := true
		for improved {
			improved = false
			pl := sol.Plans[vi]
			base, ok := planCostOf(p, pl.Order, vi)
			if !ok {
				break
			}
			for i := 0; i < len(pl.Order) && !improved; i++ {
				rest := append(append([]int(nil), pl.Order[:i]...), pl.Order[i+1:]...)
				for j := 0; j <= len(rest); j++ {
					if j == i {
						continue
					}
					cand := insertAt(rest, pl.Order[i], j)
					if c, ok := planCostOf(p, cand, vi); ok && c+1e-6 < base {
						sol.Plans[vi].Order = cand
						improved = true
						break
					}
				}
			}
		}
	}
	sol.Cost = cost(p, sol)
	return sol
}

// twoOptImprove applies 2-opt within each plan when feasible
func twoOptImprove(p Problem, sol Solution) Solution {
	for vi := range sol.Plans {
		pl := sol.Plans[vi]
		n := len(pl.Order)
		c1, ok := planCostOf(p, pl.Order, vi)
		if !ok {
			continue
		}
		improved := true
		for improved {
			improved = false
			for i := 0; i < n-1; i++ {
				for k := i + 1; k < n; k++ {
					cand := append([]int(nil), pl.Order...)
					// reverse segment [i,k]
					for a, b := i, k; a < b; a, b = a+1, b-1 {
						cand[a], cand[b] = cand[b], cand[a]
					}
					c2, ok := planCostOf(p, cand, vi)
					if ok && c2+1e-6 < c1 {
						pl.Order = cand
						c1 = c2
						improved = true
					}
				}
			}
		}
		sol.Plans[vi] = pl
	}
	sol.Cost = cost(p, sol)
	return sol
}

// crossExchangeImprove swaps nodes between routes if cost decreases and feasible
func crossExchangeImprove(p Problem, sol Solution) Solution {
	m := len(sol.Plans)
	if m < 2 {
		return sol
	}
	improved := true
	for improved {
		improved = false
		for a := 0; a < m; a++ {
			for b := a + 1; b < m; b++ {
				pa := sol.Plans[a]
				pb := sol.Plans[b]
				ca0, okA := planCostOf(p, pa.Order, a)
				cb0, okB := planCostOf(p, pb.Order, b)
				if !okA || !okB {
					continue
				}
				before := ca0 + cb0
				for i := 0; i < len(pa.Order); i++ {
					for j := 0; j < len(pb.Order); j++ {
						if !p.compat[a][pb.Order[j]] || !p.compat[b][pa.Order[i]] {
							continue
						}
						ca := append([]int(nil), pa.Order...)
						cb := append([]int(nil), pb.Order...)
						ca[i], cb[j] = cb[j], ca[i]
						c1, ok := planCostOf(p, ca, a)
						if !ok {
							continue
						}
						c2, ok := planCostOf(p, cb, b)
						if !ok {
							continue
						}
						if c1+c2+1e-6 < before {
							sol.Plans[a].Order = ca
							sol.Plans[b].Order = cb
							pa, pb = sol.Plans[a], sol.Plans[b]
							before = c1 + c2
							improved = true
						}
					}
				}
			}
		}
	}
	sol.Cost = cost(p, sol)
	return sol
}

// twoOptStarImprove performs inter-route segment exchanges (2-opt*) limited to segment length 1..2
func twoOptStarImprove(p Problem, sol Solution) Solution {
	m := len(sol.Plans)
	if m < 2 {
		return sol
	}
	improved := true
	for improved {
		improved = false
		for a := 0; a < m; a++ {
			for b := a + 1; b < m; b++ {
				pa := sol.Plans[a]
				pb := sol.Plans[b]
				ca0, okA := planCostOf(p, pa.Order, a)
				cb0, okB := planCostOf(p, pb.Order, b)
				if !okA || !okB {
					continue
				}
				before := ca0 + cb0
			scan:
				for i := 0; i < len(pa.Order); i++ {
					for j := 0; j < len(pb.Order); j++ {
						for la := 1; la <= 2 && i+la <= len(pa.Order); la++ {
							for lb := 1; lb <= 2 && j+lb <= len(pb.Order); lb++ {
								segA := pa.Order[i : i+la]
								segB := pb.Order[j : j+lb]
								if !allCompat(p, b, segA) || !allCompat(p, a, segB) {
									continue
								}
								ca := append(append(append([]int(nil), pa.Order[:i]...), segB...), pa.Order[i+la:]...)
								cb := append(append(append([]int(nil), pb.Order[:j]...), segA...), pb.Order[j+lb:]...)
								c1, ok := planCostOf(p, ca, a)
								if !ok {
									continue
								}
								c2, ok := planCostOf(p, cb, b)
								if !ok {
									continue
								}
								if c1+c2+1e-6 < before {
									sol.Plans[a].Order = ca
									sol.Plans[b].Order = cb
									improved = true
									break scan
								}
							}
						}
					}
				}
			}
		}
	}
	sol.Cost = cost(p, sol)
	return sol
}

func allCompat(p Problem, vi int, nodes []int) bool {
	for _, n := range nodes {
		if !p.compat[vi][n] {
			return false
		}
	}
	return true
}

// shawRemoval selects k nodes related by travel time and time windows.
func shawRemoval(p Problem, sol Solution, k int, rng *rand.Rand) []int {
	// pick a random seed node from current assignment
	assigned := []int{}
	for _, pl := range sol.Plans {
		assigned = append(assigned, pl.Order...)
	}
	if len(assigned) == 0 {
		return nil
	}
	seedIdx := assigned[rng.Intn(len(assigned))]
	type pair struct {
		idx   int
		score float64
	}
	rel := []pair{}
	sN := p.Nodes[seedIdx]
	ref := p.Vehicles[0]
	for _, idx := range assigned {
		if idx == seedIdx {
			continue
		}
		n := p.Nodes[idx]
		t, _ := travel(ref, sN.Index, n.Index)
		score := t + math.Abs(twStart(sN)-twStart(n))
		rel = append(rel, pair{idx: idx, score: score})
	}
	sort.Slice(rel, func(i, j int) bool { return rel[i].score < rel[j].score })
	removed := []int{seedIdx}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].idx)
	}
	return removed
}

func twStart(n Node) float64 {
	if len(n.TWs) == 0 {
		return 0
	}
	return n.TWs[0].Start
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
