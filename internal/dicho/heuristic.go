package dicho

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"vrpdicho/internal/cluster"
	"vrpdicho/internal/metrics"
	"vrpdicho/internal/model"
	"vrpdicho/internal/vrp"
)

const (
	ReasonNoSolution = "no solution found in dicho sub_problem"
	ReasonSkills     = "vehicle does not satisfy required skills"
)

// Progress stages reported on the job.
const (
	StageStart  = "dicho.start"
	StageSplit  = "dicho.split"
	StageChild  = "dicho.child"
	StageMerge  = "dicho.merge"
	StageRepair = "dicho.repair"
	StageDone   = "dicho.done"
)

// Solver runs an optimizer on one instance. A nil result or an error both mean no solution.
type Solver interface {
	Solve(ctx context.Context, inst *model.Instance, job *model.Job) (*model.Result, error)
}

// Clusterer partitions the services of an instance into at most k groups.
type Clusterer interface {
	Cluster(ctx context.Context, inst *model.Instance, k int, opts cluster.Options) ([][]*model.Service, error)
}

// ClusterSink receives the children of every split of an instance asking for debug output.
type ClusterSink func(parent *model.Instance, children []*model.Instance)

type Decomposer struct {
	solver    Solver
	clusterer Clusterer
	opts      Options
	Sink      ClusterSink
}

func New(solver Solver, clusterer Clusterer, opts Options) *Decomposer {
	return &Decomposer{solver: solver, clusterer: clusterer, opts: opts.withDefaults(), Sink: LogClusters}
}

// outcome of a decomposition attempt on one instance.
type outcome int

const (
	notCandidate outcome = iota
	unsolved
	solved
)

type attempt struct {
	outcome outcome
	result  *model.Result
}

func settle(res *model.Result) attempt {
	if res == nil {
		return attempt{outcome: unsolved}
	}
	return attempt{outcome: solved, result: res}
}

// run carries the per-call state shared by every recursion frame.
type run struct {
	*Decomposer
	job *model.Job
	rng *rand.Rand
}

// Run solves inst, decomposing it when it qualifies, and returns a result accounting for every
// service exactly once. The caller's instance is not modified. Errors are fatal: a clusterer
// contract violation or a *ConservationError. Once ctx is done no further solve starts and
// every branch left unsolved reports its services with ReasonNoSolution.
func (d *Decomposer) Run(ctx context.Context, inst *model.Instance, job *model.Job) (*model.Result, error) {
	started := time.Now()
	seed := d.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := &run{Decomposer: d, job: job, rng: rand.New(rand.NewSource(seed))}

	work := &model.Instance{Problem: inst.Problem.Clone(), Level: inst.Level}
	for i, m := range work.Problem.Matrices {
		c := *m
		work.Problem.Matrices[i] = &c
	}
	job.Report(model.Progress{Stage: StageStart, Level: inst.Level, Services: len(inst.Problem.Services)})

	res, err := r.process(ctx, work)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &model.Result{Routes: []model.Route{}, Unassigned: noSolution(work.Problem.Services, nil)}
	}
	if err := checkConservation("decomposition", inst.Level, inst.Problem, res); err != nil {
		return nil, err
	}
	metrics.DichoUnassigned.Observe(float64(len(res.Unassigned)))
	metrics.DichoSolveDuration.WithLabelValues("run").Observe(time.Since(started).Seconds())
	job.Report(model.Progress{Stage: StageDone, Level: inst.Level, Services: len(inst.Problem.Services), Unassigned: len(res.Unassigned)})
	return res, nil
}

// process decomposes inst when possible and otherwise solves it as is. A nil result means
// no solution.
func (r *run) process(ctx context.Context, inst *model.Instance) (*model.Result, error) {
	a, err := r.heuristic(ctx, inst)
	if err != nil {
		return nil, err
	}
	if a.outcome == solved {
		return a.result, nil
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	return r.solve(ctx, inst, "direct"), nil
}

func (r *run) heuristic(ctx context.Context, inst *model.Instance) (attempt, error) {
	p := inst.Problem
	if !Candidate(inst, r.opts) {
		p.Resolution.InitDuration = 0
		return attempt{outcome: notCandidate}, nil
	}
	started := time.Now()
	limit := divisionLimit(p, r.opts)
	configure(inst, limit)

	var direct *model.Result
	if inst.Level == 0 {
		// the root never solves directly: matrices must be complete to move vehicles between halves
		if err := vrp.ComputeMatrices(p, r.opts.SpeedKph); err != nil {
			return attempt{}, fmt.Errorf("dicho: compute matrices: %w", err)
		}
		p.Services = vrp.DefaultExclusionCosts(p)
	} else {
		p.Services = EscalateExclusionCosts(vrp.DefaultExclusionCosts(p), inst.Level, p.Resolution.DichoLevelCoeff)
		if p.Resolution.InitDuration == 0 || vrp.OnlyOnePoint(p) {
			direct = r.solve(ctx, inst, "level")
		}
	}
	if !r.shouldDecompose(p, direct, limit) {
		return settle(direct), nil
	}
	res, err := r.decompose(ctx, inst, direct, time.Since(started))
	if err != nil {
		return attempt{}, err
	}
	return settle(res), nil
}

// shouldDecompose holds when the direct result is missing or mostly unassigned for
// unexplained reasons and the instance is still large and spread over several points.
func (r *run) shouldDecompose(p *model.Problem, res *model.Result, limit int) bool {
	n := len(p.Services)
	if res != nil && float64(len(res.Unassigned)) < r.opts.UnassignedRatio*float64(n) {
		return false
	}
	if !worthSplitting(res, n) {
		return false
	}
	return len(p.Vehicles) > limit && n > r.opts.MinSplitServices && !vrp.OnlyOnePoint(p)
}

// worthSplitting is false only for a result that left everything unassigned with an explicit
// reason each time: splitting would not change those reasons.
func worthSplitting(res *model.Result, services int) bool {
	if res == nil || len(res.Unassigned) != services {
		return true
	}
	for _, u := range res.Unassigned {
		if u.Reason == "" {
			return true
		}
	}
	return false
}

func (r *run) decompose(ctx context.Context, inst *model.Instance, direct *model.Result, prep time.Duration) (*model.Result, error) {
	p := inst.Problem
	children, err := r.split(ctx, inst)
	if cancelled(err) {
		log.Printf("[dicho] level %d: cancelled while splitting", inst.Level)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if children == nil {
		return direct, nil
	}
	metrics.DichoSplits.WithLabelValues(strconv.Itoa(inst.Level)).Inc()
	r.job.Report(model.Progress{Stage: StageSplit, Level: inst.Level, Services: len(p.Services)})

	a, b := children[0], children[1]
	fills := fillOrEmptyServices(p.Services)
	parentCount := len(p.Services)
	var synthetic []model.Unassigned

	scaleDurations(a, parentCount)
	addServices(p, a.Problem, fills)
	r.job.Report(model.Progress{Stage: StageChild, Level: a.Level, Services: len(a.Problem.Services)})
	res0, err := r.process(ctx, a)
	if err != nil {
		return nil, err
	}
	hand := fillHandOff{Remaining: fills}
	if res0 != nil {
		hand = handOffFills(fills, res0)
		res0.Unassigned = dropUnassigned(res0.Unassigned, serviceIDs(hand.Remaining))
		if n := transferIdleVehicles(p, res0, a.Problem, b.Problem); n > 0 {
			log.Printf("[dicho] level %d: moved %d idle vehicles to second half", inst.Level, n)
		}
	} else {
		synthetic = append(synthetic, noSolution(a.Problem.Services, fills)...)
	}

	b.Problem.Resolution.SplitNumber = a.Problem.Resolution.SplitNumber + 1
	b.Problem.Resolution.TotalSplitNumber = a.Problem.Resolution.TotalSplitNumber
	scaleDurations(b, parentCount)
	removeServices(b.Problem, serviceIDs(hand.Used))
	addServices(p, b.Problem, hand.Remaining)
	r.job.Report(model.Progress{Stage: StageChild, Level: b.Level, Services: len(b.Problem.Services)})
	res1, err := r.process(ctx, b)
	if err != nil {
		return nil, err
	}
	if res1 == nil {
		synthetic = append(synthetic, noSolution(b.Problem.Services, nil)...)
	}
	p.Resolution.SplitNumber = b.Problem.Resolution.SplitNumber
	p.Resolution.TotalSplitNumber = b.Problem.Resolution.TotalSplitNumber

	merged := vrp.MergeResults(res0, res1)
	merged.Unassigned = append(merged.Unassigned, synthetic...)
	merged.Elapsed += float64(prep.Milliseconds())
	r.report(StageMerge, inst, merged)
	if err := r.check("merge", inst, merged); err != nil {
		return nil, err
	}

	if n := StripSkillViolations(p, merged); n > 0 {
		log.Printf("[dicho] level %d: %d services removed from vehicles lacking their skills", inst.Level, n)
	}
	if err := r.check("skill stripping", inst, merged); err != nil {
		return nil, err
	}
	vrp.RemoveEmptyRoutes(merged)
	if err := r.check("empty route removal", inst, merged); err != nil {
		return nil, err
	}
	r.repair(ctx, inst, merged)
	if err := r.check("repair", inst, merged); err != nil {
		return nil, err
	}
	vrp.RemoveEmptyRoutes(merged)
	if err := r.check("empty route removal after repair", inst, merged); err != nil {
		return nil, err
	}
	if inst.Level == 0 {
		if n := vrp.RemovePoorlyPopulatedRoutes(p, merged, r.opts.PoorlyPopulatedRatio); n > 0 {
			log.Printf("[dicho] dissolved %d poorly populated routes", n)
		}
		if err := r.check("poorly populated route removal", inst, merged); err != nil {
			return nil, err
		}
	}
	log.Printf("[dicho] level %d: %d/%d services unassigned", inst.Level, len(merged.Unassigned), len(p.Services))
	return merged, nil
}

// solve calls the solver; failures, cancellation included, are logged and yield nil.
func (r *run) solve(ctx context.Context, inst *model.Instance, stage string) *model.Result {
	if ctx.Err() != nil {
		return nil
	}
	start := time.Now()
	res, err := r.solver.Solve(ctx, inst, r.job)
	metrics.DichoSolveDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("[dicho] level %d: solve of %d services failed: %v", inst.Level, len(inst.Problem.Services), err)
		return nil
	}
	return res
}

func (r *run) check(stage string, inst *model.Instance, res *model.Result) error {
	if err := checkConservation(stage, inst.Level, inst.Problem, res); err != nil {
		log.Printf("[dicho] %v", err)
		return err
	}
	return nil
}

func (r *run) report(stage string, inst *model.Instance, res *model.Result) {
	r.job.Report(model.Progress{Stage: stage, Level: inst.Level, Services: len(inst.Problem.Services), Unassigned: len(res.Unassigned)})
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// noSolution lists services as unassigned for lack of a sub-problem solution, skipping exclude.
func noSolution(services, exclude []*model.Service) []model.Unassigned {
	skip := map[string]bool{}
	for _, s := range exclude {
		skip[s.ID] = true
	}
	out := []model.Unassigned{}
	for _, s := range services {
		if skip[s.ID] {
			continue
		}
		out = append(out, model.Unassigned{ServiceID: s.ID, PointID: s.Activity.PointID, Reason: ReasonNoSolution})
	}
	return out
}
