package dicho

import (
	"context"
	"fmt"
	"log"
	"math"

	"vrpdicho/internal/model"
	"vrpdicho/internal/vrp"
)

// split bisects inst into two children, retrying degenerate clusterings. It returns nil
// children when no two-way split could be found, and ctx.Err() when cancelled.
func (r *run) split(ctx context.Context, inst *model.Instance) ([]*model.Instance, error) {
	p := inst.Problem
	if p.Resolution.VehicleLimit <= 0 {
		p.Resolution.VehicleLimit = len(p.Vehicles)
	}
	for try := 1; try <= r.opts.MaxSplitAttempts; try++ {
		opts := r.opts.Cluster
		opts.Seed = r.rng.Int63() + 1
		clusters, err := r.clusterer.Cluster(ctx, inst, 2, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[dicho] level %d: clustering failed: %v", inst.Level, err)
			return nil, nil
		}
		if len(clusters) > 2 {
			return nil, fmt.Errorf("%w: got %d", ErrClusterContract, len(clusters))
		}
		if len(clusters) == 2 && len(clusters[0]) > 0 && len(clusters[1]) > 0 {
			children := buildChildren(inst, clusters[0], clusters[1])
			if p.Configuration.DebugOutputClusters && r.Sink != nil {
				r.Sink(inst, children)
			}
			return children, nil
		}
		if vrp.OnlyOnePoint(p) {
			break
		}
	}
	log.Printf("[dicho] level %d: no two-way split of %d services", inst.Level, len(p.Services))
	return nil, nil
}

// buildChildren materialises one sub-instance per cluster. Cluster 0 always gets at least as
// many vehicles as cluster 1.
func buildChildren(inst *model.Instance, c0, c1 []*model.Service) []*model.Instance {
	p := inst.Problem
	clusters := [2][]*model.Service{c0, c1}
	vehicles := SplitVehicles(p.Vehicles, c0, c1)
	if len(vehicles[1]) > len(vehicles[0]) {
		clusters[0], clusters[1] = clusters[1], clusters[0]
		vehicles[0], vehicles[1] = vehicles[1], vehicles[0]
	}
	children := make([]*model.Instance, 2)
	for i := range clusters {
		child := vrp.BuildPartialInstance(inst, serviceIDs(clusters[i]), vehicleIDs(vehicles[i]))
		cr := &child.Problem.Resolution
		limit := len(child.Problem.Vehicles)
		if len(p.Vehicles) > 0 {
			share := int(math.Ceil(float64(limit) / float64(len(p.Vehicles)) * float64(p.Resolution.VehicleLimit)))
			limit = min(limit, share)
		}
		cr.VehicleLimit = limit
		cr.SplitNumber += i
		cr.TotalSplitNumber++
		child.Level = inst.Level + 1
		children[i] = child
	}
	return children
}

// LogClusters is the default ClusterSink.
func LogClusters(parent *model.Instance, children []*model.Instance) {
	for i, c := range children {
		log.Printf("[dicho] level %d split %d/%d: cluster %d has %d services, %d vehicles",
			parent.Level, c.Problem.Resolution.SplitNumber, c.Problem.Resolution.TotalSplitNumber, i, len(c.Problem.Services), len(c.Problem.Vehicles))
	}
}

func serviceIDs(services []*model.Service) []string {
	out := make([]string, len(services))
	for i, s := range services {
		out[i] = s.ID
	}
	return out
}

func vehicleIDs(vehicles []*model.Vehicle) []string {
	out := make([]string, len(vehicles))
	for i, v := range vehicles {
		out[i] = v.ID
	}
	return out
}
