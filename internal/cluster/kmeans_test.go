package cluster

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdicho/internal/model"
)

type site struct {
	prefix   string
	lat, lon float64
	n        int
}

func instanceAt(sites ...site) *model.Instance {
	p := &model.Problem{}
	for _, s := range sites {
		for i := 0; i < s.n; i++ {
			id := fmt.Sprintf("%s%d", s.prefix, i)
			p.Points = append(p.Points, &model.Point{ID: id, Location: &model.Location{Lat: s.lat + float64(i)*0.001, Lon: s.lon}})
			p.Services = append(p.Services, &model.Service{ID: id, Activity: model.Activity{PointID: id, Duration: 60}})
		}
	}
	return &model.Instance{Problem: p}
}

func defaultOpts() Options {
	return Options{MaxIterations: 50, Restarts: 3, CutSymbol: CutDuration, Seed: 42}
}

func TestClusterSeparatesDistantSites(t *testing.T) {
	inst := instanceAt(site{"paris", 48.85, 2.35, 10}, site{"lyon", 45.76, 4.83, 10})
	groups, err := NewKMeans().Cluster(context.Background(), inst, 2, defaultOpts())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		require.Len(t, g, 10)
		prefix := "paris"
		if strings.HasPrefix(g[0].ID, "lyon") {
			prefix = "lyon"
		}
		for _, s := range g {
			assert.True(t, strings.HasPrefix(s.ID, prefix), s.ID)
		}
	}
}

func TestClusterKeepsSharedPointsTogether(t *testing.T) {
	inst := instanceAt(site{"a", 48.85, 2.35, 6}, site{"b", 45.76, 4.83, 6})
	p := inst.Problem
	for i := 0; i < 3; i++ {
		p.Services = append(p.Services, &model.Service{ID: fmt.Sprintf("dup%d", i), Activity: model.Activity{PointID: "a0", Duration: 60}})
	}
	groups, err := NewKMeans().Cluster(context.Background(), inst, 2, defaultOpts())
	require.NoError(t, err)

	where := map[string]int{}
	total := 0
	for gi, g := range groups {
		for _, s := range g {
			where[s.ID] = gi
			total++
		}
	}
	assert.Equal(t, len(p.Services), total)
	for i := 0; i < 3; i++ {
		assert.Equal(t, where["a0"], where[fmt.Sprintf("dup%d", i)])
	}
}

func TestClusterBalancesVisits(t *testing.T) {
	inst := instanceAt(site{"s", 48.0, 2.0, 20})
	opts := defaultOpts()
	opts.CutSymbol = CutVisits
	groups, err := NewKMeans().Cluster(context.Background(), inst, 2, opts)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.InDelta(t, 10, len(g), 1)
	}
}

func TestClusterSingleGroup(t *testing.T) {
	inst := instanceAt(site{"s", 48.0, 2.0, 5})
	groups, err := NewKMeans().Cluster(context.Background(), inst, 1, defaultOpts())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 5)

	one := instanceAt(site{"x", 48.0, 2.0, 1})
	groups, err = NewKMeans().Cluster(context.Background(), one, 2, defaultOpts())
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestClusterMissingLocation(t *testing.T) {
	inst := instanceAt(site{"s", 48.0, 2.0, 4})
	inst.Problem.Points[2].Location = nil
	_, err := NewKMeans().Cluster(context.Background(), inst, 2, defaultOpts())
	assert.ErrorIs(t, err, ErrMissingLocation)
}

func TestClusterHonoursCancellation(t *testing.T) {
	inst := instanceAt(site{"s", 48.0, 2.0, 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKMeans().Cluster(ctx, inst, 2, defaultOpts())
	assert.ErrorIs(t, err, context.Canceled)
}
