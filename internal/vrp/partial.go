// Package vrp holds instance and result utilities used around solver calls:
// projecting sub-instances, slicing matrices and tidying results.
package vrp

import (
	"fmt"
	"math"

	"vrpdicho/internal/model"
)

// BuildPartialInstance projects a coherent sub-instance holding exactly the requested services and
// vehicles, the points they reference and the matching matrix slice. Records are deep copies so
// the child may be changed without touching the parent.
func BuildPartialInstance(parent *model.Instance, serviceIDs, vehicleIDs []string) *model.Instance {
	src := parent.Problem
	wantS := toSet(serviceIDs)
	wantV := toSet(vehicleIDs)

	sub := &model.Problem{
		Schedule:      src.Schedule,
		Resolution:    src.Resolution,
		Configuration: src.Configuration,
	}
	sub.Resolution.FirstSolutionStrategy = append([]string(nil), src.Resolution.FirstSolutionStrategy...)
	for _, s := range src.Services {
		if _, ok := wantS[s.ID]; ok {
			sub.Services = append(sub.Services, s.Clone())
			delete(wantS, s.ID)
		}
	}
	for _, v := range src.Vehicles {
		if _, ok := wantV[v.ID]; ok {
			sub.Vehicles = append(sub.Vehicles, v.Clone())
		}
	}
	used := map[string]struct{}{}
	for _, s := range sub.Services {
		used[s.Activity.PointID] = struct{}{}
	}
	for _, v := range sub.Vehicles {
		if v.StartPointID != "" {
			used[v.StartPointID] = struct{}{}
		}
		if v.EndPointID != "" {
			used[v.EndPointID] = struct{}{}
		}
	}
	for _, pt := range src.Points {
		if _, ok := used[pt.ID]; ok {
			c := *pt
			sub.Points = append(sub.Points, &c)
		}
	}
	inSub := toSet(serviceIDs)
	for _, r := range src.Routes {
		if _, ok := wantV[r.VehicleID]; !ok {
			continue
		}
		hint := model.RouteHint{VehicleID: r.VehicleID}
		for _, id := range r.MissionIDs {
			if _, ok := inSub[id]; ok {
				hint.MissionIDs = append(hint.MissionIDs, id)
			}
		}
		if len(hint.MissionIDs) > 0 {
			sub.Routes = append(sub.Routes, hint)
		}
	}
	SyncMatrix(src, sub)
	return &model.Instance{Problem: sub, Level: parent.Level}
}

// SyncMatrix re-slices the parent's matrices for the child's current point set.
// Call it after points were added to or moved into the child.
func SyncMatrix(parent, child *model.Problem) {
	indices := make([]int, 0, len(child.Points))
	for _, pt := range child.Points {
		if orig := parent.Point(pt.ID); orig != nil {
			indices = append(indices, orig.MatrixIndex)
		} else {
			indices = append(indices, pt.MatrixIndex)
		}
	}
	UpdateMatrixIndex(child)
	UpdateMatrix(parent.Matrices, child, indices)
}

// UpdateMatrixIndex renumbers the problem's points 0..n-1 in slice order.
func UpdateMatrixIndex(p *model.Problem) {
	for i, pt := range p.Points {
		pt.MatrixIndex = i
	}
}

// UpdateMatrix replaces child matrices with the parent rows/columns at indices.
// indices[i] is the parent matrix index of the child point now numbered i.
func UpdateMatrix(parent []*model.Matrix, child *model.Problem, indices []int) {
	out := make([]*model.Matrix, 0, len(parent))
	for _, m := range parent {
		out = append(out, &model.Matrix{
			ID:       m.ID,
			Time:     sliceSquare(m.Time, indices),
			Distance: sliceSquare(m.Distance, indices),
			Value:    sliceSquare(m.Value, indices),
		})
	}
	child.Matrices = out
}

func sliceSquare(src [][]float64, indices []int) [][]float64 {
	if src == nil {
		return nil
	}
	out := make([][]float64, len(indices))
	for i, a := range indices {
		row := make([]float64, len(indices))
		for j, b := range indices {
			if a < len(src) && b < len(src[a]) {
				row[j] = src[a][b]
			}
		}
		out[i] = row
	}
	return out
}

// ComputeMatrices fills missing time/distance matrices from point coordinates using great-circle
// distance at speedKph. Existing matrix data is kept.
func ComputeMatrices(p *model.Problem, speedKph float64) error {
	if speedKph <= 0 {
		speedKph = 50
	}
	if len(p.Matrices) == 0 {
		p.Matrices = []*model.Matrix{{ID: "m1"}}
	}
	n := 0
	for _, pt := range p.Points {
		if pt.MatrixIndex+1 > n {
			n = pt.MatrixIndex + 1
		}
	}
	for _, m := range p.Matrices {
		if len(m.Time) >= n && len(m.Distance) >= n {
			continue
		}
		dist := make([][]float64, n)
		for i := range dist {
			dist[i] = make([]float64, n)
		}
		for _, a := range p.Points {
			for _, b := range p.Points {
				if a.Location == nil || b.Location == nil {
					return fmt.Errorf("point %s or %s has no location", a.ID, b.ID)
				}
				dist[a.MatrixIndex][b.MatrixIndex] = haversineMeters(a.Location.Lat, a.Location.Lon, b.Location.Lat, b.Location.Lon)
			}
		}
		if len(m.Distance) < n {
			m.Distance = dist
		}
		if len(m.Time) < n {
			tm := make([][]float64, n)
			for i := range dist {
				tm[i] = make([]float64, n)
				for j := range dist[i] {
					tm[i][j] = dist[i][j] / (speedKph / 3.6)
				}
			}
			m.Time = tm
		}
	}
	return nil
}

// OnlyOnePoint reports whether every service sits at the same point.
func OnlyOnePoint(p *model.Problem) bool {
	seen := map[string]struct{}{}
	for _, s := range p.Services {
		seen[s.Activity.PointID] = struct{}{}
		if len(seen) > 1 {
			return false
		}
	}
	return true
}

// DefaultExclusionCosts returns services where an unset exclusion cost is replaced by the largest
// travel time into the service point plus its activity duration. Other services are returned as is.
func DefaultExclusionCosts(p *model.Problem) []*model.Service {
	m := p.Matrix("")
	out := make([]*model.Service, len(p.Services))
	for i, s := range p.Services {
		if s.ExclusionCost > 0 || m == nil || len(m.Time) == 0 {
			out[i] = s
			continue
		}
		pt := p.Point(s.Activity.PointID)
		if pt == nil {
			out[i] = s
			continue
		}
		worst := 0.0
		for _, row := range m.Time {
			if pt.MatrixIndex < len(row) && row[pt.MatrixIndex] > worst {
				worst = row[pt.MatrixIndex]
			}
		}
		c := s.Clone()
		c.ExclusionCost = worst + s.Activity.Duration
		out[i] = c
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
