package model

func (p *Problem) Service(id string) *Service {
	for _, s := range p.Services {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (p *Problem) Vehicle(id string) *Vehicle {
	for _, v := range p.Vehicles {
		if v.ID == id {
			return v
		}
	}
	return nil
}

func (p *Problem) Point(id string) *Point {
	for _, pt := range p.Points {
		if pt.ID == id {
			return pt
		}
	}
	return nil
}

// Matrix returns the matrix with the given id, falling back to the first one.
func (p *Problem) Matrix(id string) *Matrix {
	for _, m := range p.Matrices {
		if m.ID == id {
			return m
		}
	}
	if len(p.Matrices) > 0 {
		return p.Matrices[0]
	}
	return nil
}

// ServiceIndex maps service id -> service for repeated lookups.
func (p *Problem) ServiceIndex() map[string]*Service {
	out := make(map[string]*Service, len(p.Services))
	for _, s := range p.Services {
		out[s.ID] = s
	}
	return out
}

// EffectiveVehicleLimit is the configured vehicle limit or the vehicle count when unset.
func (p *Problem) EffectiveVehicleLimit() int {
	if p.Resolution.VehicleLimit > 0 {
		return p.Resolution.VehicleLimit
	}
	return len(p.Vehicles)
}

// RoutedMissionCount counts missions already placed by warm-start hints.
func (p *Problem) RoutedMissionCount() int {
	n := 0
	for _, r := range p.Routes {
		n += len(r.MissionIDs)
	}
	return n
}

// Clone deep-copies services, vehicles, points and hints. Matrices are shared read-only.
func (p *Problem) Clone() *Problem {
	out := *p
	out.Services = make([]*Service, len(p.Services))
	for i, s := range p.Services {
		out.Services[i] = s.Clone()
	}
	out.Vehicles = make([]*Vehicle, len(p.Vehicles))
	for i, v := range p.Vehicles {
		out.Vehicles[i] = v.Clone()
	}
	out.Points = make([]*Point, len(p.Points))
	for i, pt := range p.Points {
		c := *pt
		out.Points[i] = &c
	}
	out.Matrices = append([]*Matrix(nil), p.Matrices...)
	out.Routes = make([]RouteHint, len(p.Routes))
	for i, r := range p.Routes {
		out.Routes[i] = RouteHint{VehicleID: r.VehicleID, MissionIDs: append([]string(nil), r.MissionIDs...)}
	}
	out.Shipments = append([]Shipment(nil), p.Shipments...)
	out.Resolution.FirstSolutionStrategy = append([]string(nil), p.Resolution.FirstSolutionStrategy...)
	return &out
}

func (s *Service) Clone() *Service {
	c := *s
	c.Skills = append([]string(nil), s.Skills...)
	c.Quantities = append([]Quantity(nil), s.Quantities...)
	c.StickyVehicleIDs = append([]string(nil), s.StickyVehicleIDs...)
	c.Activity.Timewindows = append([]Timewindow(nil), s.Activity.Timewindows...)
	return &c
}

func (s *Service) HasFill() bool {
	for _, q := range s.Quantities {
		if q.Fill {
			return true
		}
	}
	return false
}

func (s *Service) HasEmpty() bool {
	for _, q := range s.Quantities {
		if q.Empty {
			return true
		}
	}
	return false
}

// IsFillOrEmpty reports whether the service is a replenishment/unloading utility stop.
func (s *Service) IsFillOrEmpty() bool { return s.HasFill() || s.HasEmpty() }

func (v *Vehicle) Clone() *Vehicle {
	c := *v
	c.Skills = make([][]string, len(v.Skills))
	for i, g := range v.Skills {
		c.Skills[i] = append([]string(nil), g...)
	}
	c.Capacities = append([]Capacity(nil), v.Capacities...)
	if v.Timewindow != nil {
		tw := *v.Timewindow
		c.Timewindow = &tw
	}
	return &c
}

// Satisfies reports whether at least one of the vehicle's skill groups contains every required skill.
// An empty requirement is always satisfied.
func (v *Vehicle) Satisfies(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, group := range v.Skills {
		if containsAll(group, required) {
			return true
		}
	}
	return false
}

// WorkTime is the vehicle's available working time in seconds, or 0 when unbounded.
func (v *Vehicle) WorkTime() float64 {
	if v.Duration > 0 {
		return v.Duration
	}
	if v.Timewindow != nil && v.Timewindow.End > 0 {
		// +1 keeps zero-length windows measurable
		return v.Timewindow.End - v.Timewindow.Start + 1
	}
	return 0
}

func containsAll(set, required []string) bool {
	for _, r := range required {
		found := false
		for _, s := range set {
			if s == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
