package model

import "time"

type Result struct {
	Routes     []Route      `json:"routes"`
	Unassigned []Unassigned `json:"unassigned"`
	Cost       float64      `json:"cost"`
	Elapsed    float64      `json:"elapsed"` // ms
}

type Route struct {
	VehicleID  string          `json:"vehicleId"`
	Activities []RouteActivity `json:"activities"`
	TotalTime  float64         `json:"totalTime,omitempty"`
}

// RouteActivity is a stop on a route. Exactly one of ServiceID / RestID is set.
type RouteActivity struct {
	ServiceID string  `json:"serviceId,omitempty"`
	RestID    string  `json:"restId,omitempty"`
	PointID   string  `json:"pointId,omitempty"`
	BeginTime float64 `json:"beginTime"`
}

type Unassigned struct {
	ServiceID string `json:"serviceId"`
	PointID   string `json:"pointId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ServiceCount counts service activities on the route.
func (r Route) ServiceCount() int {
	n := 0
	for _, a := range r.Activities {
		if a.ServiceID != "" {
			n++
		}
	}
	return n
}

// RoutedServiceIDs lists the service ids on all routes in route order.
func (r *Result) RoutedServiceIDs() []string {
	out := []string{}
	for _, rt := range r.Routes {
		for _, a := range rt.Activities {
			if a.ServiceID != "" {
				out = append(out, a.ServiceID)
			}
		}
	}
	return out
}

func (r *Result) UnassignedIDs() []string {
	out := make([]string, 0, len(r.Unassigned))
	for _, u := range r.Unassigned {
		out = append(out, u.ServiceID)
	}
	return out
}

func (r *Result) Clone() *Result {
	c := *r
	c.Routes = make([]Route, len(r.Routes))
	for i, rt := range r.Routes {
		c.Routes[i] = Route{VehicleID: rt.VehicleID, TotalTime: rt.TotalTime, Activities: append([]RouteActivity(nil), rt.Activities...)}
	}
	c.Unassigned = append([]Unassigned(nil), r.Unassigned...)
	return &c
}

// Job carries the handle of the long-running request down every recursive solve.
type Job struct {
	ID         string
	OnProgress func(Progress)
}

// Report forwards a progress event if a callback is attached. Safe on a nil Job.
func (j *Job) Report(p Progress) {
	if j == nil || j.OnProgress == nil {
		return
	}
	p.JobID = j.ID
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}
	j.OnProgress(p)
}

type Progress struct {
	JobID      string    `json:"jobId"`
	Stage      string    `json:"stage"`
	Level      int       `json:"level"`
	Services   int       `json:"services"`
	Unassigned int       `json:"unassigned"`
	Iteration  int       `json:"iteration,omitempty"`
	At         time.Time `json:"ts"`
}
