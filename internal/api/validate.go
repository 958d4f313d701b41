package api

import (
	"fmt"
	"net/url"

	"vrpdicho/internal/model"
)

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	Instance       *model.Instance `json:"instance"`
	CallbackURL    string          `json:"callbackUrl,omitempty"`
	CallbackSecret string          `json:"callbackSecret,omitempty"`
}

// validateJobRequest checks references only; solver-level feasibility is reported as unassigned services.
func validateJobRequest(req *JobRequest) error {
	if req.Instance == nil || req.Instance.Problem == nil {
		return fmt.Errorf("instance.problem is required")
	}
	p := req.Instance.Problem
	if len(p.Vehicles) == 0 {
		return fmt.Errorf("at least one vehicle is required")
	}
	points := make(map[string]struct{}, len(p.Points))
	for _, pt := range p.Points {
		if pt.ID == "" {
			return fmt.Errorf("point without id")
		}
		if _, dup := points[pt.ID]; dup {
			return fmt.Errorf("duplicate point id: %s", pt.ID)
		}
		if pt.MatrixIndex < 0 {
			return fmt.Errorf("point %s: matrixIndex must be >= 0", pt.ID)
		}
		points[pt.ID] = struct{}{}
	}
	ref := func(owner, id string) error {
		if id == "" {
			return nil
		}
		if _, ok := points[id]; !ok {
			return fmt.Errorf("%s references unknown point %s", owner, id)
		}
		return nil
	}
	vehicles := make(map[string]struct{}, len(p.Vehicles))
	for _, v := range p.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("vehicle without id")
		}
		if _, dup := vehicles[v.ID]; dup {
			return fmt.Errorf("duplicate vehicle id: %s", v.ID)
		}
		vehicles[v.ID] = struct{}{}
		if err := ref("vehicle "+v.ID, v.StartPointID); err != nil {
			return err
		}
		if err := ref("vehicle "+v.ID, v.EndPointID); err != nil {
			return err
		}
	}
	services := make(map[string]struct{}, len(p.Services))
	for _, s := range p.Services {
		if s.ID == "" {
			return fmt.Errorf("service without id")
		}
		if _, dup := services[s.ID]; dup {
			return fmt.Errorf("duplicate service id: %s", s.ID)
		}
		services[s.ID] = struct{}{}
		if s.Activity.PointID == "" {
			return fmt.Errorf("service %s has no point", s.ID)
		}
		if err := ref("service "+s.ID, s.Activity.PointID); err != nil {
			return err
		}
		for _, vid := range s.StickyVehicleIDs {
			if _, ok := vehicles[vid]; !ok {
				return fmt.Errorf("service %s is sticky to unknown vehicle %s", s.ID, vid)
			}
		}
	}
	if p.Resolution.Duration < 0 || p.Resolution.MinimumDuration < 0 || p.Resolution.InitDuration < 0 {
		return fmt.Errorf("resolution durations must be >= 0")
	}
	if p.Resolution.VehicleLimit < 0 {
		return fmt.Errorf("resolution.vehicleLimit must be >= 0")
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("callbackUrl must be an absolute http(s) URL")
		}
	}
	return nil
}
