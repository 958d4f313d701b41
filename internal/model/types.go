package model

// Core routing problem types shared by the decomposition controller, the solver and the API.

// Instance is a problem snapshot plus recursion bookkeeping.
type Instance struct {
	Problem *Problem `json:"problem"`
	Level   int      `json:"level"`
}

type Problem struct {
	Services      []*Service    `json:"services"`
	Vehicles      []*Vehicle    `json:"vehicles"`
	Points        []*Point      `json:"points"`
	Matrices      []*Matrix     `json:"matrices,omitempty"`
	Routes        []RouteHint   `json:"routes,omitempty"`
	Shipments     []Shipment    `json:"shipments,omitempty"`
	Schedule      *Schedule     `json:"schedule,omitempty"`
	Resolution    Resolution    `json:"resolution"`
	Configuration Configuration `json:"configuration,omitempty"`
}

type Service struct {
	ID               string     `json:"id"`
	Skills           []string   `json:"skills,omitempty"`
	Quantities       []Quantity `json:"quantities,omitempty"`
	ExclusionCost    float64    `json:"exclusionCost,omitempty"`
	StickyVehicleIDs []string   `json:"stickyVehicleIds,omitempty"`
	Activity         Activity   `json:"activity"`
}

// Activity describes where and when a service takes place.
type Activity struct {
	PointID        string       `json:"pointId"`
	Duration       float64      `json:"duration,omitempty"`
	Timewindows    []Timewindow `json:"timewindows,omitempty"`
	LateMultiplier float64      `json:"lateMultiplier,omitempty"`
}

// Timewindow bounds are seconds from the start of the planning horizon. End == 0 means open.
type Timewindow struct {
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
}

type Quantity struct {
	UnitID string  `json:"unitId"`
	Value  float64 `json:"value,omitempty"`
	Fill   bool    `json:"fill,omitempty"`
	Empty  bool    `json:"empty,omitempty"`
}

type Capacity struct {
	UnitID string  `json:"unitId"`
	Limit  float64 `json:"limit"`
}

type Vehicle struct {
	ID                     string      `json:"id"`
	Skills                 [][]string  `json:"skills,omitempty"` // disjunctive groups
	CostFixed              float64     `json:"costFixed,omitempty"`
	CostDistanceMultiplier float64     `json:"costDistanceMultiplier,omitempty"`
	CostTimeMultiplier     float64     `json:"costTimeMultiplier,omitempty"`
	CostLateMultiplier     float64     `json:"costLateMultiplier,omitempty"`
	StartPointID           string      `json:"startPointId,omitempty"`
	EndPointID             string      `json:"endPointId,omitempty"`
	MatrixID               string      `json:"matrixId,omitempty"`
	Capacities             []Capacity  `json:"capacities,omitempty"`
	Timewindow             *Timewindow `json:"timewindow,omitempty"`
	Duration               float64     `json:"duration,omitempty"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Point struct {
	ID          string    `json:"id"`
	MatrixIndex int       `json:"matrixIndex"`
	Location    *Location `json:"location,omitempty"`
}

// Matrix rows and columns are indexed by Point.MatrixIndex.
type Matrix struct {
	ID       string      `json:"id"`
	Time     [][]float64 `json:"time,omitempty"`
	Distance [][]float64 `json:"distance,omitempty"`
	Value    [][]float64 `json:"value,omitempty"`
}

// RouteHint is a non-binding warm start: vehicle -> ordered mission ids.
type RouteHint struct {
	VehicleID  string   `json:"vehicleId"`
	MissionIDs []string `json:"missionIds"`
}

// Shipment is a pickup/delivery pair. Only its presence matters to the decomposition.
type Shipment struct {
	ID string `json:"id"`
}

// Schedule marks a recurring (periodic) planning problem.
type Schedule struct {
	RangeStart int `json:"rangeStart"`
	RangeEnd   int `json:"rangeEnd"`
}

// Resolution durations are milliseconds; zero means unset.
type Resolution struct {
	Duration              int64    `json:"duration,omitempty"`
	MinimumDuration       int64    `json:"minimumDuration,omitempty"`
	InitDuration          int64    `json:"initDuration,omitempty"`
	VehicleLimit          int      `json:"vehicleLimit,omitempty"`
	DichoDivisionVecLimit int      `json:"dichoDivisionVecLimit,omitempty"`
	SplitNumber           int      `json:"splitNumber,omitempty"`
	TotalSplitNumber      int      `json:"totalSplitNumber,omitempty"`
	DichoLevelCoeff       float64  `json:"dichoLevelCoeff,omitempty"`
	AllowEmptyResult      bool     `json:"allowEmptyResult,omitempty"`
	FirstSolutionStrategy []string `json:"firstSolutionStrategy,omitempty"`
}

type Configuration struct {
	DebugOutputClusters bool `json:"debugOutputClusters,omitempty"`
}
