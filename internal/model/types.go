package model

import "time"

// Trip statuses persisted in the trip store.
const (
	TripActive = "active"
	TripEnded  = "ended"
)

// Location is a normalized GPS sample after ingest validation.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationReport is the raw payload sent by a driver client. Accuracy and
// Timestamp are optional on the wire; Timestamp defaults to receipt time.
type LocationReport struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Trip is a bounded driving session for one driver on one bus and route.
type Trip struct {
	ID        string     `json:"tripId"`
	DriverID  string     `json:"driverId"`
	BusNumber string     `json:"busNumber"`
	RouteID   string     `json:"routeId"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// LocationSample is one persisted row of a trip's location history.
type LocationSample struct {
	ID         string    `json:"locationId"`
	TripID     string    `json:"tripId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// BusSnapshot is the public projection of a live driver session, served by
// GET /buses and GET /bus/{busId}.
type BusSnapshot struct {
	BusID        string    `json:"busId"`
	DriverID     string    `json:"driverId"`
	RouteID      string    `json:"routeId"`
	TripActive   bool      `json:"tripActive"`
	LastLocation *Location `json:"lastLocation,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
}
