package server

import (
	"sync/atomic"
	"time"
)

// Stats represents server statistics
type Stats struct {
	// Total number of connections accepted
	TotalConnections atomic.Uint64

	// Current number of connections owned by the server
	ActiveConnections atomic.Int64

	// Total number of requests parsed
	TotalRequests atomic.Uint64

	// Number of malformed requests
	ParseErrors atomic.Uint64

	// Number of handler errors and panics
	HandlerErrors atomic.Uint64

	// Number of connections released after a protocol switch
	HandedOver atomic.Uint64

	// Server start time
	StartTime time.Time
}

// Duration returns the time since the server started
func (s *Stats) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// RequestsPerSecond returns the average requests per second
func (s *Stats) RequestsPerSecond() float64 {
	duration := s.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / duration
}

// Snapshot is a point-in-time copy of Stats suitable for encoding.
type Snapshot struct {
	TotalConnections  uint64  `json:"total_connections"`
	ActiveConnections int64   `json:"active_connections"`
	TotalRequests     uint64  `json:"total_requests"`
	ParseErrors       uint64  `json:"parse_errors"`
	HandlerErrors     uint64  `json:"handler_errors"`
	HandedOver        uint64  `json:"handed_over"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalConnections:  s.TotalConnections.Load(),
		ActiveConnections: s.ActiveConnections.Load(),
		TotalRequests:     s.TotalRequests.Load(),
		ParseErrors:       s.ParseErrors.Load(),
		HandlerErrors:     s.HandlerErrors.Load(),
		HandedOver:        s.HandedOver.Load(),
		UptimeSeconds:     s.Duration().Seconds(),
		RequestsPerSecond: s.RequestsPerSecond(),
	}
}
