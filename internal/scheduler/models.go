package scheduler

import "time"

// MetricsSnapshot is the metrics:update payload.
type MetricsSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	System    SystemSnapshot `json:"system"`
	Calls     CallCounts     `json:"calls"`
}

// SystemSnapshot reports uptime in seconds and resident memory in bytes.
type SystemSnapshot struct {
	Uptime         float64 `json:"uptime"`
	Memory         uint64  `json:"memory"`
	CPU            float64 `json:"cpu"`
	ConnectedUsers int     `json:"connectedUsers"`
}

type CallCounts struct {
	Active    int64 `json:"active"`
	Queued    int64 `json:"queued"`
	Completed int64 `json:"completed"`
}

// DegradedDashboard replaces a tenant's dashboard:update when its snapshot
// could not be built.
type DegradedDashboard struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}
