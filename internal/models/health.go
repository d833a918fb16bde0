package models

import "time"

// ConnectionHealthMetrics describes the upstream feed connection.
type ConnectionHealthMetrics struct {
	IsHealthy        bool       `json:"isHealthy"`
	LatencyMs        float64    `json:"latencyMs"`
	HasLatencySample bool       `json:"hasLatencySample"`
	LastEventTime    *time.Time `json:"lastEventTime"`
	LastHeartbeat    *time.Time `json:"lastHeartbeat"`
	MissedHeartbeats int        `json:"missedHeartbeats"`
	ReconnectCount   int        `json:"reconnectCount"`
}

// Quality is a coarse display rating of the connection.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)
