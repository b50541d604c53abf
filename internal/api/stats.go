package api

import (
	"context"
	"time"
)

// Stats is the service's GET /stats snapshot.
type Stats struct {
	TotalRequests       int64            `json:"total_requests"`
	SuccessRequests     int64            `json:"success_requests"`
	FailedRequests      int64            `json:"failed_requests"`
	RejectedRequests    int64            `json:"rejected_requests"`
	AverageLatencyMS    int64            `json:"average_latency_ms"`
	LastRequestTime     string           `json:"last_request_time"`
	CurrentlyProcessing int64            `json:"currently_processing"`
	SuccessRate         float64          `json:"success_rate"`
	QueueLength         int              `json:"queue_length"`
	QueueCapacity       int              `json:"queue_capacity"`
	LatencyBreakdown    LatencyBreakdown `json:"latency_breakdown"`
	LatencyHistory      []LatencyRecord  `json:"latency_history"`
}

// LatencyBreakdown splits the service-side average latency by stage.
type LatencyBreakdown struct {
	QueueMS   int64 `json:"queue_ms"`
	ProcessMS int64 `json:"process_ms"`
	NetworkMS int64 `json:"network_ms"`
}

// LatencyRecord is one entry of the service's latency history. Durations are nanoseconds.
type LatencyRecord struct {
	Timestamp      time.Time     `json:"timestamp"`
	TotalLatency   time.Duration `json:"total_latency"`
	QueueLatency   time.Duration `json:"queue_latency"`
	ProcessLatency time.Duration `json:"process_latency"`
	NetworkLatency time.Duration `json:"network_latency"`
}

// LastRequest parses LastRequestTime; zero if the service has not handled anything yet.
func (s Stats) LastRequest() time.Time {
	if s.LastRequestTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.LastRequestTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Stats fetches the service statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, "/stats", &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}
