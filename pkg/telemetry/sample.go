package telemetry

import "time"

// Topic names carried in the channel envelope.
const (
	TopicMetrics = "metrics"
	TopicLog     = "log"
)

// Sample is one timestamped bundle of scheduler, memory and CPU readings.
// Samples are never modified after the collector creates them.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	EventLoop EventLoop `json:"eventLoop"`
	Mem       Memory    `json:"mem"`
	CPU       CPU       `json:"cpu"`
}

// EventLoop holds scheduler latency in milliseconds.
type EventLoop struct {
	Delay float64 `json:"delay"`
	High  float64 `json:"high"` // max delay since the previous sample
}

// Memory captures process and system memory in bytes.
type Memory struct {
	HeapUsed    uint64 `json:"heapUsed"`
	HeapTotal   uint64 `json:"heapTotal"`
	RSS         uint64 `json:"rss"`
	SystemTotal uint64 `json:"systemTotal"`
}

// CPU holds the process CPU utilisation percentage.
type CPU struct {
	Utilization float64 `json:"utilization"`
}

// LogLine is a single line of output forwarded from the monitored process.
type LogLine struct {
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}
