package capture

import "time"

// ReadbackStats summarises backend behaviour for instrumentation.
type ReadbackStats struct {
	Requests  uint64
	Completed uint64
	Failed    uint64
	InFlight  int64
	AvgCopy   time.Duration
}
