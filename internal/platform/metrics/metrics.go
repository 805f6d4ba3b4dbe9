package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	totalDurationMs uint64

	mu        sync.Mutex
	processed map[string]uint64
}

func New() *Collector {
	return &Collector{processed: make(map[string]uint64)}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

// RecordProcessed counts terminal rights-request outcomes by type and status.
func (c *Collector) RecordProcessed(requestType, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[requestType+"_"+status]++
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	c.mu.Lock()
	processed := make(map[string]uint64, len(c.processed))
	for k, v := range c.processed {
		processed[k] = v
	}
	c.mu.Unlock()

	return map[string]any{
		"requestsTotal":   total,
		"errorsTotal":     errs,
		"avgDurationMs":   avg,
		"totalDurationMs": totalMs,
		"rightsProcessed": processed,
	}
}
