// Package stats provides a goroutine-safe metrics collector that aggregates
// performance data from many board clients and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from multiple clients. All methods are
// goroutine-safe and can be called concurrently from many client
// goroutines.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	historyLatencies []time.Duration
	ackLatencies     []time.Duration
	errors           int
	connections      int
	eventsSent       int
	rejected         int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report also prints server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records a successful connection with its connect latency and
// the time until its history snapshot arrived.
func (c *Collector) AddConnect(connect, history time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, connect)
	c.historyLatencies = append(c.historyLatencies, history)
	c.connections++
	c.mu.Unlock()
}

// AddAcks records draw-to-ack round trips for one client.
func (c *Collector) AddAcks(latencies []time.Duration) {
	c.mu.Lock()
	c.ackLatencies = append(c.ackLatencies, latencies...)
	c.mu.Unlock()
}

// AddSent records events sent, of which rejected were refused.
func (c *Collector) AddSent(sent, rejected int) {
	c.mu.Lock()
	c.eventsSent += sent
	c.rejected += rejected
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the current number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report writes a formatted summary of the collected metrics to w,
// including total duration, throughput, error count, and percentile
// distributions for connect, history and ack latencies.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Connections:  %d\n", c.connections)
	fmt.Fprintf(w, "Events sent:  %d\n", c.eventsSent)
	fmt.Fprintf(w, "Rejected:     %d\n", c.rejected)
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)

	if secs := elapsed.Seconds(); secs > 0 && c.eventsSent > 0 {
		fmt.Fprintf(w, "Throughput:   %.0f events/s\n", float64(c.eventsSent)/secs)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Connect Latency ---")
		printPercentiles(w, c.connectLatencies)
	}

	if len(c.historyLatencies) > 0 {
		fmt.Fprintln(w, "\n--- History Latency ---")
		printPercentiles(w, c.historyLatencies)
	}

	if len(c.ackLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Ack Latency ---")
		printPercentiles(w, c.ackLatencies)
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}

	fmt.Fprintln(w)
}

// Percentiles summarizes a latency sample.
type Percentiles struct {
	Avg, P50, P95, P99, Max time.Duration
	N                       int
}

// Summarize sorts durations in place and computes its percentiles.
func Summarize(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Percentiles{
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
		N:   n,
	}
}

// printPercentiles prints avg, p50, p95, p99, and max values along with
// the sample count.
func printPercentiles(w io.Writer, durations []time.Duration) {
	p := Summarize(durations)
	fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		p.Avg.Round(time.Microsecond),
		p.P50.Round(time.Microsecond),
		p.P95.Round(time.Microsecond),
		p.P99.Round(time.Microsecond),
		p.Max.Round(time.Microsecond),
		p.N,
	)
}
