// Package metrics defines ringbus's Prometheus metrics and a background
// collector for process-level RSS/CPU, grounded on the teacher server's
// own metrics registration and gopsutil process sampling.
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	PublishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ringbus_publishes_total",
		Help: "Total number of entries published, by topic",
	}, []string{"topic"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ringbus_notifications_total",
		Help: "Total number of subscriber notifications sent, by topic",
	}, []string{"topic"})

	SlowConsumerDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ringbus_slow_consumer_drops_total",
		Help: "Total number of reads that observed a stale (overwritten) entry, by topic",
	}, []string{"topic"})

	ActiveSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ringbus_active_subscriptions",
		Help: "Current number of active subscriber slots, by topic",
	}, []string{"topic"})

	BridgeReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ringbus_bridge_reconnects_total",
		Help: "Total replication bridge reconnect attempts, by bridge and topic",
	}, []string{"bridge", "topic"})

	FragmentReassemblyDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ringbus_fragment_reassembly_drops_total",
		Help: "Total received datagrams dropped as malformed or rejected by fragment reassembly, by topic",
	}, []string{"topic"})

	ProcessRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ringbus_process_rss_bytes",
		Help: "Resident set size of this process",
	})

	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ringbus_process_cpu_percent",
		Help: "System-wide CPU usage percent sampled over the collection interval",
	})
)

func init() {
	prometheus.MustRegister(
		PublishesTotal,
		NotificationsTotal,
		SlowConsumerDrops,
		ActiveSubscriptions,
		BridgeReconnectsTotal,
		FragmentReassemblyDropsTotal,
		ProcessRSSBytes,
		ProcessCPUPercent,
	)
}

// Collector samples this process's RSS and CPU usage on an interval and
// updates the corresponding gauges, the same gopsutil-backed pattern the
// teacher server's collectMetrics loop used.
type Collector struct {
	interval time.Duration
	proc     *process.Process
	stop     chan struct{}
}

// NewCollector constructs a Collector for the current process.
func NewCollector(interval time.Duration) *Collector {
	c := &Collector{interval: interval, stop: make(chan struct{})}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Run samples metrics on c.interval until Stop is called.
func (c *Collector) Run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		ProcessCPUPercent.Set(pct[0])
	}
	if c.proc != nil {
		if mem, err := c.proc.MemoryInfo(); err == nil {
			ProcessRSSBytes.Set(float64(mem.RSS))
		}
	}
}

// Stop ends the sampling loop.
func (c *Collector) Stop() { close(c.stop) }

// Serve starts a blocking HTTP server exposing /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
