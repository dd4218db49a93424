// Package metrics exposes dispatcher activity as Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

const namespace = "ipcmux"

// WorkerLister lists registered workers.
type WorkerLister interface {
	All() []*plugin.Worker
}

// Collectors groups the metrics of one host.
type Collectors struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	channels *channelCollector
}

// New creates the collectors. workers backs the per-worker channel gauge.
func New(workers WorkerLister) *Collectors {
	return &Collectors{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched to workers, by worker, status code and status class.",
		}, []string{"worker", "status", "class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent in worker command handlers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"worker"}),
		channels: &channelCollector{
			workers: workers,
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "channels_registered"),
				"Channel endpoints registered per worker.",
				[]string{"worker", "serviced"}, nil,
			),
		},
	}
}

// MustRegister registers every collector with reg.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.commands, c.duration, c.channels)
}

// ObserveCommand records one dispatched command.
func (c *Collectors) ObserveCommand(worker string, status protocol.Status, d time.Duration) {
	c.commands.WithLabelValues(worker, strconv.Itoa(int(status)), string(status.Class())).Inc()
	c.duration.WithLabelValues(worker).Observe(d.Seconds())
}

// channelCollector reads channel counts from the registry at scrape time.
type channelCollector struct {
	workers WorkerLister
	desc    *prometheus.Desc
}

func (c *channelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *channelCollector) Collect(ch chan<- prometheus.Metric) {
	for _, w := range c.workers.All() {
		serviced := "false"
		if w.Loop() != nil {
			serviced = "true"
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue,
			float64(w.Channels.Len()), w.Name, serviced)
	}
}
