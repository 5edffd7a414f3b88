// File: facade/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var promDesc struct {
	Loops         *prometheus.Desc
	LoopChannels  *prometheus.Desc
	LoopTasks     *prometheus.Desc
	AcceptedConns *prometheus.Desc
}

func init() {
	promDesc.Loops = prometheus.NewDesc(
		"hioload_loops",
		"Number of running event loops, the base loop included",
		nil, nil)
	promDesc.LoopChannels = prometheus.NewDesc(
		"hioload_loop_channels",
		"Registered channels per event loop",
		[]string{"loop"}, nil)
	promDesc.LoopTasks = prometheus.NewDesc(
		"hioload_loop_tasks_total",
		"Inbox tasks executed per event loop",
		[]string{"loop"}, nil)
	promDesc.AcceptedConns = prometheus.NewDesc(
		"hioload_accepted_connections_total",
		"Connections accepted across all listeners",
		nil, nil)
}

// collector exposes an application's loop gauges and counters. All
// reads go through atomics, so Collect is safe while the loops run.
type collector struct {
	app *Application
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- promDesc.Loops
	ch <- promDesc.LoopChannels
	ch <- promDesc.LoopTasks
	ch <- promDesc.AcceptedConns
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	loops := c.app.loops()
	ch <- prometheus.MustNewConstMetric(promDesc.Loops, prometheus.GaugeValue, float64(len(loops)))
	for _, l := range loops {
		id := strconv.FormatInt(l.ID(), 10)
		ch <- prometheus.MustNewConstMetric(promDesc.LoopChannels, prometheus.GaugeValue, float64(l.Size()), id)
		ch <- prometheus.MustNewConstMetric(promDesc.LoopTasks, prometheus.CounterValue, float64(l.TasksExecuted()), id)
	}
	ch <- prometheus.MustNewConstMetric(promDesc.AcceptedConns, prometheus.CounterValue, float64(c.app.accepted.Load()))
}

// PrometheusRegister exposes the application's metrics on registry.
func (a *Application) PrometheusRegister(registry prometheus.Registerer) error {
	return registry.Register(collector{app: a})
}
