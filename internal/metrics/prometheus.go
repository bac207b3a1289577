package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauges mirrors the latest sample of each server into Prometheus.
type Gauges struct {
	cpuUsage    *prometheus.GaugeVec
	memoryUsage *prometheus.GaugeVec
	diskUsage   *prometheus.GaugeVec
	uptime      *prometheus.GaugeVec
	processes   *prometheus.GaugeVec
	sessions    prometheus.Gauge
}

// NewGauges creates the gauges and registers them with reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	labels := []string{"server_id"}
	g := &Gauges{
		cpuUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sshdeck_host_cpu_usage_percent",
			Help: "CPU usage reported by the last sample.",
		}, labels),
		memoryUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sshdeck_host_memory_usage_percent",
			Help: "Memory usage reported by the last sample.",
		}, labels),
		diskUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sshdeck_host_disk_usage_percent",
			Help: "Aggregate disk usage reported by the last sample.",
		}, labels),
		uptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sshdeck_host_uptime_seconds",
			Help: "Host uptime reported by the last sample.",
		}, labels),
		processes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sshdeck_host_processes",
			Help: "Process count reported by the last sample.",
		}, labels),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sshdeck_ssh_sessions",
			Help: "Number of live SSH sessions.",
		}),
	}
	reg.MustRegister(g.cpuUsage, g.memoryUsage, g.diskUsage, g.uptime, g.processes, g.sessions)
	return g
}

// Observe records s for serverID.
func (g *Gauges) Observe(serverID string, s *Sample) {
	g.cpuUsage.WithLabelValues(serverID).Set(s.CPU.Usage)
	g.memoryUsage.WithLabelValues(serverID).Set(s.Memory.Usage)
	g.diskUsage.WithLabelValues(serverID).Set(s.Disk.Usage)
	g.uptime.WithLabelValues(serverID).Set(s.Uptime)
	g.processes.WithLabelValues(serverID).Set(float64(s.Processes))
}

// Forget drops every series for serverID.
func (g *Gauges) Forget(serverID string) {
	for _, v := range []*prometheus.GaugeVec{g.cpuUsage, g.memoryUsage, g.diskUsage, g.uptime, g.processes} {
		v.DeleteLabelValues(serverID)
	}
}

// SetSessions records the number of live sessions.
func (g *Gauges) SetSessions(n int) {
	g.sessions.Set(float64(n))
}
