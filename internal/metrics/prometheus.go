package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all filter driver metrics.
type Registry struct {
	// Transactions
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RollbacksTotal    *prometheus.CounterVec

	// Backend submissions
	CommandsTotal   *prometheus.CounterVec
	ScriptRunsTotal *prometheus.CounterVec

	// Environment
	ToolAvailable       *prometheus.GaugeVec
	EnvironmentWarnings *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// NewRegistry creates a registry registered with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg)
}

func newRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.OperationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "bridgewall_operations_total",
		Help: "Apply and teardown operations by kind and result",
	}, []string{"operation", "result"})

	r.OperationDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridgewall_operation_duration_seconds",
		Help:    "Wall time of apply and teardown operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	r.RollbacksTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "bridgewall_rollbacks_total",
		Help: "Temporary generations discarded after a failed phase",
	}, []string{"phase"})

	r.CommandsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "bridgewall_commands_total",
		Help: "Individual backend commands executed",
	}, []string{"layer", "result"})

	r.ScriptRunsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "bridgewall_script_runs_total",
		Help: "Batched shell scripts executed",
	}, []string{"result"})

	r.ToolAvailable = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridgewall_tool_available",
		Help: "Whether a backend tool passed its smoke test (1) or not (0)",
	}, []string{"tool"})

	r.EnvironmentWarnings = f.NewCounterVec(prometheus.CounterOpts{
		Name: "bridgewall_environment_warnings_total",
		Help: "Host conditions that can make filtering ineffective",
	}, []string{"kind"})

	return r
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
