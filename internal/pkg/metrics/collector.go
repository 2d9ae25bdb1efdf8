package metrics

import (
	"fmt"
	"net/http"

	"golang-wifiprov/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the provisioning lifecycle.
// All methods are safe to call on a nil Collector.
type Collector struct {
	gatherer prometheus.Gatherer

	JoinAttempts        prometheus.Counter
	ConnectivityResults *prometheus.CounterVec
	Submissions         *prometheus.CounterVec
	Restarts            *prometheus.CounterVec
	RadioMode           prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	joins, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifiprov_join_attempts_total",
		Help: "Station join attempts, including retries after a disconnect.",
	}), "wifiprov_join_attempts_total")
	if err != nil {
		return nil, err
	}

	results, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifiprov_connectivity_results_total",
		Help: "Terminal results of station connection attempts.",
	}, []string{"result"}), "wifiprov_connectivity_results_total")
	if err != nil {
		return nil, err
	}

	submissions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifiprov_submissions_total",
		Help: "Provisioning form submissions, labeled by outcome.",
	}, []string{"result"}), "wifiprov_submissions_total")
	if err != nil {
		return nil, err
	}

	restarts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifiprov_restarts_total",
		Help: "Restarts requested by the provisioning lifecycle, labeled by reason.",
	}, []string{"reason"}), "wifiprov_restarts_total")
	if err != nil {
		return nil, err
	}

	mode, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wifiprov_radio_mode",
		Help: "Active radio mode: 0 idle, 1 access point, 2 station.",
	}), "wifiprov_radio_mode")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		JoinAttempts:        joins,
		ConnectivityResults: results,
		Submissions:         submissions,
		Restarts:            restarts,
		RadioMode:           mode,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// JoinAttempted counts one join, first or retry.
func (c *Collector) JoinAttempted() {
	if c == nil {
		return
	}
	c.JoinAttempts.Inc()
}

// ConnectivityResult records the terminal phase of a station attempt.
func (c *Collector) ConnectivityResult(phase types.ConnectionPhase) {
	if c == nil {
		return
	}
	c.ConnectivityResults.WithLabelValues(phase.String()).Inc()
}

// Submission records a provisioning form submission outcome
// ("accepted", "rejected" or "conflict").
func (c *Collector) Submission(result string) {
	if c == nil {
		return
	}
	c.Submissions.WithLabelValues(result).Inc()
}

// Restart records a restart request.
func (c *Collector) Restart(reason string) {
	if c == nil {
		return
	}
	c.Restarts.WithLabelValues(reason).Inc()
}

// SetRadioMode tracks the active radio mode.
func (c *Collector) SetRadioMode(mode types.RadioMode) {
	if c == nil {
		return
	}
	c.RadioMode.Set(float64(mode))
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
