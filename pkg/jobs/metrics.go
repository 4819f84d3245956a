package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts tracker activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	polls      *prometheus.CounterVec
	pollErrors prometheus.Counter
	terminal   *prometheus.CounterVec
	inFlight   prometheus.Gauge
}

// NewMetrics creates the tracker metrics and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventoryctl_job_polls_total",
				Help: "Job status polls answered, by reported status.",
			},
			[]string{"status"},
		),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventoryctl_job_poll_errors_total",
			Help: "Job status polls that failed transiently.",
		}),
		terminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventoryctl_jobs_terminal_total",
				Help: "Jobs whose tracking ended, by outcome (SUCCESS, FAILED, ABANDONED).",
			},
			[]string{"status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inventoryctl_jobs_tracked",
			Help: "Jobs currently being polled.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.polls, m.pollErrors, m.terminal, m.inFlight} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observePoll(s Status) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) observePollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) observeEnd(outcome string) {
	if m == nil {
		return
	}
	m.terminal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) trackStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) trackStopped() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
