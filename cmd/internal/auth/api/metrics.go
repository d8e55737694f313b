package authapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts auth outcomes. All methods tolerate a nil receiver so the
// handler works without a registry wired in (tests, minimal deployments).
type Metrics struct {
	loginTotal   *prometheus.CounterVec
	refreshTotal *prometheus.CounterVec
	logoutTotal  prometheus.Counter
}

// NewMetrics registers auth counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		loginTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carta_auth_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carta_auth_refresh_total",
			Help: "Refresh-credential rotations by outcome.",
		}, []string{"outcome"}),
		logoutTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "carta_auth_logout_total",
			Help: "Logout requests (single and everywhere).",
		}),
	}
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) logout() {
	if m == nil {
		return
	}
	m.logoutTotal.Inc()
}
