package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics は認証処理のカウンタです。
type Metrics struct {
	Requests       *prometheus.CounterVec
	GateRejections *prometheus.CounterVec
}

// NewMetrics はカウンタを作成し、reg が nil でなければ登録します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_auth_requests_total",
				Help: "Total number of authentication requests by operation and result",
			},
			[]string{"operation", "result"},
		),
		GateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_gate_rejections_total",
				Help: "Total number of requests rejected by the auth gate by reason",
			},
			[]string{"reason"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.GateRejections)
	}
	return m
}

func (m *Metrics) observe(operation, result string) {
	m.Requests.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) reject(reason string) {
	m.GateRejections.WithLabelValues(reason).Inc()
}
