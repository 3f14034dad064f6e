// Package metrics 暴露风控决策的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 持有本服务的指标向量。所有方法对 nil 接收者安全。
type Recorder struct {
	registry    *prometheus.Registry
	moderation  *prometheus.CounterVec
	plans       *prometheus.CounterVec
	suspensions *prometheus.CounterVec
	remoteCalls *prometheus.CounterVec
}

// New 在独立的 Registry 上注册全部指标，避免污染全局默认 Registry。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		moderation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_gate_moderation_decisions_total",
			Help: "Content moderation decisions by action",
		}, []string{"action"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_gate_plan_decisions_total",
			Help: "Action plan evaluations by outcome",
		}, []string{"outcome"}),
		suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_gate_suspension_transitions_total",
			Help: "Suspension lifecycle transitions by kind",
		}, []string{"kind"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_gate_remote_review_calls_total",
			Help: "Remote content review platform calls by platform and status",
		}, []string{"platform", "status"}),
	}
	r.registry.MustRegister(r.moderation, r.plans, r.suspensions, r.remoteCalls)
	return r
}

func (r *Recorder) ModerationDecision(action string) {
	if r != nil {
		r.moderation.WithLabelValues(action).Inc()
	}
}

func (r *Recorder) PlanDecision(outcome string) {
	if r != nil {
		r.plans.WithLabelValues(outcome).Inc()
	}
}

func (r *Recorder) SuspensionTransition(kind string) {
	if r != nil {
		r.suspensions.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) RemoteReviewCall(platformName, status string) {
	if r != nil {
		r.remoteCalls.WithLabelValues(platformName, status).Inc()
	}
}

// Registry 返回底层 Registry，便于测试读取。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
