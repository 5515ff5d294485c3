// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imagebot"

var (
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Generation and edit requests by outcome.",
	}, []string{"action", "outcome"})

	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_denials_total",
		Help:      "Requests denied by the quota evaluator.",
	}, []string{"reason"})

	KeyRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_redemptions_total",
		Help:      "Activation key redemption attempts.",
	}, []string{"result"})

	Referrals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "referrals_total",
		Help:      "Referral registration attempts.",
	}, []string{"result"})

	WorkflowSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workflow_sessions",
		Help:      "Active multi-step workflow sessions.",
	})
)

const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeRefused = "refused"
	OutcomeFailed  = "failed"
)

func Handler() http.Handler {
	return promhttp.Handler()
}
