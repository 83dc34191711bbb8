package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PointsAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_awarded_total",
		Help: "Points written by earn and positive adjust entries.",
	}, []string{"type"})

	PointsRedeemed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "points_redeemed_total",
		Help: "Points consumed by successful redemptions.",
	})

	PointsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "points_expired_total",
		Help: "Points zeroed by the expiration sweep.",
	})

	RedemptionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_redemption_rejected_total",
		Help: "Redemptions refused by a guard, by reason.",
	}, []string{"reason"})

	AuditDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "points_audit_dead_letter_total",
		Help: "Audit events that could not be enqueued and were dead-lettered.",
	})

	ConfigCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_config_cache_total",
		Help: "Points configuration cache lookups by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		PointsAwarded,
		PointsRedeemed,
		PointsExpired,
		RedemptionRejected,
		AuditDeadLetter,
		ConfigCache,
	)
}
