// Package metrics exposes Prometheus counters for scans, registrations,
// enrollments and notifications.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "scans_total",
		Help:      "Scans received, by mode and outcome.",
	}, []string{"mode", "outcome"})

	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "registrations_total",
		Help:      "Committed attendance transitions, by direction, status and method.",
	}, []string{"direction", "status", "method"})

	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "duplicate_scans_total",
		Help:      "Scans rejected because the direction was already registered today.",
	}, []string{"direction"})

	enrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts, by resulting embedding status.",
	}, []string{"status"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "notifications_total",
		Help:      "Guardian notifications handed to the dispatcher, by result.",
	}, []string{"result"})
)

// ObserveScan counts one scan. outcome is "ok" or an error code such as "NOT_FOUND".
func ObserveScan(mode, outcome string) {
	scansTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveRegistration counts one committed transition.
func ObserveRegistration(direction, status, method string) {
	registrationsTotal.WithLabelValues(direction, status, method).Inc()
}

// ObserveDuplicate counts one AlreadyRegistered rejection.
func ObserveDuplicate(direction string) {
	duplicatesTotal.WithLabelValues(direction).Inc()
}

// ObserveEnrollment counts one enrollment attempt by final status.
func ObserveEnrollment(status string) {
	enrollmentsTotal.WithLabelValues(status).Inc()
}

// ObserveNotification counts one dispatch.
func ObserveNotification(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(result).Inc()
}
