package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Audit trail metrics
	AuditEntriesLogged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_audit_entries_logged_total",
		Help: "Total number of audit entries appended to the trail",
	}, []string{"level"})
	AuditFallbackWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_audit_fallback_writes_total",
		Help: "Total number of audit entries kept only in the local buffer after a durable write failure",
	})
	AuditExports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_audit_exports_total",
		Help: "Total number of audit trail exports produced",
	}, []string{"format"})
	AuditAlertsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_audit_alerts_published_total",
		Help: "Total number of real-time alerts published for critical audit entries",
	})
	AuditAlertsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_audit_alerts_dropped_total",
		Help: "Total number of real-time alerts dropped before reaching a sink",
	}, []string{"reason"})
	AuditAlertSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_audit_alert_sink_errors_total",
		Help: "Total number of alert sink write failures",
	}, []string{"sink"})

	// Consent registry metrics
	ConsentCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_consent_created_total",
		Help: "Total number of consents created",
	})
	ConsentRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_consent_revoked_total",
		Help: "Total number of consents revoked",
	})
	AccessDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_access_decisions_total",
		Help: "Total number of data access decisions, grouped by resulting level",
	}, []string{"level"})
	EmergencyAccessRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_emergency_access_requests_total",
		Help: "Total number of emergency access requests, grouped by lifecycle event",
	}, []string{"event"})

	// Notification dispatch metrics
	NotificationsScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_notifications_scheduled_total",
		Help: "Total number of notifications scheduled",
	}, []string{"type"})
	NotificationsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_notifications_delivered_total",
		Help: "Total number of notifications delivered on all channels",
	}, []string{"type"})
	NotificationsFailedPermanently = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_notifications_failed_permanently_total",
		Help: "Total number of notifications that exhausted all delivery attempts",
	}, []string{"type"})
	NotificationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_notification_retries_total",
		Help: "Total number of notification delivery retries scheduled",
	})
	NotificationsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_notifications_cancelled_total",
		Help: "Total number of notifications cancelled before delivery",
	})
	ChannelSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_channel_send_success_total",
		Help: "Total number of successful channel sends",
	}, []string{"channel"})
	ChannelSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_channel_send_failure_total",
		Help: "Total number of failed channel sends",
	}, []string{"channel"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(AuditEntriesLogged)
	prometheus.MustRegister(AuditFallbackWrites)
	prometheus.MustRegister(AuditExports)
	prometheus.MustRegister(AuditAlertsPublished)
	prometheus.MustRegister(AuditAlertsDropped)
	prometheus.MustRegister(AuditAlertSinkErrors)
	prometheus.MustRegister(ConsentCreated)
	prometheus.MustRegister(ConsentRevoked)
	prometheus.MustRegister(AccessDecisions)
	prometheus.MustRegister(EmergencyAccessRequests)
	prometheus.MustRegister(NotificationsScheduled)
	prometheus.MustRegister(NotificationsDelivered)
	prometheus.MustRegister(NotificationsFailedPermanently)
	prometheus.MustRegister(NotificationRetries)
	prometheus.MustRegister(NotificationsCancelled)
	prometheus.MustRegister(ChannelSendSuccess)
	prometheus.MustRegister(ChannelSendFailure)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
}

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
