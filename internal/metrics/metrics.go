package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	auditAppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vanguard_audit_appends_total",
		Help: "Total number of audit ledger entries appended",
	}, []string{"scope_kind"})
	auditAppendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanguard_audit_append_failures_total",
		Help: "Total number of audit ledger appends that failed",
	})
	auditIntegrityFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanguard_audit_integrity_failures_total",
		Help: "Total number of ledger views that failed hash-chain verification",
	})
	approvalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vanguard_approvals_total",
		Help: "Approval workflow transitions by decision",
	}, []string{"decision"})
	commandsExecutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vanguard_commands_executed_total",
		Help: "Commands executed by risk level",
	}, []string{"risk"})
	securityEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vanguard_security_events_total",
		Help: "Security events recorded by severity",
	}, []string{"severity"})
	autoFreezeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vanguard_auto_freeze_total",
		Help: "Accounts disabled automatically by the security monitor",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		auditAppendsTotal,
		auditAppendFailuresTotal,
		auditIntegrityFailuresTotal,
		approvalsTotal,
		commandsExecutedTotal,
		securityEventsTotal,
		autoFreezeTotal,
	)
}

// IncAuditAppend counts a ledger append. scopeKind is "community" or "global".
func IncAuditAppend(scopeKind string) { auditAppendsTotal.WithLabelValues(scopeKind).Inc() }

// IncAuditAppendFailure counts a failed ledger append.
func IncAuditAppendFailure() { auditAppendFailuresTotal.Inc() }

// IncIntegrityFailure counts a failed chain verification.
func IncIntegrityFailure() { auditIntegrityFailuresTotal.Inc() }

// IncApproval counts an approval transition ("requested", "approved", "rejected").
func IncApproval(decision string) { approvalsTotal.WithLabelValues(decision).Inc() }

// IncCommandExecuted counts an executed command.
func IncCommandExecuted(risk string) { commandsExecutedTotal.WithLabelValues(risk).Inc() }

// IncSecurityEvent counts a recorded security event.
func IncSecurityEvent(severity string) { securityEventsTotal.WithLabelValues(severity).Inc() }

// IncAutoFreeze counts an automatic account freeze.
func IncAutoFreeze() { autoFreezeTotal.Inc() }
