package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_governance_actions_created_total",
		Help: "Total number of pending governance actions created",
	})
	actionsApprovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_governance_actions_approved_total",
		Help: "Total number of governance actions that reached quorum",
	})
	actionsVetoedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_governance_actions_vetoed_total",
		Help: "Total number of governance actions vetoed",
	})
	actionsExecutedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_governance_actions_executed_total",
		Help: "Total number of governance actions executed",
	})
	actionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_governance_actions_expired_total",
		Help: "Total number of governance actions expired by the sweep",
	})
	auditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_audit_write_failures_total",
		Help: "Total number of swallowed audit ledger write failures",
	})
	auditChainBreaksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_audit_chain_breaks_total",
		Help: "Total number of verification runs that found a broken chain",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		actionsCreatedTotal,
		actionsApprovedTotal,
		actionsVetoedTotal,
		actionsExecutedTotal,
		actionsExpiredTotal,
		auditWriteFailuresTotal,
		auditChainBreaksTotal,
	)
}

// IncActionCreated increments the created actions counter.
func IncActionCreated() { actionsCreatedTotal.Inc() }

// IncActionApproved increments the approved actions counter.
func IncActionApproved() { actionsApprovedTotal.Inc() }

// IncActionVetoed increments the vetoed actions counter.
func IncActionVetoed() { actionsVetoedTotal.Inc() }

// IncActionExecuted increments the executed actions counter.
func IncActionExecuted() { actionsExecutedTotal.Inc() }

// AddActionsExpired adds n to the expired actions counter.
func AddActionsExpired(n int) { actionsExpiredTotal.Add(float64(n)) }

// IncAuditWriteFailure increments the swallowed audit write failure counter.
func IncAuditWriteFailure() { auditWriteFailuresTotal.Inc() }

// IncAuditChainBreak increments the broken chain counter.
func IncAuditChainBreak() { auditChainBreaksTotal.Inc() }
