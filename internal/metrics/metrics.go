package metrics

import "expvar"

var (
	TicksApplied     = expvar.NewInt("ticks_applied")
	TicksDroppedOld  = expvar.NewInt("ticks_dropped_old")
	TicksDroppedDup  = expvar.NewInt("ticks_dropped_dup")
	EventsDropped    = expvar.NewInt("events_dropped")
	HandlerPanics    = expvar.NewInt("handler_panics")
	SignalsEntry     = expvar.NewInt("signals_entry")
	SignalsExit      = expvar.NewInt("signals_exit")
	RuleEvalErrors   = expvar.NewInt("rule_eval_errors")
	AdmissionsOK     = expvar.NewInt("admissions_approved")
	AdmissionsDenied = expvar.NewInt("admissions_denied")
	RungFires        = expvar.NewInt("rung_fires")
	EmergencyCloses  = expvar.NewInt("emergency_closes")
	OrderRetries     = expvar.NewInt("order_retries")
	ReconcileRuns    = expvar.NewInt("reconcile_runs")
	ReconcileErrors  = expvar.NewInt("reconcile_errors")
	SnapshotSaves    = expvar.NewInt("snapshot_saves")
	SnapshotLoads    = expvar.NewInt("snapshot_loads")
)
