package model

// Setting is a runtime-tunable key/value pair stored in the database.
type Setting struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// Setting keys read by the orchestrator and reconciler.
const (
	SettingAutoRemediate        = "auto_remediate"
	SettingAutoRestartServices  = "auto_restart_services"
	SettingAutoRollback         = "auto_rollback"
	SettingAutoReconcile        = "auto_reconcile"
	SettingRemediationMode      = "remediation_mode"
	SettingRollbackWindowSecs   = "rollback_window_seconds"
	SettingHeartbeatTimeoutSecs = "heartbeat_timeout_seconds"
)
