package request

// CreateDeployment is the blue-green deployment request body.
type CreateDeployment struct {
	BlueNodeID  string   `json:"blue_node_id" validate:"required"`
	GreenNodeID string   `json:"green_node_id" validate:"required"`
	Roles       []string `json:"roles" validate:"required,min=1"`

	HealthCheckURL      string `json:"health_check_url" validate:"omitempty,url"`
	HealthCheckInterval int    `json:"health_check_interval" validate:"omitempty,min=1"`
	HealthCheckTimeout  int    `json:"health_check_timeout" validate:"omitempty,min=1"`

	AutoRollback           bool `json:"auto_rollback"`
	MonitorDuration        int  `json:"monitor_duration" validate:"omitempty,min=1"`
	HealthFailureThreshold int  `json:"health_failure_threshold" validate:"omitempty,min=1"`
	PurgeOnComplete        bool `json:"purge_on_complete"`
}
