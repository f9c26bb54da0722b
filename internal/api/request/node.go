package request

// Heartbeat is one self-reported node heartbeat body.
type Heartbeat struct {
	CPUPercent    float64            `json:"cpu_percent" validate:"min=0,max=100"`
	MemoryPercent float64            `json:"memory_percent" validate:"min=0,max=100"`
	DiskPercent   float64            `json:"disk_percent" validate:"min=0,max=100"`
	Services      []HeartbeatService `json:"services" validate:"omitempty,dive"`
	Metadata      map[string]any     `json:"metadata"`
}

// HeartbeatService is one OS service discovered by the node agent.
type HeartbeatService struct {
	Name     string `json:"name" validate:"required"`
	Status   string `json:"status" validate:"required,oneof=running failed stopped unknown"`
	Enabled  bool   `json:"enabled"`
	Category string `json:"category"`
}

// CreateMaintenanceWindow suppresses remediation for a node over a window.
type CreateMaintenanceWindow struct {
	Reason   string `json:"reason" validate:"required"`
	StartsAt string `json:"starts_at" validate:"required"`
	EndsAt   string `json:"ends_at" validate:"required"`
}

// UpdateSetting replaces one runtime setting value.
type UpdateSetting struct {
	Value string `json:"value" validate:"required"`
}
