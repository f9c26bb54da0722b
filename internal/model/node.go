package model

import (
	"time"
)

type Node struct {
	ID            string     `json:"id" db:"id"`
	Hostname      string     `json:"hostname" db:"hostname"`
	IPAddress     *string    `json:"ip_address,omitempty" db:"ip_address"`
	SSHUser       string     `json:"ssh_user" db:"ssh_user"`
	SSHPort       int        `json:"ssh_port" db:"ssh_port"`
	Roles         []string   `json:"roles" db:"roles"`
	Status        NodeStatus `json:"status" db:"status"`
	CPUPercent    float64    `json:"cpu_percent" db:"cpu_percent"`
	MemoryPercent float64    `json:"memory_percent" db:"memory_percent"`
	DiskPercent   float64    `json:"disk_percent" db:"disk_percent"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// HasRole reports whether the node currently holds the given role.
func (n *Node) HasRole(role string) bool {
	for _, r := range n.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NodeService is an OS service discovered on a node, upserted from the
// node's self-reported heartbeat data.
type NodeService struct {
	NodeID      string        `json:"node_id" db:"node_id"`
	Name        string        `json:"name" db:"name"`
	Status      ServiceStatus `json:"status" db:"status"`
	Enabled     bool          `json:"enabled" db:"enabled"`
	Category    string        `json:"category" db:"category"`
	LastChecked time.Time     `json:"last_checked" db:"last_checked"`
}

// MaintenanceWindow suppresses automatic remediation for a node while the
// current time falls inside [StartsAt, EndsAt).
type MaintenanceWindow struct {
	ID        string    `json:"id" db:"id"`
	NodeID    string    `json:"node_id" db:"node_id"`
	Reason    string    `json:"reason" db:"reason"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
