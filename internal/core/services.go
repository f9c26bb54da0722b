package core

type Services struct {
	Node        *NodeService
	Deployment  *DeploymentService
	Service     *ServiceService
	Event       *EventService
	Settings    *SettingsService
	Maintenance *MaintenanceService
}

func NewServices(db DB) *Services {
	return &Services{
		Node:        NewNodeService(db),
		Deployment:  NewDeploymentService(db),
		Service:     NewServiceService(db),
		Event:       NewEventService(db),
		Settings:    NewSettingsService(db),
		Maintenance: NewMaintenanceService(db),
	}
}
