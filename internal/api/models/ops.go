package models

// Health is the liveness and readiness body.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus is the operator view of the subsystems.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Subsystems []SubsystemStatus `json:"subsystems"`

	// Sweeper is the in-process sweeper's metrics snapshot, when one runs.
	Sweeper map[string]interface{} `json:"sweeper,omitempty"`
}

// SubsystemStatus is the status of one subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}
