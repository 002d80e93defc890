package model

// Health statuses
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Service states reported per collaborator
const (
	ServiceUp        = "up"
	ServiceDown      = "down"
	ServiceDisabled  = "disabled"
	ServiceUnchecked = "unchecked"
)

// ServiceStatus lists the collaborators probed by the health endpoint
type ServiceStatus struct {
	Search    string `json:"search"`
	Embedding string `json:"embedding"`
	LLM       string `json:"llm"`
}

// HealthReport is the body of the health endpoint
type HealthReport struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Services  ServiceStatus `json:"services"`
}

// Overall derives the report status: search and embedding are required,
// the generator is not because contingency answers still work.
func (s ServiceStatus) Overall() string {
	if s.Search == ServiceDown || s.Embedding == ServiceDown {
		return HealthUnhealthy
	}
	if s.LLM == ServiceDown || s.LLM == ServiceDisabled {
		return HealthDegraded
	}
	return HealthHealthy
}
