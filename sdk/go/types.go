package sdk

import "fmt"

// HealthStatus describes the /healthz response. Dependency failures
// appear as extra keys alongside "status".
type HealthStatus struct {
	Status string `json:"status"`
}

// APIError is a non-2xx response from the coordination API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}
