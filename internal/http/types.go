package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
}

// SettingsRequest is the request body for PUT /api/v1/settings.
// Timeout is the raw popup input.
type SettingsRequest struct {
	Timeout string `json:"timeout"`
}

// SettingsResponse is the response body for the settings endpoints.
type SettingsResponse struct {
	Timeout int `json:"timeout"`
}
