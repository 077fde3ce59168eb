// Package api defines the settings API request and response types.
package api

// Settings is the settings API representation of the capture settings.
type Settings struct {
	ServerURL    string   `json:"server_url"`
	ScopeDomains []string `json:"scope_domains"`
	IndexURL     string   `json:"index_url,omitempty"`
}

// UpdateSettingsRequest is the request body for PUT /v1/settings.
// Nil fields keep their current value.
type UpdateSettingsRequest struct {
	ServerURL    *string   `json:"server_url,omitempty"`
	ScopeDomains *[]string `json:"scope_domains,omitempty"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	InFlight    int    `json:"in_flight"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
