package api

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body of the root and health endpoints.
type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	RobotID string `json:"robot_id,omitempty"`
}
