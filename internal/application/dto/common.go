package dto

// ErrorResponse cuerpo de error HTTP.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Details lleva los errores de validación campo a campo cuando los hay.
	Details []string `json:"details,omitempty"`
}
