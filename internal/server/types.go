package server

import "time"

// Error codes returned in ErrorResponse.Error
const (
	CodeInvalidImage    = "INVALID_IMAGE"
	CodeEmptyImage      = "EMPTY_IMAGE"
	CodeValidationError = "VALIDATION_ERROR"
	CodeTooLarge        = "IMAGE_TOO_LARGE"
	CodeTimeout         = "TIMEOUT"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Output variants for the convert endpoint
const (
	VariantPreview = "preview"
	VariantFinal   = "final"
)

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    *int      `json:"uptime,omitempty"`
	Version   *string   `json:"version,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	RequestId *string                 `json:"request_id,omitempty"`
	Details   *map[string]interface{} `json:"details,omitempty"`
}

// Size is a width/height pair in pixels or squares
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FootprintResponse describes the geometry a conversion would produce
type FootprintResponse struct {
	Unit      int   `json:"unit"`
	Footprint Size  `json:"footprint"`
	Content   Size  `json:"content"`
	Canvas    Size  `json:"canvas"`
	Offset    Size  `json:"offset"`
	Preview   Size  `json:"preview"`
	Optimized *Size `json:"optimized,omitempty"`
	Image     Size  `json:"image"`
}
