package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Artifact errors (4000-4999)
	ErrArtifactValidation     = 4000
	ErrArtifactEmpty          = 4001
	ErrArtifactTooLarge       = 4002
	ErrArtifactTypeNotAllowed = 4003
	ErrArtifactNotFound       = 4004
	ErrArtifactIO             = 4005
	ErrArtifactPersistence    = 4006
	ErrClockRegression        = 4007
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// Artifact errors
	ErrArtifactValidation:     {ErrArtifactValidation, http.StatusBadRequest, "Invalid file"},
	ErrArtifactEmpty:          {ErrArtifactEmpty, http.StatusBadRequest, "File is empty"},
	ErrArtifactTooLarge:       {ErrArtifactTooLarge, http.StatusRequestEntityTooLarge, "File size exceeds limit"},
	ErrArtifactTypeNotAllowed: {ErrArtifactTypeNotAllowed, http.StatusBadRequest, "Unsupported file type"},
	ErrArtifactNotFound:       {ErrArtifactNotFound, http.StatusNotFound, "File not found"},
	ErrArtifactIO:             {ErrArtifactIO, http.StatusInternalServerError, "File storage operation failed"},
	ErrArtifactPersistence:    {ErrArtifactPersistence, http.StatusInternalServerError, "File metadata operation failed"},
	ErrClockRegression:        {ErrClockRegression, http.StatusServiceUnavailable, "Clock moved backwards, id generation refused"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}

// IsValidation reports whether code belongs to the upload validation family.
func IsValidation(code int) bool {
	switch code {
	case ErrArtifactValidation, ErrArtifactEmpty, ErrArtifactTooLarge, ErrArtifactTypeNotAllowed:
		return true
	}
	return false
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
