package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Extensions carries additional response fields
	Extensions map[string]interface{} `json:"-"`
}

// RenderProblem writes the document with the RFC 7807 media type. Problem
// responses bypass chi's render pipeline because render.JSON forces the
// Content-Type to application/json.
func RenderProblem(w http.ResponseWriter, pd *ProblemDetails) {
	body, err := json.Marshal(pd)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pd.Status)
	w.Write(body)
}

// MarshalJSON flattens extensions into the problem document
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapError converts a domain error into a problem response using the
// taxonomy's status mapping.
func MapError(err error, instance, traceID string) *ProblemDetails {
	var (
		problemType = "/errors/internal-server-error"
		title       = "Internal Server Error"
		detail      = "An unexpected error occurred"
	)

	switch {
	case errors.Is(err, ErrValidation):
		problemType = "/errors/validation-failed"
		title = "Validation Failed"
		detail = err.Error()
	case errors.Is(err, ErrDeviceNotFound):
		problemType = "/errors/device-not-found"
		title = "Device Not Found"
		detail = "Unknown device. The device must send a heartbeat before registering."
	case errors.Is(err, ErrDeviceLimitReached):
		problemType = "/errors/device-limit-reached"
		title = "Device Limit Reached"
		detail = "This key is already in use on the maximum number of devices. Contact support to free a slot."
	case errors.Is(err, ErrRateLimited):
		problemType = "/errors/rate-limit-exceeded"
		title = "Too Many Requests"
		detail = "Daily heartbeat allowance exceeded. Please retry tomorrow."
	}

	return NewProblemDetails(StatusCode(err), problemType, title, detail, instance).
		WithExtension("trace_id", traceID)
}
