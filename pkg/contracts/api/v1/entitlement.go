// Package v1 defines the wire contract between licensed installations and
// the entitlement server. Both the server handlers and the client resolver
// marshal these types, so field names here are the protocol.
package v1

// HeartbeatRequest is the POST /heartbeat body. DownloadKey carries the
// plaintext registration key a previously registered device re-sends so the
// server can re-bind it after administrative resets.
type HeartbeatRequest struct {
	DeviceID    string `json:"deviceId" validate:"required"`
	AppVersion  string `json:"appVersion" validate:"required"`
	DownloadKey string `json:"downloadKey,omitempty"`
}

// HeartbeatResponse is the POST /heartbeat response body. The entitlement
// token travels in the JWT field.
type HeartbeatResponse struct {
	Registered         bool   `json:"registered"`
	TrialValid         bool   `json:"trialValid"`
	TrialDaysRemaining int    `json:"trialDaysRemaining"`
	JWT                string `json:"jwt,omitempty"`
	KeyHint            string `json:"keyHint,omitempty"`
	LatestVersion      string `json:"latestVersion"`
	UpdateAvailable    bool   `json:"updateAvailable"`
	UpdateRequired     bool   `json:"updateRequired,omitempty"`
	ServerMessage      string `json:"serverMessage,omitempty"`
}

// RegisterRequest is the POST /register body.
type RegisterRequest struct {
	DeviceID    string `json:"deviceId" validate:"required"`
	DownloadKey string `json:"downloadKey" validate:"required"`
}

// RegisterResponse is the POST /register response body. Soft failures set
// Success=false with Error populated; hard failures use problem responses.
type RegisterResponse struct {
	Success bool   `json:"success"`
	JWT     string `json:"jwt,omitempty"`
	KeyHint string `json:"keyHint,omitempty"`
	Error   string `json:"error,omitempty"`
}
