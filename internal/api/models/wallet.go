// Package models provides request and response models for the Stampwise API.
package models

// DeviceRegistrationRequest is the body of the wallet protocol's register
// call: POST /v1/devices/{deviceLibraryId}/registrations/{passTypeId}/{serialNumber}.
type DeviceRegistrationRequest struct {
	// PushToken is the platform push credential for silent update pushes.
	PushToken string `json:"pushToken"`
}

// UpdatablePasses is the 200 response of the "list updates" call:
// GET /v1/devices/{deviceLibraryId}/registrations/{passTypeId}.
type UpdatablePasses struct {
	// SerialNumbers lists serials whose update tag advanced past the
	// passesUpdatedSince cursor.
	SerialNumbers []string `json:"serialNumbers"`

	// LastUpdated is the newest update tag among the listed passes. The
	// device echoes it back as passesUpdatedSince on its next poll.
	LastUpdated string `json:"lastUpdated"`
}

// LogSubmission is the body of POST /v1/log. Devices batch free-form
// diagnostic lines; the protocol never rejects them.
type LogSubmission struct {
	Logs []string `json:"logs"`
}

// LogSubmissionResult acknowledges a log submission.
type LogSubmissionResult struct {
	LogsReceived int `json:"logsReceived"`
	LogsStored   int `json:"logsStored"`
}
