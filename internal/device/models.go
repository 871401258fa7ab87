// Package device provides the registry of physical devices that hold wallet
// passes, keyed by the platform-issued device library identifier.
package device

import (
	"errors"
	"time"
)

// Device errors.
var (
	ErrDeviceNotFound = errors.New("device not found")
)

// Activity windows.
const (
	// ActiveWindow is how recently a device must have been seen to count
	// as active. Reporting only; never gates protocol behavior.
	ActiveWindow = 30 * 24 * time.Hour

	// RetentionWindow is how long an unseen device is kept before the
	// retention sweep may delete it.
	RetentionWindow = 90 * 24 * time.Hour
)

// Info is the structured metadata a device reports at registration time.
// Fields are optional; only UserAgent is used operationally, for best-effort
// wallet-log correlation.
type Info struct {
	// UserAgent is the raw user-agent string of the wallet client.
	UserAgent string `json:"userAgent,omitempty"`

	// Model is the hardware model identifier (e.g. "iPhone15,3").
	Model string `json:"model,omitempty"`

	// OSVersion is the reported operating system version.
	OSVersion string `json:"osVersion,omitempty"`

	// AppVersion is the wallet client version, when reported.
	AppVersion string `json:"appVersion,omitempty"`
}

// Device represents one physical device known to the platform.
type Device struct {
	// ID is the internal identifier (format: dev_XXXX).
	ID string

	// LibraryIdentifier is the platform-issued device identifier. Unique.
	LibraryIdentifier string

	// PushToken is the device's current push credential. Overwritten
	// whenever the device re-registers with a new one.
	PushToken string

	// Info is the metadata blob reported at registration.
	Info Info

	// LastSeenAt is refreshed on every protocol interaction.
	LastSeenAt time.Time

	// CreatedAt is when the device first registered.
	CreatedAt time.Time
}

// IsActive reports whether the device was seen within the active window.
func (d *Device) IsActive(now time.Time) bool {
	return now.Sub(d.LastSeenAt) <= ActiveWindow
}

// copyDevice returns a deep copy of a device.
func copyDevice(d *Device) *Device {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
