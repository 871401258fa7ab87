// Package registration maintains the many-to-many index between installed
// devices and passes. A row means "this device holds this pass and wants
// change notifications for it".
package registration

import (
	"errors"
	"time"
)

// Registration errors.
var (
	ErrRegistrationNotFound = errors.New("registration not found")
)

// Registration links one device to one pass.
type Registration struct {
	// ID is the internal identifier (format: reg_XXXX).
	ID string

	// DeviceID is the internal device id; DeviceLibraryID is the
	// wallet-assigned identifier the protocol addresses devices by. Both
	// are stored so dispatch can fan out without a device lookup.
	DeviceID        string
	DeviceLibraryID string

	PassID     string
	PassTypeID string

	RegisteredAt  time.Time
	LastCheckedAt time.Time
}

// StaleWindow is how long a registration may go unchecked before the
// retention sweep removes it. A device that stopped polling for this long
// has almost certainly deleted the pass without an unregister reaching us.
const StaleWindow = 90 * 24 * time.Hour

// copyRegistration returns a copy of a registration.
func copyRegistration(r *Registration) *Registration {
	c := *r
	return &c
}
