package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Device validation errors
var (
	ErrEmptyDeviceID      = errors.New("device ID cannot be empty")
	ErrEmptyUserAgent     = errors.New("device user agent cannot be empty")
	ErrDeviceNoAccount    = errors.New("device must reference an account")
	ErrInvalidDeviceState = errors.New("invalid device status")
)

// DeviceStatus represents the state of a simulated client device.
type DeviceStatus string

const (
	DeviceStatusNew     DeviceStatus = "new"
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusFarming DeviceStatus = "farming"
	DeviceStatusError   DeviceStatus = "error"
)

var validDeviceStatuses = map[DeviceStatus]bool{
	DeviceStatusNew:     true,
	DeviceStatusActive:  true,
	DeviceStatusFarming: true,
	DeviceStatusError:   true,
}

// Device is a simulated client instance owned by one account, used to
// parallelize per-account farming throughput. A device may carry its own
// proxy assignment, distinct from the owning account's.
type Device struct {
	ID        uuid.UUID `json:"id"`
	DeviceID  string    `json:"device_id"` // fingerprint-derived stable identifier
	AccountID uuid.UUID `json:"account_id"`

	// Fingerprint payload presented to the remote API.
	UserAgent       string `json:"user_agent"`
	CPUArchitecture string `json:"cpu_architecture"`
	CPUModel        string `json:"cpu_model"`
	CPUCount        int    `json:"cpu_count"`
	OS              string `json:"os"`

	// Proxy assigned to this device. Empty means "fall back to the account
	// proxy, then the pool".
	Proxy string `json:"proxy,omitempty"`

	Status DeviceStatus `json:"status"`

	// NextPingAt / NextJobAt gate when the device is due for its next ping
	// or job request. The zero value means "due now".
	NextPingAt time.Time `json:"next_ping_at,omitempty"`
	NextJobAt  time.Time `json:"next_job_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Device carries usable data.
func (d *Device) Validate() error {
	if d.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if d.AccountID == uuid.Nil {
		return ErrDeviceNoAccount
	}
	if d.UserAgent == "" {
		return ErrEmptyUserAgent
	}
	if !validDeviceStatuses[d.Status] {
		return ErrInvalidDeviceState
	}
	return nil
}

// PingDue reports whether the device is due for a ping at the given instant.
func (d *Device) PingDue(now time.Time) bool {
	return d.NextPingAt.IsZero() || !now.Before(d.NextPingAt)
}

// JobDue reports whether the device is due for a job request at the given
// instant.
func (d *Device) JobDue(now time.Time) bool {
	return d.NextJobAt.IsZero() || !now.Before(d.NextJobAt)
}

// Due reports whether any work is due for the device.
func (d *Device) Due(now time.Time) bool {
	return d.PingDue(now) || d.JobDue(now)
}
