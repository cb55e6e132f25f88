package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/solazh/hivefarm/internal/domain"
)

// DeviceStore defines the interface for device persistence. Devices belong to
// exactly one account; writes for different accounts may run concurrently,
// including from separate worker processes.
type DeviceStore interface {
	// ListByAccount retrieves up to limit devices owned by the account.
	// A limit of zero or less means no limit.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Device, error)

	// Upsert writes the device keyed by its DeviceID, creating it if absent.
	// Idempotent in the same sense as AccountStore.Upsert.
	Upsert(ctx context.Context, device *domain.Device) error

	// UpdateSchedule sets the next ping and job-request due times for the
	// device. Returns ErrDeviceNotFound if the device does not exist.
	UpdateSchedule(ctx context.Context, deviceID string, nextPing, nextJob time.Time) error

	// UpdateProxy sets the device's proxy assignment.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateProxy(ctx context.Context, deviceID, proxy string) error

	// UpdateStatus sets the device's status.
	// Returns ErrDeviceNotFound if the device does not exist.
	UpdateStatus(ctx context.Context, deviceID string, status domain.DeviceStatus) error

	// WithTx returns a new DeviceStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) DeviceStore
}
