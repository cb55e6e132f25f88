package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/platform/logger"
	"github.com/solazh/hivefarm/internal/store"
)

// PostgresDeviceStore implements the store.DeviceStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDeviceStore struct {
	db store.DBTX
}

// NewPostgresDeviceStore creates a new PostgreSQL implementation of the
// DeviceStore interface.
func NewPostgresDeviceStore(db store.DBTX) *PostgresDeviceStore {
	return &PostgresDeviceStore{
		db: db,
	}
}

// Ensure PostgresDeviceStore implements store.DeviceStore interface
var _ store.DeviceStore = (*PostgresDeviceStore)(nil)

const deviceColumns = `id, device_id, account_id, user_agent, cpu_architecture,
	cpu_model, cpu_count, os, proxy, status, next_ping_at, next_job_at,
	created_at, updated_at`

// ListByAccount implements store.DeviceStore.ListByAccount
func (s *PostgresDeviceStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE account_id = $1 ORDER BY created_at`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var devices []*domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", MapError(err))
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device rows: %w", MapError(err))
	}
	return devices, nil
}

// Upsert implements store.DeviceStore.Upsert. The write is keyed by the
// fingerprint-derived device_id, so re-creating a device after a crash
// converges on the existing row instead of duplicating it.
func (s *PostgresDeviceStore) Upsert(ctx context.Context, device *domain.Device) error {
	log := logger.FromContext(ctx)

	if err := device.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO devices (id, device_id, account_id, user_agent,
			cpu_architecture, cpu_model, cpu_count, os, proxy, status,
			next_ping_at, next_job_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (device_id) DO UPDATE SET
			user_agent = EXCLUDED.user_agent,
			cpu_architecture = EXCLUDED.cpu_architecture,
			cpu_model = EXCLUDED.cpu_model,
			cpu_count = EXCLUDED.cpu_count,
			os = EXCLUDED.os,
			proxy = EXCLUDED.proxy,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.DeviceID,
		device.AccountID,
		device.UserAgent,
		device.CPUArchitecture,
		device.CPUModel,
		device.CPUCount,
		device.OS,
		device.Proxy,
		device.Status,
		nullableTime(device.NextPingAt),
		nullableTime(device.NextJobAt),
		device.CreatedAt,
		now,
	)
	if err != nil {
		log.Error("failed to upsert device",
			"device_id", device.DeviceID,
			"error", err)
		return fmt.Errorf("failed to upsert device: %w", MapError(err))
	}

	device.UpdatedAt = now
	return nil
}

// UpdateSchedule implements store.DeviceStore.UpdateSchedule
func (s *PostgresDeviceStore) UpdateSchedule(ctx context.Context, deviceID string, nextPing, nextJob time.Time) error {
	query := `UPDATE devices SET next_ping_at = $1, next_job_at = $2, updated_at = $3
		WHERE device_id = $4`
	return s.exec(ctx, query, nullableTime(nextPing), nullableTime(nextJob), time.Now().UTC(), deviceID)
}

// UpdateProxy implements store.DeviceStore.UpdateProxy
func (s *PostgresDeviceStore) UpdateProxy(ctx context.Context, deviceID, proxy string) error {
	query := `UPDATE devices SET proxy = $1, updated_at = $2 WHERE device_id = $3`
	return s.exec(ctx, query, proxy, time.Now().UTC(), deviceID)
}

// UpdateStatus implements store.DeviceStore.UpdateStatus
func (s *PostgresDeviceStore) UpdateStatus(ctx context.Context, deviceID string, status domain.DeviceStatus) error {
	query := `UPDATE devices SET status = $1, updated_at = $2 WHERE device_id = $3`
	return s.exec(ctx, query, status, time.Now().UTC(), deviceID)
}

// WithTx implements store.DeviceStore.WithTx
func (s *PostgresDeviceStore) WithTx(tx *sql.Tx) store.DeviceStore {
	return NewPostgresDeviceStore(tx)
}

// exec runs an UPDATE keyed by device_id and maps a zero-row result to
// ErrDeviceNotFound.
func (s *PostgresDeviceStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", MapError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrDeviceNotFound
	}
	return nil
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var device domain.Device
	var nextPing, nextJob sql.NullTime
	err := row.Scan(
		&device.ID,
		&device.DeviceID,
		&device.AccountID,
		&device.UserAgent,
		&device.CPUArchitecture,
		&device.CPUModel,
		&device.CPUCount,
		&device.OS,
		&device.Proxy,
		&device.Status,
		&nextPing,
		&nextJob,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if nextPing.Valid {
		device.NextPingAt = nextPing.Time
	}
	if nextJob.Valid {
		device.NextJobAt = nextJob.Time
	}
	return &device, nil
}

// nullableTime stores the zero time as NULL so "due now" round-trips.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
