package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func validDevice() *Device {
	return &Device{
		ID:        uuid.New(),
		DeviceID:  "d5c2a8f0-0000-5000-8000-000000000000",
		AccountID: uuid.New(),
		UserAgent: "Mozilla/5.0",
		Status:    DeviceStatusNew,
	}
}

func TestDeviceValidate(t *testing.T) {
	t.Run("accepts valid device", func(t *testing.T) {
		assert.NoError(t, validDevice().Validate())
	})

	t.Run("rejects empty device ID", func(t *testing.T) {
		d := validDevice()
		d.DeviceID = ""
		assert.ErrorIs(t, d.Validate(), ErrEmptyDeviceID)
	})

	t.Run("rejects missing account reference", func(t *testing.T) {
		d := validDevice()
		d.AccountID = uuid.Nil
		assert.ErrorIs(t, d.Validate(), ErrDeviceNoAccount)
	})

	t.Run("rejects empty user agent", func(t *testing.T) {
		d := validDevice()
		d.UserAgent = ""
		assert.ErrorIs(t, d.Validate(), ErrEmptyUserAgent)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		d := validDevice()
		d.Status = DeviceStatus("sleeping")
		assert.ErrorIs(t, d.Validate(), ErrInvalidDeviceState)
	})
}

func TestDeviceDueTimes(t *testing.T) {
	now := time.Now()

	t.Run("zero times mean due now", func(t *testing.T) {
		d := validDevice()
		assert.True(t, d.PingDue(now))
		assert.True(t, d.JobDue(now))
		assert.True(t, d.Due(now))
	})

	t.Run("future times are not due", func(t *testing.T) {
		d := validDevice()
		d.NextPingAt = now.Add(time.Minute)
		d.NextJobAt = now.Add(time.Minute)
		assert.False(t, d.PingDue(now))
		assert.False(t, d.JobDue(now))
		assert.False(t, d.Due(now))
	})

	t.Run("exact deadline counts as due", func(t *testing.T) {
		d := validDevice()
		d.NextPingAt = now
		d.NextJobAt = now
		assert.True(t, d.PingDue(now))
		assert.True(t, d.JobDue(now))
	})

	t.Run("one due gate is enough", func(t *testing.T) {
		d := validDevice()
		d.NextPingAt = now.Add(time.Minute)
		d.NextJobAt = now.Add(-time.Second)
		assert.False(t, d.PingDue(now))
		assert.True(t, d.JobDue(now))
		assert.True(t, d.Due(now))
	})
}
