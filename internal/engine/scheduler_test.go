package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/solazh/hivefarm/internal/domain"
)

func makeDevices(n int) []*domain.Device {
	devices := make([]*domain.Device, n)
	for i := range devices {
		devices[i] = &domain.Device{
			DeviceID: fmt.Sprintf("device-%d", i),
		}
	}
	return devices
}

func TestSchedulerRunsAllDevices(t *testing.T) {
	sched := NewDeviceScheduler(5, 3, time.Second, testLogger())
	devices := makeDevices(12)

	var calls int64
	result := sched.RunCycle(context.Background(), devices, func(_ context.Context, _ *domain.Device) error {
		atomic.AddInt64(&calls, 1)
		return nil
	})

	assert.Equal(t, int64(12), atomic.LoadInt64(&calls))
	assert.Equal(t, 12, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	sched := NewDeviceScheduler(10, 2, time.Second, testLogger())
	devices := makeDevices(10)

	var running, peak int64
	sched.RunCycle(context.Background(), devices, func(_ context.Context, _ *domain.Device) error {
		n := atomic.AddInt64(&running, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil
	})

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestSchedulerTimeoutIsolatesDevice(t *testing.T) {
	sched := NewDeviceScheduler(10, 10, 20*time.Millisecond, testLogger())
	devices := makeDevices(4)

	result := sched.RunCycle(context.Background(), devices, func(ctx context.Context, device *domain.Device) error {
		if device.DeviceID == "device-0" {
			// Ignores its context entirely; the scheduler must still move on.
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		return nil
	})

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 1, result.TimedOut)
	assert.Equal(t, domain.FailureDeviceTimeout, domain.Classify(result.Errors["device-0"]))
}

func TestSchedulerFailureDoesNotStopBatch(t *testing.T) {
	sched := NewDeviceScheduler(10, 10, time.Second, testLogger())
	devices := makeDevices(5)

	wantErr := errors.New("ping rejected")
	result := sched.RunCycle(context.Background(), devices, func(_ context.Context, device *domain.Device) error {
		if device.DeviceID == "device-2" {
			return wantErr
		}
		return nil
	})

	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.ErrorIs(t, result.Errors["device-2"], wantErr)
}

func TestSchedulerSkipsInFlightDevices(t *testing.T) {
	sched := NewDeviceScheduler(10, 10, time.Second, testLogger())
	device := makeDevices(1)[0]

	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.RunCycle(context.Background(), []*domain.Device{device}, func(_ context.Context, _ *domain.Device) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// Second cycle overlaps the first; the device is still in flight.
	result := sched.RunCycle(context.Background(), []*domain.Device{device}, func(_ context.Context, _ *domain.Device) error {
		t.Error("device dispatched twice concurrently")
		return nil
	})
	close(release)
	wg.Wait()

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Succeeded)
}

func TestSchedulerHoldsClaimPastTimeout(t *testing.T) {
	sched := NewDeviceScheduler(10, 10, 50*time.Millisecond, testLogger())
	device := makeDevices(1)[0]

	var running, peak int64
	task := func(_ context.Context, _ *domain.Device) error {
		n := atomic.AddInt64(&running, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		// Ignores its context: the first cycle abandons it at the timeout
		// while it is still running.
		time.Sleep(400 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return nil
	}

	first := sched.RunCycle(context.Background(), []*domain.Device{device}, task)
	second := sched.RunCycle(context.Background(), []*domain.Device{device}, task)

	assert.Equal(t, 1, first.TimedOut)
	assert.Equal(t, 1, second.Skipped, "abandoned task must keep its claim until it returns")
	assert.Equal(t, int64(1), atomic.LoadInt64(&peak), "device dispatched twice concurrently")
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	sched := NewDeviceScheduler(1, 1, time.Second, testLogger())
	devices := makeDevices(10)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int64
	sched.RunCycle(ctx, devices, func(_ context.Context, _ *domain.Device) error {
		if atomic.AddInt64(&calls, 1) == 2 {
			cancel()
		}
		return nil
	})

	assert.Less(t, atomic.LoadInt64(&calls), int64(10))
}
