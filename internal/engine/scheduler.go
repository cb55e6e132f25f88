package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/solazh/hivefarm/internal/domain"
)

// DeviceFunc is the work performed for one due device within a cycle.
type DeviceFunc func(ctx context.Context, device *domain.Device) error

// CycleResult summarizes one scheduler pass over an account's devices.
type CycleResult struct {
	Succeeded int
	Failed    int
	TimedOut  int
	Skipped   int

	// Errors maps device IDs to the error that failed them this cycle.
	Errors map[string]error
}

// DeviceScheduler fans device work out in bounded batches: at most
// maxBatch devices enter a batch, at most maxConcurrent run at once across
// the batch, and each device task is cut off at taskTimeout. A device that
// times out or fails is isolated; the rest of the batch continues.
//
// The scheduler also deduplicates in-flight devices, so overlapping cycles
// (or a slow task still running from the previous pass) never process the
// same device twice concurrently.
type DeviceScheduler struct {
	maxBatch      int
	maxConcurrent int64
	taskTimeout   time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDeviceScheduler builds a scheduler from the farming cycle bounds.
func NewDeviceScheduler(maxBatch, maxConcurrent int, taskTimeout time.Duration, logger *slog.Logger) *DeviceScheduler {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &DeviceScheduler{
		maxBatch:      maxBatch,
		maxConcurrent: int64(maxConcurrent),
		taskTimeout:   taskTimeout,
		logger:        logger,
		inFlight:      make(map[string]struct{}),
	}
}

// RunCycle executes fn for every device, batch by batch, and blocks until the
// last batch drains. Cancelling ctx stops new work; the result reflects
// whatever completed.
func (s *DeviceScheduler) RunCycle(ctx context.Context, devices []*domain.Device, fn DeviceFunc) CycleResult {
	result := CycleResult{Errors: make(map[string]error)}
	var resultMu sync.Mutex

	sem := semaphore.NewWeighted(s.maxConcurrent)

	for start := 0; start < len(devices); start += s.maxBatch {
		if ctx.Err() != nil {
			break
		}
		end := start + s.maxBatch
		if end > len(devices) {
			end = len(devices)
		}

		var wg sync.WaitGroup
		for _, device := range devices[start:end] {
			if !s.begin(device.DeviceID) {
				resultMu.Lock()
				result.Skipped++
				resultMu.Unlock()
				continue
			}

			wg.Add(1)
			go func(device *domain.Device) {
				defer wg.Done()

				if err := sem.Acquire(ctx, 1); err != nil {
					s.end(device.DeviceID)
					resultMu.Lock()
					result.Skipped++
					resultMu.Unlock()
					return
				}
				defer sem.Release(1)

				err := s.runOne(ctx, device, fn)

				resultMu.Lock()
				switch {
				case err == nil:
					result.Succeeded++
				case domain.Classify(err) == domain.FailureDeviceTimeout:
					result.TimedOut++
					result.Errors[device.DeviceID] = err
				default:
					result.Failed++
					result.Errors[device.DeviceID] = err
				}
				resultMu.Unlock()
			}(device)
		}
		wg.Wait()
	}

	return result
}

// runOne executes fn under the per-device timeout. The task runs in its own
// goroutine so a fn that ignores its context cannot stall the batch past the
// deadline; it is abandoned, not killed. The in-flight claim taken by begin is
// released by that goroutine, not here: an abandoned task still owns its
// device, so later sweeps skip it until the task actually returns.
func (s *DeviceScheduler) runOne(ctx context.Context, device *domain.Device, fn DeviceFunc) error {
	dctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer s.end(device.DeviceID)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("device task panicked",
					"device_id", device.DeviceID, "panic", r)
				errCh <- fmt.Errorf("device task panicked: %v", r)
			}
		}()
		errCh <- fn(dctx, device)
	}()

	select {
	case err := <-errCh:
		if err != nil && dctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return domain.ErrDeviceTimeout
		}
		return err
	case <-dctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("device task timed out",
			"device_id", device.DeviceID,
			"timeout", s.taskTimeout)
		return domain.ErrDeviceTimeout
	}
}

// begin claims the device for this cycle; false means it is already running.
func (s *DeviceScheduler) begin(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[deviceID]; busy {
		return false
	}
	s.inFlight[deviceID] = struct{}{}
	return true
}

func (s *DeviceScheduler) end(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, deviceID)
}
