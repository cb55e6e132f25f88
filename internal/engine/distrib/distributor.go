package distrib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// WorkerCommand is the subcommand the parent passes when re-invoking its own
// binary as a farming worker.
const WorkerCommand = "farm-worker"

// ManifestFlag names the worker flag carrying the manifest path.
const ManifestFlag = "--manifest"

// Options configure the distributor.
type Options struct {
	// MaxProcesses caps the number of worker processes. Zero resolves to
	// CPU-count-minus-one, minimum one; the account count caps it further.
	MaxProcesses int

	// LivenessInterval is how often running workers are reported. Zero
	// disables the periodic report.
	LivenessInterval time.Duration
}

// Distributor fans a farming run out over worker processes.
type Distributor struct {
	opts   Options
	logger *slog.Logger
}

// NewDistributor builds a Distributor.
func NewDistributor(opts Options, logger *slog.Logger) *Distributor {
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = 30 * time.Second
	}
	return &Distributor{opts: opts, logger: logger}
}

// ProcessCount resolves how many worker processes to start for the given
// number of accounts.
func ProcessCount(configured, accounts int) int {
	n := configured
	if n <= 0 {
		n = runtime.NumCPU() - 1
	}
	if n < 1 {
		n = 1
	}
	if accounts > 0 && n > accounts {
		n = accounts
	}
	return n
}

// PartitionStrings splits items into n near-equal slices: sizes differ by at
// most one and every item lands in exactly one slice. Fewer items than n
// yields fewer than n non-empty slices.
func PartitionStrings(items []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	parts := make([][]string, 0, n)
	base := len(items) / n
	extra := len(items) % n

	offset := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			continue
		}
		parts = append(parts, items[offset:offset+size])
		offset += size
	}
	return parts
}

// Run partitions the accounts across worker processes and blocks until every
// worker exits or ctx is cancelled. A worker failure is isolated: the other
// workers keep running, and the failures are joined into the returned error.
func (d *Distributor) Run(ctx context.Context, emails, proxies []string) error {
	if len(emails) == 0 {
		return errors.New("no accounts to distribute")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own executable: %w", err)
	}

	n := ProcessCount(d.opts.MaxProcesses, len(emails))
	emailParts := PartitionStrings(emails, n)
	proxyParts := PartitionStrings(proxies, len(emailParts))

	d.logger.Info("starting farming workers",
		"processes", len(emailParts),
		"accounts", len(emails),
		"proxies", len(proxies))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
		running  int
	)

	for i, part := range emailParts {
		manifest := Manifest{Index: i, Emails: part}
		if i < len(proxyParts) {
			manifest.Proxies = proxyParts[i]
		}

		path, err := WriteManifest(manifest)
		if err != nil {
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
			continue
		}

		cmd := exec.CommandContext(ctx, exe, WorkerCommand, ManifestFlag, path)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			_ = os.Remove(path)
			mu.Lock()
			failures = append(failures, fmt.Errorf("failed to start worker %d: %w", i, err))
			mu.Unlock()
			continue
		}

		mu.Lock()
		running++
		mu.Unlock()
		d.logger.Info("worker started",
			"partition", i,
			"pid", cmd.Process.Pid,
			"accounts", len(part))

		wg.Add(1)
		go func(i int, path string, cmd *exec.Cmd) {
			defer wg.Done()
			defer func() { _ = os.Remove(path) }()

			err := cmd.Wait()

			mu.Lock()
			running--
			if err != nil && ctx.Err() == nil {
				failures = append(failures, fmt.Errorf("worker %d exited: %w", i, err))
			}
			mu.Unlock()

			if err != nil && ctx.Err() == nil {
				d.logger.Error("worker crashed", "partition", i, "error", err)
			} else {
				d.logger.Info("worker exited", "partition", i)
			}
		}(i, path, cmd)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(d.opts.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return errors.Join(failures...)
		case <-ticker.C:
			mu.Lock()
			alive := running
			mu.Unlock()
			d.logger.Info("workers alive", "count", alive)
		}
	}
}
