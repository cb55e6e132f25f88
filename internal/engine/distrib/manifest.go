// Package distrib spreads a farming run across multiple worker processes.
// The parent partitions accounts and proxies near-equally, hands each worker
// its slice through a manifest file, re-invokes its own binary in worker
// mode, and monitors the children. A crashed worker takes down only its own
// partition.
package distrib

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the work order handed to one worker process.
type Manifest struct {
	// Index identifies the partition, for logging.
	Index int `json:"index"`

	// Emails are the accounts this worker farms.
	Emails []string `json:"emails"`

	// Proxies is this worker's share of the proxy list.
	Proxies []string `json:"proxies"`
}

// WriteManifest serializes the manifest to a temp file and returns its path.
// The caller is responsible for removing the file once the worker exits.
func WriteManifest(m Manifest) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("hivefarm-partition-%d-*.json", m.Index))
	if err != nil {
		return "", fmt.Errorf("failed to create manifest file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(m); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return f.Name(), nil
}

// ReadManifest loads a manifest written by the parent process.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}
