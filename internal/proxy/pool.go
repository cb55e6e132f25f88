// Package proxy implements the shared proxy pool: parsing, round-robin
// rotation, per-proxy failure counting, and soft quarantine. All mutation is
// serialized behind one mutex; once acquired, a proxy is exclusively owned by
// the acquiring task until released (unless reuse is explicitly allowed when
// the pool is exhausted).
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Pool errors.
var (
	ErrEmptyPool   = errors.New("proxy pool is empty")
	ErrInvalidURI  = errors.New("invalid proxy URI")
	ErrUnsupported = errors.New("unsupported proxy scheme")
)

// supportedSchemes lists the proxy schemes the API client can dial through.
var supportedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
	"socks4": true,
}

// Proxy is one pool entry. The failure counter and ownership flag are managed
// by the Pool and must only be read through it.
type Proxy struct {
	url      *url.URL
	raw      string
	failures int
	inUse    bool
}

// URL returns the proxy URI as given in the input file (scheme://[user:pass@]host:port).
func (p *Proxy) URL() string { return p.raw }

// Addr returns host:port without credentials, for logging.
func (p *Proxy) Addr() string { return p.url.Host }

// Options tune pool behavior; zero values get sane defaults from NewPool.
type Options struct {
	// FailureThreshold is the failure count at which a proxy is quarantined.
	FailureThreshold int

	// ResetOnSweep clears all failure counters whenever the rotation cursor
	// completes a full pass without finding a usable proxy, giving every
	// proxy a fresh chance on the next sweep.
	ResetOnSweep bool

	// AllowReuseWhenExhausted lets Acquire hand out an already-owned proxy
	// when every proxy is in use, instead of returning nil.
	AllowReuseWhenExhausted bool
}

// Pool hands out proxies round-robin to concurrently running tasks.
type Pool struct {
	mu      sync.Mutex
	proxies []*Proxy
	cursor  int
	opts    Options
}

// Parse validates and normalizes one proxy line. Lines without a scheme
// default to http://.
func Parse(line string) (*url.URL, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrInvalidURI)
	}
	if !strings.Contains(line, "://") {
		line = "http://" + line
	}
	u, err := url.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !supportedSchemes[u.Scheme] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("%w: missing host or port in %q", ErrInvalidURI, line)
	}
	return u, nil
}

// NewPool builds a pool from raw proxy lines. Every line must parse; a single
// bad line fails the whole load so misconfiguration surfaces at startup.
func NewPool(lines []string, opts Options) (*Pool, error) {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}

	proxies := make([]*Proxy, 0, len(lines))
	for _, line := range lines {
		u, err := Parse(line)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, &Proxy{url: u, raw: u.String()})
	}

	return &Pool{proxies: proxies, opts: opts}, nil
}

// Len returns the total number of proxies in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Acquire returns the next available proxy, advancing the round-robin cursor.
// It skips quarantined proxies while an un-quarantined one is available, and
// skips owned proxies unless reuse is allowed and nothing is free. Returns
// nil when the pool is empty or fully unavailable.
func (p *Pool) Acquire() *Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(nil)
}

// Rotate releases current (counting one failure against it) and returns the
// next proxy, guaranteed different from current while an alternative exists.
// Returns current itself only when it is the sole usable proxy, and nil when
// nothing is usable.
func (p *Pool) Rotate(current *Proxy) *Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current != nil {
		current.failures++
		current.inUse = false
	}

	next := p.acquireLocked(current)
	if next != nil {
		return next
	}

	// Nothing but the current proxy left; fall back to it if permitted.
	if current != nil && p.opts.AllowReuseWhenExhausted && current.failures < p.opts.FailureThreshold {
		current.inUse = true
		return current
	}
	return nil
}

// Release returns a proxy to the pool. failed records one failure against it;
// reassignment to a different task resets the counter on acquire.
func (p *Pool) Release(pr *Proxy, failed bool) {
	if pr == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pr.inUse = false
	if failed {
		pr.failures++
	}
}

// Quarantined reports how many proxies currently sit over the failure
// threshold.
func (p *Pool) Quarantined() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pr := range p.proxies {
		if pr.failures >= p.opts.FailureThreshold {
			n++
		}
	}
	return n
}

// acquireLocked scans one full sweep from the cursor, preferring free,
// un-quarantined proxies, excluding skip. When the sweep comes up empty it
// optionally resets counters and retries once, then falls back to reusing an
// owned proxy if configured. Caller holds p.mu.
func (p *Pool) acquireLocked(skip *Proxy) *Proxy {
	if len(p.proxies) == 0 {
		return nil
	}

	for pass := 0; pass < 2; pass++ {
		for i := 0; i < len(p.proxies); i++ {
			pr := p.proxies[p.cursor]
			p.cursor = (p.cursor + 1) % len(p.proxies)
			if pr == skip {
				continue
			}
			if pr.failures >= p.opts.FailureThreshold {
				continue
			}
			if pr.inUse {
				continue
			}
			// Fresh assignment: the counter belongs to the previous
			// owner's session with this proxy.
			pr.failures = 0
			pr.inUse = true
			return pr
		}

		// First sweep found nothing usable. A counter reset may free up
		// quarantined proxies for the second pass.
		if pass == 0 && p.opts.ResetOnSweep && p.hasQuarantinedLocked() {
			for _, pr := range p.proxies {
				pr.failures = 0
			}
			continue
		}
		break
	}

	if p.opts.AllowReuseWhenExhausted {
		// Everything is owned; share the least-failed one.
		var best *Proxy
		for _, pr := range p.proxies {
			if pr == skip || pr.failures >= p.opts.FailureThreshold {
				continue
			}
			if best == nil || pr.failures < best.failures {
				best = pr
			}
		}
		return best
	}
	return nil
}

func (p *Pool) hasQuarantinedLocked() bool {
	for _, pr := range p.proxies {
		if pr.failures >= p.opts.FailureThreshold {
			return true
		}
	}
	return false
}
