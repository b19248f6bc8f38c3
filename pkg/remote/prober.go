package remote

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultProbeInterval is how often Prober checks the server.
	DefaultProbeInterval = 15 * time.Second
	// DefaultProbeTimeout bounds a single health check.
	DefaultProbeTimeout = 5 * time.Second
)

// A Prober polls the server's health endpoint and reports connectivity
// changes.  It starts from the connectivity the caller last observed.
type Prober struct {
	client    *Client
	interval  time.Duration
	timeout   time.Duration
	onChange  func(online bool)
	reconnect func(ctx context.Context) error

	mu     sync.Mutex
	online bool
}

// NewProber returns a prober that believes the server is reachable if
// online is true.  onChange is called on every transition.
func NewProber(c *Client, interval time.Duration, online bool, onChange func(online bool)) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	timeout := DefaultProbeTimeout
	if interval < timeout {
		timeout = interval
	}
	return &Prober{client: c, interval: interval, timeout: timeout, onChange: onChange, online: online}
}

// WithTimeout sets the per-check timeout.
func (p *Prober) WithTimeout(d time.Duration) *Prober {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// WithReconnect sets fn to run when the server answers again after being
// unreachable, before the change is reported.  If fn fails the server is
// still treated as unreachable and the next check tries again.
func (p *Prober) WithReconnect(fn func(ctx context.Context) error) *Prober {
	p.reconnect = fn
	return p
}

// Online returns the result of the last check.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Check pings the server once and reports whether it is reachable.  A
// check cut short by ctx changes nothing.
func (p *Prober) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.client.Ping(pctx)
	if err == nil && !p.Online() && p.reconnect != nil {
		err = p.reconnect(pctx)
	}
	cancel()
	if err != nil && ctx.Err() != nil {
		return p.Online()
	}
	online := err == nil

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.mu.Unlock()

	if changed {
		ev := p.client.log.Info()
		if !online {
			ev = p.client.log.Warn().Err(err)
		}
		ev.Bool("online", online).Msg("connectivity changed")
		if p.onChange != nil {
			p.onChange(online)
		}
	}
	return online
}

// Run checks the server every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Check(ctx)
		}
	}
}
