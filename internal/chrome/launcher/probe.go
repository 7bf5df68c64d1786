package launcher

import (
	"context"
	"time"

	"github.com/tomyan/browserctl/internal/chrome"
	"github.com/tomyan/browserctl/internal/retry"
)

// DefaultProbeTimeout bounds a single reachability handshake.
const DefaultProbeTimeout = 2 * time.Second

// Prober tests whether a browser answers the DevTools handshake on a port.
type Prober struct {
	Host    string        // Defaults to 127.0.0.1
	Timeout time.Duration // Defaults to DefaultProbeTimeout
}

// Hostname returns the loopback host probes are sent to.
func (p Prober) Hostname() string {
	if p.Host == "" {
		return "127.0.0.1"
	}
	return p.Host
}

func (p Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultProbeTimeout
	}
	return p.Timeout
}

// Connect performs the DevTools handshake on port, bounded by the probe
// timeout, and returns the live client.
func (p Prober) Connect(ctx context.Context, port int) (*chrome.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	return chrome.Connect(ctx, p.Hostname(), port)
}

// TryConnect makes one handshake attempt. Any failure, including the timeout,
// reports unreachable.
func (p Prober) TryConnect(ctx context.Context, port int) bool {
	client, err := p.Connect(ctx, port)
	if err != nil {
		return false
	}
	client.Close()
	return true
}

// WaitReachable polls until the handshake succeeds.
func (p Prober) WaitReachable(ctx context.Context, port int, policy retry.Policy) error {
	return retry.Poll(ctx, policy, func(ctx context.Context) bool {
		return p.TryConnect(ctx, port)
	})
}

// WaitUnreachable polls until the handshake fails.
func (p Prober) WaitUnreachable(ctx context.Context, port int, policy retry.Policy) error {
	return retry.Poll(ctx, policy, func(ctx context.Context) bool {
		return !p.TryConnect(ctx, port)
	})
}

// WaitPortClosed polls until nothing accepts TCP connections on port.
func (p Prober) WaitPortClosed(ctx context.Context, port int, policy retry.Policy) error {
	return retry.Poll(ctx, policy, func(context.Context) bool {
		return !IsPortOpen(p.Hostname(), port)
	})
}
