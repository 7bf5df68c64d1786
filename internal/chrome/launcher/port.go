package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrNoFreePort is returned when every candidate port is occupied.
var ErrNoFreePort = errors.New("no free port")

// DialTimeout bounds a single allocator probe.
const DialTimeout = 300 * time.Millisecond

// IsPortOpen checks if a TCP port is accepting connections.
func IsPortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isFree probes host:port. Only a refused connection or an unreachable host
// counts as free; a successful connect or any other error counts as in use.
func isFree(ctx context.Context, host string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		conn.Close()
		return false
	}
	for _, target := range freePortErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FindFreePort probes start, start+1, ... start+maxAttempts (inclusive) on
// host and returns the first free port.
func FindFreePort(ctx context.Context, host string, start, maxAttempts int) (int, error) {
	for offset := 0; offset <= maxAttempts; offset++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		port := start + offset
		if isFree(ctx, host, port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w in %d-%d", ErrNoFreePort, start, start+maxAttempts)
}
