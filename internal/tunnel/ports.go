package tunnel

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/tmowbrey/sqlbridge/internal/logger"
)

// Local port range reserved for SSH tunnels: 7001-7020.
const (
	PortRangeStart = 7001
	PortRangeEnd   = 7020
)

// ErrPortsExhausted is returned when every port in the tunnel range is taken.
var ErrPortsExhausted = errors.New("no available ports in tunnel range")

// PortAllocator hands out local loopback ports from the fixed tunnel range.
// Bookkeeping alone is not trusted: a port is only granted after a live bind
// probe succeeds, which catches ports held by other sqlbridge instances.
type PortAllocator struct {
	mu        sync.Mutex
	allocated map[int]string // port -> connection name
}

// NewPortAllocator creates an empty allocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		allocated: make(map[int]string),
	}
}

// Allocate returns a free port for the named connection. Idempotent: a name
// that already owns a port gets the same port back. The range is scanned in
// ascending order and exhaustion fails immediately, without waiting.
func (a *PortAllocator) Allocate(name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port, owner := range a.allocated {
		if owner == name {
			return port, nil
		}
	}

	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		if _, taken := a.allocated[port]; taken {
			continue
		}
		if !probePort(port) {
			logger.Debug("Port in use by another process", "port", port)
			continue
		}
		a.allocated[port] = name
		logger.Debug("Allocated tunnel port", "port", port, "connection", name)
		return port, nil
	}

	return 0, fmt.Errorf("%w (%d-%d)", ErrPortsExhausted, PortRangeStart, PortRangeEnd)
}

// Deallocate removes the tracking entry for port. It closes no sockets;
// the owning tunnel is responsible for its own listener.
func (a *PortAllocator) Deallocate(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, port)
}

// Owner returns the connection name holding port, if any.
func (a *PortAllocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.allocated[port]
	return name, ok
}

// probePort reports whether the loopback port can actually be bound right
// now. The probe listener is released immediately.
func probePort(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
