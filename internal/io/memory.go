package io

import (
	"fmt"
	"net"
	"sync"
)

const firstEphemeralPort = 40000

// FilterFunc decides whether a datagram in flight is delivered.
type FilterFunc func(b []byte, from, to *net.UDPAddr) bool

// MemoryNetwork is an in-process datagram network for tests. All endpoints
// live on 127.0.0.1 and are addressed by port. Delivery is synchronous: Send
// invokes the receiver's callback before returning.
type MemoryNetwork struct {
	mu       sync.RWMutex
	ports    map[int]*MemoryTransport
	nextPort int
	filter   FilterFunc
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		ports:    make(map[int]*MemoryTransport),
		nextPort: firstEphemeralPort,
	}
}

// Transport returns a new, unbound endpoint on this network.
func (n *MemoryNetwork) Transport() *MemoryTransport {
	return &MemoryTransport{network: n}
}

// SetFilter installs fn to drop selected datagrams; nil delivers everything.
func (n *MemoryNetwork) SetFilter(fn FilterFunc) {
	n.mu.Lock()
	n.filter = fn
	n.mu.Unlock()
}

func (n *MemoryNetwork) bind(t *MemoryTransport, port int) (*net.UDPAddr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if port == 0 {
		for {
			n.nextPort++
			if _, taken := n.ports[n.nextPort]; !taken {
				port = n.nextPort
				break
			}
		}
	} else if _, taken := n.ports[port]; taken {
		return nil, fmt.Errorf("memory transport: port %d already in use", port)
	}
	n.ports[port] = t
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, nil
}

func (n *MemoryNetwork) release(port int) {
	n.mu.Lock()
	delete(n.ports, port)
	n.mu.Unlock()
}

func (n *MemoryNetwork) route(to *net.UDPAddr) (*MemoryTransport, FilterFunc) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ports[to.Port], n.filter
}

// MemoryTransport is one endpoint of a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork

	mu     sync.RWMutex
	addr   *net.UDPAddr
	recv   ReceiveFunc
	closed bool
}

func (t *MemoryTransport) OnReceive(fn ReceiveFunc) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

func (t *MemoryTransport) Bind(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.addr != nil {
		return ErrAlreadyBound
	}
	addr, err := t.network.bind(t, port)
	if err != nil {
		return err
	}
	t.addr = addr
	return nil
}

// Send delivers b to the endpoint bound at addr's port. Datagrams to
// unbound ports vanish without error, as they would over UDP.
func (t *MemoryTransport) Send(b []byte, addr *net.UDPAddr) (int, error) {
	t.mu.RLock()
	from, closed := t.addr, t.closed
	t.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}
	if from == nil {
		return 0, ErrNotBound
	}
	if addr == nil {
		return 0, fmt.Errorf("memory transport: nil destination")
	}

	dst, filter := t.network.route(addr)
	if dst == nil {
		return len(b), nil
	}
	if filter != nil && !filter(b, from, addr) {
		return len(b), nil
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	dst.deliver(cp, from)
	return len(b), nil
}

func (t *MemoryTransport) deliver(b []byte, from *net.UDPAddr) {
	t.mu.RLock()
	recv, closed := t.recv, t.closed
	t.mu.RUnlock()
	if closed || recv == nil {
		return
	}
	recv(b, from)
}

func (t *MemoryTransport) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.addr != nil {
		t.network.release(t.addr.Port)
	}
	return nil
}
