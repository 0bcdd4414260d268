package io

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

const (
	maxDatagram  = 65507
	defaultBatch = 8
)

// UDPTransport is a Transport over an IPv4 UDP socket. Datagrams are read in
// batches so a busy hub drains its socket with few system calls.
type UDPTransport struct {
	host   string
	batch  int
	logger *zap.Logger

	mu   sync.Mutex
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	recv ReceiveFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// NewUDP creates a transport that will bind on host ("" means all
// interfaces).
func NewUDP(host string, logger *zap.Logger) *UDPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UDPTransport{
		host:   host,
		batch:  defaultBatch,
		logger: logger,
		closed: make(chan struct{}),
	}
}

func (t *UDPTransport) OnReceive(fn ReceiveFunc) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

func (t *UDPTransport) Bind(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return ErrAlreadyBound
	}

	laddr := &net.UDPAddr{Port: port}
	if t.host != "" {
		ip := net.ParseIP(t.host)
		if ip == nil {
			addrs, err := net.LookupIP(t.host)
			if err != nil || len(addrs) == 0 {
				return &net.AddrError{Err: "cannot resolve bind host", Addr: t.host}
			}
			ip = addrs[0]
		}
		laddr.IP = ip
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return err
	}
	t.conn = conn
	t.pc = ipv4.NewPacketConn(conn)
	go t.readLoop(t.pc, t.recv)
	return nil
}

func (t *UDPTransport) Send(b []byte, addr *net.UDPAddr) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, ErrNotBound
	}
	return conn.WriteToUDP(b, addr)
}

func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	addr, _ := t.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		if t.conn != nil {
			err = t.conn.Close()
		}
		t.mu.Unlock()
	})
	return err
}

func (t *UDPTransport) readLoop(pc *ipv4.PacketConn, recv ReceiveFunc) {
	msgs := make([]ipv4.Message, t.batch)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagram)}
	}

	for {
		n, err := pc.ReadBatch(msgs, 0)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("udp read failed", zap.Error(err))
			continue
		}

		for i := 0; i < n; i++ {
			m := &msgs[i]
			if recv == nil {
				continue
			}
			b := make([]byte, m.N)
			copy(b, m.Buffers[0][:m.N])
			from, _ := m.Addr.(*net.UDPAddr)
			recv(b, from)
		}
	}
}
