// Package io provides the datagram transport used by the hub and the radio
// entities: a UDP implementation for real runs and an in-memory one for tests.
package io

import (
	"errors"
	"net"
)

var (
	ErrNotBound     = errors.New("transport not bound")
	ErrAlreadyBound = errors.New("transport already bound")
	ErrClosed       = errors.New("transport closed")
)

// ReceiveFunc is called for every datagram received. b is owned by the
// callee. It runs on the transport's reader goroutine and must not block.
type ReceiveFunc func(b []byte, from *net.UDPAddr)

// Transport is an unreliable, unordered datagram endpoint.
type Transport interface {
	// Bind opens the endpoint on port; 0 picks an ephemeral port.
	Bind(port int) error

	// Send transmits one datagram to addr and returns the bytes written.
	Send(b []byte, addr *net.UDPAddr) (int, error)

	// OnReceive installs the receive callback. It must be called before Bind.
	OnReceive(fn ReceiveFunc)

	// LocalAddr returns the bound address, nil before Bind.
	LocalAddr() *net.UDPAddr

	Close() error
}

// SendMsg writes msg to addr and reports short writes as errors.
func SendMsg(t Transport, msg []byte, addr *net.UDPAddr) error {
	n, err := t.Send(msg, addr)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return errors.New("short datagram write")
	}
	return nil
}
