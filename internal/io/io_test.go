package io

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type datagram struct {
	b    []byte
	from *net.UDPAddr
}

func collect(t Transport) <-chan datagram {
	ch := make(chan datagram, 16)
	t.OnReceive(func(b []byte, from *net.UDPAddr) {
		ch <- datagram{b: b, from: from}
	})
	return ch
}

func recvOne(t *testing.T, ch <-chan datagram) datagram {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for datagram")
		return datagram{}
	}
}

func TestMemoryDelivery(t *testing.T) {
	network := NewMemoryNetwork()
	a, b := network.Transport(), network.Transport()
	inbox := collect(b)

	require.NoError(t, a.Bind(0))
	require.NoError(t, b.Bind(5000))
	assert.Equal(t, 5000, b.LocalAddr().Port)

	payload := []byte("hello")
	require.NoError(t, SendMsg(a, payload, b.LocalAddr()))
	payload[0] = 'j'

	d := recvOne(t, inbox)
	assert.Equal(t, []byte("hello"), d.b)
	assert.Equal(t, a.LocalAddr().Port, d.from.Port)
}

func TestMemoryPortInUse(t *testing.T) {
	network := NewMemoryNetwork()
	a, b := network.Transport(), network.Transport()
	require.NoError(t, a.Bind(6000))
	assert.Error(t, b.Bind(6000))
	assert.ErrorIs(t, a.Bind(6001), ErrAlreadyBound)

	require.NoError(t, a.Close())
	assert.NoError(t, b.Bind(6000))
}

func TestMemoryUnboundAndClosed(t *testing.T) {
	network := NewMemoryNetwork()
	a := network.Transport()
	_, err := a.Send([]byte{1}, &net.UDPAddr{Port: 1})
	assert.ErrorIs(t, err, ErrNotBound)

	require.NoError(t, a.Bind(0))
	n, err := a.Send([]byte{1, 2}, &net.UDPAddr{Port: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, a.Close())
	_, err = a.Send([]byte{1}, &net.UDPAddr{Port: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryFilter(t *testing.T) {
	network := NewMemoryNetwork()
	a, b := network.Transport(), network.Transport()
	inbox := collect(b)
	require.NoError(t, a.Bind(0))
	require.NoError(t, b.Bind(0))

	network.SetFilter(func(p []byte, _, _ *net.UDPAddr) bool { return p[0] != 0xFF })
	require.NoError(t, SendMsg(a, []byte{0xFF}, b.LocalAddr()))
	require.NoError(t, SendMsg(a, []byte{0x01}, b.LocalAddr()))

	d := recvOne(t, inbox)
	assert.Equal(t, []byte{0x01}, d.b)
	assert.Empty(t, inbox)
}

func TestUDPLoopback(t *testing.T) {
	a := NewUDP("127.0.0.1", nil)
	b := NewUDP("127.0.0.1", nil)
	inbox := collect(b)
	require.NoError(t, a.Bind(0))
	require.NoError(t, b.Bind(0))
	defer a.Close()
	defer b.Close()

	assert.ErrorIs(t, b.Bind(0), ErrAlreadyBound)

	require.NoError(t, SendMsg(a, []byte("ping"), b.LocalAddr()))
	d := recvOne(t, inbox)
	assert.Equal(t, []byte("ping"), d.b)
	assert.Equal(t, a.LocalAddr().Port, d.from.Port)
}

func TestUDPSendBeforeBind(t *testing.T) {
	a := NewUDP("", nil)
	_, err := a.Send([]byte{1}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	assert.ErrorIs(t, err, ErrNotBound)
	assert.Nil(t, a.LocalAddr())
	assert.NoError(t, a.Close())
}
