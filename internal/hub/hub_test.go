package hub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
)

type peer struct {
	tr    *io.MemoryTransport
	inbox chan simproto.Envelope
}

func newPeer(t *testing.T, network *io.MemoryNetwork) *peer {
	t.Helper()
	p := &peer{tr: network.Transport(), inbox: make(chan simproto.Envelope, 32)}
	p.tr.OnReceive(func(b []byte, _ *net.UDPAddr) {
		env, err := simproto.Decode(b)
		if err == nil {
			p.inbox <- env
		}
	})
	require.NoError(t, p.tr.Bind(0))
	t.Cleanup(func() { p.tr.Close() })
	return p
}

func (p *peer) send(t *testing.T, h *Hub, b []byte) {
	t.Helper()
	require.NoError(t, io.SendMsg(p.tr, b, h.Addr()))
}

func (p *peer) next(t *testing.T) simproto.Envelope {
	t.Helper()
	select {
	case env := <-p.inbox:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
		return simproto.Envelope{}
	}
}

func (p *peer) register(t *testing.T, h *Hub, id simproto.NodeID) uint8 {
	t.Helper()
	p.send(t, h, simproto.Encode(id, simproto.HubID, simproto.Registration, nil))
	env := p.next(t)
	require.Equal(t, simproto.RegistrationResponse, env.Kind)
	require.Equal(t, simproto.HubID, env.Src)
	require.Equal(t, id, env.Dst)
	status, ok := env.Status()
	require.True(t, ok)
	return status
}

func startHub(t *testing.T) (*Hub, *io.MemoryNetwork, *metrics.Hub) {
	t.Helper()
	network := io.NewMemoryNetwork()
	m := metrics.NewHub(prometheus.NewRegistry())
	h := New(network.Transport(), nil, m)
	require.NoError(t, h.Start(5000))
	t.Cleanup(h.Stop)
	return h, network, m
}

func ids(t *testing.T, h *Hub) []simproto.NodeID {
	t.Helper()
	nodes, err := h.Nodes(context.Background())
	require.NoError(t, err)
	out := make([]simproto.NodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestRegistration(t *testing.T) {
	h, network, m := startHub(t)

	a := newPeer(t, network)
	assert.Equal(t, simproto.RegAccepted, a.register(t, h, 101))
	assert.Equal(t, []simproto.NodeID{101}, ids(t, h))

	// a live id cannot register again, from any address
	b := newPeer(t, network)
	assert.Equal(t, simproto.RegDenied, b.register(t, h, 101))
	nodes, err := h.Nodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, a.tr.LocalAddr().Port, nodes[0].Addr.Port)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Nodes))
}

func TestReservedIDsDenied(t *testing.T) {
	h, network, _ := startHub(t)
	p := newPeer(t, network)

	assert.Equal(t, simproto.RegDenied, p.register(t, h, simproto.HubID))
	assert.Equal(t, simproto.RegDenied, p.register(t, h, simproto.BroadcastID))
	assert.Empty(t, ids(t, h))
}

func TestDeregistration(t *testing.T) {
	h, network, _ := startHub(t)
	p := newPeer(t, network)
	require.Equal(t, simproto.RegAccepted, p.register(t, h, 7))

	p.send(t, h, simproto.Encode(7, simproto.HubID, simproto.Deregistration, nil))
	assert.Eventually(t, func() bool {
		nodes, err := h.Nodes(context.Background())
		return err == nil && len(nodes) == 0
	}, time.Second, 10*time.Millisecond)

	// free to register again
	assert.Equal(t, simproto.RegAccepted, p.register(t, h, 7))
}

func TestBroadcastReachesOthersOnce(t *testing.T) {
	h, network, m := startHub(t)

	gnb := newPeer(t, network)
	ue1 := newPeer(t, network)
	ue2 := newPeer(t, network)
	require.Equal(t, simproto.RegAccepted, gnb.register(t, h, 50))
	require.Equal(t, simproto.RegAccepted, ue1.register(t, h, 101))
	require.Equal(t, simproto.RegAccepted, ue2.register(t, h, 102))

	frame := simproto.EncodeData(50, simproto.BroadcastID, simproto.Sib1, []byte{0, 0, 0, 50})
	gnb.send(t, h, frame)

	for _, p := range []*peer{ue1, ue2} {
		env := p.next(t)
		assert.Equal(t, simproto.NodeID(50), env.Src)
		assert.Equal(t, simproto.BroadcastID, env.Dst)
		assert.Equal(t, frame[simproto.HeaderSize:], env.Body)
	}

	// a unicast after the broadcast proves nothing else was queued
	gnb.send(t, h, simproto.EncodeData(50, 101, simproto.Rar, nil))
	env := ue1.next(t)
	assert.Equal(t, simproto.NodeID(101), env.Dst)

	assert.Empty(t, gnb.inbox)
	assert.Empty(t, ue1.inbox)
	assert.Empty(t, ue2.inbox)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Relayed.WithLabelValues("broadcast")))
}

func TestForwardVerbatim(t *testing.T) {
	h, network, _ := startHub(t)
	a := newPeer(t, network)
	b := newPeer(t, network)
	require.Equal(t, simproto.RegAccepted, a.register(t, h, 1))
	require.Equal(t, simproto.RegAccepted, b.register(t, h, 2))

	frame := simproto.EncodeData(1, 2, simproto.UserPlaneData, []byte("payload"))
	a.send(t, h, frame)

	env := b.next(t)
	assert.Equal(t, simproto.NodeID(1), env.Src)
	msgType, payload, err := env.Data()
	require.NoError(t, err)
	assert.Equal(t, simproto.UserPlaneData, msgType)
	assert.Equal(t, []byte("payload"), payload)
}

func TestUnknownDestinationDropped(t *testing.T) {
	h, network, m := startHub(t)
	a := newPeer(t, network)
	require.Equal(t, simproto.RegAccepted, a.register(t, h, 1))

	a.send(t, h, simproto.EncodeData(1, 999, simproto.Paging, nil))
	a.send(t, h, []byte{1, 2, 3})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Dropped.WithLabelValues("unknown_dst")) == 1 &&
			testutil.ToFloat64(m.Dropped.WithLabelValues("invalid")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, a.inbox)
}

func TestSnapshot(t *testing.T) {
	h, network, _ := startHub(t)
	p := newPeer(t, network)
	require.Equal(t, simproto.RegAccepted, p.register(t, h, 50))

	s, err := h.Snapshot(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "hub", s.Fields["role"].GetStringValue())
	nodes := s.Fields["nodes"].GetListValue().GetValues()
	require.Len(t, nodes, 1)
	assert.Equal(t, 50.0, nodes[0].GetStructValue().Fields["id"].GetNumberValue())
}

func TestNodesAfterStop(t *testing.T) {
	network := io.NewMemoryNetwork()
	h := New(network.Transport(), nil, nil)
	require.NoError(t, h.Start(0))
	h.Stop()

	_, err := h.Nodes(context.Background())
	assert.Error(t, err)
}
