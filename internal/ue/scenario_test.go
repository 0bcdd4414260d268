package ue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/entity"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/gnb"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/hub"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/ue"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/state"
)

type line struct {
	self     state.EntityType
	from, to simproto.NodeID
	t        simproto.MsgType
	incoming bool
}

type recorder struct {
	mu    sync.Mutex
	lines []line
}

func (r *recorder) Log(self state.EntityType, from, to simproto.NodeID, t simproto.MsgType, incoming bool) {
	r.mu.Lock()
	r.lines = append(r.lines, line{self, from, to, t, incoming})
	r.mu.Unlock()
}

// sent returns the message types entity id sent, SIB1 excluded.
func (r *recorder) sent(id simproto.NodeID) []simproto.MsgType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []simproto.MsgType
	for _, l := range r.lines {
		if l.from == id && !l.incoming && l.t != simproto.Sib1 {
			out = append(out, l.t)
		}
	}
	return out
}

func TestAttachScenario(t *testing.T) {
	network := io.NewMemoryNetwork()
	rec := &recorder{}
	ctx := context.Background()

	h := hub.New(network.Transport(), nil, nil)
	require.NoError(t, h.Start(5000))
	defer h.Stop()

	cell := gnb.New(50, gnb.DefaultConfig(), network.Transport(), gnb.Options{
		Options: entity.Options{Flow: rec},
	})
	defer cell.Close()
	require.NoError(t, cell.SetupNetwork(0))
	require.NoError(t, cell.RegisterAtHub(h.Addr()))

	cfg := ue.DefaultConfig()
	cfg.WarmUp = 20 * time.Millisecond
	terminal := ue.New(101, cfg, network.Transport(), ue.Options{
		Options: entity.Options{Flow: rec},
	})
	defer terminal.Close()
	require.NoError(t, terminal.SetupNetwork(0))
	require.NoError(t, terminal.RegisterAtHub(h.Addr()))

	require.Eventually(t, func() bool {
		s, err := terminal.Session(ctx)
		return err == nil && s.State == state.RrcConnected && s.Registered
	}, 3*time.Second, 10*time.Millisecond)

	s, err := terminal.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, simproto.NodeID(50), s.TargetGnb)
	assert.Equal(t, uint16(1101), s.Crnti)
	assert.Equal(t, simproto.RegistrationAccepted, s.RegistrationStatus)
	assert.Equal(t, uint16(1101), s.RegistrationCrnti)

	contexts, err := cell.Contexts(ctx)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, simproto.NodeID(101), contexts[0].ID)
	assert.Equal(t, uint16(1101), contexts[0].Crnti)
	assert.Equal(t, state.RrcConnected, contexts[0].State)
	assert.True(t, contexts[0].Attached)
	assert.Equal(t, uint32(1), contexts[0].SelectedPlmn)

	// the gNB records its last send after the UE may already have seen it
	require.Eventually(t, func() bool { return len(rec.sent(50)) >= 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []simproto.MsgType{
		simproto.RachPreamble,
		simproto.RrcSetupRequest,
		simproto.RrcSetupComplete,
		simproto.RegistrationRequest,
	}, rec.sent(101)[:4])
	assert.Equal(t, []simproto.MsgType{
		simproto.Rar,
		simproto.RrcSetup,
		simproto.RegistrationAccept,
	}, rec.sent(50)[:3])

	nodes, err := h.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestUserDataBetweenUes(t *testing.T) {
	network := io.NewMemoryNetwork()
	ctx := context.Background()

	h := hub.New(network.Transport(), nil, nil)
	require.NoError(t, h.Start(0))
	defer h.Stop()

	cell := gnb.New(50, gnb.DefaultConfig(), network.Transport(), gnb.Options{})
	defer cell.Close()
	require.NoError(t, cell.SetupNetwork(0))
	require.NoError(t, cell.RegisterAtHub(h.Addr()))

	cfg := ue.DefaultConfig()
	cfg.WarmUp = 10 * time.Millisecond

	received := make(chan []byte, 1)
	a := ue.New(101, cfg, network.Transport(), ue.Options{})
	b := ue.New(102, cfg, network.Transport(), ue.Options{
		OnUserData: func(from simproto.NodeID, data []byte) {
			if from == 101 {
				received <- data
			}
		},
	})
	for _, u := range []*ue.UE{a, b} {
		defer u.Close()
		require.NoError(t, u.SetupNetwork(0))
		require.NoError(t, u.RegisterAtHub(h.Addr()))
	}

	for _, u := range []*ue.UE{a, b} {
		u := u
		require.Eventually(t, func() bool {
			s, err := u.Session(ctx)
			return err == nil && s.State == state.RrcConnected
		}, 3*time.Second, 10*time.Millisecond)
	}

	// the cell learns about the second UE only after its setup complete
	require.Eventually(t, func() bool {
		contexts, err := cell.Contexts(ctx)
		if err != nil || len(contexts) != 2 {
			return false
		}
		return contexts[0].State == state.RrcConnected && contexts[1].State == state.RrcConnected
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, a.SendUserData(ctx, 102, []byte("hello")))
	select {
	case data := <-received:
		assert.Equal(t, []byte("hello"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("user data not delivered")
	}
}
