// Package entity holds what gNB and UE have in common: the transport, the
// hub registration handshake, envelope dispatch and the send primitive.
package entity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/flow"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/loop"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/state"
)

var ErrNoHub = errors.New("hub address not set")

// Role is the protocol logic of a radio entity. Both methods run on the
// entity loop.
type Role interface {
	// OnRegistered is called once the hub accepted the registration.
	OnRegistered()

	// OnProtocolMessage receives every Data envelope addressed to this
	// entity or broadcast.
	OnProtocolMessage(src simproto.NodeID, t simproto.MsgType, payload []byte)
}

type Options struct {
	Logger  *zap.Logger
	Flow    flow.Recorder
	Metrics *metrics.Entity

	// QueueDepth bounds the event queue, 0 means loop.DefaultDepth.
	QueueDepth int
}

type Entity struct {
	id   simproto.NodeID
	typ  state.EntityType
	role Role

	tr      io.Transport
	loop    *loop.Loop
	logger  *zap.Logger
	flow    flow.Recorder
	metrics *metrics.Entity

	hubAddr    atomic.Pointer[net.UDPAddr]
	registered atomic.Bool
}

// New creates an entity and starts its event loop. The transport is bound
// by SetupNetwork.
func New(id simproto.NodeID, typ state.EntityType, role Role, tr io.Transport, opts Options) *Entity {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Flow == nil {
		opts.Flow = flow.Nop
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewEntity(nil, roleName(typ), uint32(id))
	}
	e := &Entity{
		id:      id,
		typ:     typ,
		role:    role,
		tr:      tr,
		loop:    loop.New(opts.QueueDepth),
		logger:  opts.Logger.With(zap.String("role", string(typ)), zap.Uint32("id", uint32(id))),
		flow:    opts.Flow,
		metrics: opts.Metrics,
	}
	e.loop.Start()
	return e
}

func roleName(typ state.EntityType) string {
	if typ == state.GNB {
		return "gnb"
	}
	return "ue"
}

func (e *Entity) ID() simproto.NodeID { return e.id }

func (e *Entity) Type() state.EntityType { return e.typ }

func (e *Entity) Logger() *zap.Logger { return e.logger }

func (e *Entity) Registered() bool { return e.registered.Load() }

// LocalAddr returns the bound address, nil before SetupNetwork.
func (e *Entity) LocalAddr() *net.UDPAddr { return e.tr.LocalAddr() }

// SetupNetwork binds the transport on port, 0 for an ephemeral port. A
// failure is returned as is and not retried.
func (e *Entity) SetupNetwork(port int) error {
	e.tr.OnReceive(e.receive)
	if err := e.tr.Bind(port); err != nil {
		return fmt.Errorf("%s %d: bind: %w", e.typ, e.id, err)
	}
	e.logger.Info("network ready", zap.Stringer("addr", e.tr.LocalAddr()))
	return nil
}

// RegisterAtHub remembers the hub address and sends a Registration.
func (e *Entity) RegisterAtHub(hub *net.UDPAddr) error {
	e.hubAddr.Store(hub)
	return e.sendToHub(simproto.Encode(e.id, simproto.HubID, simproto.Registration, nil))
}

// Deregister tells the hub to forget this entity.
func (e *Entity) Deregister() error {
	if !e.registered.Swap(false) {
		return nil
	}
	return e.sendToHub(simproto.Encode(e.id, simproto.HubID, simproto.Deregistration, nil))
}

// SendSimData wraps payload into a Data envelope for target and sends it to
// the hub for relaying.
func (e *Entity) SendSimData(t simproto.MsgType, payload []byte, target simproto.NodeID) error {
	if err := e.sendToHub(simproto.EncodeData(e.id, target, t, payload)); err != nil {
		e.metrics.Dropped.WithLabelValues("send_failed").Inc()
		e.logger.Warn("send failed", zap.Stringer("msg", t), zap.Stringer("to", target), zap.Error(err))
		return err
	}
	e.metrics.Sent.WithLabelValues(t.String()).Inc()
	e.flow.Log(e.typ, e.id, target, t, false)
	return nil
}

func (e *Entity) sendToHub(b []byte) error {
	hub := e.hubAddr.Load()
	if hub == nil {
		return ErrNoHub
	}
	return io.SendMsg(e.tr, b, hub)
}

func (e *Entity) receive(b []byte, from *net.UDPAddr) {
	if !e.loop.Post(func() { e.handleDatagram(b) }) {
		e.metrics.Dropped.WithLabelValues("queue_full").Inc()
	}
}

func (e *Entity) handleDatagram(b []byte) {
	env, err := simproto.Decode(b)
	if err != nil {
		e.metrics.Dropped.WithLabelValues("invalid").Inc()
		return
	}
	if !env.IsForMe(e.id) {
		e.metrics.Dropped.WithLabelValues("not_for_me").Inc()
		return
	}

	switch env.Kind {
	case simproto.RegistrationResponse:
		status, _ := env.Status()
		if status != simproto.RegAccepted {
			e.logger.Warn("registration denied by hub")
			return
		}
		if e.registered.Swap(true) {
			return
		}
		e.logger.Info("registered at hub")
		e.role.OnRegistered()

	case simproto.Data:
		t, payload, err := env.Data()
		if err != nil {
			e.metrics.Dropped.WithLabelValues("invalid").Inc()
			return
		}
		e.metrics.Received.WithLabelValues(t.String()).Inc()
		e.flow.Log(e.typ, e.id, env.Src, t, true)
		e.role.OnProtocolMessage(env.Src, t, payload)

	default:
		e.logger.Debug("ignoring envelope", zap.Stringer("kind", env.Kind), zap.Stringer("src", env.Src))
	}
}

// Every runs fn on the entity loop every d.
func (e *Entity) Every(d time.Duration, fn func()) *loop.Timer {
	return e.loop.Every(d, fn)
}

// After runs fn on the entity loop once, after d.
func (e *Entity) After(d time.Duration, fn func()) *loop.Timer {
	return e.loop.After(d, fn)
}

// Call runs fn on the entity loop and waits for it.
func (e *Entity) Call(ctx context.Context, fn func()) error {
	return e.loop.Call(ctx, fn)
}

// Close deregisters from the hub, stops timers and the loop, and releases
// the transport.
func (e *Entity) Close() error {
	if err := e.Deregister(); err != nil {
		e.logger.Warn("deregistration failed", zap.Error(err))
	}
	e.loop.Stop()
	return e.tr.Close()
}
