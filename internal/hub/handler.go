package hub

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
)

var (
	errReservedID        = errors.New("reserved node id")
	errAlreadyRegistered = errors.New("node already registered")
	errUnknownNode       = errors.New("unknown node")
	errUnexpectedKind    = errors.New("unexpected envelope kind for hub")
)

// OnDatagram handles one datagram received from addr. It must run on the
// hub loop.
func (h *Hub) OnDatagram(b []byte, from *net.UDPAddr) {
	env, err := simproto.Decode(b)
	if err != nil {
		h.metrics.Dropped.WithLabelValues("invalid").Inc()
		h.logger.Debug("dropping datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}

	switch {
	case env.IsForHub():
		err = h.handleHubMessage(env, from)
	case env.IsBroadcast():
		h.broadcastToAll(b, env.Src)
	default:
		err = h.forwardToNode(b, env.Dst)
	}

	if err != nil {
		h.logger.Warn("dropping envelope",
			zap.Stringer("src", env.Src),
			zap.Stringer("dst", env.Dst),
			zap.Stringer("kind", env.Kind),
			zap.Error(err),
		)
	}
}

func (h *Hub) handleHubMessage(env simproto.Envelope, from *net.UDPAddr) error {
	switch env.Kind {
	case simproto.Registration:
		return h.handleRegistration(env.Src, from)

	case simproto.Deregistration:
		if _, ok := h.nodes[env.Src]; !ok {
			return fmt.Errorf("deregistration: %w", errUnknownNode)
		}
		delete(h.nodes, env.Src)
		h.metrics.Nodes.Set(float64(len(h.nodes)))
		h.logger.Info("node deregistered", zap.Stringer("id", env.Src))
		return nil

	default:
		h.metrics.Dropped.WithLabelValues("kind").Inc()
		return errUnexpectedKind
	}
}

func (h *Hub) handleRegistration(id simproto.NodeID, from *net.UDPAddr) error {
	status := simproto.RegAccepted
	var err error

	if id == simproto.HubID || id == simproto.BroadcastID {
		status, err = simproto.RegDenied, errReservedID
	} else if _, ok := h.nodes[id]; ok {
		status, err = simproto.RegDenied, errAlreadyRegistered
	} else {
		h.nodes[id] = from
		h.metrics.Nodes.Set(float64(len(h.nodes)))
	}

	if status == simproto.RegAccepted {
		h.metrics.Registrations.WithLabelValues("accepted").Inc()
		h.logger.Info("node registered", zap.Stringer("id", id), zap.Stringer("addr", from))
	} else {
		h.metrics.Registrations.WithLabelValues("denied").Inc()
	}

	// The reply goes to the announced address, not through the directory.
	reply := simproto.Encode(simproto.HubID, id, simproto.RegistrationResponse, []byte{status})
	h.send(reply, from)

	if err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	return nil
}

func (h *Hub) broadcastToAll(b []byte, src simproto.NodeID) {
	for id, addr := range h.nodes {
		if id == src {
			continue
		}
		if h.send(b, addr) {
			h.metrics.Relayed.WithLabelValues("broadcast").Inc()
		}
	}
}

func (h *Hub) forwardToNode(b []byte, dst simproto.NodeID) error {
	addr, ok := h.nodes[dst]
	if !ok {
		h.metrics.Dropped.WithLabelValues("unknown_dst").Inc()
		return fmt.Errorf("forward: %w", errUnknownNode)
	}
	if h.send(b, addr) {
		h.metrics.Relayed.WithLabelValues("unicast").Inc()
	}
	return nil
}

func (h *Hub) send(b []byte, addr *net.UDPAddr) bool {
	if err := io.SendMsg(h.tr, b, addr); err != nil {
		h.metrics.Dropped.WithLabelValues("send_failed").Inc()
		h.logger.Warn("send failed", zap.Stringer("to", addr), zap.Error(err))
		return false
	}
	return true
}
