package gnb

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/state"
)

var (
	errDecode    = errors.New("cannot decode message")
	errUnknownUe = errors.New("no context for UE")
)

// C-RNTI handed out when a registration arrives without a RACH context.
const fallbackCrnti uint16 = 42

// OnProtocolMessage dispatches one message from a UE.
func (g *Gnb) OnProtocolMessage(src simproto.NodeID, t simproto.MsgType, payload []byte) {
	var err error

	switch t {
	case simproto.Sib1:
		// our own broadcast type, nothing to do

	case simproto.RachPreamble:
		err = g.handleRachPreamble(src, payload)

	case simproto.RrcSetupRequest:
		err = g.handleRrcSetupRequest(src, payload)

	case simproto.RrcSetupComplete:
		err = g.handleRrcSetupComplete(src, payload)

	case simproto.MeasurementReport:
		err = g.handleMeasurementReport(src, payload)

	case simproto.RegistrationRequest:
		err = g.handleRegistrationRequest(src)

	case simproto.RrcReconfigurationComplete:
		err = g.handleRrcReconfigurationComplete(src, payload)

	case simproto.UserPlaneData:
		g.metrics.UserPlaneByte.Add(float64(len(payload)))
		g.data.HandleUserData(src, payload)

	default:
		g.logger.Debug("unhandled protocol message", zap.Stringer("msg", t), zap.Stringer("ue", src))
	}

	if err == nil {
		return
	}
	if errors.Is(err, errDecode) {
		g.logger.Debug("dropping message", zap.Stringer("msg", t), zap.Stringer("ue", src), zap.Error(err))
	} else {
		g.logger.Warn("dropping message", zap.Stringer("msg", t), zap.Stringer("ue", src), zap.Error(err))
	}
}

func decode[T any](payload []byte, msg *T) error {
	if err := simproto.DecodeMsg(payload, msg); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}

func (g *Gnb) handleRachPreamble(ue simproto.NodeID, payload []byte) error {
	var msg simproto.RachPreambleMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}

	tempCrnti := g.cfg.CrntiSeed + uint16(uint32(ue)%9000)

	ctx, ok := g.contexts[ue]
	if !ok {
		ctx = &UeContext{ID: ue}
		g.contexts[ue] = ctx
		g.metrics.Contexts.Set(float64(len(g.contexts)))
	}
	ctx.Crnti = tempCrnti
	ctx.LastActivity = g.now()
	ctx.Attached = false

	g.logger.Debug("RACH preamble",
		zap.Stringer("ue", ue),
		zap.Uint16("ra_rnti", msg.RaRnti),
		zap.Uint16("temp_crnti", tempCrnti),
	)

	rar := simproto.RarMsg{RaRnti: msg.RaRnti, TempCrnti: tempCrnti}
	return g.SendSimData(simproto.Rar, simproto.MustEncodeMsg(&rar), ue)
}

func (g *Gnb) handleRrcSetupRequest(ue simproto.NodeID, payload []byte) error {
	ctx, ok := g.contexts[ue]
	if !ok {
		return fmt.Errorf("rrc setup request: %w", errUnknownUe)
	}

	var msg simproto.RrcSetupRequestMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}
	ctx.Cause = msg.Cause
	ctx.LastActivity = g.now()
	if ctx.State != state.RrcConnected {
		ctx.State = state.RrcConnecting
	}

	g.logger.Debug("RRC setup request",
		zap.Stringer("ue", ue),
		zap.Uint16("crnti", ctx.Crnti),
		zap.Uint64("identity", msg.Identity),
		zap.Uint8("cause", uint8(msg.Cause)),
	)

	// admission is unconditional
	setup := simproto.RrcSetupMsg{Identity: msg.Identity, Status: simproto.SetupSuccess}
	return g.SendSimData(simproto.RrcSetup, simproto.MustEncodeMsg(&setup), ue)
}

func (g *Gnb) handleRrcSetupComplete(ue simproto.NodeID, payload []byte) error {
	ctx, ok := g.contexts[ue]
	if !ok {
		return fmt.Errorf("rrc setup complete: %w", errUnknownUe)
	}

	var msg simproto.RrcSetupCompleteMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}
	ctx.State = state.RrcConnected
	ctx.Attached = true
	ctx.SelectedPlmn = msg.SelectedPlmn
	ctx.LastActivity = g.now()

	g.logger.Info("UE connected",
		zap.Stringer("ue", ue),
		zap.Uint16("crnti", ctx.Crnti),
		zap.Uint32("plmn", msg.SelectedPlmn),
	)
	return nil
}

func (g *Gnb) handleMeasurementReport(ue simproto.NodeID, payload []byte) error {
	ctx, ok := g.contexts[ue]
	if !ok {
		return fmt.Errorf("measurement report: %w", errUnknownUe)
	}

	var msg simproto.MeasurementReportMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}
	ctx.LastActivity = g.now()

	reported := simproto.NodeID(msg.GnbId)
	if reported == g.ID() {
		ctx.LastRssi = msg.Rsrp
		return nil
	}

	if msg.Rsrp <= ctx.LastRssi+g.cfg.Hysteresis {
		return nil
	}

	g.logger.Info("triggering handover",
		zap.Stringer("ue", ue),
		zap.Stringer("target", reported),
		zap.Float64("rsrp", msg.Rsrp),
		zap.Float64("serving_rsrp", ctx.LastRssi),
	)
	g.metrics.Handovers.Inc()
	reconf := simproto.RrcReconfigurationMsg{TargetGnbId: msg.GnbId}
	return g.SendSimData(simproto.RrcReconfiguration, simproto.MustEncodeMsg(&reconf), ue)
}

func (g *Gnb) handleRegistrationRequest(ue simproto.NodeID) error {
	crnti := fallbackCrnti
	if ctx, ok := g.contexts[ue]; ok {
		crnti = ctx.Crnti
		ctx.LastActivity = g.now()
	}

	g.logger.Info("registration accepted", zap.Stringer("ue", ue), zap.Uint16("crnti", crnti))

	accept := simproto.RegistrationAcceptMsg{Status: simproto.RegistrationAccepted, Crnti: crnti}
	return g.SendSimData(simproto.RegistrationAccept, simproto.MustEncodeMsg(&accept), ue)
}

func (g *Gnb) handleRrcReconfigurationComplete(ue simproto.NodeID, payload []byte) error {
	ctx, ok := g.contexts[ue]
	if !ok {
		return fmt.Errorf("rrc reconfiguration complete: %w", errUnknownUe)
	}

	var msg simproto.RrcReconfigurationCompleteMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}
	ctx.LastActivity = g.now()

	g.logger.Info("handover completed", zap.Stringer("ue", ue), zap.Uint16("crnti", msg.Crnti))
	return nil
}

// localSwitch delivers user data to a UE connected to the same cell and
// drops everything else.
type localSwitch struct {
	g *Gnb
}

func (s localSwitch) HandleUserData(src simproto.NodeID, payload []byte) {
	var hdr simproto.UserDataHeader
	if err := simproto.DecodeMsg(payload, &hdr); err != nil {
		s.g.logger.Debug("user data without header", zap.Stringer("ue", src), zap.Error(err))
		return
	}
	dst := simproto.NodeID(hdr.DestUeId)
	ctx, ok := s.g.contexts[dst]
	if !ok || ctx.State != state.RrcConnected {
		s.g.logger.Debug("user data for UE outside this cell",
			zap.Stringer("from", src),
			zap.Stringer("to", dst),
			zap.Int("bytes", len(payload)),
		)
		return
	}
	if sender, ok := s.g.contexts[src]; ok {
		sender.LastActivity = s.g.now()
	}

	// the receiving UE sees the sender id in place of its own
	out := make([]byte, len(payload))
	copy(out, payload)
	fwd := simproto.UserDataHeader{DestUeId: uint32(src)}
	copy(out, simproto.MustEncodeMsg(&fwd))
	s.g.SendSimData(simproto.UserPlaneData, out, dst)
}
