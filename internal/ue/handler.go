package ue

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/state"
)

var (
	errDecode         = errors.New("cannot decode message")
	errWrongState     = errors.New("message not expected in current state")
	errWrongCell      = errors.New("message from a cell other than the target")
	errRaRntiMismatch = errors.New("RA-RNTI mismatch")
)

// OnProtocolMessage dispatches one message from a gNB.
func (u *UE) OnProtocolMessage(src simproto.NodeID, t simproto.MsgType, payload []byte) {
	var err error

	switch t {
	case simproto.Sib1:
		err = u.handleSib1(src, payload)

	case simproto.Rar:
		err = u.handleRar(src, payload)

	case simproto.RrcSetup:
		err = u.handleRrcSetup(src, payload)

	case simproto.RrcRelease:
		err = u.handleRrcRelease(src, payload)

	case simproto.RrcReconfiguration:
		err = u.handleRrcReconfiguration(payload)

	case simproto.RegistrationAccept:
		err = u.handleRegistrationAccept(payload)

	case simproto.UserPlaneData:
		err = u.handleUserPlaneData(payload)

	default:
		u.logger.Debug("unhandled protocol message", zap.Stringer("msg", t), zap.Stringer("gnb", src))
	}

	if err == nil {
		return
	}
	switch {
	case errors.Is(err, errDecode), errors.Is(err, errRaRntiMismatch):
		u.logger.Debug("dropping message", zap.Stringer("msg", t), zap.Stringer("gnb", src), zap.Error(err))
	default:
		u.logger.Warn("dropping message",
			zap.Stringer("msg", t),
			zap.Stringer("gnb", src),
			zap.Stringer("state", u.state),
			zap.Error(err),
		)
	}
}

func decode[T any](payload []byte, msg *T) error {
	if err := simproto.DecodeMsg(payload, msg); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}

func (u *UE) handleSib1(gnb simproto.NodeID, payload []byte) error {
	// SIB1 is broadcast continuously, anything but a cell search ignores it
	if !u.InState(state.SearchingForCell) {
		return nil
	}

	var sib simproto.Sib1Msg
	if err := decode(payload, &sib); err != nil {
		return err
	}

	u.targetGnb = gnb
	u.ToState(state.RrcIdle)
	u.logger.Info("camped on cell",
		zap.Stringer("gnb", gnb),
		zap.Uint16("tac", sib.Tac),
		zap.Int16("mcc", sib.Mcc),
		zap.Int16("mnc", sib.Mnc),
	)
	return u.sendRachPreamble()
}

func (u *UE) sendRachPreamble() error {
	raRnti := uint16(uint32(u.ID()) % 65535)
	u.lastRachRaRnti = raRnti
	u.establishStart = u.now()
	u.ToState(state.RrcConnecting)

	msg := simproto.RachPreambleMsg{RaRnti: raRnti}
	return u.SendSimData(simproto.RachPreamble, simproto.MustEncodeMsg(&msg), u.targetGnb)
}

func (u *UE) handleRar(gnb simproto.NodeID, payload []byte) error {
	if !u.InState(state.RrcConnecting) {
		return fmt.Errorf("rar: %w", errWrongState)
	}

	var rar simproto.RarMsg
	if err := decode(payload, &rar); err != nil {
		return err
	}
	if rar.RaRnti != u.lastRachRaRnti {
		return fmt.Errorf("rar: %w: got %d, expected %d", errRaRntiMismatch, rar.RaRnti, u.lastRachRaRnti)
	}

	u.crnti = rar.TempCrnti
	u.logger.Debug("random access response", zap.Stringer("gnb", gnb), zap.Uint16("temp_crnti", u.crnti))

	u.sentMsg3Identity = uint64(u.ID())
	req := simproto.RrcSetupRequestMsg{Identity: u.sentMsg3Identity, Cause: simproto.MoSignalling}
	return u.SendSimData(simproto.RrcSetupRequest, simproto.MustEncodeMsg(&req), gnb)
}

func (u *UE) handleRrcSetup(gnb simproto.NodeID, payload []byte) error {
	if !u.InState(state.RrcConnecting) {
		return fmt.Errorf("rrc setup: %w", errWrongState)
	}
	if gnb != u.targetGnb {
		return fmt.Errorf("rrc setup from %s: %w", gnb, errWrongCell)
	}

	var setup simproto.RrcSetupMsg
	if err := decode(payload, &setup); err != nil {
		return err
	}

	if setup.Identity != u.sentMsg3Identity {
		u.logger.Warn("contention resolution failed",
			zap.Uint64("winner", setup.Identity),
			zap.Uint64("identity", u.sentMsg3Identity),
		)
		u.metrics.Contention.Inc()
		u.ToState(state.RrcIdle)
		u.crnti = 0
		return nil
	}

	u.ToState(state.RrcConnected)
	u.establishStart = time.Time{}
	u.lastReport = u.now()
	u.metrics.Attaches.Inc()
	u.logger.Info("connected", zap.Stringer("gnb", gnb), zap.Uint16("crnti", u.crnti))

	complete := simproto.RrcSetupCompleteMsg{SelectedPlmn: u.cfg.SelectedPlmn}
	if err := u.SendSimData(simproto.RrcSetupComplete, simproto.MustEncodeMsg(&complete), gnb); err != nil {
		return err
	}

	if u.handover {
		u.handover = false
		done := simproto.RrcReconfigurationCompleteMsg{Crnti: u.crnti}
		if err := u.SendSimData(simproto.RrcReconfigurationComplete, simproto.MustEncodeMsg(&done), gnb); err != nil {
			return err
		}
	}

	reg := simproto.RegistrationRequestMsg{UeId: uint32(u.ID())}
	return u.SendSimData(simproto.RegistrationRequest, simproto.MustEncodeMsg(&reg), gnb)
}

func (u *UE) handleRrcRelease(gnb simproto.NodeID, payload []byte) error {
	if gnb != u.targetGnb {
		return fmt.Errorf("rrc release from %s: %w", gnb, errWrongCell)
	}

	var rel simproto.RrcReleaseMsg
	if err := decode(payload, &rel); err != nil {
		return err
	}

	u.logger.Info("connection released", zap.Stringer("gnb", gnb), zap.Stringer("cause", rel.Cause))
	u.nas = Session{}
	u.searchingForCell()
	return nil
}

func (u *UE) handleRrcReconfiguration(payload []byte) error {
	var msg simproto.RrcReconfigurationMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}

	target := simproto.NodeID(msg.TargetGnbId)
	u.logger.Info("handover commanded", zap.Stringer("from", u.targetGnb), zap.Stringer("to", target))

	u.targetGnb = target
	u.handover = true
	u.lastReport = u.now()
	return u.sendRachPreamble()
}

func (u *UE) handleRegistrationAccept(payload []byte) error {
	var msg simproto.RegistrationAcceptMsg
	if err := decode(payload, &msg); err != nil {
		return err
	}
	u.nas.Registered = true
	u.nas.RegistrationStatus = msg.Status
	u.nas.RegistrationCrnti = msg.Crnti
	u.logger.Info("NAS registration accepted", zap.Uint8("status", uint8(msg.Status)), zap.Uint16("crnti", msg.Crnti))
	return nil
}

func (u *UE) handleUserPlaneData(payload []byte) error {
	var hdr simproto.UserDataHeader
	if err := decode(payload, &hdr); err != nil {
		return err
	}
	from := simproto.NodeID(hdr.DestUeId)
	data := payload[4:]
	u.logger.Debug("user data", zap.Stringer("from", from), zap.Int("bytes", len(data)))
	if u.onUserData != nil {
		u.onUserData(from, data)
	}
	return nil
}
