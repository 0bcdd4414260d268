// Package ue implements the terminal side of the radio protocol: cell search,
// random access, RRC connection establishment, measurement reporting and
// handover execution.
package ue

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/entity"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/loop"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/state"
)

var ErrNotConnected = errors.New("UE is not connected")

type Config struct {
	TickInterval time.Duration

	// WarmUp delays listening for SIB1 after power on or release.
	WarmUp time.Duration

	ReportInterval time.Duration

	// HandshakeTimeout restarts the cell search when connection
	// establishment stalls for longer. Zero disables it.
	HandshakeTimeout time.Duration

	SelectedPlmn uint32
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   10 * time.Millisecond,
		WarmUp:         2 * time.Second,
		ReportInterval: 500 * time.Millisecond,
		SelectedPlmn:   1,
	}
}

// UserDataFunc receives user plane data relayed from another UE.
type UserDataFunc func(from simproto.NodeID, data []byte)

type Options struct {
	entity.Options

	Metrics *metrics.Ue
	Now     func() time.Time

	// Rand draws the simulated RSRP. It is only used on the UE loop.
	Rand *rand.Rand

	OnUserData UserDataFunc
}

// Session is the radio session state of a UE.
type Session struct {
	State     state.RrcState
	TargetGnb simproto.NodeID
	Crnti     uint16

	// NAS registration outcome, valid once Registered is set.
	Registered         bool
	RegistrationStatus simproto.RegistrationStatus
	RegistrationCrnti  uint16
}

type UE struct {
	*entity.Entity

	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Ue
	now        func() time.Time
	rand       *rand.Rand
	onUserData UserDataFunc

	// touched only on the loop
	state            state.RrcState
	targetGnb        simproto.NodeID
	crnti            uint16
	lastRachRaRnti   uint16
	sentMsg3Identity uint64
	handover         bool
	lastReport       time.Time
	establishStart   time.Time
	nas              Session
	warmUp           *loop.Timer
	ticker           *loop.Timer
}

func New(id simproto.NodeID, cfg Config, tr io.Transport, opts Options) *UE {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUe(nil, uint32(id))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	}
	u := &UE{
		cfg:        cfg,
		metrics:    opts.Metrics,
		now:        opts.Now,
		rand:       opts.Rand,
		onUserData: opts.OnUserData,
		state:      state.Detached,
	}
	u.Entity = entity.New(id, state.UE, u, tr, opts.Options)
	u.logger = u.Entity.Logger()
	return u
}

func (u *UE) ToState(s state.RrcState) {
	if u.state == s {
		return
	}
	u.logger.Debug("state transition", zap.Stringer("from", u.state), zap.Stringer("to", s))
	u.state = s
	u.metrics.Transitions.WithLabelValues(s.String()).Inc()
}

func (u *UE) InState(s state.RrcState) bool {
	return u.state == s
}

// OnRegistered powers the radio on once the hub knows this UE.
func (u *UE) OnRegistered() {
	u.logger.Info("registered in radio hub, powering on")
	if u.ticker == nil {
		u.ticker = u.Every(u.cfg.TickInterval, func() { u.tick(u.now()) })
	}
	u.searchingForCell()
}

func (u *UE) resetSession() {
	u.targetGnb = 0
	u.crnti = 0
	u.lastRachRaRnti = 0
	u.sentMsg3Identity = 0
	u.handover = false
	u.lastReport = u.now()
	u.establishStart = time.Time{}
}

// searchingForCell restarts the attach lifecycle: the UE goes DETACHED and
// starts listening for SIB1 after the warm-up delay.
func (u *UE) searchingForCell() {
	u.resetSession()
	u.ToState(state.Detached)

	if u.warmUp != nil {
		u.warmUp.Stop()
	}
	u.logger.Debug("waiting for frequency scan", zap.Duration("delay", u.cfg.WarmUp))
	u.warmUp = u.After(u.cfg.WarmUp, func() {
		u.warmUp = nil
		if !u.InState(state.Detached) {
			u.logger.Debug("warm-up expired outside DETACHED", zap.Stringer("state", u.state))
			return
		}
		u.ToState(state.SearchingForCell)
		u.logger.Debug("receiver active, listening for SIB1")
	})
}

func (u *UE) tick(now time.Time) {
	if u.InState(state.RrcConnected) && now.Sub(u.lastReport) >= u.cfg.ReportInterval {
		u.sendMeasurementReport()
		u.lastReport = now
	}

	if u.cfg.HandshakeTimeout > 0 && u.establishing() && now.Sub(u.establishStart) > u.cfg.HandshakeTimeout {
		u.logger.Warn("connection establishment timed out",
			zap.Stringer("gnb", u.targetGnb),
			zap.Stringer("state", u.state),
		)
		u.searchingForCell()
	}
}

// establishing reports a RACH in flight or lost to contention.
func (u *UE) establishing() bool {
	return !u.establishStart.IsZero() && (u.InState(state.RrcConnecting) || u.InState(state.RrcIdle))
}

func (u *UE) sendMeasurementReport() {
	report := simproto.MeasurementReportMsg{
		GnbId: uint32(u.targetGnb),
		Rsrp:  -90.0 + u.rand.Float64()*10,
	}
	u.logger.Debug("measurement report", zap.Stringer("gnb", u.targetGnb), zap.Float64("rsrp", report.Rsrp))
	u.SendSimData(simproto.MeasurementReport, simproto.MustEncodeMsg(&report), u.targetGnb)
}

// SendUserData sends data to UE dest through the serving cell.
func (u *UE) SendUserData(ctx context.Context, dest simproto.NodeID, data []byte) error {
	var err error
	callErr := u.Call(ctx, func() {
		if !u.InState(state.RrcConnected) {
			err = ErrNotConnected
			return
		}
		hdr := simproto.UserDataHeader{DestUeId: uint32(dest)}
		payload := append(simproto.MustEncodeMsg(&hdr), data...)
		err = u.SendSimData(simproto.UserPlaneData, payload, u.targetGnb)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Session returns a copy of the session state.
func (u *UE) Session(ctx context.Context) (Session, error) {
	var s Session
	err := u.Call(ctx, func() { s = u.session() })
	return s, err
}

func (u *UE) session() Session {
	s := u.nas
	s.State = u.state
	s.TargetGnb = u.targetGnb
	s.Crnti = u.crnti
	return s
}

// Snapshot reports the session state for the inspection service.
func (u *UE) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s, err := u.Session(ctx)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"role":       "ue",
		"id":         uint32(u.ID()),
		"state":      s.State.String(),
		"target_gnb": uint32(s.TargetGnb),
		"crnti":      uint32(s.Crnti),
		"registered": s.Registered,
	})
}
