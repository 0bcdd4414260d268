// Package gnb implements the cell side of the radio protocol: SIB1
// broadcasting, random access, RRC connection setup, measurement based
// handover decisions and inactivity release.
package gnb

import (
	"context"
	"sort"
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

// CellConfig is announced in every SIB1.
type CellConfig struct {
	Tac        uint16
	Mcc        int16
	Mnc        int16
	MinRxLevel int16
}

type Config struct {
	Cell CellConfig

	// TickInterval is the radio frame period driving housekeeping.
	TickInterval time.Duration
	Sib1Interval time.Duration

	// InactivityTimeout releases connected UEs that stay silent longer.
	InactivityTimeout time.Duration

	// ContextTTL evicts contexts of UEs that are not connected and stayed
	// silent longer. Zero keeps them forever.
	ContextTTL time.Duration

	// Hysteresis in dB a neighbour must exceed the serving cell by before
	// a handover is commanded.
	Hysteresis float64

	CrntiSeed uint16
}

func DefaultConfig() Config {
	return Config{
		Cell: CellConfig{
			Tac:        100,
			Mcc:        255,
			Mnc:        1,
			MinRxLevel: -115,
		},
		TickInterval:      10 * time.Millisecond,
		Sib1Interval:      200 * time.Millisecond,
		InactivityTimeout: 30 * time.Second,
		ContextTTL:        5 * time.Minute,
		Hysteresis:        3.0,
		CrntiSeed:         1000,
	}
}

// UeContext is what the cell knows about one UE.
type UeContext struct {
	ID           simproto.NodeID
	Crnti        uint16
	SelectedPlmn uint32
	State        state.RrcState
	Cause        simproto.EstablishmentCause
	Attached     bool
	LastRssi     float64
	LastActivity time.Time
}

// DataPlane receives the user plane payloads sent by UEs of this cell.
type DataPlane interface {
	HandleUserData(src simproto.NodeID, payload []byte)
}

type Options struct {
	entity.Options

	Metrics *metrics.Gnb

	// DataPlane replaces the built-in local switch.
	DataPlane DataPlane

	Now func() time.Time
}

type Gnb struct {
	*entity.Entity

	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Gnb
	data    DataPlane
	now     func() time.Time

	// touched only on the loop
	contexts map[simproto.NodeID]*UeContext
	lastSib1 time.Time
	ticker   *loop.Timer
}

func New(id simproto.NodeID, cfg Config, tr io.Transport, opts Options) *Gnb {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewGnb(nil, uint32(id))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Gnb{
		cfg:      cfg,
		metrics:  opts.Metrics,
		data:     opts.DataPlane,
		now:      opts.Now,
		contexts: make(map[simproto.NodeID]*UeContext),
	}
	g.Entity = entity.New(id, state.GNB, g, tr, opts.Options)
	g.logger = g.Entity.Logger()
	if g.data == nil {
		g.data = localSwitch{g}
	}
	return g
}

// OnRegistered starts SIB1 broadcasting and the housekeeping tick.
func (g *Gnb) OnRegistered() {
	g.sendSib1(g.now())
	if g.ticker == nil {
		g.ticker = g.Every(g.cfg.TickInterval, func() { g.tick(g.now()) })
	}
}

func (g *Gnb) tick(now time.Time) {
	if now.Sub(g.lastSib1) >= g.cfg.Sib1Interval {
		g.sendSib1(now)
	}

	for id, ctx := range g.contexts {
		idle := now.Sub(ctx.LastActivity)
		switch {
		case ctx.State == state.RrcConnected && idle > g.cfg.InactivityTimeout:
			g.logger.Info("inactivity timeout", zap.Stringer("ue", id), zap.Duration("idle", idle))
			g.sendRrcRelease(ctx, simproto.ReleaseUserInactivity)

		case ctx.State != state.RrcConnected && g.cfg.ContextTTL > 0 && idle > g.cfg.ContextTTL:
			delete(g.contexts, id)
			g.metrics.Evictions.Inc()
			g.logger.Debug("evicted ue context", zap.Stringer("ue", id))
		}
	}
	g.metrics.Contexts.Set(float64(len(g.contexts)))
}

func (g *Gnb) sendSib1(now time.Time) {
	g.lastSib1 = now
	sib := simproto.Sib1Msg{
		GnbId:      uint32(g.ID()),
		Tac:        g.cfg.Cell.Tac,
		MinRxLevel: g.cfg.Cell.MinRxLevel,
		Mcc:        g.cfg.Cell.Mcc,
		Mnc:        g.cfg.Cell.Mnc,
	}
	g.SendSimData(simproto.Sib1, simproto.MustEncodeMsg(&sib), simproto.BroadcastID)
}

func (g *Gnb) sendRrcRelease(ctx *UeContext, cause simproto.ReleaseCause) {
	msg := simproto.RrcReleaseMsg{Cause: cause}
	g.SendSimData(simproto.RrcRelease, simproto.MustEncodeMsg(&msg), ctx.ID)
	ctx.State = state.RrcIdle
	ctx.Attached = false
	g.metrics.Releases.WithLabelValues(cause.String()).Inc()
}

// Contexts returns a copy of the UE context table sorted by UE id.
func (g *Gnb) Contexts(ctx context.Context) ([]UeContext, error) {
	var out []UeContext
	err := g.Call(ctx, func() {
		out = make([]UeContext, 0, len(g.contexts))
		for _, c := range g.contexts {
			out = append(out, *c)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot reports the UE context table for the inspection service.
func (g *Gnb) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	contexts, err := g.Contexts(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(contexts))
	for _, c := range contexts {
		list = append(list, map[string]any{
			"ue":            uint32(c.ID),
			"crnti":         uint32(c.Crnti),
			"state":         c.State.String(),
			"attached":      c.Attached,
			"selected_plmn": c.SelectedPlmn,
			"last_rssi":     c.LastRssi,
			"last_activity": c.LastActivity.Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"role":     "gnb",
		"id":       uint32(g.ID()),
		"tac":      uint32(g.cfg.Cell.Tac),
		"contexts": list,
	})
}
