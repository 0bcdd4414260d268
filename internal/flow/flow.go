// Package flow records the message sequence between radio entities, one
// line per protocol message, for ladder-diagram style debugging.
package flow

import (
	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/state"
)

// Recorder observes protocol messages. It never influences protocol state.
type Recorder interface {
	Log(self state.EntityType, from, to simproto.NodeID, t simproto.MsgType, incoming bool)
}

type nop struct{}

func (nop) Log(state.EntityType, simproto.NodeID, simproto.NodeID, simproto.MsgType, bool) {}

// Nop discards everything.
var Nop Recorder = nop{}

// Logger writes flow lines to a zap logger.
type Logger struct {
	logger *zap.Logger
	run    uuid.UUID
}

// New returns a Logger tagged with a fresh run id.
func New(logger *zap.Logger) *Logger {
	run, err := uuid.NewV4()
	if err != nil {
		run = uuid.Nil
	}
	return NewWithRun(logger, run)
}

func NewWithRun(logger *zap.Logger, run uuid.UUID) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		logger: logger.Named("flow").With(zap.Stringer("run", run)),
		run:    run,
	}
}

func (l *Logger) Run() uuid.UUID {
	return l.run
}

func (l *Logger) Log(self state.EntityType, from, to simproto.NodeID, t simproto.MsgType, incoming bool) {
	arrow := "  ---------->  "
	if incoming {
		arrow = "  <----------  "
	}
	l.logger.Info(string(self)+"#"+from.String()+arrow+string(self.Opposite())+"["+to.String()+"]  :  "+t.String(),
		zap.String("self", string(self)),
		zap.Uint32("from", uint32(from)),
		zap.Uint32("to", uint32(to)),
		zap.Uint8("msg", uint8(t)),
		zap.Bool("incoming", incoming),
	)
}
