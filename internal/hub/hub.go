// Package hub implements the registration and routing hub. Every radio entity
// registers here and sends all of its traffic here; the hub relays datagrams
// verbatim to the addressed node or to every other node for broadcasts.
package hub

import (
	"context"
	"net"
	"sort"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/io"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/loop"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/metrics"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
)

// Node is one directory entry.
type Node struct {
	ID   simproto.NodeID
	Addr *net.UDPAddr
}

type Hub struct {
	tr      io.Transport
	loop    *loop.Loop
	logger  *zap.Logger
	metrics *metrics.Hub

	// touched only on the loop
	nodes map[simproto.NodeID]*net.UDPAddr
}

func New(tr io.Transport, logger *zap.Logger, m *metrics.Hub) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewHub(nil)
	}
	return &Hub{
		tr:      tr,
		loop:    loop.New(loop.DefaultDepth),
		logger:  logger.Named("hub"),
		metrics: m,
		nodes:   make(map[simproto.NodeID]*net.UDPAddr),
	}
}

// Start binds the transport on port and starts handling datagrams.
func (h *Hub) Start(port int) error {
	h.tr.OnReceive(h.receive)
	h.loop.Start()
	if err := h.tr.Bind(port); err != nil {
		h.loop.Stop()
		return err
	}
	h.logger.Info("hub listening", zap.Stringer("addr", h.tr.LocalAddr()))
	return nil
}

func (h *Hub) Stop() {
	h.loop.Stop()
	if err := h.tr.Close(); err != nil {
		h.logger.Warn("closing transport", zap.Error(err))
	}
}

// Addr returns the bound address, nil before Start.
func (h *Hub) Addr() *net.UDPAddr {
	return h.tr.LocalAddr()
}

func (h *Hub) receive(b []byte, from *net.UDPAddr) {
	if !h.loop.Post(func() { h.OnDatagram(b, from) }) {
		h.metrics.Dropped.WithLabelValues("queue_full").Inc()
	}
}

// Nodes returns the directory sorted by id.
func (h *Hub) Nodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	err := h.loop.Call(ctx, func() {
		nodes = make([]Node, 0, len(h.nodes))
		for id, addr := range h.nodes {
			nodes = append(nodes, Node{ID: id, Addr: addr})
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// Snapshot reports the directory for the inspection service.
func (h *Hub) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	nodes, err := h.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(nodes))
	for _, n := range nodes {
		list = append(list, map[string]any{
			"id":   uint32(n.ID),
			"addr": n.Addr.String(),
		})
	}
	return structpb.NewStruct(map[string]any{
		"role":  "hub",
		"nodes": list,
	})
}
