// Package metrics defines the Prometheus collectors of the hub and the radio
// entities. Collectors carry a constant "node" label so that several actors
// can share one registry inside a process.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nrsim"

func nodeLabels(id uint32) prometheus.Labels {
	return prometheus.Labels{"node": strconv.FormatUint(uint64(id), 10)}
}

// registerer returns reg, or a throwaway registry when reg is nil.
func registerer(reg prometheus.Registerer) prometheus.Registerer {
	if reg == nil {
		return prometheus.NewRegistry()
	}
	return reg
}

type Hub struct {
	Registrations *prometheus.CounterVec
	Relayed       *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Nodes         prometheus.Gauge
}

func NewHub(reg prometheus.Registerer) *Hub {
	f := promauto.With(registerer(reg))
	return &Hub{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "registrations_total",
			Help:      "Registration requests by outcome.",
		}, []string{"status"}),
		Relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "relayed_datagrams_total",
			Help:      "Datagrams relayed to registered nodes.",
		}, []string{"mode"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_datagrams_total",
			Help:      "Datagrams dropped by the hub.",
		}, []string{"reason"}),
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "registered_nodes",
			Help:      "Nodes currently in the directory.",
		}),
	}
}

type Entity struct {
	Received *prometheus.CounterVec
	Sent     *prometheus.CounterVec
	Dropped  *prometheus.CounterVec
}

func NewEntity(reg prometheus.Registerer, role string, id uint32) *Entity {
	f := promauto.With(registerer(reg))
	labels := nodeLabels(id)
	return &Entity{
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   role,
			Name:        "received_messages_total",
			Help:        "Protocol messages delivered to the role, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
		Sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   role,
			Name:        "sent_messages_total",
			Help:        "Protocol messages sent through the hub, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   role,
			Name:        "dropped_messages_total",
			Help:        "Protocol messages dropped by the role, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
	}
}

type Gnb struct {
	Handovers     prometheus.Counter
	Releases      *prometheus.CounterVec
	Contexts      prometheus.Gauge
	Evictions     prometheus.Counter
	UserPlaneByte prometheus.Counter
}

func NewGnb(reg prometheus.Registerer, id uint32) *Gnb {
	f := promauto.With(registerer(reg))
	labels := nodeLabels(id)
	return &Gnb{
		Handovers: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gnb",
			Name:        "handovers_total",
			Help:        "Handovers commanded by RRC reconfiguration.",
			ConstLabels: labels,
		}),
		Releases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gnb",
			Name:        "rrc_releases_total",
			Help:        "RRC releases sent, by cause.",
			ConstLabels: labels,
		}, []string{"cause"}),
		Contexts: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gnb",
			Name:        "ue_contexts",
			Help:        "UE contexts held by the cell.",
			ConstLabels: labels,
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gnb",
			Name:        "ue_context_evictions_total",
			Help:        "Stale UE contexts removed from the table.",
			ConstLabels: labels,
		}),
		UserPlaneByte: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gnb",
			Name:        "user_plane_bytes_total",
			Help:        "User plane payload bytes received.",
			ConstLabels: labels,
		}),
	}
}

type Ue struct {
	Transitions *prometheus.CounterVec
	Attaches    prometheus.Counter
	Contention  prometheus.Counter
}

func NewUe(reg prometheus.Registerer, id uint32) *Ue {
	f := promauto.With(registerer(reg))
	labels := nodeLabels(id)
	return &Ue{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ue",
			Name:        "state_transitions_total",
			Help:        "RRC state transitions, by target state.",
			ConstLabels: labels,
		}, []string{"state"}),
		Attaches: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ue",
			Name:        "attaches_total",
			Help:        "Completed RRC connection establishments.",
			ConstLabels: labels,
		}),
		Contention: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ue",
			Name:        "contention_failures_total",
			Help:        "RRC setups lost to contention resolution.",
			ConstLabels: labels,
		}),
	}
}
