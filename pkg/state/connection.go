package state

import "fmt"

// RrcState is the UE radio resource control state. The numeric order is the
// attach order.
type RrcState uint8

const (
	Detached RrcState = iota
	SearchingForCell

	// 3GPP TS 38.331
	RrcIdle
	RrcConnecting
	RrcConnected
	RrcInactive
)

func (s RrcState) String() string {
	switch s {
	case Detached:
		return "DETACHED"
	case SearchingForCell:
		return "SEARCHING_FOR_CELL"
	case RrcIdle:
		return "RRC_IDLE"
	case RrcConnecting:
		return "RRC_CONNECTING"
	case RrcConnected:
		return "RRC_CONNECTED"
	case RrcInactive:
		return "RRC_INACTIVE"
	default:
		return fmt.Sprintf("RrcState(%d)", uint8(s))
	}
}

// EntityType distinguishes the two radio roles.
type EntityType string

const (
	UE  EntityType = "UE"
	GNB EntityType = "GNB"
)

// Opposite returns the peer role of t.
func (t EntityType) Opposite() EntityType {
	if t == GNB {
		return UE
	}
	return GNB
}
