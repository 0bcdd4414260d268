package simproto

import "fmt"

// MsgType is the protocol message type carried as the first byte of a Data body.
type MsgType uint8

const (
	// Broadcast
	Sib1 MsgType = iota

	// RACH
	RachPreamble
	Rar

	// RRC connection
	RrcSetup
	RrcSetupRequest
	RrcSetupComplete
	RrcRelease

	// NAS
	RegistrationRequest
	RegistrationAccept
	DeregistrationRequest
	ServiceRequest
	Paging

	// Mobility
	MeasurementReport
	RrcReconfiguration
	RrcReconfigurationComplete

	UserPlaneData
)

var msgTypeNames = map[MsgType]string{
	Sib1:                       "SIB1 (System Info Broadcast)",
	RachPreamble:               "Msg1: RACH Preamble",
	Rar:                        "Msg2: Random Access Response",
	RrcSetupRequest:            "Msg3: RRC Setup Request",
	RrcSetup:                   "Msg4: RRC Setup",
	RrcSetupComplete:           "RRC Setup Complete",
	RrcRelease:                 "RRC Release",
	RegistrationRequest:        "NAS: Registration Request",
	RegistrationAccept:         "NAS: Registration Accept",
	DeregistrationRequest:      "NAS: Deregistration Request",
	ServiceRequest:             "NAS: Service Request",
	Paging:                     "Paging",
	MeasurementReport:          "RRC: Measurement Report",
	RrcReconfiguration:         "RRC: Reconfiguration (Handover)",
	RrcReconfigurationComplete: "RRC: Reconfiguration Complete",
	UserPlaneData:              "DATA: User Plane Payload",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_MSG_TYPE(%d)", uint8(t))
}

type EstablishmentCause uint8

const (
	Emergency EstablishmentCause = iota
	HighPriorityAccess
	MtAccess
	MoSignalling
	MoData
	MoVoiceCall
	MoVideoCall
	MoSms
	MpsPriorityAccess
	McsPriorityAccess
)

type SetupStatus uint8

const (
	SetupFailure SetupStatus = iota
	SetupSuccess
	ReconfigurationWithSync
)

type ReleaseCause uint8

const (
	ReleaseNormal ReleaseCause = iota
	ReleaseUserInactivity
	ReleaseHandover
	ReleaseOther
)

func (c ReleaseCause) String() string {
	switch c {
	case ReleaseNormal:
		return "normal"
	case ReleaseUserInactivity:
		return "user-inactivity"
	case ReleaseHandover:
		return "handover"
	default:
		return "other"
	}
}

type RegistrationStatus uint8

const (
	RegistrationRejected RegistrationStatus = iota
	RegistrationAccepted
	RegistrationPending
)

// Application payloads. Field order is the wire order.

type Sib1Msg struct {
	GnbId      uint32
	Tac        uint16
	MinRxLevel int16
	Mcc        int16
	Mnc        int16
}

type RachPreambleMsg struct {
	RaRnti uint16
}

type RarMsg struct {
	RaRnti        uint16
	TempCrnti     uint16
	TimingAdvance uint16
}

type RrcSetupRequestMsg struct {
	// InitialUE-Identity, 39 significant bits in 3GPP; a u64 here.
	Identity uint64
	Cause    EstablishmentCause
}

type RrcSetupMsg struct {
	Identity uint64
	Status   SetupStatus
}

type RrcSetupCompleteMsg struct {
	SelectedPlmn uint32
}

type RrcReleaseMsg struct {
	Cause ReleaseCause
}

type RegistrationRequestMsg struct {
	UeId uint32
}

type RegistrationAcceptMsg struct {
	Status RegistrationStatus
	Crnti  uint16
}

type MeasurementReportMsg struct {
	GnbId uint32
	Rsrp  float64
}

type RrcReconfigurationMsg struct {
	TargetGnbId uint32
}

type RrcReconfigurationCompleteMsg struct {
	Crnti uint16
}

// UserDataHeader prefixes user plane payloads sent by a UE.
type UserDataHeader struct {
	DestUeId uint32
}
