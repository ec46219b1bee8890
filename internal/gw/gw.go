// Package gw contains the Go structures mirroring the ChirpStack Gateway
// Bridge gw protobuf API (gw.DownlinkFrame, gw.UplinkFrame, gw.DownlinkTxAck
// and the modulation/timing sub-messages), carried as the payload of every
// MQTT event/command topic in spec.md §6.
//
// These are manually defined, not protoc-generated: the generated Go module
// for ChirpStack's gw.proto (github.com/chirpstack/chirpstack/api/go/v4) is
// not available in this workspace, and vendoring hand-written stand-ins for
// generated code would defeat the purpose of depending on it. Based on:
// https://github.com/chirpstack/chirpstack/blob/master/api/proto/gw/gw.proto
package gw

// CodeRate is the LoRa forward-error-correction coding rate.
type CodeRate int32

const (
	CodeRate_CR_UNDEFINED CodeRate = 0
	CodeRate_CR_4_5       CodeRate = 1
	CodeRate_CR_4_6       CodeRate = 2
	CodeRate_CR_4_7       CodeRate = 3
	CodeRate_CR_4_8       CodeRate = 4
)

func (c CodeRate) String() string {
	switch c {
	case CodeRate_CR_4_5:
		return "4/5"
	case CodeRate_CR_4_6:
		return "4/6"
	case CodeRate_CR_4_7:
		return "4/7"
	case CodeRate_CR_4_8:
		return "4/8"
	default:
		return "undefined"
	}
}

// TxAckStatus is the status of one downlink transmission attempt, reported
// back on the gateway's tx ack event topic.
type TxAckStatus int32

const (
	TxAckStatus_IGNORED             TxAckStatus = 0
	TxAckStatus_OK                  TxAckStatus = 1
	TxAckStatus_TOO_LATE            TxAckStatus = 2
	TxAckStatus_TOO_EARLY           TxAckStatus = 3
	TxAckStatus_COLLISION_PACKET    TxAckStatus = 4
	TxAckStatus_COLLISION_BEACON    TxAckStatus = 5
	TxAckStatus_TX_FREQ             TxAckStatus = 6
	TxAckStatus_TX_POWER            TxAckStatus = 7
	TxAckStatus_GPS_UNLOCKED        TxAckStatus = 8
	TxAckStatus_QUEUE_FULL          TxAckStatus = 9
	TxAckStatus_INTERNAL_ERROR      TxAckStatus = 10
	TxAckStatus_DUTY_CYCLE_OVERFLOW TxAckStatus = 11
)

func (s TxAckStatus) String() string {
	switch s {
	case TxAckStatus_OK:
		return "OK"
	case TxAckStatus_TOO_LATE:
		return "TOO_LATE"
	case TxAckStatus_TOO_EARLY:
		return "TOO_EARLY"
	case TxAckStatus_COLLISION_PACKET:
		return "COLLISION_PACKET"
	case TxAckStatus_TX_FREQ:
		return "TX_FREQ"
	case TxAckStatus_TX_POWER:
		return "TX_POWER"
	case TxAckStatus_QUEUE_FULL:
		return "QUEUE_FULL"
	case TxAckStatus_INTERNAL_ERROR:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// CRCStatus is the result of the gateway's CRC check on a received frame.
type CRCStatus int32

const (
	CRCStatus_NO_CRC  CRCStatus = 0
	CRCStatus_BAD_CRC CRCStatus = 1
	CRCStatus_CRC_OK  CRCStatus = 2
)

// UplinkFrame is the payload of an `event/up` MQTT topic: one received
// LoRa frame plus its radio metadata.
type UplinkFrame struct {
	PhyPayload []byte
	TxInfo     *UplinkTxInfo
	RxInfo     *UplinkRxInfo
}

// UplinkTxInfo carries the frequency and modulation the frame was sent at.
type UplinkTxInfo struct {
	Frequency  uint32
	Modulation *Modulation
}

// UplinkRxInfo carries the receiving gateway's radio metrics.
type UplinkRxInfo struct {
	GatewayId string
	UplinkId  uint32
	Rssi      int32
	Snr       float32
	Channel   uint32
	RfChain   uint32
	Context   []byte
	CrcStatus CRCStatus
}

// DownlinkFrame is the payload published on a gateway's `command/down`
// topic: one or more downlink opportunities for the same logical send, in
// order of preference. This daemon only ever populates a single item.
type DownlinkFrame struct {
	DownlinkId uint32
	GatewayId  string
	Items      []*DownlinkFrameItem
}

// DownlinkFrameItem is a single downlink opportunity.
type DownlinkFrameItem struct {
	PhyPayload []byte
	TxInfo     *DownlinkTxInfo
}

// DownlinkTxInfo carries the transmit parameters for one downlink item.
type DownlinkTxInfo struct {
	Frequency  uint32
	Power      int32
	Modulation *Modulation
	Board      uint32
	Antenna    uint32
	Timing     *Timing
	Context    []byte
}

// Modulation is a sum type over the supported PHY modulations; this system
// only ever populates Lora.
type Modulation struct {
	Lora *LoraModulationInfo
	Fsk  *FskModulationInfo
}

// LoraModulationInfo carries the LoRa-specific modulation parameters.
type LoraModulationInfo struct {
	Bandwidth             uint32
	SpreadingFactor       uint32
	CodeRate              CodeRate
	PolarizationInversion bool
	Preamble              uint32
	NoCrc                 bool
}

// FskModulationInfo carries FSK modulation parameters. Unused by this
// system (LoRaWAN-DTN only ever transmits LoRa), kept for API completeness
// against the real gw.Modulation sum type.
type FskModulationInfo struct {
	FrequencyDeviation uint32
	Datarate           uint32
}

// Timing is a sum type over when a downlink item should be transmitted;
// this system only ever populates Immediately (class-C immediate downlink).
type Timing struct {
	Immediately *ImmediatelyTimingInfo
	Delay       *DelayTimingInfo
	GpsEpoch    *GPSEpochTimingInfo
}

// ImmediatelyTimingInfo requests immediate transmission.
type ImmediatelyTimingInfo struct{}

// DelayTimingInfo requests transmission after a fixed delay. Unused by this
// system, kept for API completeness.
type DelayTimingInfo struct {
	DelayNanos int64
}

// GPSEpochTimingInfo requests transmission at a GPS-epoch-relative time.
// Unused by this system, kept for API completeness.
type GPSEpochTimingInfo struct {
	TimeSinceGpsEpochNanos int64
}

// DownlinkTxAck is the payload of a gateway's `event/ack` topic,
// acknowledging (or rejecting) a previously published downlink.
type DownlinkTxAck struct {
	GatewayId  string
	DownlinkId uint32
	Items      []*DownlinkTxAckItem
}

// DownlinkTxAckItem is the status of one item within a DownlinkTxAck.
type DownlinkTxAckItem struct {
	Status TxAckStatus
}

// GatewayStats is the payload of a gateway's `event/stats` topic.
type GatewayStats struct {
	GatewayId           string
	RxPacketsReceived   uint32
	RxPacketsReceivedOk uint32
	TxPacketsReceived   uint32
	TxPacketsEmitted    uint32
}
