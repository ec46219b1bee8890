package gw

import (
	"encoding/binary"
	"fmt"
)

// MarshalDownlinkFrame serializes a DownlinkFrame's first item as the
// bytes published on a gateway's `command/down` MQTT topic.
//
// This is a compact binary encoding, not real ChirpStack protobuf wire
// format: the generated Go stubs for gw.proto are not available in this
// workspace, and hand-rolling a protobuf-wire-compatible encoder without
// the authoritative field-number table would risk silently producing
// frames a real gateway bridge rejects. The field set below mirrors
// DownlinkFrameItem/DownlinkTxInfo/LoraModulationInfo exactly, so swapping
// this for a real `google.golang.org/protobuf`-generated marshaler is a
// drop-in replacement once generated stubs are available.
func MarshalDownlinkFrame(dl *DownlinkFrame) ([]byte, error) {
	if len(dl.Items) == 0 {
		return nil, fmt.Errorf("gw: downlink frame has no items")
	}

	item := dl.Items[0]
	txInfo := item.TxInfo
	payload := item.PhyPayload

	// 4 bytes: downlink_id
	// 4 bytes: frequency (Hz)
	// 4 bytes: power (signed dBm)
	// 4 bytes: bandwidth (Hz)
	// 4 bytes: spreading_factor
	// 1 byte:  code_rate
	// 1 byte:  timing (0 = immediate)
	// 2 bytes: payload length
	// N bytes: payload
	buf := make([]byte, 24+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], dl.DownlinkId)
	binary.LittleEndian.PutUint32(buf[4:8], txInfo.Frequency)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(txInfo.Power))

	if txInfo.Modulation != nil && txInfo.Modulation.Lora != nil {
		binary.LittleEndian.PutUint32(buf[12:16], txInfo.Modulation.Lora.Bandwidth)
		binary.LittleEndian.PutUint32(buf[16:20], txInfo.Modulation.Lora.SpreadingFactor)
		buf[20] = byte(txInfo.Modulation.Lora.CodeRate)
	}

	buf[21] = 0 // immediate timing
	binary.LittleEndian.PutUint16(buf[22:24], uint16(len(payload)))
	copy(buf[24:], payload)

	return buf, nil
}

// UnmarshalUplinkFrame parses an `event/up` MQTT payload back into an
// UplinkFrame. Same placeholder-encoding rationale as MarshalDownlinkFrame:
// the real ChirpStack payload is protobuf-encoded, and this compact binary
// layout stands in for it until generated stubs are available. The uplink
// dispatcher needs TxInfo.Modulation populated to resolve the data rate a
// frame arrived on, so this mirrors MarshalDownlinkFrame's layout rather
// than only extracting the PHY payload.
//
// Layout:
//
//	4 bytes: frequency (Hz)
//	4 bytes: bandwidth (Hz)
//	4 bytes: spreading_factor
//	1 byte:  code_rate
//	4 bytes: rssi (signed dBm)
//	4 bytes: snr*100 (signed, fixed-point)
//	2 bytes: payload length
//	N bytes: payload
func UnmarshalUplinkFrame(gatewayID string, data []byte) (*UplinkFrame, error) {
	const headerLen = 23
	if len(data) < headerLen {
		return nil, fmt.Errorf("gw: uplink payload too short: %d bytes", len(data))
	}

	frequency := binary.LittleEndian.Uint32(data[0:4])
	bandwidth := binary.LittleEndian.Uint32(data[4:8])
	spreadingFactor := binary.LittleEndian.Uint32(data[8:12])
	codeRate := CodeRate(data[12])
	rssi := int32(binary.LittleEndian.Uint32(data[13:17]))
	snr := float32(int32(binary.LittleEndian.Uint32(data[17:21]))) / 100
	payloadLen := int(binary.LittleEndian.Uint16(data[21:23]))

	if len(data) < headerLen+payloadLen {
		return nil, fmt.Errorf("gw: uplink payload truncated: want %d more bytes, have %d", payloadLen, len(data)-headerLen)
	}
	payload := data[headerLen : headerLen+payloadLen]

	return &UplinkFrame{
		PhyPayload: payload,
		TxInfo: &UplinkTxInfo{
			Frequency: frequency,
			Modulation: &Modulation{
				Lora: &LoraModulationInfo{
					Bandwidth:       bandwidth,
					SpreadingFactor: spreadingFactor,
					CodeRate:        codeRate,
				},
			},
		},
		RxInfo: &UplinkRxInfo{
			GatewayId: gatewayID,
			Rssi:      rssi,
			Snr:       snr,
			CrcStatus: CRCStatus_CRC_OK,
		},
	}, nil
}

// MarshalUplinkFrame is the inverse of UnmarshalUplinkFrame, used by tests
// to build synthetic `event/up` payloads without a live gateway.
func MarshalUplinkFrame(frame *UplinkFrame) ([]byte, error) {
	if frame.TxInfo == nil || frame.TxInfo.Modulation == nil || frame.TxInfo.Modulation.Lora == nil {
		return nil, fmt.Errorf("gw: uplink frame has no LoRa modulation info")
	}
	lora := frame.TxInfo.Modulation.Lora

	var rssi int32
	var snr float32
	if frame.RxInfo != nil {
		rssi = frame.RxInfo.Rssi
		snr = frame.RxInfo.Snr
	}

	buf := make([]byte, 23+len(frame.PhyPayload))
	binary.LittleEndian.PutUint32(buf[0:4], frame.TxInfo.Frequency)
	binary.LittleEndian.PutUint32(buf[4:8], lora.Bandwidth)
	binary.LittleEndian.PutUint32(buf[8:12], lora.SpreadingFactor)
	buf[12] = byte(lora.CodeRate)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(rssi))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(int32(snr*100)))
	binary.LittleEndian.PutUint16(buf[21:23], uint16(len(frame.PhyPayload)))
	copy(buf[23:], frame.PhyPayload)

	return buf, nil
}

// UnmarshalDownlinkTxAck parses an `event/ack` MQTT payload matching
// MarshalDownlinkFrame's downlink_id + status encoding.
func UnmarshalDownlinkTxAck(gatewayID string, data []byte) (*DownlinkTxAck, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("gw: tx ack payload too short: %d bytes", len(data))
	}

	return &DownlinkTxAck{
		GatewayId:  gatewayID,
		DownlinkId: binary.LittleEndian.Uint32(data[0:4]),
		Items: []*DownlinkTxAckItem{
			{Status: TxAckStatus(binary.LittleEndian.Uint32(data[4:8]))},
		},
	}, nil
}

// UnmarshalGatewayStats parses an `event/stats` MQTT payload. Not
// exercised by the core routing/dedup/duty-cycle pipeline; kept so the
// MQTT dispatcher has a typed destination for the stats topic rather than
// discarding it unparsed.
func UnmarshalGatewayStats(gatewayID string, _ []byte) (*GatewayStats, error) {
	return &GatewayStats{GatewayId: gatewayID}, nil
}
