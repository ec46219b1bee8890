// Package mqtttransport implements the thin MQTT publish/subscribe adapter
// the core consumes: subscribing to ChirpStack Gateway Bridge uplink
// events/commands/states, and publishing downlink commands. The region
// tag is hard-coded to "eu868" per spec.md §6.
package mqtttransport

import (
	"fmt"
	"strings"
)

// Region is one of the thirteen named LoRaWAN region tags ChirpStack's
// topic scheme supports. This daemon only ever uses EU868, but parsing
// recognises every named region so a malformed region is reported
// precisely rather than folded into "unknown topic".
type Region string

const (
	RegionEU868   Region = "eu868"
	RegionEU433   Region = "eu433"
	RegionUS915   Region = "us915"
	RegionAU915   Region = "au915"
	RegionCN779   Region = "cn779"
	RegionCN470   Region = "cn470"
	RegionAS923   Region = "as923"
	RegionAS923_2 Region = "as923_2"
	RegionAS923_3 Region = "as923_3"
	RegionAS923_4 Region = "as923_4"
	RegionKR920   Region = "kr920"
	RegionIN865   Region = "in865"
	RegionRU864   Region = "ru864"
)

var validRegions = map[Region]struct{}{
	RegionEU868: {}, RegionEU433: {}, RegionUS915: {}, RegionAU915: {},
	RegionCN779: {}, RegionCN470: {}, RegionAS923: {}, RegionAS923_2: {},
	RegionAS923_3: {}, RegionAS923_4: {}, RegionKR920: {}, RegionIN865: {},
	RegionRU864: {},
}

// Kind is the topic's message kind: uplink event, downlink command, or
// gateway state.
type Kind string

const (
	KindEvent   Kind = "event"
	KindState   Kind = "state"
	KindCommand Kind = "command"
)

// EventType is the sub-topic of an "event" topic.
type EventType string

const (
	EventUp       EventType = "up"
	EventJoin     EventType = "join"
	EventAck      EventType = "ack"
	EventTxAck    EventType = "txack"
	EventStats    EventType = "stats"
	EventRaw      EventType = "raw"
)

// StateType is the sub-topic of a "state" topic.
type StateType string

const (
	StateConn StateType = "conn"
)

// CommandType is the sub-topic of a "command" topic.
type CommandType string

const (
	CommandDown CommandType = "down"
	CommandExec CommandType = "exec"
)

// ParseError identifies which part of a malformed topic string failed.
type ParseError struct{ Reason string }

func (e ParseError) Error() string { return "mqtttransport: " + e.Reason }

var (
	ErrLoRaWanRegion = ParseError{"unrecognised LoRaWAN region tag"}
	ErrTopicType     = ParseError{"unrecognised topic kind (want event, state, or command)"}
	ErrEventType     = ParseError{"unrecognised event sub-topic"}
	ErrStateType     = ParseError{"unrecognised state sub-topic"}
	ErrCommandType   = ParseError{"unrecognised command sub-topic"}
	ErrTooLong       = ParseError{"topic has more than five segments"}
	ErrTooShort      = ParseError{"topic has fewer than five segments"}
	ErrNoGatewayMarker = ParseError{"topic is missing the literal \"gateway\" marker"}
)

// Topic is a parsed ChirpStack Gateway Bridge topic:
// <region>/gateway/<gateway-id>/<kind>/<sub>.
type Topic struct {
	Region    Region
	GatewayID string
	Kind      Kind
	Sub       string
}

// Parse validates and decomposes an MQTT topic string against the
// <region>/gateway/<gid>/<kind>/<sub> scheme.
func Parse(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return Topic{}, ErrTooShort
	}
	if len(parts) > 5 {
		return Topic{}, ErrTooLong
	}

	region := Region(parts[0])
	if _, ok := validRegions[region]; !ok {
		return Topic{}, ErrLoRaWanRegion
	}
	if parts[1] != "gateway" {
		return Topic{}, ErrNoGatewayMarker
	}

	kind := Kind(parts[3])
	sub := parts[4]
	switch kind {
	case KindEvent:
		if !isEventType(sub) {
			return Topic{}, ErrEventType
		}
	case KindState:
		if !isStateType(sub) {
			return Topic{}, ErrStateType
		}
	case KindCommand:
		if !isCommandType(sub) {
			return Topic{}, ErrCommandType
		}
	default:
		return Topic{}, ErrTopicType
	}

	return Topic{Region: region, GatewayID: parts[2], Kind: kind, Sub: sub}, nil
}

func isEventType(s string) bool {
	switch EventType(s) {
	case EventUp, EventJoin, EventAck, EventTxAck, EventStats, EventRaw:
		return true
	default:
		return false
	}
}

func isStateType(s string) bool {
	return StateType(s) == StateConn
}

func isCommandType(s string) bool {
	switch CommandType(s) {
	case CommandDown, CommandExec:
		return true
	default:
		return false
	}
}

// DownlinkTopic builds the publish topic for a downlink command to gwID in
// the EU868 region.
func DownlinkTopic(gwID string) string {
	return fmt.Sprintf("%s/gateway/%s/command/%s", RegionEU868, gwID, CommandDown)
}

// SubscribeFilters are the three filters this daemon subscribes to on
// startup, per spec.md §6.
func SubscribeFilters() []string {
	return []string{
		fmt.Sprintf("%s/gateway/+/event/+", RegionEU868),
		fmt.Sprintf("%s/gateway/+/command/+", RegionEU868),
		fmt.Sprintf("%s/gateway/+/state/+", RegionEU868),
	}
}
